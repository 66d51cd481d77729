package model

import "time"

// ArticleStatus は記事の公開状態を表す。
type ArticleStatus string

const (
	ArticleStatusDraft     ArticleStatus = "draft"
	ArticleStatusPending   ArticleStatus = "pending"
	ArticleStatusPublished ArticleStatus = "published"
	ArticleStatusArchived  ArticleStatus = "archived"
)

// Entities は本文から抽出した固有表現。
type Entities struct {
	People        []string `json:"people"`
	Places        []string `json:"places"`
	Organizations []string `json:"organizations"`
}

// Article は処理ステージが永続化する記事を表す。
// 処理ステージのみが新規作成し、作成時点でpublishedとなる。
type Article struct {
	ID                  string
	Title               string
	Slug                string
	Summary             string
	OriginalContent     string // 取得時のHTML
	Content             string // 書き直し後のHTML
	SourceID            string
	SourceURL           string
	SourceURLNormalized string
	ContentHash         string
	Author              string
	CategoryID          string
	FeaturedImage       string
	Keywords            []string
	Entities            Entities
	Status              ArticleStatus
	IsTrending          bool
	IsFeatured          bool
	ViewCount           int
	LikeCount           int
	ShareCount          int
	PublishedAt         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// SimilarArticle はタイトルのトライグラム類似度で見つかった関連記事。
type SimilarArticle struct {
	ID         string
	Title      string
	Slug       string
	Similarity float64
}
