package model

import "time"

// Candidate はフェッチステージが選んだ未保存の記事候補を表す。
// 処理ジョブのペイロードとしてキューを経由し、処理ステージで破棄される。
type Candidate struct {
	SourceID    string     `json:"source_id"`
	SourceName  string     `json:"source_name"`
	Title       string     `json:"title"`
	Link        string     `json:"link"`
	Content     string     `json:"content"` // 未サニタイズのHTML
	// SourceHash はスクレイピングで置き換える前の、ソースが配信した本文のハッシュ。
	// 重複判定と同じ本文で記録するために使う。
	SourceHash  string     `json:"source_hash,omitempty"`
	ImageURL    string     `json:"image_url,omitempty"`
	Author      string     `json:"author,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	Categories  []string   `json:"categories,omitempty"`
}

// FetchPayload はフェッチジョブのペイロード。
type FetchPayload struct {
	SourceID string `json:"source_id"`
}

// PublishPayload は公開ジョブのペイロード。
type PublishPayload struct {
	ArticleID string `json:"article_id"`
}
