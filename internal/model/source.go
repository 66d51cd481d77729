// Package model はドメインモデルを定義する。
package model

import "time"

// SourceType はソースの取得方式を表す。
type SourceType string

const (
	// SourceTypeRSSFull は本文全文を配信するRSSフィード。
	SourceTypeRSSFull SourceType = "rss-full"
	// SourceTypeRSSScrape は抜粋のみを配信し、本文はページから取得するRSSフィード。
	SourceTypeRSSScrape SourceType = "rss-scrape"
	// SourceTypeRSS は種別未分類のRSSフィード。
	SourceTypeRSS SourceType = "rss"
	// SourceTypeAPI はAPI経由のフィード。パース方式はRSSと同じ。
	SourceTypeAPI SourceType = "api"
	// SourceTypeScraper は単一ページを直接スクレイピングするソース。
	SourceTypeScraper SourceType = "scraper"
)

// IsFeed はフィードパーサーで候補を取得する種別かを返す。
func (t SourceType) IsFeed() bool {
	switch t {
	case SourceTypeRSSFull, SourceTypeRSSScrape, SourceTypeRSS, SourceTypeAPI:
		return true
	default:
		return false
	}
}

// Valid は既知の種別かを返す。
func (t SourceType) Valid() bool {
	return t.IsFeed() || t == SourceTypeScraper
}

// Source はパイプラインがポーリングするコンテンツの取得元を表す。
// ヘルスカウンタはフェッチステージが試行ごとに更新する。
type Source struct {
	ID            string
	Name          string
	URL           string
	Type          SourceType
	IsActive      bool
	FetchInterval time.Duration
	SuccessCount  int
	ErrorCount    int
	LastError     string
	LastFetchedAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
