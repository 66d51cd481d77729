package content

import (
	"log/slog"
	"strings"

	"golang.org/x/net/html"

	"github.com/hitoshi/newsdesk/internal/model"
)

const (
	// MinFullWords は全文とみなす最小単語数。
	MinFullWords = 250
	// MinFullChars は全文とみなす最小文字数。
	MinFullChars = 1000
	// MinPublishChars は公開に必要な本文の最小文字数。
	MinPublishChars = 500
)

// snippetMarkers は抜粋であることを示す文言（小文字）。
var snippetMarkers = []string{
	"read more",
	"continue reading",
	"[…]",
	"[...]",
}

// Stats は本文の統計値。品質判定と注目記事のスコアリングに使う。
type Stats struct {
	WordCount  int
	CharCount  int
	Paragraphs int
	HasImages  bool
}

// Gate はフェッチした本文が全文か抜粋かを判定する品質ゲート。
type Gate struct {
	logger *slog.Logger
}

// NewGate はGateの新しいインスタンスを生成する。
func NewGate(logger *slog.Logger) *Gate {
	return &Gate{logger: logger}
}

// IsFullContent は本文が全文かを判定する。
// 抜粋マーカー（read more等）または末尾の省略記号があれば長さに関わらずfalse。
// それ以外は単語数250以上かつ文字数1000以上の場合のみtrue。
func (g *Gate) IsFullContent(content, title string) bool {
	text := PlainText(content)

	if HasSnippetMarker(text) {
		g.logger.Debug("抜粋マーカーを検出しました",
			slog.String("title", title),
		)
		return false
	}

	return WordCount(text) >= MinFullWords && CharCount(text) >= MinFullChars
}

// NeedsScraping はソース種別と本文から二次スクレイピングが必要かを判定する。
//   - rss-scrape: 常にtrue
//   - rss-full: 全文判定がfalseの場合は警告を出してtrue
//   - その他: 全文判定の否定
func (g *Gate) NeedsScraping(content string, sourceType model.SourceType, title string) bool {
	switch sourceType {
	case model.SourceTypeRSSScrape:
		return true
	case model.SourceTypeRSSFull:
		if g.IsFullContent(content, title) {
			return false
		}
		g.logger.Warn("rss-fullソースの本文が抜粋と判定されました",
			slog.String("title", title),
			slog.Int("word_count", WordCount(PlainText(content))),
		)
		return true
	default:
		return !g.IsFullContent(content, title)
	}
}

// HasSnippetMarker はプレーンテキストに抜粋の兆候があるかを判定する。
func HasSnippetMarker(text string) bool {
	lower := strings.ToLower(text)
	for _, marker := range snippetMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	trimmed := strings.TrimSpace(lower)
	return strings.HasSuffix(trimmed, "...") || strings.HasSuffix(trimmed, "…")
}

// GetContentStats はHTML本文の統計値を返す。段落数は<p>タグの数。
func GetContentStats(content string) Stats {
	text := PlainText(content)
	stats := Stats{
		WordCount: WordCount(text),
		CharCount: CharCount(text),
	}

	tokenizer := html.NewTokenizer(strings.NewReader(content))
	for {
		tt := tokenizer.Next()
		if tt == html.ErrorToken {
			break
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}
		name, _ := tokenizer.TagName()
		switch string(name) {
		case "p":
			stats.Paragraphs++
		case "img":
			stats.HasImages = true
		}
	}

	return stats
}

// CheckPublishable は公開に必要な前提条件（画像あり、本文500文字以上）を検証する。
func CheckPublishable(content, imageURL string) error {
	if strings.TrimSpace(imageURL) == "" {
		return model.ErrImageMissing
	}
	if CharCount(PlainText(content)) < MinPublishChars {
		return model.ErrContentTooShort
	}
	return nil
}
