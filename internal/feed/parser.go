// Package feed はRSS/Atomフィードを取得し、正規化された記事候補に変換するアダプターを提供する。
package feed

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/newsdesk/internal/httpfetch"
)

// feedAccept はフィード取得時のAcceptヘッダー。
const feedAccept = "application/rss+xml, application/atom+xml, application/xml, text/xml, text/html;q=0.8, */*;q=0.5"

// NamedContent は規則名付きの本文候補。
type NamedContent struct {
	Rule  string
	Value string
}

// RawCandidate はフィードの1記事を正規化したもの。
// Contentsは空でない本文候補をContentRulesの優先順位順に保持する。
type RawCandidate struct {
	Title       string
	Link        string
	Contents    []NamedContent
	ImageHint   string
	Author      string
	PublishedAt *time.Time
	Categories  []string
}

// Content は最優先の本文候補を返す。候補がない場合は空文字列。
func (c RawCandidate) Content() string {
	if len(c.Contents) == 0 {
		return ""
	}
	return c.Contents[0].Value
}

// ContentRule は採用された本文候補の規則名を返す。
func (c RawCandidate) ContentRule() string {
	if len(c.Contents) == 0 {
		return ""
	}
	return c.Contents[0].Rule
}

// Fetcher はURLの取得を抽象化する。*httpfetch.Clientが実装する。
type Fetcher interface {
	Get(ctx context.Context, rawURL, accept string) (*httpfetch.Response, error)
}

// Parser はフィードを取得してRawCandidateのリストに変換する。
type Parser struct {
	fetcher Fetcher
	logger  *slog.Logger
}

// NewParser はParserの新しいインスタンスを生成する。
func NewParser(fetcher Fetcher, logger *slog.Logger) *Parser {
	return &Parser{fetcher: fetcher, logger: logger}
}

// ParseFeed はURLのフィードを取得・パースし、フィード内の順序で記事候補を返す。
// URLがHTMLページの場合はheadのフィードリンクを1回だけたどる。
func (p *Parser) ParseFeed(ctx context.Context, feedURL string) ([]RawCandidate, error) {
	start := time.Now()

	resp, err := p.fetcher.Get(ctx, feedURL, feedAccept)
	if err != nil {
		return nil, fmt.Errorf("フィードの取得に失敗: %w", err)
	}

	if !IsDirectFeed(resp.ContentType, resp.Body) && isHTML(resp.ContentType) {
		discovered := SelectBestFeed(ParseFeedLinksFromHTML(resp.Body, resp.FinalURL), resp.FinalURL)
		if discovered == nil {
			return nil, fmt.Errorf("フィードが見つかりません: %s", feedURL)
		}
		p.logger.Info("HTMLページからフィードを検出しました",
			slog.String("url", feedURL),
			slog.String("feed_url", discovered.URL),
		)
		resp, err = p.fetcher.Get(ctx, discovered.URL, feedAccept)
		if err != nil {
			return nil, fmt.Errorf("検出したフィードの取得に失敗: %w", err)
		}
	}

	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("フィードのパースに失敗: %w", err)
	}

	candidates := ConvertItems(parsed.Items)

	p.logger.Info("フィードをパースしました",
		slog.String("url", feedURL),
		slog.String("feed_title", parsed.Title),
		slog.Int("items_total", len(candidates)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return candidates, nil
}

// ConvertItems はgofeedの記事をRawCandidateに変換する。nilの記事は読み飛ばす。
func ConvertItems(items []*gofeed.Item) []RawCandidate {
	candidates := make([]RawCandidate, 0, len(items))

	for _, item := range items {
		if item == nil {
			continue
		}

		c := RawCandidate{
			Title:      strings.TrimSpace(item.Title),
			Link:       strings.TrimSpace(item.Link),
			Contents:   extractContents(item),
			ImageHint:  extractImageHint(item),
			Categories: item.Categories,
		}

		if item.Author != nil {
			c.Author = item.Author.Name
		}
		if c.Author == "" && len(item.Authors) > 0 && item.Authors[0] != nil {
			c.Author = item.Authors[0].Name
		}

		if item.PublishedParsed != nil {
			t := *item.PublishedParsed
			c.PublishedAt = &t
		} else if item.UpdatedParsed != nil {
			t := *item.UpdatedParsed
			c.PublishedAt = &t
		}

		// LinkがなくGUIDがURL形式の場合はGUIDをLinkとして使用
		if c.Link == "" && (strings.HasPrefix(item.GUID, "http://") || strings.HasPrefix(item.GUID, "https://")) {
			c.Link = item.GUID
		}

		candidates = append(candidates, c)
	}

	return candidates
}
