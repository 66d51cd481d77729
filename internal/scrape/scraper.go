// Package scrape は任意のHTMLページから記事本文とメタ情報を抽出するアダプターを提供する。
package scrape

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/hitoshi/newsdesk/internal/content"
	"github.com/hitoshi/newsdesk/internal/httpfetch"
)

const pageAccept = "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5"

// boilerplateSelector は本文抽出前に取り除く要素。
const boilerplateSelector = `script, style, noscript, iframe, form, nav, header, footer, aside, svg, button,
	.sidebar, #sidebar, .ad, .ads, .advertisement, .popup, .modal, .cookie-banner, .newsletter,
	.related, .share, .social, .comments, #comments, [role="navigation"], [aria-hidden="true"]`

// semanticSelector は本文コンテナである可能性が高い要素。スコアを加算する。
const semanticSelector = `article, main, [role="main"], [itemprop="articleBody"], .article-body, .article-content,
	.entry-content, .post-content, .post-body, .story-body, #content, .content`

// minParagraphChars はスコアに数える段落の最小文字数。
const minParagraphChars = 25

// Page はスクレイピングで抽出した記事。
type Page struct {
	Title         string
	Content       string // 本文コンテナのHTML
	Excerpt       string
	Byline        string
	SiteName      string
	PublishedTime *time.Time
	ImageURL      string
	URL           string // リダイレクト後のURL
}

// Fetcher はURLの取得を抽象化する。*httpfetch.Clientが実装する。
type Fetcher interface {
	Get(ctx context.Context, rawURL, accept string) (*httpfetch.Response, error)
}

// Scraper はページを取得して本文を抽出する。
type Scraper struct {
	fetcher Fetcher
	logger  *slog.Logger
}

// NewScraper はScraperの新しいインスタンスを生成する。
func NewScraper(fetcher Fetcher, logger *slog.Logger) *Scraper {
	return &Scraper{fetcher: fetcher, logger: logger}
}

// ScrapePage はURLのページを取得し、本文とメタ情報を抽出する。
// 本文らしい要素が見つからない場合は (nil, nil) を返す。
func (s *Scraper) ScrapePage(ctx context.Context, pageURL string) (*Page, error) {
	resp, err := s.fetcher.Get(ctx, pageURL, pageAccept)
	if err != nil {
		return nil, fmt.Errorf("ページの取得に失敗: %w", err)
	}

	page, err := ParsePage(resp.Body, resp.FinalURL)
	if err != nil {
		return nil, err
	}
	if page == nil {
		s.logger.Info("本文を抽出できませんでした", slog.String("url", pageURL))
		return nil, nil
	}

	s.logger.Debug("ページをスクレイピングしました",
		slog.String("url", pageURL),
		slog.Int("word_count", content.WordCount(content.PlainText(page.Content))),
	)
	return page, nil
}

// ExtractMetaImage はページを取得し、メタ情報と本文画像からアイキャッチ画像を選ぶ。
// 見つからない場合は空文字列を返す。
func (s *Scraper) ExtractMetaImage(ctx context.Context, pageURL string) (string, error) {
	resp, err := s.fetcher.Get(ctx, pageURL, pageAccept)
	if err != nil {
		return "", fmt.Errorf("ページの取得に失敗: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return "", fmt.Errorf("HTMLのパースに失敗: %w", err)
	}
	return content.ExtractImageFromDocument(doc, resp.FinalURL), nil
}

// ParsePage はHTMLから本文とメタ情報を抽出する。本文がない場合はnilを返す。
func ParsePage(body []byte, pageURL string) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("HTMLのパースに失敗: %w", err)
	}

	// 画像はボイラープレート除去前のドキュメントから選ぶ
	page := &Page{
		Title:         extractTitle(doc),
		Excerpt:       firstMeta(doc, `meta[property="og:description"]`, `meta[name="description"]`, `meta[name="twitter:description"]`),
		Byline:        extractByline(doc),
		SiteName:      firstMeta(doc, `meta[property="og:site_name"]`, `meta[name="application-name"]`),
		PublishedTime: extractPublishedTime(doc),
		ImageURL:      content.ExtractImageFromDocument(doc, pageURL),
		URL:           pageURL,
	}

	doc.Find(boilerplateSelector).Remove()

	container := bestContainer(doc)
	if container == nil {
		return nil, nil
	}
	html, err := container.Html()
	if err != nil {
		return nil, fmt.Errorf("本文HTMLの生成に失敗: %w", err)
	}
	page.Content = strings.TrimSpace(html)

	if page.Excerpt == "" {
		page.Excerpt = excerptOf(content.PlainText(page.Content))
	}
	return page, nil
}

// bestContainer は段落テキスト量とリンク密度から本文コンテナを選ぶ。
func bestContainer(doc *goquery.Document) *goquery.Selection {
	var best *goquery.Selection
	bestScore := 0.0

	doc.Find("article, main, section, div, [role=main]").Each(func(_ int, sel *goquery.Selection) {
		score := containerScore(sel)
		if sel.Is(semanticSelector) {
			score *= 1.25
		}
		// 同スコアの場合は内側の要素を優先
		if score > 0 && score >= bestScore {
			bestScore = score
			best = sel
		}
	})

	if best == nil {
		body := doc.Find("body")
		if containerScore(body) > 0 {
			return body
		}
	}
	return best
}

// containerScore は配下の段落の文字数合計にリンク密度の補正をかけたスコア。
func containerScore(sel *goquery.Selection) float64 {
	textLen := 0
	sel.Find("p").Each(func(_ int, p *goquery.Selection) {
		n := len([]rune(strings.TrimSpace(p.Text())))
		if n >= minParagraphChars {
			textLen += n
		}
	})
	if textLen == 0 {
		return 0
	}

	allText := len([]rune(strings.TrimSpace(sel.Text())))
	linkText := 0
	sel.Find("a").Each(func(_ int, a *goquery.Selection) {
		linkText += len([]rune(strings.TrimSpace(a.Text())))
	})
	density := 0.0
	if allText > 0 {
		density = float64(linkText) / float64(allText)
	}
	return float64(textLen) * (1 - density)
}

func extractTitle(doc *goquery.Document) string {
	if v := firstMeta(doc, `meta[property="og:title"]`, `meta[name="twitter:title"]`); v != "" {
		return v
	}
	if v := strings.TrimSpace(doc.Find("head title").First().Text()); v != "" {
		return v
	}
	return strings.TrimSpace(doc.Find("h1").First().Text())
}

func extractByline(doc *goquery.Document) string {
	if v := firstMeta(doc, `meta[name="author"]`, `meta[property="article:author"]`); v != "" {
		return v
	}
	for _, sel := range []string{`[rel="author"]`, `[itemprop="author"]`, `.byline`, `.author`} {
		if v := content.NormalizeWhitespace(doc.Find(sel).First().Text()); v != "" {
			return v
		}
	}
	return ""
}

// publishedTimeLayouts は公開日時として受け付ける書式。
var publishedTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func extractPublishedTime(doc *goquery.Document) *time.Time {
	raw := firstMeta(doc,
		`meta[property="article:published_time"]`,
		`meta[name="pubdate"]`,
		`meta[itemprop="datePublished"]`,
	)
	if raw == "" {
		raw = strings.TrimSpace(doc.Find("time[datetime]").First().AttrOr("datetime", ""))
	}
	if raw == "" {
		return nil
	}
	for _, layout := range publishedTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	return nil
}

// firstMeta はセレクタを順に評価し、最初に見つかった空でないcontent属性を返す。
func firstMeta(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if v := strings.TrimSpace(doc.Find(sel).First().AttrOr("content", "")); v != "" {
			return v
		}
	}
	return ""
}

// excerptOf は本文の先頭200文字程度を抜粋として返す。
func excerptOf(text string) string {
	runes := []rune(text)
	if len(runes) <= 200 {
		return text
	}
	return strings.TrimSpace(string(runes[:200])) + "…"
}
