package feed

import (
	"bytes"
	"mime"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// FeedType はフィードの種類（RSS/Atom）を表す。
type FeedType string

const (
	// FeedTypeRSS はRSSフィード。
	FeedTypeRSS FeedType = "rss"
	// FeedTypeAtom はAtomフィード。
	FeedTypeAtom FeedType = "atom"
)

// FeedLink はHTMLのheadから検出されたフィードリンク。
type FeedLink struct {
	URL      string
	FeedType FeedType
	Title    string
}

// feedContentTypes はフィードとして認識するContent-Type。
var feedContentTypes = map[string]bool{
	"application/rss+xml":  true,
	"application/atom+xml": true,
	"application/rdf+xml":  true,
	"application/feed+json": true,
}

// xmlContentTypes はボディの解析が必要な汎用XMLのContent-Type。
var xmlContentTypes = map[string]bool{
	"text/xml":        true,
	"application/xml": true,
}

func mediaTypeOf(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.TrimSpace(strings.Split(contentType, ";")[0])
	}
	return strings.ToLower(mediaType)
}

func isHTML(contentType string) bool {
	return strings.Contains(mediaTypeOf(contentType), "html")
}

// IsDirectFeed はContent-Typeとボディからレスポンスがフィードかを判定する。
// Content-Typeが欠落・不正確な場合もボディ先頭のルート要素で判定する。
func IsDirectFeed(contentType string, body []byte) bool {
	mediaType := mediaTypeOf(contentType)
	if feedContentTypes[mediaType] {
		return true
	}
	if mediaType != "" && !xmlContentTypes[mediaType] && !strings.HasPrefix(mediaType, "text/plain") {
		return false
	}
	return looksLikeFeedXML(body)
}

// looksLikeFeedXML はボディ先頭4KBにRSS/RDF/Atomのルート要素があるかを判定する。
func looksLikeFeedXML(body []byte) bool {
	prefix := body
	if len(prefix) > 4096 {
		prefix = prefix[:4096]
	}
	lower := bytes.ToLower(prefix)

	if bytes.Contains(lower, []byte("<rss")) || bytes.Contains(lower, []byte("<rdf:rdf")) {
		return true
	}
	return bytes.Contains(lower, []byte("<feed")) && bytes.Contains(lower, []byte("http://www.w3.org/2005/atom"))
}

// ParseFeedLinksFromHTML はHTMLのlink rel="alternate"からフィードリンクを検出する。
// 相対URLはbaseURLを基準に解決する。
func ParseFeedLinksFromHTML(htmlBody []byte, baseURL string) []FeedLink {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(htmlBody))
	if err != nil {
		return nil
	}

	var links []FeedLink
	doc.Find(`link[href]`).Each(func(_ int, s *goquery.Selection) {
		rel := strings.ToLower(s.AttrOr("rel", ""))
		if !strings.Contains(rel, "alternate") {
			return
		}

		var feedType FeedType
		switch strings.ToLower(s.AttrOr("type", "")) {
		case "application/rss+xml":
			feedType = FeedTypeRSS
		case "application/atom+xml":
			feedType = FeedTypeAtom
		default:
			return
		}

		ref, err := url.Parse(strings.TrimSpace(s.AttrOr("href", "")))
		if err != nil {
			return
		}
		links = append(links, FeedLink{
			URL:      base.ResolveReference(ref).String(),
			FeedType: feedType,
			Title:    s.AttrOr("title", ""),
		})
	})
	return links
}

// SelectBestFeed は複数のフィードリンクから優先順位に従って1つを選ぶ。
// 優先順位: 同一ホスト > Atom > RSS > 先頭
func SelectBestFeed(links []FeedLink, pageURL string) *FeedLink {
	if len(links) == 0 {
		return nil
	}

	pageHost := hostOf(pageURL)
	bestIdx, bestScore := 0, -1
	for i, l := range links {
		score := 0
		if hostOf(l.URL) == pageHost {
			score += 100
		}
		if l.FeedType == FeedTypeAtom {
			score += 10
		}
		// 同スコアは先頭を優先
		if score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}
	return &links[bestIdx]
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
