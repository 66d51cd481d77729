package feed

import (
	"strings"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"

	"github.com/hitoshi/newsdesk/internal/content"
)

// ContentRule はフィード記事から本文候補を取り出す名前付きの規則。
type ContentRule struct {
	Name    string
	Extract func(item *gofeed.Item) string
}

// ContentRules は本文候補の優先順位。先頭ほど全文である可能性が高い。
//  1. full-content: content:encoded拡張、または独自の全文要素
//  2. content: RSSのcontent:encoded / Atomのcontent
//  3. description: RSSのdescription / Atomのsummary
//  4. summary: media:description / iTunesのsummary
//  5. snippet: dc:description / iTunesのsubtitle
var ContentRules = []ContentRule{
	{Name: "full-content", Extract: func(item *gofeed.Item) string {
		if v := extensionValue(item.Extensions, "content", "encoded"); v != "" {
			return v
		}
		for _, key := range []string{"full-text", "fulltext", "full_text"} {
			if v := item.Custom[key]; v != "" {
				return v
			}
		}
		return ""
	}},
	{Name: "content", Extract: func(item *gofeed.Item) string {
		return item.Content
	}},
	{Name: "description", Extract: func(item *gofeed.Item) string {
		return item.Description
	}},
	{Name: "summary", Extract: func(item *gofeed.Item) string {
		if v := extensionValue(item.Extensions, "media", "description"); v != "" {
			return v
		}
		if item.ITunesExt != nil {
			return item.ITunesExt.Summary
		}
		return ""
	}},
	{Name: "snippet", Extract: func(item *gofeed.Item) string {
		if item.DublinCoreExt != nil && len(item.DublinCoreExt.Description) > 0 {
			return item.DublinCoreExt.Description[0]
		}
		if item.ITunesExt != nil {
			return item.ITunesExt.Subtitle
		}
		return ""
	}},
}

// ImageRule はフィード記事から画像URLのヒントを取り出す名前付きの規則。
type ImageRule struct {
	Name    string
	Extract func(item *gofeed.Item) string
}

// ImageRules はフィード固有の画像フィールドの優先順位。
var ImageRules = []ImageRule{
	{Name: "media:thumbnail", Extract: func(item *gofeed.Item) string {
		return mediaAttr(item.Extensions, "thumbnail", func(e ext.Extension) bool { return true })
	}},
	{Name: "media:content", Extract: func(item *gofeed.Item) string {
		return mediaAttr(item.Extensions, "content", isImageMedia)
	}},
	{Name: "enclosure", Extract: func(item *gofeed.Item) string {
		for _, enc := range item.Enclosures {
			if enc != nil && strings.HasPrefix(strings.ToLower(enc.Type), "image/") {
				return enc.URL
			}
		}
		return ""
	}},
	{Name: "image", Extract: func(item *gofeed.Item) string {
		if item.Image != nil {
			return item.Image.URL
		}
		return ""
	}},
	{Name: "itunes:image", Extract: func(item *gofeed.Item) string {
		if item.ITunesExt != nil {
			return item.ITunesExt.Image
		}
		return ""
	}},
}

// extractContents は規則を順に評価し、空でない本文候補を優先順位順で返す。
func extractContents(item *gofeed.Item) []NamedContent {
	var contents []NamedContent
	for _, rule := range ContentRules {
		if v := strings.TrimSpace(rule.Extract(item)); v != "" {
			contents = append(contents, NamedContent{Rule: rule.Name, Value: v})
		}
	}
	return contents
}

// extractImageHint は規則を順に評価し、除外パターンに一致しない最初の画像URLを返す。
func extractImageHint(item *gofeed.Item) string {
	for _, rule := range ImageRules {
		v := strings.TrimSpace(rule.Extract(item))
		if v != "" && !content.IsExcludedImage(v) {
			return v
		}
	}
	return ""
}

// extensionValue は名前空間付き拡張要素の最初の値を返す。
func extensionValue(exts ext.Extensions, namespace, name string) string {
	if exts == nil {
		return ""
	}
	for _, e := range exts[namespace][name] {
		if v := strings.TrimSpace(e.Value); v != "" {
			return v
		}
	}
	return ""
}

// mediaAttr はmedia名前空間の要素（media:group内を含む）から条件を満たす最初のurl属性を返す。
func mediaAttr(exts ext.Extensions, name string, match func(ext.Extension) bool) string {
	if exts == nil {
		return ""
	}
	media := exts["media"]
	for _, e := range media[name] {
		if u := e.Attrs["url"]; u != "" && match(e) {
			return u
		}
	}
	for _, group := range media["group"] {
		for _, e := range group.Children[name] {
			if u := e.Attrs["url"]; u != "" && match(e) {
				return u
			}
		}
	}
	return ""
}

func isImageMedia(e ext.Extension) bool {
	if strings.EqualFold(e.Attrs["medium"], "image") {
		return true
	}
	return strings.HasPrefix(strings.ToLower(e.Attrs["type"]), "image/")
}
