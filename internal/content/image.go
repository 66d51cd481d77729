package content

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// minImageArea は本文画像として採用する最小の推定ピクセル数（300x300相当）。
const minImageArea = 300 * 300

// excludedImagePattern はロゴ・アイコン・トラッキングピクセル等のファイル名パターン。
var excludedImagePattern = regexp.MustCompile(
	`(?i)((^|[/_.=?&-])(logos?|icons?|avatars?|sprites?|pixel|tracking|tracker|spacer|blank|badges?|buttons?|emoji|favicon|gravatar|placeholder|share|social)([/_.=?&0-9-]|$))|1x1|/ads?/|doubleclick|feedburner`,
)

// sizeInURLPattern はURL中の "800x600" 形式のサイズ表記。
var sizeInURLPattern = regexp.MustCompile(`(\d{2,4})x(\d{2,4})`)

// articleContainerSelector は記事本文を囲む代表的なコンテナ。
const articleContainerSelector = `article, [itemprop="articleBody"], .article-body, .article-content, .post-content, .entry-content, .story-body, main`

// metaImageSelectors はメタ情報から画像を探す優先順位。
var metaImageSelectors = []struct {
	selector string
	attr     string
}{
	// Open Graph
	{`meta[property="og:image"]`, "content"},
	{`meta[property="og:image:url"]`, "content"},
	{`meta[name="og:image"]`, "content"},
	// Twitter Card
	{`meta[name="twitter:image"]`, "content"},
	{`meta[name="twitter:image:src"]`, "content"},
	{`meta[property="twitter:image"]`, "content"},
	// schema.org / link rel
	{`meta[itemprop="image"]`, "content"},
	{`[itemprop="image"]`, "src"},
	{`link[rel="image_src"]`, "href"},
}

// IsExcludedImage はロゴやトラッキングピクセルなど採用すべきでない画像URLかを判定する。
func IsExcludedImage(imageURL string) bool {
	if imageURL == "" || strings.HasPrefix(imageURL, "data:") {
		return true
	}
	return excludedImagePattern.MatchString(imageURL)
}

// ExtractImage はHTMLから記事のアイキャッチ画像を選ぶ。
// 優先順位: Open Graph → Twitter Card → schema.org/link rel →
// 記事コンテナ内の最大画像 → ページ全体の最大画像。
// 相対URLはbaseURLを基準に解決する。見つからない場合は空文字列を返す。
func ExtractImage(rawHTML, baseURL string) string {
	if strings.TrimSpace(rawHTML) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return ""
	}
	return ExtractImageFromDocument(doc, baseURL)
}

// ExtractImageFromDocument はパース済みドキュメントからアイキャッチ画像を選ぶ。
func ExtractImageFromDocument(doc *goquery.Document, baseURL string) string {
	for _, m := range metaImageSelectors {
		found := ""
		doc.Find(m.selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			v, ok := s.Attr(m.attr)
			if !ok {
				return true
			}
			resolved := resolveURL(strings.TrimSpace(v), baseURL)
			if resolved == "" || IsExcludedImage(resolved) {
				return true
			}
			found = resolved
			return false
		})
		if found != "" {
			return found
		}
	}

	if img := largestImage(doc.Find(articleContainerSelector).Find("img"), baseURL); img != "" {
		return img
	}
	return largestImage(doc.Find("img"), baseURL)
}

// ExtractImages は本文中の画像URLを出現順に返す。除外パターンに一致するものは含めない。
func ExtractImages(rawHTML, baseURL string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var images []string
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		src := resolveURL(imageSource(s), baseURL)
		if src == "" || IsExcludedImage(src) || seen[src] {
			return
		}
		if area, known := estimateArea(s, src); known && area < minImageArea {
			return
		}
		seen[src] = true
		images = append(images, src)
	})
	return images
}

// largestImage は推定面積が最大で下限を満たす画像を返す。同面積の場合は先に出現したもの。
func largestImage(sel *goquery.Selection, baseURL string) string {
	best := ""
	bestArea := 0
	sel.Each(func(_ int, s *goquery.Selection) {
		src := resolveURL(imageSource(s), baseURL)
		if src == "" || IsExcludedImage(src) {
			return
		}
		area, known := estimateArea(s, src)
		if !known {
			// サイズ不明の画像は下限ちょうどとして扱う
			area = minImageArea
		}
		if area < minImageArea {
			return
		}
		if area > bestArea {
			best = src
			bestArea = area
		}
	})
	return best
}

// imageSource は遅延読み込み属性も考慮してimgのURLを取り出す。
func imageSource(s *goquery.Selection) string {
	for _, attr := range []string{"src", "data-src", "data-lazy-src", "data-original"} {
		if v, ok := s.Attr(attr); ok && strings.TrimSpace(v) != "" && !strings.HasPrefix(v, "data:") {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// estimateArea はwidth/height属性、またはURL中のサイズ表記から面積を推定する。
// いずれも得られない場合はknown=falseを返す。
func estimateArea(s *goquery.Selection, src string) (area int, known bool) {
	w := parseDimension(s.AttrOr("width", ""))
	h := parseDimension(s.AttrOr("height", ""))
	switch {
	case w > 0 && h > 0:
		return w * h, true
	case w > 0:
		return w * w, true
	case h > 0:
		return h * h, true
	}

	if m := sizeInURLPattern.FindStringSubmatch(src); m != nil {
		uw, _ := strconv.Atoi(m[1])
		uh, _ := strconv.Atoi(m[2])
		return uw * uh, true
	}
	return 0, false
}

func parseDimension(v string) int {
	v = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(v), "px"))
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// resolveURL は相対URLをbaseURL基準の絶対URLに変換する。http(s)以外は空文字列。
func resolveURL(raw, baseURL string) string {
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(raw, "//") {
		raw = "https:" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if !u.IsAbs() && baseURL != "" {
		base, err := url.Parse(baseURL)
		if err != nil {
			return ""
		}
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}
