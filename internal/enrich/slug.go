package enrich

import (
	"regexp"
	"strings"
)

// MaxSlugLength はスラッグの最大長。
const MaxSlugLength = 100

var (
	nonWordPattern     = regexp.MustCompile(`[^a-z0-9_\s-]`)
	spacePattern       = regexp.MustCompile(`\s+`)
	multiHyphenPattern = regexp.MustCompile(`-{2,}`)
)

// Slugify はタイトルからURLスラッグを生成する。
// 小文字化、英数字以外の除去、空白のハイフン化、連続ハイフンの圧縮、前後のハイフン除去を行い、100文字で切り詰める。
func Slugify(title string) string {
	s := strings.ToLower(strings.TrimSpace(title))
	s = nonWordPattern.ReplaceAllString(s, "")
	s = spacePattern.ReplaceAllString(s, "-")
	s = multiHyphenPattern.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > MaxSlugLength {
		s = strings.TrimRight(s[:MaxSlugLength], "-")
	}
	return s
}
