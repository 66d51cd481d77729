package enrich

import (
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

const (
	// TrendingWindow は急上昇とみなす公開からの経過時間。
	TrendingWindow = 6 * time.Hour
	// FeaturedThreshold は注目記事に必要なチェック項目の達成数。
	FeaturedThreshold = 4

	minFeaturedWords      = 500
	minFeaturedParagraphs = 3
	minFeaturedTitleRunes = 30
	maxFeaturedTitleRunes = 100
	trendingLeadRunes     = 200
)

// breakingSignal は速報を示す語句。タイトルと本文先頭で探す。
var breakingSignal = regexp.MustCompile(`(?i)\b(breaking|urgent|just in|developing|live updates?|alert|exclusive)\b`)

// breakingLexicon はキーワードと突き合わせる速報性の高い語。
var breakingLexicon = toSet(
	"breaking", "urgent", "developing", "emergency", "crisis", "attack", "earthquake",
	"explosion", "shooting", "evacuation", "outbreak", "wildfire", "hurricane", "election",
	"resigns", "killed", "dead",
)

// TrendingInput は急上昇判定の入力。
type TrendingInput struct {
	Title       string
	Text        string
	Keywords    []string
	PublishedAt *time.Time
}

// IsTrending は公開から6時間以内（日時不明を含む）かつ速報シグナルがある場合にtrueを返す。
func IsTrending(in TrendingInput, now time.Time) bool {
	if in.PublishedAt != nil && now.Sub(*in.PublishedAt) > TrendingWindow {
		return false
	}
	return hasBreakingSignal(in)
}

func hasBreakingSignal(in TrendingInput) bool {
	if breakingSignal.MatchString(in.Title) {
		return true
	}
	if breakingSignal.MatchString(truncate(in.Text, trendingLeadRunes)) {
		return true
	}
	for _, kw := range in.Keywords {
		if breakingLexicon[strings.ToLower(kw)] {
			return true
		}
	}
	return false
}

// FeaturedInput は注目記事判定の入力。
type FeaturedInput struct {
	HasImage   bool
	WordCount  int
	Paragraphs int
	Title      string
}

// FeaturedScore は5項目のチェックリストの達成数を返す。
// 画像あり、500語以上、3段落以上、タイトル30〜100文字、釣りタイトルでない。
func FeaturedScore(in FeaturedInput) int {
	score := 0
	if in.HasImage {
		score++
	}
	if in.WordCount >= minFeaturedWords {
		score++
	}
	if in.Paragraphs >= minFeaturedParagraphs {
		score++
	}
	if n := utf8.RuneCountInString(strings.TrimSpace(in.Title)); n >= minFeaturedTitleRunes && n <= maxFeaturedTitleRunes {
		score++
	}
	if !IsClickbait(in.Title) {
		score++
	}
	return score
}

// IsFeatured はチェックリストの達成数が4以上の場合にtrueを返す。
func IsFeatured(in FeaturedInput) bool {
	return FeaturedScore(in) >= FeaturedThreshold
}

var clickbaitPhrases = regexp.MustCompile(`(?i)(you won'?t believe|what happens next|this one (simple )?trick|shocking|mind-?blowing|jaw-?dropping|will blow your mind|doctors hate|\bnumber \d+ will)`)

// IsClickbait は感嘆符・末尾の疑問符・定型の煽り文句・全大文字のタイトルを釣りタイトルとみなす。
func IsClickbait(title string) bool {
	t := strings.TrimSpace(title)
	if t == "" {
		return false
	}
	if strings.Contains(t, "!") || strings.HasSuffix(t, "?") {
		return true
	}
	if clickbaitPhrases.MatchString(t) {
		return true
	}

	letters, upper := 0, 0
	for _, r := range t {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	return letters >= 10 && upper*10 >= letters*8
}
