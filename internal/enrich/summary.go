// Package enrich は処理ステージで記事に付与する要約・キーワード・分類・書き直し・スコアを計算する。
package enrich

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hitoshi/newsdesk/internal/ai"
	"github.com/hitoshi/newsdesk/internal/content"
)

const (
	// minSummaryTarget は要約の目標文字数の下限。
	minSummaryTarget = 200
	// maxSummaryLength は要約の最大文字数の上限。
	maxSummaryLength = 500
	// maxExtractiveSentences は抽出型要約に使う最大文数。
	maxExtractiveSentences = 10
)

// signalWords は報道上重要な文に現れやすい語。
var signalWords = []string{
	"announced", "confirmed", "breaking", "revealed", "reported", "according",
	"launched", "released", "agreed", "warned", "said", "percent", "million", "billion",
}

var digitPattern = regexp.MustCompile(`\d`)

// SummaryTarget はプレーンテキスト長に対する要約の目標文字数と最大文字数を返す。
// 目標は長さの25%で下限200、最大は目標+100で上限500、ただし目標を下回らない。
func SummaryTarget(textLen int) (target, maxLen int) {
	target = textLen / 4
	if target < minSummaryTarget {
		target = minSummaryTarget
	}
	maxLen = target + 100
	if maxLen > maxSummaryLength {
		maxLen = maxSummaryLength
	}
	if maxLen < target {
		maxLen = target
	}
	return target, maxLen
}

// Summarizer はAI要約を試み、失敗時は抽出型要約にフォールバックする。
type Summarizer struct {
	ai     ai.Summarizer
	logger *slog.Logger
}

// NewSummarizer はSummarizerの新しいインスタンスを生成する。
func NewSummarizer(svc ai.Summarizer, logger *slog.Logger) *Summarizer {
	return &Summarizer{ai: svc, logger: logger}
}

// Summarize はプレーンテキストを要約する。fallbackは抽出型要約を使ったかを表す。
func (s *Summarizer) Summarize(ctx context.Context, text string) (summary string, fallback bool) {
	target, maxLen := SummaryTarget(utf8.RuneCountInString(text))
	floor := target * 8 / 10

	out, err := s.ai.Summarize(ctx, text, target, maxLen)
	switch {
	case err != nil:
		s.logger.Info("AI要約を使わず抽出型要約にフォールバックします",
			slog.String("reason", err.Error()),
		)
	case utf8.RuneCountInString(out) < floor:
		s.logger.Info("AI要約が短すぎるため抽出型要約にフォールバックします",
			slog.Int("length", utf8.RuneCountInString(out)),
			slog.Int("target", target),
		)
	default:
		capped := capSummary(normalizeSummary(out), maxLen)
		if utf8.RuneCountInString(capped) >= floor {
			return capped, false
		}
		s.logger.Info("AI要約が長すぎて切り詰められないため抽出型要約にフォールバックします",
			slog.Int("length", utf8.RuneCountInString(out)),
			slog.Int("max_length", maxLen),
		)
	}

	return ExtractiveSummary(text, target), true
}

// capSummary はmaxLen文字を超える要約を、maxLen以内に収まる最後の文の区切りで切り詰める。
// 1文も収まらない場合は空文字列を返す。
func capSummary(summary string, maxLen int) string {
	if utf8.RuneCountInString(summary) <= maxLen {
		return summary
	}

	var kept []string
	length := 0
	for _, sentence := range content.SplitSentences(summary) {
		n := utf8.RuneCountInString(sentence)
		if len(kept) > 0 {
			n++ // 区切りの空白
		}
		if length+n > maxLen {
			break
		}
		kept = append(kept, sentence)
		length += n
	}
	if len(kept) == 0 {
		return ""
	}
	return normalizeSummary(strings.Join(kept, " "))
}

// ExtractiveSummary は文をスコアリングし、高得点の文から目標文字数まで選んで原文順に並べる。
// 目標の80%に達した後は10文を上限とする。
func ExtractiveSummary(text string, target int) string {
	sentences := content.SplitSentences(text)
	if len(sentences) == 0 {
		return ""
	}

	type scored struct {
		index int
		score float64
	}
	ranked := make([]scored, len(sentences))
	for i, sentence := range sentences {
		ranked[i] = scored{index: i, score: scoreSentence(sentence, i, len(sentences))}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	floor := target * 8 / 10
	var picked []int
	length := 0
	for _, r := range ranked {
		if length >= target {
			break
		}
		if len(picked) >= maxExtractiveSentences && length >= floor {
			break
		}
		if len(picked) > 0 {
			length++ // 区切りの空白
		}
		picked = append(picked, r.index)
		length += utf8.RuneCountInString(sentences[r.index])
	}
	sort.Ints(picked)

	parts := make([]string, len(picked))
	for i, idx := range picked {
		parts[i] = sentences[idx]
	}
	return normalizeSummary(strings.Join(parts, " "))
}

// scoreSentence は位置・シグナル語・固有名詞らしさ・数字・長さ・引用で文を採点する。
func scoreSentence(sentence string, index, total int) float64 {
	score := 2 * (1 - float64(index)/float64(total))
	if index == 0 {
		score += 1
	}

	lower := strings.ToLower(sentence)
	hits := 0
	for _, w := range signalWords {
		if strings.Contains(lower, w) {
			hits++
		}
	}
	score += float64(min(hits, 2))

	words := strings.Fields(sentence)
	if len(words) > 1 {
		capitalized := 0
		for _, w := range words[1:] {
			r, _ := utf8.DecodeRuneInString(w)
			if unicode.IsUpper(r) {
				capitalized++
			}
		}
		score += 2 * float64(capitalized) / float64(len(words)-1)
	}

	if digitPattern.MatchString(sentence) {
		score += 0.5
	}

	switch n := len(words); {
	case n >= 10 && n <= 30:
		score += 1
	case n < 5:
		score -= 1
	}

	if strings.ContainsAny(sentence, "\"“”") {
		score += 0.5
	}
	return score
}

// normalizeSummary は先頭を大文字にし、末尾を終端記号で終わらせる。
func normalizeSummary(s string) string {
	s = content.NormalizeWhitespace(s)
	if s == "" {
		return s
	}

	r, size := utf8.DecodeRuneInString(s)
	if unicode.IsLower(r) {
		s = string(unicode.ToUpper(r)) + s[size:]
	}

	trimmed := strings.TrimRightFunc(s, isClosingQuote)
	last, _ := utf8.DecodeLastRuneInString(trimmed)
	switch last {
	case '.', '!', '?':
		return s
	}
	s = strings.TrimRight(s, ",;: -–")
	return s + "."
}

func isClosingQuote(r rune) bool {
	switch r {
	case '"', '\'', '”', '’', ')':
		return true
	}
	return false
}
