package enrich

import (
	"context"
	"log/slog"
	"strings"
	"unicode"

	"github.com/hitoshi/newsdesk/internal/ai"
	"github.com/hitoshi/newsdesk/internal/model"
)

const (
	// classifyPrefixRunes は分類サービスに送る本文の先頭文字数。
	classifyPrefixRunes = 1000
	// minLabelScore はAI分類の結果を採用する最小スコア。
	minLabelScore = 0.3
	// minKeywordHits はルール分類でカテゴリを採用する最小一致数。
	minKeywordHits = 2
)

// ClassifierLabels はゼロショット分類に渡すラベル集合。
var ClassifierLabels = []string{
	model.CategoryPolitics,
	model.CategoryWorld,
	model.CategoryBusiness,
	model.CategoryTechnology,
	model.CategorySports,
	model.CategoryEntertainment,
	model.CategoryScience,
	model.CategoryHealth,
	model.CategoryLifestyle,
	model.CategoryOpinion,
}

// CategoryRule はルール分類の1カテゴリ分の定義。
type CategoryRule struct {
	Slug        string
	SourceHints []string // ソース名に含まれていればこのカテゴリとする語
	Keywords    []string
}

// CategoryRules はAI分類が使えない場合の分類表。上から順に評価する。
var CategoryRules = []CategoryRule{
	{Slug: model.CategoryPolitics, SourceHints: []string{"politic", "capitol"},
		Keywords: []string{"election", "senate", "congress", "parliament", "president", "minister", "campaign", "vote", "voters", "democrat", "republican", "legislation", "policy", "government"}},
	{Slug: model.CategoryWorld, SourceHints: []string{"world", "international", "global"},
		Keywords: []string{"united nations", "foreign", "embassy", "diplomat", "war", "treaty", "refugee", "border", "sanctions", "nato", "summit", "ceasefire"}},
	{Slug: model.CategoryBusiness, SourceHints: []string{"business", "financ", "market", "bloomberg", "economist", "money"},
		Keywords: []string{"stock", "shares", "market", "economy", "revenue", "profit", "earnings", "investors", "company", "inflation", "startup", "merger", "acquisition", "bank"}},
	{Slug: model.CategoryTechnology, SourceHints: []string{"tech", "wired", "verge", "gadget", "engadget"},
		Keywords: []string{"software", "technology", "artificial intelligence", "ai", "smartphone", "app", "google", "apple", "microsoft", "chip", "cyber", "startup", "computer", "internet", "data"}},
	{Slug: model.CategorySports, SourceHints: []string{"sport", "espn", "athletic"},
		Keywords: []string{"game", "match", "season", "team", "coach", "player", "league", "championship", "tournament", "score", "goal", "football", "basketball", "baseball", "soccer"}},
	{Slug: model.CategoryEntertainment, SourceHints: []string{"entertainment", "variety", "hollywood", "billboard"},
		Keywords: []string{"film", "movie", "music", "album", "actor", "actress", "celebrity", "show", "series", "concert", "festival", "box office", "streaming"}},
	{Slug: model.CategoryScience, SourceHints: []string{"science", "nature", "space"},
		Keywords: []string{"research", "scientists", "study", "nasa", "space", "planet", "climate", "species", "physics", "discovery", "experiment", "universe"}},
	{Slug: model.CategoryHealth, SourceHints: []string{"health", "medical", "medicine"},
		Keywords: []string{"health", "hospital", "disease", "vaccine", "patients", "doctor", "medical", "virus", "cancer", "treatment", "mental health", "drug"}},
	{Slug: model.CategoryLifestyle, SourceHints: []string{"lifestyle", "living", "food", "travel", "style"},
		Keywords: []string{"recipe", "fashion", "travel", "home", "food", "wellness", "beauty", "design", "relationship", "parenting"}},
	{Slug: model.CategoryOpinion, SourceHints: []string{"opinion", "editorial", "commentary"},
		Keywords: []string{"opinion", "editorial", "column", "i think", "we must", "commentary"}},
	{Slug: model.CategoryLocal, SourceHints: []string{"local", "city", "county", "metro"},
		Keywords: []string{"city council", "county", "mayor", "neighborhood", "local", "residents", "school board"}},
}

// CategoryClassifier はAI分類を試み、失敗時はルール分類にフォールバックする。
type CategoryClassifier struct {
	ai     ai.Classifier
	logger *slog.Logger
}

// NewCategoryClassifier はCategoryClassifierの新しいインスタンスを生成する。
func NewCategoryClassifier(svc ai.Classifier, logger *slog.Logger) *CategoryClassifier {
	return &CategoryClassifier{ai: svc, logger: logger}
}

// Classify は記事のカテゴリスラッグを返す。fallbackはルール分類を使ったかを表す。
func (c *CategoryClassifier) Classify(ctx context.Context, title, text, sourceName string) (slug string, fallback bool) {
	input := title + "\n\n" + truncate(text, classifyPrefixRunes)

	scores, err := c.ai.Classify(ctx, input, ClassifierLabels)
	if err == nil && len(scores) > 0 {
		top := scores[0]
		if top.Score >= minLabelScore && model.IsKnownCategory(top.Label) {
			return top.Label, false
		}
		c.logger.Info("AI分類の結果を採用できませんでした",
			slog.String("label", top.Label),
			slog.Float64("score", top.Score),
		)
	} else if err != nil {
		c.logger.Info("AI分類を使わずルール分類にフォールバックします",
			slog.String("reason", err.Error()),
		)
	}

	return ClassifyByRules(title, text, sourceName), true
}

// ClassifyByRules はソース名、キーワード一致数の順に分類し、該当しなければ既定カテゴリを返す。
// キーワード一致は2件以上で採用し、最多のカテゴリを選ぶ。
func ClassifyByRules(title, text, sourceName string) string {
	name := strings.ToLower(sourceName)
	if name != "" {
		for _, rule := range CategoryRules {
			for _, hint := range rule.SourceHints {
				if strings.Contains(name, hint) {
					return rule.Slug
				}
			}
		}
	}

	haystack := keywordHaystack(title + " " + text)
	best, bestHits := "", 0
	for _, rule := range CategoryRules {
		hits := 0
		for _, kw := range rule.Keywords {
			if strings.Contains(haystack, " "+kw+" ") {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = rule.Slug, hits
		}
	}
	if bestHits >= minKeywordHits {
		return best
	}
	return model.DefaultCategory
}

// keywordHaystack は文字と数字以外を空白に置き換えて小文字化し、前後を空白で囲む。
// キーワードを空白で囲んで探すことで単語単位の一致になる。
func keywordHaystack(s string) string {
	words := strings.Fields(strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, s))
	return " " + strings.Join(words, " ") + " "
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
