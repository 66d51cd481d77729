package enrich

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/hitoshi/newsdesk/internal/model"
)

const (
	// MaxKeywords は記事に付与するキーワードの最大数。
	MaxKeywords = 10
	// MaxEntitiesPerKind は固有表現の種類ごとの最大数。
	MaxEntitiesPerKind = 10
)

var wordPattern = regexp.MustCompile(`[\p{L}\p{N}][\p{L}\p{N}'’-]*`)

// stopWords はキーワードから除外する頻出語。
var stopWords = toSet(
	"about", "above", "after", "again", "against", "also", "although", "among", "another",
	"because", "been", "before", "being", "below", "between", "both", "could", "does",
	"doing", "down", "during", "each", "even", "every", "from", "further", "have", "having",
	"here", "into", "it's", "just", "like", "made", "make", "many", "more", "most", "much",
	"must", "only", "other", "over", "said", "same", "says", "should", "since", "some",
	"such", "than", "that", "their", "them", "then", "there", "these", "they", "this",
	"those", "through", "under", "until", "upon", "very", "were", "what", "when", "where",
	"which", "while", "will", "with", "within", "without", "would", "year", "years", "your",
)

// ExtractKeywords は単一文書内の出現頻度で語を採点し、上位n件を返す。
// 4文字以上で数字のみでない語が対象。同点は先に出現した語を優先する。
func ExtractKeywords(text string, n int) []string {
	type term struct {
		word  string
		count int
		first int
	}
	terms := make(map[string]*term)

	for i, raw := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		w := strings.Trim(raw, "'’-")
		if len([]rune(w)) <= 3 || isNumeric(w) || stopWords[w] {
			continue
		}
		if t, ok := terms[w]; ok {
			t.count++
			continue
		}
		terms[w] = &term{word: w, count: 1, first: i}
	}

	list := make([]*term, 0, len(terms))
	for _, t := range terms {
		list = append(list, t)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].count != list[j].count {
			return list[i].count > list[j].count
		}
		return list[i].first < list[j].first
	})

	if len(list) > n {
		list = list[:n]
	}
	keywords := make([]string, len(list))
	for i, t := range list {
		keywords[i] = t.word
	}
	return keywords
}

func isNumeric(w string) bool {
	for _, r := range w {
		if !unicode.IsDigit(r) && r != ',' && r != '.' && r != '-' {
			return false
		}
	}
	return true
}

// personTitles は直後が人名であることを示す敬称・肩書き。
var personTitles = toSet(
	"mr", "mrs", "ms", "dr", "prof", "president", "senator", "sen", "rep", "governor", "gov",
	"minister", "secretary", "chancellor", "mayor", "judge", "ceo", "chairman", "king", "queen",
	"prince", "princess", "pope", "general", "coach",
)

// orgSuffixes は組織名の末尾に現れる語。
var orgSuffixes = toSet(
	"inc", "corp", "corporation", "company", "co", "ltd", "llc", "plc", "group", "holdings",
	"university", "college", "association", "agency", "ministry", "department", "council",
	"bank", "party", "committee", "foundation", "institute", "commission", "union", "club",
	"fund", "organization", "organisation", "network", "news", "times", "post",
)

// knownPlaces は地名として扱う語。
var knownPlaces = toSet(
	"africa", "america", "asia", "australia", "beijing", "berlin", "brazil", "britain",
	"california", "canada", "china", "europe", "france", "gaza", "germany", "india", "iran",
	"israel", "italy", "japan", "london", "los angeles", "mexico", "moscow", "new york",
	"paris", "russia", "spain", "texas", "tokyo", "ukraine", "united kingdom", "united states",
	"washington",
)

// placePrepositions は直後の固有名詞が地名である可能性が高い前置詞。
var placePrepositions = toSet("in", "at", "from", "near", "across", "outside")

var acronymPattern = regexp.MustCompile(`^[A-Z]{2,6}$`)

// ExtractEntities は大文字で始まる語の連なりを人名・地名・組織名に振り分ける。
// 各種類とも重複を除いて最大10件。
func ExtractEntities(text string) model.Entities {
	var people, places, orgs orderedSet

	tokens := strings.Fields(text)
	for i := 0; i < len(tokens); {
		if !isCapitalized(cleanToken(tokens[i])) {
			i++
			continue
		}

		// 大文字で始まる語の連なりを集める。句読点で終わる語で打ち切る
		j := i
		var phrase []string
		for j < len(tokens) {
			w := cleanToken(tokens[j])
			if !isCapitalized(w) {
				break
			}
			phrase = append(phrase, w)
			j++
			if endsClause(tokens[j-1]) {
				break
			}
		}

		prev := ""
		if i > 0 {
			prev = strings.ToLower(cleanToken(tokens[i-1]))
		}
		sentenceStart := i == 0 || endsClause(tokens[i-1])
		classifyPhrase(phrase, prev, sentenceStart, &people, &places, &orgs)
		i = j
	}

	return model.Entities{
		People:        people.items,
		Places:        places.items,
		Organizations: orgs.items,
	}
}

func classifyPhrase(phrase []string, prev string, sentenceStart bool, people, places, orgs *orderedSet) {
	// 先頭が敬称の場合は除いた残りを人名とする
	if first := strings.ToLower(strings.TrimSuffix(phrase[0], ".")); personTitles[first] && len(phrase) > 1 {
		people.add(strings.Join(phrase[1:], " "))
		return
	}
	if personTitles[prev] {
		people.add(strings.Join(phrase, " "))
		return
	}

	name := strings.Join(phrase, " ")
	last := strings.ToLower(strings.TrimSuffix(phrase[len(phrase)-1], "."))
	switch {
	case orgSuffixes[last] && len(phrase) > 1:
		orgs.add(name)
	case len(phrase) == 1 && acronymPattern.MatchString(name):
		orgs.add(name)
	case knownPlaces[strings.ToLower(name)]:
		places.add(name)
	case placePrepositions[prev] && len(phrase) <= 3:
		places.add(name)
	case len(phrase) >= 2 && len(phrase) <= 3 && !sentenceStart:
		people.add(name)
	case len(phrase) >= 2 && len(phrase) <= 3 && sentenceStart && !isCommonOpener(phrase[0]):
		people.add(name)
	}
}

// isCommonOpener は文頭で大文字になっただけの一般語かを判定する。
func isCommonOpener(w string) bool {
	switch strings.ToLower(w) {
	case "the", "a", "an", "this", "that", "these", "those", "in", "on", "at", "but", "and",
		"after", "before", "when", "while", "however", "meanwhile", "officials", "police":
		return true
	}
	return false
}

func cleanToken(t string) string {
	return strings.Trim(t, `.,;:!?"'“”‘’()[]`)
}

func endsClause(t string) bool {
	return strings.ContainsAny(t[len(t)-1:], `.,;:!?)`) || strings.HasSuffix(t, `."`) || strings.HasSuffix(t, `,"`)
}

func isCapitalized(w string) bool {
	if w == "" {
		return false
	}
	r := []rune(w)[0]
	return unicode.IsUpper(r)
}

// orderedSet は挿入順を保ち大文字小文字を区別せず重複を除く集合。上限はMaxEntitiesPerKind。
type orderedSet struct {
	seen  map[string]bool
	items []string
}

func (s *orderedSet) add(v string) {
	if v == "" || len(s.items) >= MaxEntitiesPerKind {
		return
	}
	if s.seen == nil {
		s.seen = make(map[string]bool)
	}
	key := strings.ToLower(v)
	if s.seen[key] {
		return
	}
	s.seen[key] = true
	s.items = append(s.items, v)
}

func toSet(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}
