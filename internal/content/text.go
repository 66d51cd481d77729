// Package content はHTML本文の品質判定とテキスト処理を提供する。
//
// フェッチステージはスニペット判定と公開可否の判定に、処理ステージは
// プレーンテキスト化・文分割・統計値の算出に、このパッケージを共有して使う。
package content

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// skipTextTags は本文として扱わない要素。
var skipTextTags = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
}

// blockTags は前後に空白を挟むブロック要素。
var blockTags = map[string]bool{
	"p": true, "br": true, "div": true, "li": true, "ul": true, "ol": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"blockquote": true, "pre": true, "section": true, "article": true,
	"figure": true, "figcaption": true, "tr": true, "td": true, "th": true,
}

// PlainText はHTMLからタグを除去し、エンティティをデコードし、空白を正規化したテキストを返す。
// script/style等の中身は捨てる。
func PlainText(rawHTML string) string {
	if rawHTML == "" {
		return ""
	}

	var b strings.Builder
	tokenizer := html.NewTokenizer(strings.NewReader(rawHTML))
	skipDepth := 0

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return NormalizeWhitespace(b.String())
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			name, _ := tokenizer.TagName()
			tag := string(name)
			if skipTextTags[tag] {
				if tt == html.StartTagToken {
					skipDepth++
				} else if tt == html.EndTagToken && skipDepth > 0 {
					skipDepth--
				}
				continue
			}
			if blockTags[tag] {
				b.WriteByte(' ')
			}
		case html.TextToken:
			if skipDepth > 0 {
				continue
			}
			// Text()はエンティティをデコード済みで返す
			b.Write(tokenizer.Text())
		}
	}
}

// NormalizeWhitespace は連続する空白を1つのスペースにまとめ、前後を切り詰める。
func NormalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// WordCount はテキストの単語数を返す。
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// CharCount はテキストの文字数（rune数）を返す。
func CharCount(text string) int {
	return utf8.RuneCountInString(text)
}

// abbreviations は文末と誤認しやすい略語（小文字、末尾ピリオドなし）。
var abbreviations = map[string]bool{
	"mr": true, "mrs": true, "ms": true, "dr": true, "prof": true, "sr": true,
	"jr": true, "st": true, "gov": true, "sen": true, "rep": true, "gen": true,
	"col": true, "lt": true, "sgt": true, "inc": true, "corp": true, "ltd": true,
	"co": true, "vs": true, "etc": true, "no": true, "u.s": true, "u.k": true,
	"jan": true, "feb": true, "mar": true, "apr": true, "jun": true, "jul": true,
	"aug": true, "sep": true, "sept": true, "oct": true, "nov": true, "dec": true,
}

// SplitSentences はプレーンテキストを文に分割する。
// 終端記号（. ! ?）の後に空白が続き、次の文字が大文字・数字・引用符の場合に区切る。
func SplitSentences(text string) []string {
	text = NormalizeWhitespace(text)
	if text == "" {
		return nil
	}

	runes := []rune(text)
	var sentences []string
	start := 0

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '.' && r != '!' && r != '?' {
			continue
		}

		// 閉じ引用符・括弧は文に含める
		end := i + 1
		for end < len(runes) && isClosingMark(runes[end]) {
			end++
		}
		if end >= len(runes) {
			break
		}
		if runes[end] != ' ' {
			continue
		}
		next := end + 1
		if next >= len(runes) || !startsSentence(runes[next]) {
			continue
		}
		if r == '.' && endsWithAbbreviation(runes[start:i]) {
			continue
		}

		if s := strings.TrimSpace(string(runes[start:end])); s != "" {
			sentences = append(sentences, s)
		}
		start = next
		i = end
	}

	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

func isClosingMark(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '”', '’', '»':
		return true
	}
	return false
}

func startsSentence(r rune) bool {
	switch r {
	case '"', '\'', '“', '‘', '(', '«':
		return true
	}
	return unicode.IsUpper(r) || unicode.IsDigit(r)
}

// endsWithAbbreviation は直前の単語が略語または1文字のイニシャルかを判定する。
func endsWithAbbreviation(before []rune) bool {
	j := len(before)
	for j > 0 && before[j-1] != ' ' {
		j--
	}
	word := strings.ToLower(string(before[j:]))
	if utf8.RuneCountInString(word) == 1 {
		return true
	}
	return abbreviations[word]
}
