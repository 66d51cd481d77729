package enrich

import (
	"html"
	"strings"

	"github.com/hitoshi/newsdesk/internal/ai"
	"github.com/hitoshi/newsdesk/internal/content"
)

const (
	ledeSentences      = 2
	paragraphSentences = 3
	// headerEvery は見出しを挟む本文段落の間隔。
	headerEvery = 4
	// imageEvery は画像を挟む本文段落の間隔。
	imageEvery = 5
)

// sectionHeaders は本文に挟む見出し。順に使い、尽きたら見出しを挟まない。
var sectionHeaders = []string{
	"Key Details",
	"What We Know",
	"The Bigger Picture",
	"What Comes Next",
}

// RewriteInput は書き直しの入力。
type RewriteInput struct {
	Title     string
	Text      string   // サニタイズ済み本文のプレーンテキスト
	Images    []string // 本文中の画像。アイキャッチ画像と除外パターンは呼び出し側で除く
	SourceURL string
	Research  *ai.Research // nilまたは空なら調査セクションを出力しない
}

// Rewrite は本文を長文の構造化HTMLに書き直す。
// 先頭2文を太字のリード、以降を3文ずつの段落とし、見出しと画像を一定間隔で挟む。
// 調査結果がある場合は背景・詳細・関連情報のセクションと出典一覧を付ける。
// 差し込むテキストと属性値はすべてエスケープする。
func Rewrite(in RewriteInput) string {
	sentences := content.SplitSentences(in.Text)
	if len(sentences) == 0 {
		return ""
	}

	var b strings.Builder

	lede := sentences[:min(ledeSentences, len(sentences))]
	b.WriteString(`<p class="lede"><strong>`)
	b.WriteString(html.EscapeString(strings.Join(lede, " ")))
	b.WriteString("</strong></p>\n")

	body := groupSentences(sentences[len(lede):], paragraphSentences)
	images := in.Images
	headers := sectionHeaders
	for i, para := range body {
		if i > 0 && i%headerEvery == 0 && len(headers) > 0 {
			writeTag(&b, "h2", headers[0])
			headers = headers[1:]
		}
		writeTag(&b, "p", para)
		if (i+1)%imageEvery == 0 && len(images) > 0 {
			writeFigure(&b, images[0], in.Title)
			images = images[1:]
		}
	}

	if r := in.Research; !r.IsEmpty() {
		if r.Background != "" {
			b.WriteString(`<section class="background">` + "\n")
			writeTag(&b, "h3", "Background")
			writeTag(&b, "p", r.Background)
			b.WriteString("</section>\n")
		}
		writeListSection(&b, "additional-details", "Additional Details", r.AdditionalDetails)
		writeListSection(&b, "further-information", "Further Information", r.FurtherInformation)
		writeSources(&b, in.SourceURL, r.Sources)
	}

	return strings.TrimSpace(b.String())
}

// groupSentences は文をn文ずつの段落にまとめる。
func groupSentences(sentences []string, n int) []string {
	var paras []string
	for i := 0; i < len(sentences); i += n {
		end := min(i+n, len(sentences))
		paras = append(paras, strings.Join(sentences[i:end], " "))
	}
	return paras
}

func writeTag(b *strings.Builder, tag, text string) {
	b.WriteString("<" + tag + ">")
	b.WriteString(html.EscapeString(text))
	b.WriteString("</" + tag + ">\n")
}

func writeFigure(b *strings.Builder, src, alt string) {
	b.WriteString(`<figure><img src="`)
	b.WriteString(html.EscapeString(src))
	b.WriteString(`" alt="`)
	b.WriteString(html.EscapeString(alt))
	b.WriteString(`" loading="lazy"></figure>` + "\n")
}

func writeListSection(b *strings.Builder, class, heading string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString(`<section class="` + class + `">` + "\n")
	writeTag(b, "h3", heading)
	b.WriteString("<ul>\n")
	for _, item := range items {
		writeTag(b, "li", item)
	}
	b.WriteString("</ul>\n</section>\n")
}

func writeSources(b *strings.Builder, sourceURL string, refs []ai.Reference) {
	if sourceURL == "" && len(refs) == 0 {
		return
	}
	b.WriteString(`<footer class="sources">` + "\n")
	writeTag(b, "h3", "Sources")
	b.WriteString("<ul>\n")
	if sourceURL != "" {
		writeLink(b, sourceURL, "Original article")
	}
	seen := map[string]bool{sourceURL: true}
	for _, ref := range refs {
		if ref.URL == "" || seen[ref.URL] {
			continue
		}
		seen[ref.URL] = true
		writeLink(b, ref.URL, ref.Title)
	}
	b.WriteString("</ul>\n</footer>\n")
}

func writeLink(b *strings.Builder, href, text string) {
	b.WriteString(`<li><a href="`)
	b.WriteString(html.EscapeString(href))
	b.WriteString(`" rel="nofollow noopener">`)
	b.WriteString(html.EscapeString(text))
	b.WriteString("</a></li>\n")
}
