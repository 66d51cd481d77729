// Package security はパイプラインのセキュリティ機能を提供する。
//
// ContentSanitizerService は取得した記事HTMLを許可リストでサニタイズする。
// bluemondayのポリシーで安全なタグと属性のみを通過させる。
// URLGuard はフィード・記事ページ・調査APIの接続先を検証する。
package security

import (
	"net/url"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizerService はHTMLコンテンツのサニタイズ機能のインターフェースを定義する。
// 処理ステージが本文を加工する前に使用する。
type ContentSanitizerService interface {
	// Sanitize はHTMLコンテンツをサニタイズして安全なHTMLを返す。
	// 許可タグ（p, br, h2, h3, strong, em, ul, ol, li, blockquote, pre, code, a, img, figure, figcaption）のみを通過させ、
	// script, iframe, styleタグおよびon*イベント属性を除去する。
	// imgタグのsrc属性とaタグのhref属性はhttp/httpsの絶対URLのみ許可される。
	// 空文字列の入力には空文字列を返す。
	Sanitize(rawHTML string) string
}

// contentSanitizer はContentSanitizerServiceの実装。
// bluemondayのポリシーはスレッドセーフに共有できる。
type contentSanitizer struct {
	policy *bluemonday.Policy
}

var _ ContentSanitizerService = (*contentSanitizer)(nil)

// NewContentSanitizer はContentSanitizerServiceの新しいインスタンスを生成する。
// ポリシーの内容:
//   - 許可タグ: p, br, h2, h3, strong, em, ul, ol, li, blockquote, pre, code, figure, figcaption
//   - a: hrefのみ。rel="nofollow noreferrer"を付与
//   - img: src, alt, width, height
//   - 禁止タグ: script, iframe, style および全てのon*イベント属性
func NewContentSanitizer() *contentSanitizer {
	p := bluemonday.NewPolicy()

	// 許可リストにないタグは除去される。script/style/iframeは中身ごと除去される
	p.AllowElements(
		"p", "br", "h2", "h3",
		"strong", "em",
		"ul", "ol", "li",
		"blockquote", "pre", "code",
		"figure", "figcaption",
	)

	p.AllowAttrs("href").OnElements("a")
	p.RequireNoFollowOnLinks(true)
	p.RequireNoReferrerOnLinks(true)

	p.AllowAttrs("src", "alt").OnElements("img")
	p.AllowAttrs("width", "height").Matching(bluemonday.Integer).OnElements("img")

	// 相対URLはフェッチ元を失った後では解決できない
	p.AllowRelativeURLs(false)
	allowAbsolute := func(u *url.URL) bool { return u.Host != "" }
	p.AllowURLSchemeWithCustomPolicy("https", allowAbsolute)
	p.AllowURLSchemeWithCustomPolicy("http", allowAbsolute)

	return &contentSanitizer{
		policy: p,
	}
}

// Sanitize はHTMLコンテンツをサニタイズして安全なHTMLを返す。
func (s *contentSanitizer) Sanitize(rawHTML string) string {
	return s.policy.Sanitize(rawHTML)
}
