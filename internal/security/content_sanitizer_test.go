package security

import (
	"strings"
	"testing"
)

// TestSanitize_AllowedTags は許可タグが正しく通過することを検証する。
func TestSanitize_AllowedTags(t *testing.T) {
	sanitizer := NewContentSanitizer()

	tests := []struct {
		name         string
		input        string
		wantContains []string
	}{
		{
			name:         "pタグが許可される",
			input:        "<p>Council approves budget</p>",
			wantContains: []string{"<p>Council approves budget</p>"},
		},
		{
			name:         "見出しが許可される",
			input:        "<h2>Background</h2><h3>Details</h3>",
			wantContains: []string{"<h2>Background</h2>", "<h3>Details</h3>"},
		},
		{
			name:         "リストが許可される",
			input:        "<ul><li>one</li></ul><ol><li>two</li></ol>",
			wantContains: []string{"<ul><li>one</li></ul>", "<ol><li>two</li></ol>"},
		},
		{
			name:         "強調と引用が許可される",
			input:        "<blockquote><strong>We</strong> <em>will</em> act</blockquote>",
			wantContains: []string{"<blockquote>", "<strong>We</strong>", "<em>will</em>"},
		},
		{
			name:         "figureとfigcaptionが許可される",
			input:        `<figure><img src="https://cdn.example.com/a.jpg" alt="Harbor"><figcaption>The harbor</figcaption></figure>`,
			wantContains: []string{"<figure>", `src="https://cdn.example.com/a.jpg"`, `alt="Harbor"`, "<figcaption>The harbor</figcaption>"},
		},
		{
			name:         "imgのサイズ属性は整数のみ許可される",
			input:        `<img src="https://cdn.example.com/a.jpg" width="800" height="auto">`,
			wantContains: []string{`width="800"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizer.Sanitize(tt.input)
			for _, want := range tt.wantContains {
				if !strings.Contains(got, want) {
					t.Errorf("Sanitize(%q) = %q, expected to contain %q", tt.input, got, want)
				}
			}
		})
	}
}

// TestSanitize_ForbiddenContent は禁止タグと属性が除去されることを検証する。
func TestSanitize_ForbiddenContent(t *testing.T) {
	sanitizer := NewContentSanitizer()

	tests := []struct {
		name         string
		input        string
		wantAbsent   []string
		wantContains []string
	}{
		{
			name:         "scriptタグが中身ごと除去される",
			input:        `<p>before</p><script>alert('xss')</script><p>after</p>`,
			wantAbsent:   []string{"<script", "alert"},
			wantContains: []string{"before", "after"},
		},
		{
			name:         "styleタグが中身ごと除去される",
			input:        `<p>text</p><style>body{display:none}</style>`,
			wantAbsent:   []string{"<style", "display:none"},
			wantContains: []string{"text"},
		},
		{
			name:       "iframeが除去される",
			input:      `<iframe src="https://evil.example.com"></iframe>`,
			wantAbsent: []string{"<iframe", "evil.example.com"},
		},
		{
			name:         "レイアウト用のタグは除去され中身は残る",
			input:        `<div class="wrap"><span>kept</span><h1>Title</h1></div>`,
			wantAbsent:   []string{"<div", "<span", "<h1", "class="},
			wantContains: []string{"kept", "Title"},
		},
		{
			name:       "on*イベント属性が除去される",
			input:      `<p onclick="steal()">x</p><img src="https://cdn.example.com/a.jpg" onerror="alert(1)">`,
			wantAbsent: []string{"onclick", "onerror", "steal", "alert"},
		},
		{
			name:       "javascript URIが除去される",
			input:      `<a href="javascript:alert(1)">click</a>`,
			wantAbsent: []string{"javascript:"},
		},
		{
			name:       "data URIの画像が除去される",
			input:      `<img src="data:image/png;base64,abc">`,
			wantAbsent: []string{"data:image"},
		},
		{
			name:       "相対URLが除去される",
			input:      `<img src="/images/a.jpg"><a href="/about">about</a>`,
			wantAbsent: []string{"/images/a.jpg", `href="/about"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizer.Sanitize(tt.input)
			for _, absent := range tt.wantAbsent {
				if strings.Contains(got, absent) {
					t.Errorf("Sanitize(%q) = %q, should NOT contain %q", tt.input, got, absent)
				}
			}
			for _, want := range tt.wantContains {
				if !strings.Contains(got, want) {
					t.Errorf("Sanitize(%q) = %q, expected to contain %q", tt.input, got, want)
				}
			}
		})
	}
}

// TestSanitize_URLSchemes はhttp/httpsの絶対URLのみ許可されることを検証する。
func TestSanitize_URLSchemes(t *testing.T) {
	sanitizer := NewContentSanitizer()

	tests := []struct {
		name    string
		input   string
		want    string
		allowed bool
	}{
		{"https画像", `<img src="https://cdn.example.com/a.jpg">`, "https://cdn.example.com/a.jpg", true},
		{"http画像", `<img src="http://cdn.example.com/a.jpg">`, "http://cdn.example.com/a.jpg", true},
		{"ftp画像", `<img src="ftp://cdn.example.com/a.jpg">`, "ftp://", false},
		{"httpsリンク", `<a href="https://news.example.com/x">x</a>`, "https://news.example.com/x", true},
		{"mailtoリンク", `<a href="mailto:desk@example.com">mail</a>`, "mailto:", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizer.Sanitize(tt.input)
			if strings.Contains(got, tt.want) != tt.allowed {
				t.Errorf("Sanitize(%q) = %q, allowed want %v", tt.input, got, tt.allowed)
			}
		})
	}
}

// TestSanitize_AnchorRel はaタグにrel="nofollow noreferrer"が付与されることを検証する。
func TestSanitize_AnchorRel(t *testing.T) {
	sanitizer := NewContentSanitizer()

	got := sanitizer.Sanitize(`<a href="https://news.example.com" rel="opener" target="_self">link</a>`)
	for _, want := range []string{"nofollow", "noreferrer"} {
		if !strings.Contains(got, want) {
			t.Errorf("結果に %q が含まれていない: %q", want, got)
		}
	}
	if strings.Contains(got, "_self") || strings.Contains(got, `"opener"`) {
		t.Errorf("元のtarget/relが残っている: %q", got)
	}
}

// TestSanitize_EmptyInput は空文字列の入力を安全に処理できることを検証する。
func TestSanitize_EmptyInput(t *testing.T) {
	if got := NewContentSanitizer().Sanitize(""); got != "" {
		t.Errorf("Sanitize(\"\") = %q, expected empty string", got)
	}
}

// TestSanitize_Idempotent は二重にサニタイズしても結果が変わらないことを検証する。
func TestSanitize_Idempotent(t *testing.T) {
	sanitizer := NewContentSanitizer()

	input := `<p>Text <strong>bold</strong></p><a href="https://example.com">link</a><img src="https://example.com/img.png" alt="photo">`

	first := sanitizer.Sanitize(input)
	if second := sanitizer.Sanitize(first); first != second {
		t.Errorf("二重サニタイズで結果が変わった: 1回目=%q, 二重=%q", first, second)
	}
}
