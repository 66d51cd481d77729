package content

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/hitoshi/newsdesk/internal/model"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// words は "word" をn回並べた段落HTMLを返す。
func words(n int) string {
	return "<p>" + strings.TrimSpace(strings.Repeat("word ", n)) + "</p>"
}

func TestGate_IsFullContent(t *testing.T) {
	var buf bytes.Buffer
	gate := NewGate(newTestLogger(&buf))

	tests := []struct {
		name    string
		content string
		want    bool
	}{
		{
			name:    "250語かつ1000文字以上は全文",
			content: words(250),
			want:    true,
		},
		{
			name:    "単語数が足りない場合は抜粋",
			content: words(249),
			want:    false,
		},
		{
			name:    "単語数を満たしても文字数が1000未満なら抜粋",
			content: "<p>" + strings.TrimSpace(strings.Repeat("a ", 300)) + "</p>",
			want:    false,
		},
		{
			name:    "read moreを含む場合は長さに関わらず抜粋",
			content: words(600) + `<p><a href="https://example.com">Read more</a></p>`,
			want:    false,
		},
		{
			name:    "continue readingを含む場合は抜粋",
			content: words(400) + "<p>Continue reading on the site</p>",
			want:    false,
		},
		{
			name:    "末尾が省略記号の場合は抜粋",
			content: "<p>" + strings.Repeat("word ", 400) + "and then...</p>",
			want:    false,
		},
		{
			name:    "末尾が三点リーダーの場合は抜粋",
			content: "<p>" + strings.Repeat("word ", 400) + "and then…</p>",
			want:    false,
		},
		{
			name:    "空文字列は抜粋",
			content: "",
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := gate.IsFullContent(tt.content, "title"); got != tt.want {
				t.Errorf("IsFullContent() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGate_NeedsScraping_RSSScrapeAlwaysTrue(t *testing.T) {
	var buf bytes.Buffer
	gate := NewGate(newTestLogger(&buf))

	for _, c := range []string{"", words(10), words(1000)} {
		if !gate.NeedsScraping(c, model.SourceTypeRSSScrape, "title") {
			t.Errorf("rss-scrapeソースでは常にスクレイピングが必要であるべき (len=%d)", len(c))
		}
	}
}

func TestGate_NeedsScraping_RSSFull(t *testing.T) {
	var buf bytes.Buffer
	gate := NewGate(newTestLogger(&buf))

	if gate.NeedsScraping(words(300), model.SourceTypeRSSFull, "full") {
		t.Error("全文を持つrss-fullソースはスクレイピング不要であるべき")
	}
	if strings.Contains(buf.String(), "rss-full") {
		t.Error("全文の場合は警告を出すべきではない")
	}

	buf.Reset()
	if !gate.NeedsScraping(words(80), model.SourceTypeRSSFull, "snippet") {
		t.Error("抜粋しかないrss-fullソースはスクレイピングが必要であるべき")
	}
	if !strings.Contains(buf.String(), `"level":"WARN"`) {
		t.Errorf("種別と判定の不一致は警告ログに出力されるべき: %s", buf.String())
	}
}

func TestGate_NeedsScraping_OtherTypesDeferToFullContent(t *testing.T) {
	var buf bytes.Buffer
	gate := NewGate(newTestLogger(&buf))

	for _, st := range []model.SourceType{model.SourceTypeRSS, model.SourceTypeAPI, ""} {
		if gate.NeedsScraping(words(300), st, "t") {
			t.Errorf("%q: 全文ならスクレイピング不要であるべき", st)
		}
		if !gate.NeedsScraping(words(30), st, "t") {
			t.Errorf("%q: 抜粋ならスクレイピングが必要であるべき", st)
		}
	}
}

func TestGetContentStats(t *testing.T) {
	html := `<p>One two three.</p><p>Four <b>five</b>.</p><img src="a.jpg"><p>Six</p>`
	stats := GetContentStats(html)

	if stats.Paragraphs != 3 {
		t.Errorf("Paragraphs = %d, want 3", stats.Paragraphs)
	}
	if !stats.HasImages {
		t.Error("HasImages = false, want true")
	}
	if stats.WordCount != 6 {
		t.Errorf("WordCount = %d, want 6", stats.WordCount)
	}
	if stats.CharCount != len("One two three. Four five. Six") {
		t.Errorf("CharCount = %d, want %d", stats.CharCount, len("One two three. Four five. Six"))
	}
}

func TestCheckPublishable(t *testing.T) {
	long := words(120) // 599文字
	short := words(50)

	if err := CheckPublishable(long, "https://example.com/a.jpg"); err != nil {
		t.Errorf("画像と十分な本文があればエラーにならないべき: %v", err)
	}
	if err := CheckPublishable(long, ""); err != model.ErrImageMissing {
		t.Errorf("err = %v, want ErrImageMissing", err)
	}
	if err := CheckPublishable(short, "https://example.com/a.jpg"); err != model.ErrContentTooShort {
		t.Errorf("err = %v, want ErrContentTooShort", err)
	}
}
