package app

import (
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/newsdesk/internal/model"
)

func TestLoadSources_ParsesEntries(t *testing.T) {
	const doc = `
sources:
  - name: Valley Courier
    url: https://courier.example.com/feed.xml
    type: rss-full
    fetch_interval: 15m
  - name: Harbor Times
    url: https://harbor.example.com/rss
    type: rss-scrape
    active: false
  - name: County Notices
    url: https://county.example.gov/notices
    type: scraper
`
	sources, err := LoadSources(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("LoadSources: %v", err)
	}
	if len(sources) != 3 {
		t.Fatalf("sources = %d, want 3", len(sources))
	}

	first := sources[0]
	if first.Name != "Valley Courier" || first.Type != model.SourceTypeRSSFull || !first.IsActive || first.FetchInterval != 15*time.Minute {
		t.Errorf("sources[0] = %+v", first)
	}
	if sources[1].IsActive {
		t.Error("active: false のソースが有効になっている")
	}
	if sources[2].FetchInterval != defaultFetchInterval {
		t.Errorf("既定の取得間隔 = %v, want %v", sources[2].FetchInterval, defaultFetchInterval)
	}
	for _, s := range sources {
		if s.ID != "" {
			t.Errorf("IDは登録時に採番する: %q", s.ID)
		}
	}
}

func TestLoadSources_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{"空ファイル", "", "ソースが定義されていません"},
		{"空の一覧", "sources: []\n", "ソースが定義されていません"},
		{"名前なし", "sources:\n  - url: https://a.example.com/feed\n    type: rss\n", "name"},
		{"不正なURL", "sources:\n  - name: A\n    url: ftp://a.example.com/feed\n    type: rss\n", "url"},
		{"内部ホストのURL", "sources:\n  - name: A\n    url: http://intranet.local/feed\n    type: rss\n", "url"},
		{"非標準ポートのURL", "sources:\n  - name: A\n    url: https://a.example.com:9000/feed\n    type: rss\n", "url"},
		{"未知の種別", "sources:\n  - name: A\n    url: https://a.example.com/feed\n    type: atom\n", "type"},
		{"短すぎる間隔", "sources:\n  - name: A\n    url: https://a.example.com/feed\n    type: rss\n    fetch_interval: 10s\n", "fetch_interval"},
		{"未知のキー", "sources:\n  - name: A\n    url: https://a.example.com/feed\n    type: rss\n    priority: 1\n", "priority"},
		{
			"URLの重複",
			"sources:\n  - name: A\n    url: https://a.example.com/feed\n    type: rss\n  - name: B\n    url: https://a.example.com/feed\n    type: api\n",
			"重複",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadSources(strings.NewReader(tt.doc))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}
