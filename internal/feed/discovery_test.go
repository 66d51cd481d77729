package feed

import "testing"

func TestIsDirectFeed(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		want        bool
	}{
		{"application/rss+xml", "application/rss+xml", "", true},
		{"charset付きatom", "application/atom+xml; charset=utf-8", "", true},
		{"text/xml + RSSボディ", "text/xml", `<?xml version="1.0"?><rss version="2.0"></rss>`, true},
		{"application/xml + Atomボディ", "application/xml", `<feed xmlns="http://www.w3.org/2005/Atom"></feed>`, true},
		{"text/xml + HTMLボディ", "text/xml", `<?xml version="1.0"?><html></html>`, false},
		{"text/html", "text/html", `<rss></rss>`, false},
		{"Content-Typeなし + RDFボディ", "", `<rdf:RDF></rdf:RDF>`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsDirectFeed(tt.contentType, []byte(tt.body)); got != tt.want {
				t.Errorf("IsDirectFeed() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseFeedLinksFromHTML(t *testing.T) {
	html := []byte(`<html><head>
		<link rel="stylesheet" href="/style.css">
		<link rel="alternate" type="application/rss+xml" title="RSS" href="/rss.xml">
		<link rel="alternate" type="application/atom+xml" title="Atom" href="https://other.example.com/atom.xml">
		<link rel="alternate" type="text/html" href="/en">
	</head></html>`)

	links := ParseFeedLinksFromHTML(html, "https://news.example.com/section/")
	if len(links) != 2 {
		t.Fatalf("リンク数 = %d, want 2: %+v", len(links), links)
	}
	if links[0].URL != "https://news.example.com/rss.xml" || links[0].FeedType != FeedTypeRSS {
		t.Errorf("links[0] = %+v", links[0])
	}
	if links[1].FeedType != FeedTypeAtom || links[1].Title != "Atom" {
		t.Errorf("links[1] = %+v", links[1])
	}
}

func TestSelectBestFeed(t *testing.T) {
	if SelectBestFeed(nil, "https://example.com") != nil {
		t.Error("空のリストではnilを返すべき")
	}

	links := []FeedLink{
		{URL: "https://other.example.com/atom.xml", FeedType: FeedTypeAtom},
		{URL: "https://news.example.com/rss.xml", FeedType: FeedTypeRSS},
		{URL: "https://news.example.com/atom.xml", FeedType: FeedTypeAtom},
	}
	got := SelectBestFeed(links, "https://news.example.com/")
	if got.URL != "https://news.example.com/atom.xml" {
		t.Errorf("同一ホストのAtomが選ばれるべき: %s", got.URL)
	}

	got = SelectBestFeed(links[:2], "https://news.example.com/")
	if got.URL != "https://news.example.com/rss.xml" {
		t.Errorf("同一ホストが別ホストのAtomより優先されるべき: %s", got.URL)
	}
}
