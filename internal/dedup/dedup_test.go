package dedup

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/newsdesk/internal/model"
)

// memoryArticleRepo は作成済み記事を保持するテスト用のArticleRepository実装。
type memoryArticleRepo struct {
	articles   []*model.Article
	err        error
	findSimFn  func(title, excludeID string, threshold float64, limit int) ([]model.SimilarArticle, error)
	lookupLogs []string
}

func (m *memoryArticleRepo) FindByID(ctx context.Context, id string) (*model.Article, error) {
	for _, a := range m.articles {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, nil
}

func (m *memoryArticleRepo) ExistsByNormalizedURL(ctx context.Context, normalizedURL string) (bool, error) {
	m.lookupLogs = append(m.lookupLogs, "url")
	if m.err != nil {
		return false, m.err
	}
	for _, a := range m.articles {
		if a.SourceURLNormalized == normalizedURL {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryArticleRepo) ExistsByTitle(ctx context.Context, title string) (bool, error) {
	m.lookupLogs = append(m.lookupLogs, "title")
	for _, a := range m.articles {
		if strings.EqualFold(a.Title, title) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryArticleRepo) ExistsByContentHash(ctx context.Context, contentHash string) (bool, error) {
	m.lookupLogs = append(m.lookupLogs, "hash")
	for _, a := range m.articles {
		if a.ContentHash == contentHash {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryArticleRepo) FindSimilar(ctx context.Context, title, excludeID string, threshold float64, limit int) ([]model.SimilarArticle, error) {
	if m.findSimFn != nil {
		return m.findSimFn(title, excludeID, threshold, limit)
	}
	return nil, nil
}

func (m *memoryArticleRepo) Create(ctx context.Context, a *model.Article) error {
	m.articles = append(m.articles, a)
	return nil
}

func (m *memoryArticleRepo) MarkPublished(ctx context.Context, id string, publishedAt time.Time) (bool, error) {
	return false, nil
}

func newTestDeduplicator(repo *memoryArticleRepo) *Deduplicator {
	logger := slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
	return NewDeduplicator(repo, logger)
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"https://Example.com/News/Story?utm_source=rss#top", "https://example.com/news/story"},
		{"https://example.com/news/story?", "https://example.com/news/story"},
		{"https://example.com/news/story", "https://example.com/news/story"},
		{"  HTTP://EXAMPLE.COM/a  ", "http://example.com/a"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := NormalizeURL(tt.input); got != tt.want {
				t.Errorf("NormalizeURL(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestContentHash_IgnoresCaseAndSurroundingSpace(t *testing.T) {
	a := ContentHash("  <p>The Council Met.</p>\n")
	b := ContentHash("<p>the council met.</p>")
	if a != b {
		t.Error("大文字小文字と前後の空白はハッシュに影響しないべき")
	}
	if len(a) != 64 {
		t.Errorf("ハッシュ長 = %d, want 64", len(a))
	}
	if ContentHash("<p>other</p>") == a {
		t.Error("異なる本文は異なるハッシュになるべき")
	}
}

// 記事を作成したあと、同じURL（クエリ違い）・同じタイトル（大文字小文字違い）・
// 同じ本文はいずれも重複と判定され、明確に異なる記事は重複とされないことを検証する。
func TestDeduplicator_IsDuplicate_AfterInsert(t *testing.T) {
	const (
		storedURL     = "https://news.example.com/2024/05/council-approves-budget?ref=rss"
		storedTitle   = "Council Approves Budget"
		storedContent = "<p>The council approved the budget on Tuesday.</p>"
	)

	repo := &memoryArticleRepo{}
	_ = repo.Create(context.Background(), &model.Article{
		ID:                  "a1",
		Title:               storedTitle,
		SourceURL:           storedURL,
		SourceURLNormalized: NormalizeURL(storedURL),
		ContentHash:         ContentHash(storedContent),
	})
	d := newTestDeduplicator(repo)

	tests := []struct {
		name    string
		url     string
		title   string
		content string
		want    bool
	}{
		{
			name:    "クエリ文字列が異なる同一URL",
			url:     "https://news.example.com/2024/05/council-approves-budget?utm_medium=social#comments",
			title:   "Different title",
			content: "<p>different</p>",
			want:    true,
		},
		{
			name:    "大文字小文字が異なる同一タイトル",
			url:     "https://mirror.example.org/story/1",
			title:   "COUNCIL APPROVES BUDGET",
			content: "<p>different</p>",
			want:    true,
		},
		{
			name:    "同一本文（大文字小文字と空白の違いのみ）",
			url:     "https://mirror.example.org/story/2",
			title:   "Another headline",
			content: "  <P>THE COUNCIL APPROVED THE BUDGET ON TUESDAY.</P> ",
			want:    true,
		},
		{
			name:    "明確に異なる記事",
			url:     "https://news.example.com/2024/05/storm-warning",
			title:   "Storm Warning Issued",
			content: "<p>Forecasters issued a storm warning.</p>",
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.IsDuplicate(context.Background(), tt.url, tt.title, tt.content)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("IsDuplicate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDeduplicator_IsDuplicate_StopsAtFirstMatch(t *testing.T) {
	repo := &memoryArticleRepo{articles: []*model.Article{{
		SourceURLNormalized: "https://example.com/a",
	}}}
	d := newTestDeduplicator(repo)

	if _, err := d.IsDuplicate(context.Background(), "https://example.com/a?x=1", "t", "c"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repo.lookupLogs) != 1 || repo.lookupLogs[0] != "url" {
		t.Errorf("URL一致後は他のシグナルを照会しないべき: %v", repo.lookupLogs)
	}
}

func TestDeduplicator_IsDuplicate_PropagatesError(t *testing.T) {
	storeErr := errors.New("connection refused")
	d := newTestDeduplicator(&memoryArticleRepo{err: storeErr})

	_, err := d.IsDuplicate(context.Background(), "https://example.com/a", "t", "c")
	if !errors.Is(err, storeErr) {
		t.Errorf("err = %v, want wrapped %v", err, storeErr)
	}
}

func TestDeduplicator_FindSimilarArticles(t *testing.T) {
	var gotThreshold float64
	var gotExclude string
	repo := &memoryArticleRepo{
		findSimFn: func(title, excludeID string, threshold float64, limit int) ([]model.SimilarArticle, error) {
			gotThreshold = threshold
			gotExclude = excludeID
			return []model.SimilarArticle{{ID: "b", Title: "Council approves budget plan", Similarity: 0.7}}, nil
		},
	}
	d := newTestDeduplicator(repo)

	similar, err := d.FindSimilarArticles(context.Background(), "Council approves budget", "a", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(similar) != 1 || similar[0].ID != "b" {
		t.Errorf("similar = %+v", similar)
	}
	if gotThreshold != DefaultSimilarityThreshold {
		t.Errorf("threshold = %v, want %v", gotThreshold, DefaultSimilarityThreshold)
	}
	if gotExclude != "a" {
		t.Errorf("excludeID = %q, want a", gotExclude)
	}

	if similar, _ := d.FindSimilarArticles(context.Background(), "  ", "", 5); similar != nil {
		t.Error("空タイトルでは検索しないべき")
	}
}
