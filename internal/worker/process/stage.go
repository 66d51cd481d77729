// Package process はパイプラインの処理ステージを提供する。
// 検証済みの候補記事を整形・要約・分類・書き直しして、公開済みの記事として保存する。
package process

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/newsdesk/internal/ai"
	"github.com/hitoshi/newsdesk/internal/content"
	"github.com/hitoshi/newsdesk/internal/dedup"
	"github.com/hitoshi/newsdesk/internal/enrich"
	"github.com/hitoshi/newsdesk/internal/metrics"
	"github.com/hitoshi/newsdesk/internal/model"
	"github.com/hitoshi/newsdesk/internal/queue"
)

// slugHashLength はタイトルからスラッグを作れない場合に使うハッシュの長さ。
const slugHashLength = 12

// AIフォールバックの種別
const (
	FallbackSummary  = "summary"
	FallbackClassify = "classify"
	FallbackResearch = "research"
)

// Sanitizer はHTMLの許可リストによるサニタイズのインターフェース。
type Sanitizer interface {
	Sanitize(rawHTML string) string
}

// SummaryService は要約のインターフェース。*enrich.Summarizerが実装する。
type SummaryService interface {
	Summarize(ctx context.Context, text string) (summary string, fallback bool)
}

// CategoryService はカテゴリ分類のインターフェース。*enrich.CategoryClassifierが実装する。
type CategoryService interface {
	Classify(ctx context.Context, title, text, sourceName string) (slug string, fallback bool)
}

// CategoryLookup はカテゴリスラッグからIDを引くインターフェース。
type CategoryLookup interface {
	FindIDBySlug(ctx context.Context, slug string) (string, error)
}

// ArticleCreator は記事の作成インターフェース。
type ArticleCreator interface {
	Create(ctx context.Context, article *model.Article) error
}

// Stage は処理ステージ。
type Stage struct {
	sanitizer  Sanitizer
	summarizer SummaryService
	classifier CategoryService
	researcher ai.Researcher
	categories CategoryLookup
	articles   ArticleCreator
	logger     *slog.Logger
	metrics    metrics.MetricsCollector
	now        func() time.Time
}

// NewStage はStageの新しいインスタンスを生成する。
// researcherがnilの場合は調査セクションを付けない。
func NewStage(
	sanitizer Sanitizer,
	summarizer SummaryService,
	classifier CategoryService,
	researcher ai.Researcher,
	categories CategoryLookup,
	articles ArticleCreator,
	logger *slog.Logger,
	m metrics.MetricsCollector,
) *Stage {
	return &Stage{
		sanitizer:  sanitizer,
		summarizer: summarizer,
		classifier: classifier,
		researcher: researcher,
		categories: categories,
		articles:   articles,
		logger:     logger,
		metrics:    m,
		now:        time.Now,
	}
}

// Handle は処理ジョブを処理する。queue.Handlerとして登録する。
// 保存時に重複が判明した候補は不採用として扱い、ジョブは完了させる。
func (s *Stage) Handle(ctx context.Context, job *model.Job) error {
	var candidate model.Candidate
	if err := json.Unmarshal(job.Payload, &candidate); err != nil {
		return queue.Permanent(fmt.Errorf("処理ジョブのペイロードが不正です: %w", err))
	}

	_, err := s.Run(ctx, &candidate)
	if errors.Is(err, model.ErrDuplicateArticle) {
		s.logger.Info("候補記事を不採用にしました",
			slog.String("source_id", candidate.SourceID),
			slog.String("link", candidate.Link),
			slog.String("reason", "duplicate"),
		)
		if s.metrics != nil {
			s.metrics.RecordCandidateRejected("duplicate")
		}
		return nil
	}
	return err
}

// Run は候補記事を加工し、publishedの記事として1回のINSERTで保存する。
// 途中のいずれかの手順が失敗した場合は何も保存しない。
func (s *Stage) Run(ctx context.Context, c *model.Candidate) (*model.Article, error) {
	start := time.Now()

	// フェッチステージの検証結果は信用せずに再検証する
	if err := content.CheckPublishable(c.Content, c.ImageURL); err != nil {
		return nil, queue.Permanent(fmt.Errorf("候補記事の再検証に失敗: %w", err))
	}

	cleaned := s.sanitizer.Sanitize(c.Content)
	text := content.PlainText(cleaned)
	if content.CharCount(text) < content.MinPublishChars {
		return nil, queue.Permanent(fmt.Errorf("サニタイズ後の本文が短すぎます: %w", model.ErrContentTooShort))
	}

	summary, fallback := s.summarizer.Summarize(ctx, text)
	if fallback {
		s.recordFallback(FallbackSummary)
	}
	if summary == "" {
		return nil, errors.New("要約を生成できませんでした")
	}

	keywords := enrich.ExtractKeywords(text, enrich.MaxKeywords)
	entities := enrich.ExtractEntities(text)

	slug, fallback := s.classifier.Classify(ctx, c.Title, text, c.SourceName)
	if fallback {
		s.recordFallback(FallbackClassify)
	}
	categoryID, slug, err := s.categoryID(ctx, slug)
	if err != nil {
		return nil, err
	}

	research := s.research(ctx, c.Title)

	rewritten := enrich.Rewrite(enrich.RewriteInput{
		Title:     c.Title,
		Text:      text,
		Images:    bodyImages(cleaned, c.Link, c.ImageURL),
		SourceURL: c.Link,
		Research:  research,
	})

	now := s.now()
	stats := content.GetContentStats(c.Content)
	article := &model.Article{
		ID:                  uuid.NewString(),
		Title:               c.Title,
		Slug:                articleSlug(c.Title, c.Content),
		Summary:             summary,
		OriginalContent:     c.Content,
		Content:             rewritten,
		SourceID:            c.SourceID,
		SourceURL:           c.Link,
		SourceURLNormalized: dedup.NormalizeURL(c.Link),
		ContentHash:         contentHash(c),
		Author:              c.Author,
		CategoryID:          categoryID,
		FeaturedImage:       c.ImageURL,
		Keywords:            keywords,
		Entities:            entities,
		Status:              model.ArticleStatusPublished,
		IsTrending: enrich.IsTrending(enrich.TrendingInput{
			Title:       c.Title,
			Text:        text,
			Keywords:    keywords,
			PublishedAt: c.PublishedAt,
		}, now),
		IsFeatured: enrich.IsFeatured(enrich.FeaturedInput{
			HasImage:   c.ImageURL != "",
			WordCount:  content.WordCount(text),
			Paragraphs: stats.Paragraphs,
			Title:      c.Title,
		}),
		PublishedAt: &now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.articles.Create(ctx, article); err != nil {
		return nil, fmt.Errorf("記事の保存に失敗: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordArticleCreated(slug)
	}
	s.logger.Info("記事を公開しました",
		slog.String("article_id", article.ID),
		slog.String("slug", article.Slug),
		slog.String("category", slug),
		slog.Bool("is_trending", article.IsTrending),
		slog.Bool("is_featured", article.IsFeatured),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return article, nil
}

// categoryID は分類結果のカテゴリIDと確定したスラッグを返す。
// タクソノミーにないスラッグは既定カテゴリに置き換える。
func (s *Stage) categoryID(ctx context.Context, slug string) (id, resolved string, err error) {
	id, err = s.categories.FindIDBySlug(ctx, slug)
	if err != nil {
		return "", "", fmt.Errorf("カテゴリの取得に失敗: %w", err)
	}
	if id != "" {
		return id, slug, nil
	}
	if slug == model.DefaultCategory {
		return "", "", fmt.Errorf("既定カテゴリ %q が登録されていません", model.DefaultCategory)
	}

	s.logger.Warn("未登録のカテゴリのため既定カテゴリを使用します", slog.String("category", slug))
	return s.categoryID(ctx, model.DefaultCategory)
}

// research は外部調査を行う。失敗しても記事の処理は続ける。
func (s *Stage) research(ctx context.Context, query string) *ai.Research {
	if s.researcher == nil {
		return nil
	}
	r, err := s.researcher.Research(ctx, query)
	if err != nil {
		if !errors.Is(err, ai.ErrUnavailable) {
			s.logger.Warn("外部調査に失敗しました",
				slog.String("query", query),
				slog.String("error", err.Error()),
			)
			s.recordFallback(FallbackResearch)
		}
		return nil
	}
	return r
}

func (s *Stage) recordFallback(kind string) {
	if s.metrics != nil {
		s.metrics.RecordAIFallback(kind)
	}
}

// bodyImages は本文中の画像からアイキャッチ画像を除いたものを返す。
func bodyImages(cleaned, baseURL, featured string) []string {
	var images []string
	for _, img := range content.ExtractImages(cleaned, baseURL) {
		if img != featured {
			images = append(images, img)
		}
	}
	return images
}

// articleSlug はタイトルからスラッグを作る。タイトルから作れない場合は本文ハッシュを使う。
func articleSlug(title, original string) string {
	if slug := enrich.Slugify(title); slug != "" {
		return slug
	}
	return "article-" + dedup.ContentHash(original)[:slugHashLength]
}

// contentHash はフェッチ時の重複判定と同じ本文のハッシュを返す。
// スクレイピング前のハッシュがない候補は保存する本文から計算する。
func contentHash(c *model.Candidate) string {
	if c.SourceHash != "" {
		return c.SourceHash
	}
	return dedup.ContentHash(c.Content)
}
