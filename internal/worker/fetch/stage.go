// Package fetch はパイプラインのフェッチステージとスケジューラを提供する。
// フェッチステージは1ソースから候補記事を取得し、品質ゲートを通過した最初の1件を処理キューへ投入する。
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/newsdesk/internal/content"
	"github.com/hitoshi/newsdesk/internal/dedup"
	"github.com/hitoshi/newsdesk/internal/feed"
	"github.com/hitoshi/newsdesk/internal/httpfetch"
	"github.com/hitoshi/newsdesk/internal/metrics"
	"github.com/hitoshi/newsdesk/internal/model"
	"github.com/hitoshi/newsdesk/internal/queue"
	"github.com/hitoshi/newsdesk/internal/repository"
	"github.com/hitoshi/newsdesk/internal/scrape"
	"github.com/hitoshi/newsdesk/internal/security"
)

// 候補記事を不採用にした理由。
const (
	RejectNoLink    = "no_link"
	RejectDuplicate = "duplicate"
	RejectNoImage   = "no_image"
	RejectTooShort  = "too_short"
)

// FeedParser はフィードの取得とパースのインターフェース。
type FeedParser interface {
	ParseFeed(ctx context.Context, feedURL string) ([]feed.RawCandidate, error)
}

// PageScraper はページのスクレイピングのインターフェース。
type PageScraper interface {
	ScrapePage(ctx context.Context, pageURL string) (*scrape.Page, error)
	ExtractMetaImage(ctx context.Context, pageURL string) (string, error)
}

// DuplicateChecker は取り込み済み記事との重複判定のインターフェース。
type DuplicateChecker interface {
	IsDuplicate(ctx context.Context, sourceURL, title, content string) (bool, error)
}

// Enqueuer はジョブ投入のインターフェース。*queue.Queueが実装する。
type Enqueuer interface {
	Add(ctx context.Context, name string, payload any, opts ...queue.Option) (*model.Job, error)
}

// Outcome は1回のフェッチの結果。
type Outcome struct {
	SourceID   string
	Candidates int            // 取得した候補数
	Rejected   map[string]int // 理由別の不採用数
	Queued     *model.Candidate
	JobID      string
}

// Stage はフェッチステージ。
type Stage struct {
	sources      repository.SourceRepository
	parser       FeedParser
	scraper      PageScraper
	dedup        DuplicateChecker
	gate         *content.Gate
	processQueue Enqueuer
	logger       *slog.Logger
	metrics      metrics.MetricsCollector
}

// NewStage はStageの新しいインスタンスを生成する。
func NewStage(
	sources repository.SourceRepository,
	parser FeedParser,
	scraper PageScraper,
	dedup DuplicateChecker,
	gate *content.Gate,
	processQueue Enqueuer,
	logger *slog.Logger,
	m metrics.MetricsCollector,
) *Stage {
	return &Stage{
		sources:      sources,
		parser:       parser,
		scraper:      scraper,
		dedup:        dedup,
		gate:         gate,
		processQueue: processQueue,
		logger:       logger,
		metrics:      m,
	}
}

// Handle はフェッチジョブを処理する。queue.Handlerとして登録する。
func (s *Stage) Handle(ctx context.Context, job *model.Job) error {
	var payload model.FetchPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return queue.Permanent(fmt.Errorf("フェッチジョブのペイロードが不正です: %w", err))
	}
	_, err := s.Run(ctx, payload.SourceID)
	return err
}

// Run は1ソースをフェッチし、最初に全ゲートを通過した候補を処理キューへ投入する。
// 候補が1件も通過しなくても成功として扱う。
func (s *Stage) Run(ctx context.Context, sourceID string) (*Outcome, error) {
	start := time.Now()

	source, err := s.sources.FindByID(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("ソースの取得に失敗: %w", err)
	}
	if source == nil {
		s.logger.Error("フェッチ対象のソースが存在しません", slog.String("source_id", sourceID))
		return nil, queue.Permanent(fmt.Errorf("%w: %s", model.ErrSourceNotFound, sourceID))
	}
	if !source.IsActive {
		s.logger.Warn("無効化されたソースのフェッチジョブです", slog.String("source_id", sourceID))
		s.recordFailure(ctx, source, model.ErrSourceInactive.Error())
		return nil, queue.Permanent(fmt.Errorf("%w: %s", model.ErrSourceInactive, sourceID))
	}

	candidates, err := s.retrieve(ctx, source)
	if err != nil {
		s.recordFailure(ctx, source, err.Error())
		s.logger.Error("ソースのフェッチに失敗しました",
			slog.String("source_id", source.ID),
			slog.String("source_url", source.URL),
			slog.String("error", err.Error()),
		)
		if isPermanentFetchError(err) {
			return nil, queue.Permanent(err)
		}
		return nil, err
	}
	s.recordSuccess(ctx, source)

	outcome := &Outcome{
		SourceID:   source.ID,
		Candidates: len(candidates),
		Rejected:   make(map[string]int),
	}

	for _, raw := range candidates {
		candidate, reason, err := s.evaluate(ctx, source, raw)
		if err != nil {
			return outcome, err
		}
		if reason != "" {
			outcome.Rejected[reason]++
			s.reject(source, raw, reason)
			continue
		}

		job, err := s.processQueue.Add(ctx, queue.JobProcessCandidate, candidate)
		if err != nil {
			return outcome, fmt.Errorf("処理ジョブの投入に失敗: %w", err)
		}
		outcome.Queued = candidate
		outcome.JobID = job.ID
		break
	}

	s.logger.Info("ソースのフェッチが完了しました",
		slog.String("source_id", source.ID),
		slog.Int("candidates", outcome.Candidates),
		slog.Bool("queued", outcome.Queued != nil),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return outcome, nil
}

// retrieve はソース種別に応じて候補を取得する。
// scraperソースは1ページをスクレイピングして1件の候補とする。
func (s *Stage) retrieve(ctx context.Context, source *model.Source) ([]feed.RawCandidate, error) {
	if source.Type.IsFeed() {
		return s.parser.ParseFeed(ctx, source.URL)
	}

	page, err := s.scraper.ScrapePage(ctx, source.URL)
	if err != nil {
		return nil, err
	}
	if page == nil {
		return nil, nil
	}
	link := page.URL
	if link == "" {
		link = source.URL
	}
	return []feed.RawCandidate{{
		Title:       page.Title,
		Link:        link,
		Contents:    []feed.NamedContent{{Rule: "scraped", Value: page.Content}},
		ImageHint:   page.ImageURL,
		Author:      page.Byline,
		PublishedAt: page.PublishedTime,
	}}, nil
}

// evaluate は候補を各ゲートに通す。不採用の場合は理由を返す。
func (s *Stage) evaluate(ctx context.Context, source *model.Source, raw feed.RawCandidate) (*model.Candidate, string, error) {
	if raw.Link == "" {
		return nil, RejectNoLink, nil
	}

	body := raw.Content()
	dup, err := s.dedup.IsDuplicate(ctx, raw.Link, raw.Title, body)
	if err != nil {
		return nil, "", err
	}
	if dup {
		return nil, RejectDuplicate, nil
	}
	var sourceHash string
	if strings.TrimSpace(body) != "" {
		sourceHash = dedup.ContentHash(body)
	}

	image := raw.ImageHint

	var page *scrape.Page
	if source.Type != model.SourceTypeScraper && s.gate.NeedsScraping(body, source.Type, raw.Title) {
		page = s.scrapeFullText(ctx, raw.Link)
		if page != nil && replacesContent(body, page.Content) {
			s.logger.Debug("スクレイピングした本文に置き換えました",
				slog.String("link", raw.Link),
			)
			body = page.Content
		}
	}

	if image == "" {
		image = content.ExtractImage(body, raw.Link)
	}
	if image == "" && page != nil {
		image = page.ImageURL
	}
	if image == "" && page == nil {
		image = s.metaImage(ctx, raw.Link)
	}

	if err := content.CheckPublishable(body, image); err != nil {
		switch {
		case errors.Is(err, model.ErrImageMissing):
			return nil, RejectNoImage, nil
		default:
			return nil, RejectTooShort, nil
		}
	}

	return &model.Candidate{
		SourceID:    source.ID,
		SourceName:  source.Name,
		Title:       raw.Title,
		Link:        raw.Link,
		Content:     body,
		SourceHash:  sourceHash,
		ImageURL:    image,
		Author:      raw.Author,
		PublishedAt: raw.PublishedAt,
		Categories:  raw.Categories,
	}, "", nil
}

// isPermanentFetchError は再試行しても成功しない取得エラーかを返す。
// 恒久的なHTTPステータスと、取得先として拒否されたURLが該当する。
func isPermanentFetchError(err error) bool {
	if errors.Is(err, security.ErrBlockedURL) {
		return true
	}
	var statusErr *httpfetch.StatusError
	return errors.As(err, &statusErr) && statusErr.Permanent()
}

// replacesContent はスクレイピング結果の単語数が元の1.5倍以上のときtrueを返す。
func replacesContent(original, scraped string) bool {
	orig := content.WordCount(content.PlainText(original))
	got := content.WordCount(content.PlainText(scraped))
	return got > 0 && got*2 >= orig*3
}

// scrapeFullText は二次スクレイピングを行う。失敗しても候補の評価は続ける。
func (s *Stage) scrapeFullText(ctx context.Context, link string) *scrape.Page {
	page, err := s.scraper.ScrapePage(ctx, link)
	if err != nil {
		s.logger.Warn("二次スクレイピングに失敗しました",
			slog.String("link", link),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return page
}

func (s *Stage) metaImage(ctx context.Context, link string) string {
	image, err := s.scraper.ExtractMetaImage(ctx, link)
	if err != nil {
		s.logger.Warn("メタ画像の取得に失敗しました",
			slog.String("link", link),
			slog.String("error", err.Error()),
		)
		return ""
	}
	return image
}

func (s *Stage) reject(source *model.Source, raw feed.RawCandidate, reason string) {
	s.logger.Info("候補記事を不採用にしました",
		slog.String("source_id", source.ID),
		slog.String("link", raw.Link),
		slog.String("title", raw.Title),
		slog.String("reason", reason),
	)
	if s.metrics != nil {
		s.metrics.RecordCandidateRejected(reason)
	}
}

// recordSuccess とrecordFailure はヘルスカウンタを更新する。更新の失敗はジョブを失敗させない。
func (s *Stage) recordSuccess(ctx context.Context, source *model.Source) {
	if s.metrics != nil {
		s.metrics.RecordSourceFetch(string(source.Type), true)
	}
	if err := s.sources.RecordSuccess(ctx, source.ID); err != nil {
		s.logger.Error("ソースの成功記録に失敗しました",
			slog.String("source_id", source.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Stage) recordFailure(ctx context.Context, source *model.Source, message string) {
	if s.metrics != nil {
		s.metrics.RecordSourceFetch(string(source.Type), false)
	}
	if err := s.sources.RecordFailure(ctx, source.ID, message); err != nil {
		s.logger.Error("ソースの失敗記録に失敗しました",
			slog.String("source_id", source.ID),
			slog.String("error", err.Error()),
		)
	}
}
