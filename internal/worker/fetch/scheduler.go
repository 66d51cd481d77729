package fetch

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/hitoshi/newsdesk/internal/metrics"
	"github.com/hitoshi/newsdesk/internal/model"
	"github.com/hitoshi/newsdesk/internal/queue"
)

// DefaultBatchSize は1サイクルでフェッチジョブを投入するソース数の既定値。
const DefaultBatchSize = 5

// ActiveSourceLister は有効なソース一覧の取得インターフェース。
type ActiveSourceLister interface {
	ListActive(ctx context.Context) ([]*model.Source, error)
}

// Scheduler は一定間隔で有効なソースを無作為に選び、フェッチジョブを投入する。
// キュー内の滞留状況は考慮しない。
type Scheduler struct {
	sources    ActiveSourceLister
	fetchQueue Enqueuer
	logger     *slog.Logger
	metrics    metrics.MetricsCollector
	batchSize  int
	shuffle    func(n int, swap func(i, j int))
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// batchSizeが0以下の場合はデフォルト値5を使用する。
func NewScheduler(
	sources ActiveSourceLister,
	fetchQueue Enqueuer,
	logger *slog.Logger,
	m metrics.MetricsCollector,
	batchSize int,
) *Scheduler {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Scheduler{
		sources:    sources,
		fetchQueue: fetchQueue,
		logger:     logger,
		metrics:    m,
		batchSize:  batchSize,
		shuffle:    rand.Shuffle,
	}
}

// Start は指定間隔のティッカーでスケジューラを起動する。
// 起動直後に1回実行し、コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("フェッチスケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("batch_size", s.batchSize),
	)

	s.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("フェッチスケジューラを停止しました")
			return
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

func (s *Scheduler) runCycle(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.Error("スケジューリングサイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// RunOnce は有効なソースから最大batchSize件を無作為に選び、1ソース1件のフェッチジョブを投入する。
// 個別の投入失敗はログに記録して次のソースへ進む。投入できた件数を返す。
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	sources, err := s.sources.ListActive(ctx)
	if err != nil {
		return 0, err
	}
	if len(sources) == 0 {
		s.logger.Info("有効なソースはありません")
		return 0, nil
	}

	selected := s.pick(sources)
	enqueued := 0
	for _, src := range selected {
		job, err := s.fetchQueue.Add(ctx, queue.JobFetchSource, model.FetchPayload{SourceID: src.ID})
		if err != nil {
			s.logger.Error("フェッチジョブの投入に失敗しました",
				slog.String("source_id", src.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		enqueued++
		s.logger.Debug("フェッチジョブを投入しました",
			slog.String("source_id", src.ID),
			slog.String("job_id", job.ID),
		)
	}

	if s.metrics != nil {
		s.metrics.RecordScheduled(enqueued)
	}
	s.logger.Info("スケジューリングサイクルが完了しました",
		slog.Int("active_sources", len(sources)),
		slog.Int("enqueued", enqueued),
	)
	return enqueued, nil
}

// pick は元のスライスを変更せずに最大batchSize件を無作為に選ぶ。
func (s *Scheduler) pick(sources []*model.Source) []*model.Source {
	shuffled := make([]*model.Source, len(sources))
	copy(shuffled, sources)
	s.shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	if len(shuffled) > s.batchSize {
		shuffled = shuffled[:s.batchSize]
	}
	return shuffled
}
