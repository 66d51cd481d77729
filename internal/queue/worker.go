package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/newsdesk/internal/metrics"
	"github.com/hitoshi/newsdesk/internal/model"
)

// Handler は1件のジョブを処理する。
// nilを返すとジョブは完了し、Permanentでマークしたエラーはリトライせずに失敗させる。
type Handler func(ctx context.Context, job *model.Job) error

// stallGrace はジョブタイムアウトに加えてリースを延長する猶予。
const stallGrace = 30 * time.Second

// WorkerConfig はワーカーの設定。
type WorkerConfig struct {
	Concurrency     int           // 同時実行数（デフォルト: 1）
	PollInterval    time.Duration // 待機ジョブがないときの確認間隔（デフォルト: 1秒）
	JobTimeout      time.Duration // 1ジョブの実行時間上限（デフォルト: 5分）
	StalledInterval time.Duration // 停滞ジョブの回収間隔（デフォルト: 30秒）
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 5 * time.Minute
	}
	if c.StalledInterval <= 0 {
		c.StalledInterval = 30 * time.Second
	}
	return c
}

// Worker はキューからジョブを取り出してHandlerで処理する。
type Worker struct {
	queue   *Queue
	handler Handler
	cfg     WorkerConfig
	logger  *slog.Logger
	metrics metrics.MetricsCollector
}

// NewWorker はWorkerの新しいインスタンスを生成する。
// metricsがnilの場合はメトリクスを記録しない。
func NewWorker(q *Queue, handler Handler, cfg WorkerConfig, logger *slog.Logger, m metrics.MetricsCollector) *Worker {
	return &Worker{
		queue:   q,
		handler: handler,
		cfg:     cfg.withDefaults(),
		logger:  logger.With(slog.String("queue", q.Name())),
		metrics: m,
	}
}

// Run はコンテキストがキャンセルされるまでジョブを処理する。
// Concurrency個のゴルーチンが並行して取り出しを行い、別のゴルーチンが停滞ジョブを回収する。
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("キューワーカーを開始しました",
		slog.Int("concurrency", w.cfg.Concurrency),
		slog.Duration("job_timeout", w.cfg.JobTimeout),
	)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Concurrency; i++ {
		g.Go(func() error {
			w.loop(ctx)
			return nil
		})
	}
	g.Go(func() error {
		w.recoverLoop(ctx)
		return nil
	})

	err := g.Wait()
	w.logger.Info("キューワーカーを停止しました")
	return err
}

func (w *Worker) loop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		processed, err := w.ProcessNext(ctx)
		if err != nil && ctx.Err() == nil {
			w.logger.Error("ジョブの取り出しに失敗しました",
				slog.String("error", err.Error()),
			)
		}
		if processed {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.cfg.PollInterval):
		}
	}
}

func (w *Worker) recoverLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.StalledInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.queue.RecoverStalled(ctx)
			if err != nil {
				if ctx.Err() == nil {
					w.logger.Error("停滞ジョブの回収に失敗しました",
						slog.String("error", err.Error()),
					)
				}
				continue
			}
			if n > 0 {
				w.logger.Warn("停滞ジョブを回収しました", slog.Int("count", n))
			}
		}
	}
}

// ProcessNext は実行可能なジョブを1件処理する。処理したジョブがなければfalseを返す。
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	job, err := w.queue.claim(ctx, w.cfg.JobTimeout+stallGrace)
	if err != nil || job == nil {
		return false, err
	}

	start := time.Now()
	stack, herr := w.execute(ctx, job)
	duration := time.Since(start)

	logAttrs := []any{
		slog.String("job_id", job.ID),
		slog.String("job_name", job.Name),
		slog.Int("attempts", job.Attempts),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	}

	// 後始末はワーカー停止後も確実に反映する
	storeCtx := context.WithoutCancel(ctx)

	if herr == nil {
		if err := w.queue.complete(storeCtx, job); err != nil {
			return true, err
		}
		w.record(metrics.OutcomeCompleted, duration)
		w.logger.Info("ジョブが完了しました", logAttrs...)
		return true, nil
	}

	retried, err := w.queue.fail(storeCtx, job, herr, stack)
	if err != nil {
		return true, err
	}
	logAttrs = append(logAttrs, slog.String("error", herr.Error()))
	if retried {
		w.record(metrics.OutcomeRetried, duration)
		w.logger.Warn("ジョブが失敗しました。リトライします",
			append(logAttrs, slog.Time("run_at", job.RunAt))...,
		)
		return true, nil
	}
	w.record(metrics.OutcomeFailed, duration)
	w.logger.Error("ジョブが失敗しました", logAttrs...)
	return true, nil
}

// execute はタイムアウト付きでハンドラーを実行する。パニックは失敗として扱い、スタックを返す。
func (w *Worker) execute(ctx context.Context, job *model.Job) (stack string, err error) {
	jobCtx, cancel := context.WithTimeout(ctx, w.cfg.JobTimeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
			stack = string(debug.Stack())
		}
	}()

	err = w.handler(jobCtx, job)
	if err != nil && errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("ジョブがタイムアウトしました（%s）: %w", w.cfg.JobTimeout, err)
	}
	return "", err
}

func (w *Worker) record(outcome string, d time.Duration) {
	if w.metrics != nil {
		w.metrics.RecordJob(w.queue.Name(), outcome, d)
	}
}
