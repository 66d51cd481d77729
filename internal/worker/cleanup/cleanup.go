// Package cleanup は終了済みジョブの自動削除ジョブを提供する。
// 保持期間（デフォルト24時間）を超過したcompleted/failedのジョブを
// 全キューから定期的に削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/newsdesk/internal/model"
)

// DefaultRetention はジョブの既定の保持期間。
const DefaultRetention = 24 * time.Hour

// purgedStates は削除対象のジョブ状態。
var purgedStates = []model.JobState{model.JobStateCompleted, model.JobStateFailed}

// JobCleaner はキューの終了済みジョブ削除を抽象化するインターフェース。
// *queue.Queue が実装する。
type JobCleaner interface {
	Name() string
	Clean(ctx context.Context, state model.JobState, grace time.Duration, limit int) ([]string, error)
}

// CleanupJob は保持期間を超過したジョブの自動削除ジョブ。
// 削除対象がなくてもエラーにならない冪等な処理。
type CleanupJob struct {
	queues    []JobCleaner
	logger    *slog.Logger
	Retention time.Duration // ジョブの保持期間（デフォルト: 24時間）
	BatchSize int           // 1回のCleanで削除する上限。0は無制限
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(queues []JobCleaner, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		queues:    queues,
		logger:    logger,
		Retention: DefaultRetention,
	}
}

// Start は指定間隔でRunを繰り返す。コンテキストがキャンセルされるまでブロックする。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}

// Run は全キューから保持期間を超過したcompleted/failedのジョブを削除する。
// 1つのキューで失敗しても残りのキューの削除は続け、最初のエラーを返す。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	var firstErr error
	deletedCount := 0
	for _, q := range j.queues {
		for _, state := range purgedStates {
			ids, err := q.Clean(ctx, state, j.Retention, j.BatchSize)
			if err != nil {
				j.logger.Error("ジョブクリーンアップの実行に失敗しました",
					slog.String("queue", q.Name()),
					slog.String("state", string(state)),
					slog.String("error", err.Error()),
				)
				if firstErr == nil {
					firstErr = fmt.Errorf("ジョブクリーンアップの実行に失敗（%s/%s）: %w", q.Name(), state, err)
				}
				continue
			}
			deletedCount += len(ids)
		}
	}

	duration := time.Since(start)
	j.logger.Info("ジョブクリーンアップが完了しました",
		slog.Int("deleted_count", deletedCount),
		slog.Duration("retention", j.Retention),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return firstErr
}
