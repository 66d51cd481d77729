// Package publish はパイプラインの公開ステージを提供する。
// 処理ステージは記事をpublishedとして保存するため、このステージは管理APIから
// 明示的に投入されたジョブでのみ実行される。
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/newsdesk/internal/model"
	"github.com/hitoshi/newsdesk/internal/queue"
)

// ArticlePublisher は記事の公開状態を更新するインターフェース。
type ArticlePublisher interface {
	MarkPublished(ctx context.Context, id string, publishedAt time.Time) (bool, error)
}

// Stage は公開ステージ。
type Stage struct {
	articles ArticlePublisher
	logger   *slog.Logger
	now      func() time.Time
}

// NewStage はStageの新しいインスタンスを生成する。
func NewStage(articles ArticlePublisher, logger *slog.Logger) *Stage {
	return &Stage{articles: articles, logger: logger, now: time.Now}
}

// Handle は公開ジョブを処理する。queue.Handlerとして登録する。
func (s *Stage) Handle(ctx context.Context, job *model.Job) error {
	var payload model.PublishPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return queue.Permanent(fmt.Errorf("公開ジョブのペイロードが不正です: %w", err))
	}
	return s.Run(ctx, payload.ArticleID)
}

// Run は記事をpublishedにする。公開済みの記事に対しても成功として扱う。
// 記事が存在しない場合はリトライ不要の失敗とする。
func (s *Stage) Run(ctx context.Context, articleID string) error {
	if articleID == "" {
		return queue.Permanent(fmt.Errorf("%w: 記事IDが空です", model.ErrArticleNotFound))
	}

	found, err := s.articles.MarkPublished(ctx, articleID, s.now())
	if err != nil {
		return fmt.Errorf("記事の公開に失敗: %w", err)
	}
	if !found {
		s.logger.Warn("公開対象の記事が存在しません", slog.String("article_id", articleID))
		return queue.Permanent(fmt.Errorf("%w: %s", model.ErrArticleNotFound, articleID))
	}

	s.logger.Info("記事を公開状態にしました", slog.String("article_id", articleID))
	return nil
}
