package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/newsdesk/internal/model"
)

// CachedCategoryRepo はスラッグ→IDの解決結果をRedisにキャッシュするカテゴリリポジトリ。
// タクソノミーは固定のため、TTLの間は永続層に問い合わせない。
// Redisの障害時は永続層に直接問い合わせる。
type CachedCategoryRepo struct {
	next   CategoryRepository
	rdb    redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedCategoryRepo はCachedCategoryRepoを生成する。
func NewCachedCategoryRepo(next CategoryRepository, rdb redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *CachedCategoryRepo {
	return &CachedCategoryRepo{next: next, rdb: rdb, ttl: ttl, logger: logger}
}

func categoryKey(slug string) string {
	return "newsdesk:category:" + slug
}

// FindIDBySlug はキャッシュを優先してカテゴリIDを返す。
// 見つからなかったスラッグはキャッシュしない。
func (r *CachedCategoryRepo) FindIDBySlug(ctx context.Context, slug string) (string, error) {
	id, err := r.rdb.Get(ctx, categoryKey(slug)).Result()
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, redis.Nil) {
		r.logger.Warn("カテゴリキャッシュの読み取りに失敗しました",
			slog.String("slug", slug),
			slog.String("error", err.Error()),
		)
	}

	id, err = r.next.FindIDBySlug(ctx, slug)
	if err != nil || id == "" {
		return id, err
	}

	if err := r.rdb.Set(ctx, categoryKey(slug), id, r.ttl).Err(); err != nil {
		r.logger.Warn("カテゴリキャッシュの書き込みに失敗しました",
			slog.String("slug", slug),
			slog.String("error", err.Error()),
		)
	}
	return id, nil
}

// List は永続層からカテゴリ一覧を返す。
func (r *CachedCategoryRepo) List(ctx context.Context) ([]model.Category, error) {
	return r.next.List(ctx)
}

// compile-time interface check
var _ CategoryRepository = (*CachedCategoryRepo)(nil)
