package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/hitoshi/newsdesk/internal/model"
)

// PostgresArticleRepo はPostgreSQLを使用した記事リポジトリ。
type PostgresArticleRepo struct {
	db *sql.DB
}

// NewPostgresArticleRepo はPostgresArticleRepoを生成する。
func NewPostgresArticleRepo(db *sql.DB) *PostgresArticleRepo {
	return &PostgresArticleRepo{db: db}
}

// FindByID は指定IDの記事を取得する。見つからない場合はnilを返す。
func (r *PostgresArticleRepo) FindByID(ctx context.Context, id string) (*model.Article, error) {
	if !isUUID(id) {
		return nil, nil
	}

	a := &model.Article{}
	var sourceID, author, categoryID, featuredImage sql.NullString
	var keywords pq.StringArray
	var entities []byte
	var status string
	var publishedAt sql.NullTime

	err := r.db.QueryRowContext(ctx,
		`SELECT id, title, slug, summary, original_content, content,
		        source_id, source_url, source_url_normalized, content_hash,
		        author, category_id, featured_image, keywords, entities, status,
		        is_trending, is_featured, view_count, like_count, share_count,
		        published_at, created_at, updated_at
		 FROM articles WHERE id = $1`,
		id,
	).Scan(
		&a.ID, &a.Title, &a.Slug, &a.Summary, &a.OriginalContent, &a.Content,
		&sourceID, &a.SourceURL, &a.SourceURLNormalized, &a.ContentHash,
		&author, &categoryID, &featuredImage, &keywords, &entities, &status,
		&a.IsTrending, &a.IsFeatured, &a.ViewCount, &a.LikeCount, &a.ShareCount,
		&publishedAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("記事の取得に失敗しました: %w", err)
	}

	a.SourceID = nullStringValue(sourceID)
	a.Author = nullStringValue(author)
	a.CategoryID = nullStringValue(categoryID)
	a.FeaturedImage = nullStringValue(featuredImage)
	a.Keywords = []string(keywords)
	a.Status = model.ArticleStatus(status)
	a.PublishedAt = nullTimeValue(publishedAt)
	if len(entities) > 0 {
		if err := json.Unmarshal(entities, &a.Entities); err != nil {
			return nil, fmt.Errorf("固有表現のデコードに失敗しました: %w", err)
		}
	}

	return a, nil
}

// ExistsByNormalizedURL は正規化済みURLが一致する記事があるかを返す。
func (r *PostgresArticleRepo) ExistsByNormalizedURL(ctx context.Context, normalizedURL string) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM articles WHERE source_url_normalized = $1)`, normalizedURL)
}

// ExistsByTitle は大文字小文字を区別せずタイトルが一致する記事があるかを返す。
func (r *PostgresArticleRepo) ExistsByTitle(ctx context.Context, title string) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM articles WHERE lower(title) = lower($1))`, title)
}

// ExistsByContentHash は本文ハッシュが一致する記事があるかを返す。
func (r *PostgresArticleRepo) ExistsByContentHash(ctx context.Context, contentHash string) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM articles WHERE content_hash = $1)`, contentHash)
}

func (r *PostgresArticleRepo) exists(ctx context.Context, query, arg string) (bool, error) {
	var found bool
	if err := r.db.QueryRowContext(ctx, query, arg).Scan(&found); err != nil {
		return false, fmt.Errorf("記事の存在確認に失敗しました: %w", err)
	}
	return found, nil
}

// FindSimilar はタイトルのトライグラム類似度がthreshold以上の記事を返す。
func (r *PostgresArticleRepo) FindSimilar(ctx context.Context, title, excludeID string, threshold float64, limit int) ([]model.SimilarArticle, error) {
	builder := psql.
		Select("id", "title", "slug").
		Column(sq.Expr("similarity(title, ?) AS score", title)).
		From("articles").
		Where(sq.Expr("similarity(title, ?) >= ?", title, threshold)).
		Where(sq.Eq{"status": string(model.ArticleStatusPublished)}).
		OrderBy("score DESC").
		Limit(uint64(limit))
	if excludeID != "" && isUUID(excludeID) {
		builder = builder.Where(sq.NotEq{"id": excludeID})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("類似記事クエリの構築に失敗しました: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("類似記事の検索に失敗しました: %w", err)
	}
	defer rows.Close()

	var similar []model.SimilarArticle
	for rows.Next() {
		var s model.SimilarArticle
		if err := rows.Scan(&s.ID, &s.Title, &s.Slug, &s.Similarity); err != nil {
			return nil, fmt.Errorf("類似記事の読み取りに失敗しました: %w", err)
		}
		similar = append(similar, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("類似記事の走査に失敗しました: %w", err)
	}
	return similar, nil
}

// normalizedURLConstraint は正規化URLの一意インデックス名。
const normalizedURLConstraint = "idx_articles_source_url_normalized"

// Create は記事を作成する。
// 正規化URLの一意制約に違反した場合のみmodel.ErrDuplicateArticleを返す。
// slugなど他の制約違反は通常の失敗として返す。
func (r *PostgresArticleRepo) Create(ctx context.Context, a *model.Article) error {
	entities, err := json.Marshal(a.Entities)
	if err != nil {
		return fmt.Errorf("固有表現のエンコードに失敗しました: %w", err)
	}
	keywords := a.Keywords
	if keywords == nil {
		keywords = []string{}
	}

	query, args, err := psql.Insert("articles").
		Columns(
			"id", "title", "slug", "summary", "original_content", "content",
			"source_id", "source_url", "source_url_normalized", "content_hash",
			"author", "category_id", "featured_image", "keywords", "entities", "status",
			"is_trending", "is_featured", "view_count", "like_count", "share_count",
			"published_at", "created_at", "updated_at",
		).
		Values(
			a.ID, a.Title, a.Slug, a.Summary, a.OriginalContent, a.Content,
			nullString(a.SourceID), a.SourceURL, a.SourceURLNormalized, a.ContentHash,
			nullString(a.Author), nullString(a.CategoryID), nullString(a.FeaturedImage),
			pq.Array(keywords), entities, string(a.Status),
			a.IsTrending, a.IsFeatured, a.ViewCount, a.LikeCount, a.ShareCount,
			nullTime(a.PublishedAt), a.CreatedAt, a.UpdatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("記事作成クエリの構築に失敗しました: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		if constraint, ok := uniqueViolationConstraint(err); ok && constraint == normalizedURLConstraint {
			return fmt.Errorf("%w: %s", model.ErrDuplicateArticle, constraint)
		}
		return fmt.Errorf("記事の作成に失敗しました: %w", err)
	}
	return nil
}

// MarkPublished は記事をpublishedにする。記事が存在しない場合はfalseを返す。
func (r *PostgresArticleRepo) MarkPublished(ctx context.Context, id string, publishedAt time.Time) (bool, error) {
	if !isUUID(id) {
		return false, nil
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE articles SET
		    status = 'published',
		    published_at = COALESCE(published_at, $2),
		    updated_at = now()
		 WHERE id = $1`,
		id, publishedAt,
	)
	if err != nil {
		return false, fmt.Errorf("記事の公開に失敗しました: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("記事の公開件数の取得に失敗しました: %w", err)
	}
	return n > 0, nil
}

// compile-time interface check
var _ ArticleRepository = (*PostgresArticleRepo)(nil)
