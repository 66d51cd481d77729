package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/hitoshi/newsdesk/internal/model"
)

// sourceColumns はsourcesテーブルのSELECT列。scanSourceの順序と一致させる。
var sourceColumns = []string{
	"id", "name", "url", "type", "is_active", "fetch_interval_minutes",
	"success_count", "error_count", "last_error", "last_fetched_at",
	"created_at", "updated_at",
}

// PostgresSourceRepo はPostgreSQLを使用したソースリポジトリ。
type PostgresSourceRepo struct {
	db *sql.DB
}

// NewPostgresSourceRepo はPostgresSourceRepoを生成する。
func NewPostgresSourceRepo(db *sql.DB) *PostgresSourceRepo {
	return &PostgresSourceRepo{db: db}
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row rowScanner) (*model.Source, error) {
	source := &model.Source{}
	var sourceType string
	var intervalMinutes int
	var lastError sql.NullString
	var lastFetchedAt sql.NullTime

	if err := row.Scan(
		&source.ID, &source.Name, &source.URL, &sourceType, &source.IsActive, &intervalMinutes,
		&source.SuccessCount, &source.ErrorCount, &lastError, &lastFetchedAt,
		&source.CreatedAt, &source.UpdatedAt,
	); err != nil {
		return nil, err
	}

	source.Type = model.SourceType(sourceType)
	source.FetchInterval = time.Duration(intervalMinutes) * time.Minute
	source.LastError = nullStringValue(lastError)
	source.LastFetchedAt = nullTimeValue(lastFetchedAt)
	return source, nil
}

// FindByID は指定IDのソースを取得する。見つからない場合はnilを返す。
func (r *PostgresSourceRepo) FindByID(ctx context.Context, id string) (*model.Source, error) {
	if !isUUID(id) {
		return nil, nil
	}

	query, args, err := psql.Select(sourceColumns...).From("sources").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("ソース取得クエリの構築に失敗しました: %w", err)
	}

	source, err := scanSource(r.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ソースの取得に失敗しました: %w", err)
	}
	return source, nil
}

// ListActive は有効なソースの一覧を返す。
func (r *PostgresSourceRepo) ListActive(ctx context.Context) ([]*model.Source, error) {
	return r.list(ctx, psql.Select(sourceColumns...).From("sources").
		Where(sq.Eq{"is_active": true}).
		OrderBy("name ASC"))
}

// List は全ソースをヘルスカウンタ付きで返す。
func (r *PostgresSourceRepo) List(ctx context.Context) ([]*model.Source, error) {
	return r.list(ctx, psql.Select(sourceColumns...).From("sources").OrderBy("name ASC"))
}

func (r *PostgresSourceRepo) list(ctx context.Context, builder sq.SelectBuilder) ([]*model.Source, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("ソース一覧クエリの構築に失敗しました: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ソース一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var sources []*model.Source
	for rows.Next() {
		source, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("ソースの読み取りに失敗しました: %w", err)
		}
		sources = append(sources, source)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ソース一覧の走査に失敗しました: %w", err)
	}
	return sources, nil
}

// RecordSuccess はフェッチ成功を記録する。
func (r *PostgresSourceRepo) RecordSuccess(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sources SET
		    success_count = success_count + 1,
		    last_fetched_at = now(),
		    updated_at = now()
		 WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("フェッチ成功の記録に失敗しました: %w", err)
	}
	return nil
}

// RecordFailure はフェッチ失敗を記録する。
// 空のメッセージが渡された場合は既存のlast_errorを維持する。
func (r *PostgresSourceRepo) RecordFailure(ctx context.Context, id, errorMessage string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sources SET
		    error_count = error_count + 1,
		    last_error = COALESCE($2, last_error),
		    last_fetched_at = now(),
		    updated_at = now()
		 WHERE id = $1`,
		id, nullString(errorMessage),
	)
	if err != nil {
		return fmt.Errorf("フェッチ失敗の記録に失敗しました: %w", err)
	}
	return nil
}

// Upsert はURLをキーにソースを作成または更新する。
func (r *PostgresSourceRepo) Upsert(ctx context.Context, source *model.Source) error {
	minutes := int(source.FetchInterval / time.Minute)
	if minutes <= 0 {
		minutes = 30
	}

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO sources (name, url, type, is_active, fetch_interval_minutes)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (url) DO UPDATE SET
		    name = EXCLUDED.name,
		    type = EXCLUDED.type,
		    is_active = EXCLUDED.is_active,
		    fetch_interval_minutes = EXCLUDED.fetch_interval_minutes,
		    updated_at = now()
		 RETURNING id, created_at, updated_at`,
		source.Name, source.URL, string(source.Type), source.IsActive, minutes,
	).Scan(&source.ID, &source.CreatedAt, &source.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ソースの登録に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ SourceRepository = (*PostgresSourceRepo)(nil)
