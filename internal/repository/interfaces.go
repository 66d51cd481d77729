// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/newsdesk/internal/model"
)

// SourceRepository はソース登録簿の永続化インターフェース。
// ヘルスカウンタは単一行のアトミックな更新で変更する。
type SourceRepository interface {
	// FindByID は指定IDのソースを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Source, error)

	// ListActive は有効なソースの一覧を返す。
	ListActive(ctx context.Context) ([]*model.Source, error)

	// List は全ソースをヘルスカウンタ付きで返す。
	List(ctx context.Context) ([]*model.Source, error)

	// RecordSuccess はフェッチ成功を記録する。success_countを加算しlast_fetched_atを更新する。
	RecordSuccess(ctx context.Context, id string) error

	// RecordFailure はフェッチ失敗を記録する。error_countを加算しlast_errorを更新する。
	RecordFailure(ctx context.Context, id, errorMessage string) error

	// Upsert はURLをキーにソースを作成または更新し、IDを設定する。
	// ヘルスカウンタは変更しない。
	Upsert(ctx context.Context, source *model.Source) error
}

// ArticleRepository は記事の永続化インターフェース。
// 重複判定の3つのシグナルはいずれもインデックスによる点検索。
type ArticleRepository interface {
	// FindByID は指定IDの記事を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Article, error)

	// ExistsByNormalizedURL は正規化済みURLが一致する記事があるかを返す。
	ExistsByNormalizedURL(ctx context.Context, normalizedURL string) (bool, error)

	// ExistsByTitle は大文字小文字を区別せずタイトルが一致する記事があるかを返す。
	ExistsByTitle(ctx context.Context, title string) (bool, error)

	// ExistsByContentHash は本文ハッシュが一致する記事があるかを返す。
	ExistsByContentHash(ctx context.Context, contentHash string) (bool, error)

	// FindSimilar はタイトルのトライグラム類似度がthreshold以上の記事を類似度降順で返す。
	// excludeIDに一致する記事は含めない。
	FindSimilar(ctx context.Context, title, excludeID string, threshold float64, limit int) ([]model.SimilarArticle, error)

	// Create は記事を1文の INSERT で作成する。
	// 正規化URLまたはslugの一意制約に違反した場合はmodel.ErrDuplicateArticleを返す。
	Create(ctx context.Context, article *model.Article) error

	// MarkPublished は記事をpublishedにする。記事が存在しない場合はfalseを返す。
	// published_atが設定済みの場合は維持する。
	MarkPublished(ctx context.Context, id string, publishedAt time.Time) (bool, error)
}

// CategoryRepository はカテゴリタクソノミーの参照インターフェース。
type CategoryRepository interface {
	// FindIDBySlug はスラッグに対応するカテゴリIDを返す。見つからない場合は空文字列を返す。
	FindIDBySlug(ctx context.Context, slug string) (string, error)

	// List は全カテゴリを返す。
	List(ctx context.Context) ([]model.Category, error)
}
