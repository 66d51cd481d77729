package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/newsdesk/internal/middleware"
	"github.com/hitoshi/newsdesk/internal/model"
	"github.com/hitoshi/newsdesk/internal/queue"
)

const (
	// defaultSimilarLimit は関連記事の取得件数（デフォルト）。
	defaultSimilarLimit = 5
	// maxSimilarLimit は関連記事の取得件数の上限。
	maxSimilarLimit = 20
)

// ArticleFinder は記事参照のインターフェース。
type ArticleFinder interface {
	FindByID(ctx context.Context, id string) (*model.Article, error)
}

// SimilarFinder は関連記事検索のインターフェース。
type SimilarFinder interface {
	FindSimilarArticles(ctx context.Context, title, excludeID string, limit int) ([]model.SimilarArticle, error)
}

// ArticleHandler は記事の公開と関連記事のHTTPハンドラー。
type ArticleHandler struct {
	articles     ArticleFinder
	similar      SimilarFinder
	publishQueue JobEnqueuer
}

// NewArticleHandler はArticleHandlerを生成する。
func NewArticleHandler(articles ArticleFinder, similar SimilarFinder, publishQueue JobEnqueuer) *ArticleHandler {
	return &ArticleHandler{
		articles:     articles,
		similar:      similar,
		publishQueue: publishQueue,
	}
}

// similarArticleResponse は関連記事1件。
type similarArticleResponse struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Slug       string  `json:"slug"`
	Similarity float64 `json:"similarity"`
}

// PublishArticle は記事の公開ジョブを投入する。
// POST /admin/articles/{id}/publish
func (h *ArticleHandler) PublishArticle(w http.ResponseWriter, r *http.Request) {
	article, ok := h.find(w, r)
	if !ok {
		return
	}

	job, err := h.publishQueue.Add(r.Context(), queue.JobPublishArticle, model.PublishPayload{ArticleID: article.ID})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusAccepted, enqueuedResponse{Queue: queue.QueuePublish, JobID: job.ID})
}

// SimilarArticles はタイトルが似た記事を返す。
// GET /admin/articles/{id}/similar?limit=
func (h *ArticleHandler) SimilarArticles(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", defaultSimilarLimit, maxSimilarLimit)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	article, ok := h.find(w, r)
	if !ok {
		return
	}

	similar, err := h.similar.FindSimilarArticles(r.Context(), article.Title, article.ID, limit)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := make([]similarArticleResponse, 0, len(similar))
	for _, s := range similar {
		resp = append(resp, similarArticleResponse{
			ID:         s.ID,
			Title:      s.Title,
			Slug:       s.Slug,
			Similarity: s.Similarity,
		})
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}

func (h *ArticleHandler) find(w http.ResponseWriter, r *http.Request) (*model.Article, bool) {
	id := chi.URLParam(r, "id")
	article, err := h.articles.FindByID(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return nil, false
	}
	if article == nil {
		handleServiceError(w, r, model.NewArticleNotFoundError(id))
		return nil, false
	}
	return article, true
}
