package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/newsdesk/internal/middleware"
	"github.com/hitoshi/newsdesk/internal/model"
	"github.com/hitoshi/newsdesk/internal/queue"
)

// SourceReader はソースハンドラーが必要とするソース参照のインターフェース。
type SourceReader interface {
	FindByID(ctx context.Context, id string) (*model.Source, error)
	List(ctx context.Context) ([]*model.Source, error)
}

// JobEnqueuer はジョブ投入のインターフェース。
type JobEnqueuer interface {
	Add(ctx context.Context, name string, payload any, opts ...queue.Option) (*model.Job, error)
}

// SourceHandler はソース登録簿の参照と手動フェッチのHTTPハンドラー。
type SourceHandler struct {
	sources    SourceReader
	fetchQueue JobEnqueuer
}

// NewSourceHandler はSourceHandlerを生成する。
func NewSourceHandler(sources SourceReader, fetchQueue JobEnqueuer) *SourceHandler {
	return &SourceHandler{
		sources:    sources,
		fetchQueue: fetchQueue,
	}
}

// sourceResponse はヘルスカウンタ付きのソース情報。
type sourceResponse struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	URL           string     `json:"url"`
	Type          string     `json:"type"`
	IsActive      bool       `json:"is_active"`
	FetchInterval string     `json:"fetch_interval"`
	SuccessCount  int        `json:"success_count"`
	ErrorCount    int        `json:"error_count"`
	LastError     string     `json:"last_error,omitempty"`
	LastFetchedAt *time.Time `json:"last_fetched_at,omitempty"`
}

// enqueuedResponse はジョブ投入の結果。
type enqueuedResponse struct {
	Queue string `json:"queue"`
	JobID string `json:"job_id"`
}

func toSourceResponse(s *model.Source) sourceResponse {
	return sourceResponse{
		ID:            s.ID,
		Name:          s.Name,
		URL:           s.URL,
		Type:          string(s.Type),
		IsActive:      s.IsActive,
		FetchInterval: s.FetchInterval.String(),
		SuccessCount:  s.SuccessCount,
		ErrorCount:    s.ErrorCount,
		LastError:     s.LastError,
		LastFetchedAt: s.LastFetchedAt,
	}
}

// ListSources は全ソースをヘルスカウンタ付きで返す。
// GET /admin/sources
func (h *SourceHandler) ListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := h.sources.List(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := make([]sourceResponse, 0, len(sources))
	for _, s := range sources {
		resp = append(resp, toSourceResponse(s))
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}

// FetchSource はソースのフェッチジョブを即時投入する。
// POST /admin/sources/{id}/fetch
func (h *SourceHandler) FetchSource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	source, err := h.sources.FindByID(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if source == nil {
		handleServiceError(w, r, model.NewSourceNotFoundError(id))
		return
	}

	job, err := h.fetchQueue.Add(r.Context(), queue.JobFetchSource, model.FetchPayload{SourceID: source.ID})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusAccepted, enqueuedResponse{Queue: queue.QueueFetch, JobID: job.ID})
}
