package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/newsdesk/internal/middleware"
	"github.com/hitoshi/newsdesk/internal/model"
	"github.com/hitoshi/newsdesk/internal/queue"
)

const (
	// defaultJobsPerPage はジョブ一覧の1回の取得件数（デフォルト）。
	defaultJobsPerPage = 50
	// maxJobsPerPage はジョブ一覧の1回の取得件数の上限。
	maxJobsPerPage = 500
	// defaultCleanLimit はcleanで1回に削除する件数の上限（デフォルト）。
	defaultCleanLimit = 1000
)

// JobQueue はキューハンドラーが必要とするキュー操作のインターフェース。
type JobQueue interface {
	Name() string
	Counts(ctx context.Context) (map[model.JobState]int64, error)
	List(ctx context.Context, state model.JobState, offset, limit int) ([]*model.Job, error)
	Get(ctx context.Context, id string) (*model.Job, error)
	Retry(ctx context.Context, id string) (*model.Job, error)
	Clean(ctx context.Context, state model.JobState, grace time.Duration, limit int) ([]string, error)
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	IsPaused(ctx context.Context) (bool, error)
}

var _ JobQueue = (*queue.Queue)(nil)

// QueueHandler はジョブキューの参照・操作のHTTPハンドラー。
type QueueHandler struct {
	queues map[string]JobQueue
	order  []string
}

// NewQueueHandler はQueueHandlerを生成する。一覧は渡された順に返す。
func NewQueueHandler(queues ...JobQueue) *QueueHandler {
	h := &QueueHandler{queues: make(map[string]JobQueue, len(queues))}
	for _, q := range queues {
		h.queues[q.Name()] = q
		h.order = append(h.order, q.Name())
	}
	return h
}

// queueSummaryResponse はキューごとの集計。
type queueSummaryResponse struct {
	Name   string                   `json:"name"`
	Paused bool                     `json:"paused"`
	Counts map[model.JobState]int64 `json:"counts"`
}

// cleanResponse はcleanの結果。
type cleanResponse struct {
	Queue   string   `json:"queue"`
	State   string   `json:"state"`
	Deleted int      `json:"deleted"`
	JobIDs  []string `json:"job_ids"`
}

// ListQueues は全キューの状態別ジョブ数と停止状態を返す。
// GET /admin/queues
func (h *QueueHandler) ListQueues(w http.ResponseWriter, r *http.Request) {
	resp := make([]queueSummaryResponse, 0, len(h.order))
	for _, name := range h.order {
		q := h.queues[name]
		counts, err := q.Counts(r.Context())
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		paused, err := q.IsPaused(r.Context())
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		resp = append(resp, queueSummaryResponse{Name: name, Paused: paused, Counts: counts})
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}

// ListJobs は指定状態のジョブ一覧を返す。stateの既定値はfailed。
// GET /admin/queues/{queue}/jobs?state=&limit=
func (h *QueueHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	q, ok := h.lookup(w, r)
	if !ok {
		return
	}

	state := model.JobStateFailed
	if raw := r.URL.Query().Get("state"); raw != "" {
		state = model.JobState(raw)
		if !isJobState(state) {
			handleServiceError(w, r, model.NewInvalidJobStateError(raw))
			return
		}
	}
	limit, err := intParam(r, "limit", defaultJobsPerPage, maxJobsPerPage)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	jobs, err := q.List(r.Context(), state, 0, limit)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []*model.Job{}
	}
	middleware.WriteJSON(w, http.StatusOK, jobs)
}

// GetJob はエラー内容・スタック・実行回数を含むジョブの詳細を返す。
// GET /admin/queues/{queue}/jobs/{id}
func (h *QueueHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	q, ok := h.lookup(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	job, err := q.Get(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if job == nil {
		handleServiceError(w, r, model.NewJobNotFoundError(id))
		return
	}
	middleware.WriteJSON(w, http.StatusOK, job)
}

// RetryJob は失敗したジョブを再投入する。
// POST /admin/queues/{queue}/jobs/{id}/retry
func (h *QueueHandler) RetryJob(w http.ResponseWriter, r *http.Request) {
	q, ok := h.lookup(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	job, err := q.Retry(r.Context(), id)
	switch {
	case errors.Is(err, queue.ErrJobNotFound):
		handleServiceError(w, r, model.NewJobNotFoundError(id))
		return
	case errors.Is(err, queue.ErrJobNotFailed):
		handleServiceError(w, r, model.NewJobNotRetryableError(id))
		return
	case err != nil:
		handleServiceError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, job)
}

// CleanJobs はgraceより古い指定状態のジョブを削除する。stateの既定値はcompleted。
// POST /admin/queues/{queue}/clean?state=&grace=&limit=
func (h *QueueHandler) CleanJobs(w http.ResponseWriter, r *http.Request) {
	q, ok := h.lookup(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	state := model.JobStateCompleted
	if raw := query.Get("state"); raw != "" {
		state = model.JobState(raw)
	}
	switch state {
	case model.JobStateCompleted, model.JobStateFailed, model.JobStateWaiting:
	default:
		handleServiceError(w, r, model.NewInvalidJobStateError(string(state)))
		return
	}

	var grace time.Duration
	if raw := query.Get("grace"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			handleServiceError(w, r, model.NewInvalidParameterError("grace", raw))
			return
		}
		grace = d
	}
	limit, err := intParam(r, "limit", defaultCleanLimit, defaultCleanLimit)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	ids, err := q.Clean(r.Context(), state, grace, limit)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	middleware.WriteJSON(w, http.StatusOK, cleanResponse{
		Queue:   q.Name(),
		State:   string(state),
		Deleted: len(ids),
		JobIDs:  ids,
	})
}

// PauseQueue はジョブの取り出しを停止する。
// POST /admin/queues/{queue}/pause
func (h *QueueHandler) PauseQueue(w http.ResponseWriter, r *http.Request) {
	h.setPaused(w, r, true)
}

// ResumeQueue はジョブの取り出しを再開する。
// POST /admin/queues/{queue}/resume
func (h *QueueHandler) ResumeQueue(w http.ResponseWriter, r *http.Request) {
	h.setPaused(w, r, false)
}

func (h *QueueHandler) setPaused(w http.ResponseWriter, r *http.Request, paused bool) {
	q, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var err error
	if paused {
		err = q.Pause(r.Context())
	} else {
		err = q.Resume(r.Context())
	}
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"name": q.Name(), "paused": paused})
}

// lookup はURLのキュー名に対応するキューを返す。存在しない場合は404を書き込む。
func (h *QueueHandler) lookup(w http.ResponseWriter, r *http.Request) (JobQueue, bool) {
	name := chi.URLParam(r, "queue")
	q, ok := h.queues[name]
	if !ok {
		handleServiceError(w, r, model.NewUnknownQueueError(name))
		return nil, false
	}
	return q, true
}

func isJobState(s model.JobState) bool {
	for _, st := range model.JobStates {
		if st == s {
			return true
		}
	}
	return false
}
