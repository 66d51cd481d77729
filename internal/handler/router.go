// Package handler はオペレーター向けHTTP APIのハンドラーとルーティングを提供する。
package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/newsdesk/internal/metrics"
	"github.com/hitoshi/newsdesk/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	AdminToken  string
	RateLimiter *middleware.RateLimiter

	// 公開エンドポイント
	HealthChecks []HealthCheck
	Gatherer     prometheus.Gatherer

	// 管理API
	Queues       []JobQueue
	Sources      SourceReader
	FetchQueue   JobEnqueuer
	Articles     ArticleFinder
	Similar      SimilarFinder
	PublishQueue JobEnqueuer
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → (/admin) RateLimit → AdminAuth
//
// /health と /metrics は認証の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	// --- 認証不要のルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecks...))
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	queueHandler := NewQueueHandler(deps.Queues...)
	sourceHandler := NewSourceHandler(deps.Sources, deps.FetchQueue)
	articleHandler := NewArticleHandler(deps.Articles, deps.Similar, deps.PublishQueue)

	// --- 管理API ---
	r.Route("/admin", func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware())
		}
		r.Use(middleware.NewAdminAuthMiddleware(deps.AdminToken))

		r.Route("/queues", func(r chi.Router) {
			r.Get("/", queueHandler.ListQueues)

			r.Route("/{queue}", func(r chi.Router) {
				r.Get("/jobs", queueHandler.ListJobs)
				r.Get("/jobs/{id}", queueHandler.GetJob)
				r.Post("/jobs/{id}/retry", queueHandler.RetryJob)
				r.Post("/clean", queueHandler.CleanJobs)
				r.Post("/pause", queueHandler.PauseQueue)
				r.Post("/resume", queueHandler.ResumeQueue)
			})
		})

		r.Route("/sources", func(r chi.Router) {
			r.Get("/", sourceHandler.ListSources)
			r.Post("/{id}/fetch", sourceHandler.FetchSource)
		})

		r.Route("/articles/{id}", func(r chi.Router) {
			r.Post("/publish", articleHandler.PublishArticle)
			r.Get("/similar", articleHandler.SimilarArticles)
		})
	})

	return r
}
