package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/newsdesk/internal/middleware"
)

// healthCheckTimeout は依存先1件あたりの疎通確認のタイムアウト。
const healthCheckTimeout = 3 * time.Second

// HealthCheck は依存先の疎通確認。
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// healthResponse は/healthのレスポンス。
type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// NewHealthHandler は全ての依存先が応答する場合に200、それ以外は503を返すハンドラーを生成する。
func NewHealthHandler(checks ...HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(checks))}
		status := http.StatusOK

		for _, c := range checks {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			err := c.Check(ctx)
			cancel()

			if err != nil {
				slog.WarnContext(r.Context(), "ヘルスチェックに失敗しました",
					slog.String("dependency", c.Name),
					slog.String("error", err.Error()),
				)
				resp.Checks[c.Name] = "unavailable"
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[c.Name] = "ok"
		}

		middleware.WriteJSON(w, status, resp)
	}
}
