// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/newsdesk/internal/model"
)

const bearerPrefix = "Bearer "

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// authenticatedContextKey は管理トークンで認証済みかを格納するためのキー。
var authenticatedContextKey = contextKey("admin_authenticated")

// NewAdminAuthMiddleware はAuthorizationヘッダーのBearerトークンを検証するミドルウェアを返す。
// tokenが空の場合は検証を行わない。
// 不一致または欠落時は401 Unauthorizedを統一エラーフォーマットで返す。
func NewAdminAuthMiddleware(token string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, bearerPrefix) {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			given := strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
			if subtle.ConstantTimeCompare([]byte(given), []byte(token)) != 1 {
				slog.Warn("管理トークンが一致しません",
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", clientIP(r)),
				)
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithAuthenticated(r.Context())))
		})
	}
}

// IsAuthenticated は管理トークンで認証済みのリクエストかを返す。
func IsAuthenticated(ctx context.Context) bool {
	ok, _ := ctx.Value(authenticatedContextKey).(bool)
	return ok
}

// ContextWithAuthenticated はコンテキストに認証済みの印を付ける。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithAuthenticated(ctx context.Context) context.Context {
	return context.WithValue(ctx, authenticatedContextKey, true)
}
