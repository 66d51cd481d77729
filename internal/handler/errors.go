package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/hitoshi/newsdesk/internal/middleware"
	"github.com/hitoshi/newsdesk/internal/model"
)

// handleServiceError は下位層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.ErrorContext(r.Context(), "internal server error",
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeUnknownQueue, model.ErrCodeJobNotFound,
		model.ErrCodeSourceNotFound, model.ErrCodeArticleNotFound:
		return http.StatusNotFound
	case model.ErrCodeInvalidJobState, model.ErrCodeInvalidParameter:
		return http.StatusBadRequest
	case model.ErrCodeJobNotRetryable:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// intParam はクエリパラメータを正の整数として読む。未指定ならdef、upperを超える場合はupperを返す。
func intParam(r *http.Request, name string, def, upper int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, model.NewInvalidParameterError(name, raw)
	}
	if n > upper {
		return upper, nil
	}
	return n, nil
}
