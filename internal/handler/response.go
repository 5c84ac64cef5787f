package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/pagegate/internal/middleware"
	"github.com/hitoshi/pagegate/internal/model"
)

// upstreamRetryAfter はIdP到達不能時にクライアントへ伝える再試行までの時間。
const upstreamRetryAfter = 5 * time.Second

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// handleServiceError はサービス層から返されたエラーを統一エラーフォーマットのレスポンスに変換する。
// 想定外のエラーは詳細をログにのみ記録し、500を返す。
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, model.ErrAuthenticationFailed):
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewAuthenticationFailedError())
	case errors.Is(err, model.ErrUnauthenticated):
		middleware.WriteUnauthenticated(w)
	case errors.Is(err, model.ErrUpstreamUnavailable):
		middleware.WriteUnavailable(w, upstreamRetryAfter, model.NewUpstreamUnavailableError())
	case errors.Is(err, model.ErrNotFound):
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewNotFoundError())
	case errors.Is(err, model.ErrInvalidAction):
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewMissingActionError())
	default:
		slog.Error("internal server error",
			slog.String("path", r.URL.Path),
			slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
	}
}

// notFound は未知のパスに対する404を返す。
func notFound(w http.ResponseWriter, r *http.Request) {
	middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewNotFoundError())
}

// methodNotAllowed は許可されていないメソッドに対する405を返す。
func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	middleware.WriteErrorResponse(w, http.StatusMethodNotAllowed, model.NewInvalidRequestError("method not allowed"))
}
