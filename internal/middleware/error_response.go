package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/pagegate/internal/model"
)

// ErrorResponseBody はゲートウェイが返すエラーレスポンスのJSON形式。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse はエラーレスポンスを書き込む。
// エラーは利用者ごとに異なるため、中間キャッシュには保存させない。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteUnauthenticated はセッションが無い、または検証できなかった場合の401を書き込む。
// 失敗理由は応答に含めない。
func WriteUnauthenticated(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
}

// WriteUnavailable は503をRetry-After（秒）付きで書き込む。
// retryAfterが1秒未満の場合は1秒とする。
func WriteUnavailable(w http.ResponseWriter, retryAfter time.Duration, apiErr *model.APIError) {
	w.Header().Set("Retry-After", retryAfterSeconds(retryAfter))
	WriteErrorResponse(w, http.StatusServiceUnavailable, apiErr)
}

// WriteInternalServerError は内部エラーの応答を書き込む。
// 詳細はログのみに記録し、利用者には一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     model.ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

func retryAfterSeconds(d time.Duration) string {
	secs := int(d / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
