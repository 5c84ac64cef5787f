package middleware

import (
	"context"
	"net/http"
	"sync"

	"github.com/google/uuid"
)

// RequestIDHeader はリクエストIDを受け渡すヘッダー名。
const RequestIDHeader = "X-Request-ID"

const maxRequestIDLength = 64

var requestContextKey = contextKey("request")

// requestInfo はリクエスト単位で後段のミドルウェアから書き込まれる情報。
// アクセスログは後段で確定したユーザーIDを参照する。
type requestInfo struct {
	id string

	mu     sync.Mutex
	userID string
}

// NewRequestIDMiddleware はリクエストIDを採番し、コンテキストとレスポンスヘッダーに設定するミドルウェアを返す。
// クライアントが妥当なX-Request-IDを送ってきた場合はその値を引き継ぐ。
func NewRequestIDMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if !validRequestID(id) {
				id = uuid.NewString()
			}

			w.Header().Set(RequestIDHeader, id)

			ctx := context.WithValue(r.Context(), requestContextKey, &requestInfo{id: id})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestIDFromContext はコンテキストのリクエストIDを返す。無い場合は空文字。
func RequestIDFromContext(ctx context.Context) string {
	if info, ok := ctx.Value(requestContextKey).(*requestInfo); ok {
		return info.id
	}
	return ""
}

// annotateUser は認証済みユーザーIDをリクエスト情報に記録する。
func annotateUser(ctx context.Context, userID string) {
	info, ok := ctx.Value(requestContextKey).(*requestInfo)
	if !ok {
		return
	}
	info.mu.Lock()
	info.userID = userID
	info.mu.Unlock()
}

// annotatedUser はannotateUserで記録されたユーザーIDを返す。
func annotatedUser(ctx context.Context) string {
	info, ok := ctx.Value(requestContextKey).(*requestInfo)
	if !ok {
		return ""
	}
	info.mu.Lock()
	defer info.mu.Unlock()
	return info.userID
}

// validRequestID はヘッダーインジェクションを避けるため英数字と-_.のみを許可する。
func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '.':
		default:
			return false
		}
	}
	return true
}
