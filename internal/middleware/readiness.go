package middleware

import (
	"net/http"
	"time"

	"github.com/hitoshi/pagegate/internal/model"
)

// DefaultRetryAfter は初期化未完了時にクライアントへ伝える再試行までの時間。
const DefaultRetryAfter = 5 * time.Second

// ReadinessChecker はプロセス全体の初期化が完了したかを返す。
// lifecycle.Initializerが実装する。
type ReadinessChecker interface {
	Ready() bool
}

// NewReadinessGate は初期化が完了するまで503を返すミドルウェアを返す。
// アドミッションゲートより前に配置し、初期化前にIdPへ問い合わせないようにする。
func NewReadinessGate(checker ReadinessChecker, retryAfter time.Duration) func(next http.Handler) http.Handler {
	if retryAfter < time.Second {
		retryAfter = DefaultRetryAfter
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !checker.Ready() {
				WriteUnavailable(w, retryAfter, model.NewServiceUnavailableError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
