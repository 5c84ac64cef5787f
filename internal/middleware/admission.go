// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hitoshi/pagegate/internal/model"
)

// SessionCookieName はセッションCookieの名前。
const SessionCookieName = "session"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// principalContextKey はリクエストコンテキストに検証済みの主体を格納するためのキー。
var principalContextKey = contextKey("principal")

// CallerClass はゲートを通過できなかったときの応答形式を決める呼び出し元の種別。
// ルートごとに明示的に指定し、リクエストの中身からは推測しない。
type CallerClass int

const (
	// CallerPage はブラウザのページ遷移。未認証時は公開トップへリダイレクトする。
	CallerPage CallerClass = iota
	// CallerAPI はプログラムからの呼び出し。未認証時は401のJSONを返す。
	CallerAPI
)

// String はログ出力用の名前を返す。
func (c CallerClass) String() string {
	switch c {
	case CallerPage:
		return "page"
	case CallerAPI:
		return "api"
	default:
		return "unknown"
	}
}

// SessionVerifier はセッションCookieの検証に必要なインターフェース。
// auth.Serviceの部分集合として定義する。
type SessionVerifier interface {
	Verify(ctx context.Context, credential string) (*model.Principal, error)
}

// NewAdmissionGate はセッションCookieを検証し、成功した場合のみ後続ハンドラーを呼ぶミドルウェアを返す。
// 検証済みの主体をリクエストコンテキストに注入する。
// 失敗時はclassに応じてリダイレクトまたは401を返し、後続ハンドラーは呼ばない。
func NewAdmissionGate(verifier SessionVerifier, class CallerClass) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var credential string
			if cookie, err := r.Cookie(SessionCookieName); err == nil {
				credential = cookie.Value
			}

			principal, err := verifier.Verify(r.Context(), credential)
			if err != nil || principal == nil {
				deny(w, r, class)
				return
			}

			annotateUser(r.Context(), principal.Subject)

			// 保護されたレスポンスを共有キャッシュに残さない
			w.Header().Set("Cache-Control", "private, no-store")

			next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), principal)))
		})
	}
}

// deny は未認証の呼び出し元に応答する。
func deny(w http.ResponseWriter, r *http.Request, class CallerClass) {
	if class == CallerPage {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	WriteUnauthenticated(w)
}

// PrincipalFromContext はリクエストコンテキストから検証済みの主体を取得する。
// アドミッションゲートを通過したリクエストでのみ有効。
func PrincipalFromContext(ctx context.Context) (*model.Principal, error) {
	principal, ok := ctx.Value(principalContextKey).(*model.Principal)
	if !ok || principal == nil {
		return nil, fmt.Errorf("principal not found in context")
	}
	return principal, nil
}

// UserIDFromContext はリクエストコンテキストからユーザーID（subject）を取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	principal, err := PrincipalFromContext(ctx)
	if err != nil || principal.Subject == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return principal.Subject, nil
}

// ContextWithPrincipal はコンテキストに検証済みの主体を注入する。
func ContextWithPrincipal(ctx context.Context, principal *model.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, principal)
}

// ContextWithUserID はsubjectのみを持つ主体をコンテキストに注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return ContextWithPrincipal(ctx, &model.Principal{Subject: userID})
}
