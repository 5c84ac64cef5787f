// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"mime"
	"net/http"
	"time"

	"github.com/hitoshi/pagegate/internal/middleware"
	"github.com/hitoshi/pagegate/internal/model"
)

// maxLoginBodySize はログインリクエストボディの上限。IDトークンは数KB程度。
const maxLoginBodySize = 64 << 10

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Login(ctx context.Context, idToken string) (*model.SessionCredential, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieSecure bool // 本番環境ではtrue

	// LandingPath はフォーム送信によるログイン成功後のリダイレクト先。空の場合は"/"。
	LandingPath string
}

// AuthHandler はセッションの発行・破棄と、現在の主体の参照を扱うHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

type sessionLoginRequest struct {
	IDToken string `json:"idToken"`
}

type meResponse struct {
	Subject   string    `json:"subject"`
	Email     string    `json:"email,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// SessionLogin はIDトークンをセッションCookieに交換する。
// POST /sessionLogin
// ボディはJSON {"idToken": "..."} またはフォームのidTokenフィールド。
// JSONの場合は結果をJSONで返し、フォームの場合は成功時にLandingPathへ303でリダイレクトする。
func (h *AuthHandler) SessionLogin(w http.ResponseWriter, r *http.Request) {
	idToken, isForm, ok := readIDToken(w, r)
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("idToken is required"))
		return
	}

	credential, err := h.service.Login(r.Context(), idToken)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    credential.Value,
		Path:     "/",
		MaxAge:   int(credential.Lifetime() / time.Second),
		Expires:  credential.ExpiresAt,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	if isForm {
		http.Redirect(w, r, h.landingPath(), http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (h *AuthHandler) landingPath() string {
	if h.config.LandingPath == "" {
		return "/"
	}
	return h.config.LandingPath
}

// SessionLogout はセッションCookieを削除する。
// IdP側のセッションは失効させない。
// GET /sessionLogout はトップページへリダイレクトし、POST /sessionLogout はJSONを返す。
func (h *AuthHandler) SessionLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	if r.Method == http.MethodGet {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

// Me は検証済みの主体を返す。アドミッションゲートの後に配置する。
// GET /me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	principal, err := middleware.PrincipalFromContext(r.Context())
	if err != nil {
		middleware.WriteUnauthenticated(w)
		return
	}

	writeJSON(w, http.StatusOK, meResponse{
		Subject:   principal.Subject,
		Email:     principal.Email,
		ExpiresAt: principal.ExpiresAt.UTC(),
	})
}

// readIDToken はリクエストボディからIDトークンを取り出す。
// isFormはボディがフォームエンコードだったかを表す。
func readIDToken(w http.ResponseWriter, r *http.Request) (token string, isForm bool, ok bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxLoginBodySize)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return "", true, false
		}
		token = r.PostForm.Get("idToken")
		return token, true, token != ""
	default:
		var req sessionLoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return "", false, false
		}
		return req.IDToken, false, req.IDToken != ""
	}
}
