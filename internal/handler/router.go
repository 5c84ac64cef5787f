package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/pagegate/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Metrics           middleware.StatusRecorder
	MetricsHandler    http.Handler
	Readiness         InitStatus
	SessionVerifier   middleware.SessionVerifier

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// アクティビティ
	ActivityService ActivityServiceInterface

	// ページ
	Pages PageResolver

	// ヘルスチェック
	HealthChecker HealthChecker
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
// 同じルートを"/"直下と"/api"配下の両方に登録する。
//
// 全体のミドルウェアスタックの実行順序:
//
//	RequestID → Logging → Metrics → Recovery → SecurityHeaders → CORS
//
// 認証必須ルートはさらに Readiness → AdmissionGate（→ RateLimit）を通る。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.Metrics != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.Metrics))
	}
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.AuthConfig.CookieSecure))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	// サブルーターに引き継がれるよう、ルート登録より前に設定する
	r.NotFound(notFound)
	r.MethodNotAllowed(methodNotAllowed)

	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	mountRoutes(r, deps)
	r.Route("/api", func(r chi.Router) {
		mountRoutes(r, deps)
	})

	return r
}

// mountRoutes はゲートウェイのルートを登録する。
func mountRoutes(r chi.Router, deps *RouterDeps) {
	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	activityHandler := NewActivityHandler(deps.ActivityService)
	pageHandler := NewPageHandler(deps.Pages)
	healthHandler := NewHealthHandler(deps.Readiness, deps.HealthChecker)

	ready := middleware.NewReadinessGate(deps.Readiness, middleware.DefaultRetryAfter)

	// --- 認証不要のルート ---
	r.Get("/", pageHandler.Index)
	r.Get("/health", healthHandler.Health)
	r.Get("/static/*", pageHandler.Static)

	r.With(ready, deps.RateLimiter.LoginMiddleware()).Post("/sessionLogin", authHandler.SessionLogin)
	r.Get("/sessionLogout", authHandler.SessionLogout)
	r.Post("/sessionLogout", authHandler.SessionLogout)

	// --- 認証が必要なAPI ---
	r.Group(func(r chi.Router) {
		r.Use(ready)
		r.Use(middleware.NewAdmissionGate(deps.SessionVerifier, middleware.CallerAPI))

		r.Get("/me", authHandler.Me)

		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.GeneralMiddleware())
			r.Get("/activity-history", activityHandler.History)
			r.Post("/log-activity", activityHandler.LogActivity)
		})
	})

	// --- 認証が必要なページ ---
	r.Group(func(r chi.Router) {
		r.Use(ready)
		r.Use(middleware.NewAdmissionGate(deps.SessionVerifier, middleware.CallerPage))

		for _, name := range deps.Pages.ProtectedNames() {
			r.Get("/"+name, pageHandler.Page(name))
		}
	})
}
