package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/pagegate/internal/lifecycle"
)

const healthCheckTimeout = 2 * time.Second

// InitStatus はプロセス初期化の状態を返す。lifecycle.Initializerが実装する。
type InitStatus interface {
	State() lifecycle.State
	Ready() bool
}

// HealthChecker はストレージへの疎通確認を行う。
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// HealthHandler はプロセスの生存と依存先の準備状況を返す。
type HealthHandler struct {
	init InitStatus
	db   HealthChecker
}

// NewHealthHandler はHealthHandlerを生成する。dbはnilでもよい。
func NewHealthHandler(init InitStatus, db HealthChecker) *HealthHandler {
	return &HealthHandler{init: init, db: db}
}

type healthResponse struct {
	Status           string `json:"status"`
	IdentityProvider string `json:"identityProvider"`
	Ready            bool   `json:"ready"`
	Database         string `json:"database,omitempty"`
}

// Health はプロセスが応答可能であれば常に200を返す。
// 準備状況はボディのreadyとidentityProviderで表す。
// GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:           "ok",
		IdentityProvider: h.init.State().String(),
		Ready:            h.init.Ready(),
	}

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			slog.Warn("health check: database unavailable", slog.String("error", err.Error()))
			resp.Database = "unavailable"
		} else {
			resp.Database = "ok"
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
