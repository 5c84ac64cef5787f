package handler

import (
	"context"
	"encoding/json"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/pagegate/internal/middleware"
	"github.com/hitoshi/pagegate/internal/model"
)

const maxActivityBodySize = 16 << 10

// ActivityServiceInterface はアクティビティハンドラーが必要とするサービスインターフェース。
type ActivityServiceInterface interface {
	Append(ctx context.Context, subject, action string) (*model.ActivityEntry, error)
	History(ctx context.Context, subject string, limit int) ([]*model.ActivityEntry, error)
}

// ActivityHandler はアクティビティログの記録と履歴取得のHTTPハンドラー。
type ActivityHandler struct {
	service ActivityServiceInterface
}

// NewActivityHandler はActivityHandlerを生成する。
func NewActivityHandler(service ActivityServiceInterface) *ActivityHandler {
	return &ActivityHandler{service: service}
}

type logActivityRequest struct {
	Action string `json:"action"`
}

type activityEntryResponse struct {
	ID        string    `json:"id"`
	Action    string    `json:"action"`
	CreatedAt time.Time `json:"createdAt"`
}

type activityHistoryResponse struct {
	Entries []activityEntryResponse `json:"entries"`
}

// History は認証済みユーザーのアクティビティを新しい順に返す。
// GET /activity-history?limit=N
func (h *ActivityHandler) History(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteUnauthenticated(w)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidLimitError(raw))
			return
		}
	}

	entries, err := h.service.History(r.Context(), userID, limit)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := activityHistoryResponse{Entries: make([]activityEntryResponse, 0, len(entries))}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, activityEntryResponse{
			ID:        e.ID,
			Action:    e.Action,
			CreatedAt: e.CreatedAt.UTC(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// LogActivity は認証済みユーザーのアクティビティを1件記録する。
// POST /log-activity
// ボディはJSON {"action": "..."} またはフォームのactionフィールド。
func (h *ActivityHandler) LogActivity(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteUnauthenticated(w)
		return
	}

	action, ok := readAction(w, r)
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewMissingActionError())
		return
	}

	if _, err := h.service.Append(r.Context(), userID, action); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "logged"})
}

func readAction(w http.ResponseWriter, r *http.Request) (string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxActivityBodySize)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" {
		if err := r.ParseForm(); err != nil {
			return "", false
		}
		action := r.PostForm.Get("action")
		return action, action != ""
	}

	var req logActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return "", false
	}
	return req.Action, req.Action != ""
}
