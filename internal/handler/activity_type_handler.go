package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/fitbattle/internal/middleware"
	"github.com/hitoshi/fitbattle/internal/model"
)

// Catalog は運動種別ハンドラーが必要とするカタログのインターフェース。
type Catalog interface {
	Get() []model.ActivityType
	Add(ctx context.Context, name string, multiplier float64) (model.ActivityType, error)
}

// ActivityTypeHandler は運動種別のHTTPハンドラー。
type ActivityTypeHandler struct {
	catalog Catalog
	logger  *slog.Logger
}

// NewActivityTypeHandler はActivityTypeHandlerを生成する。
func NewActivityTypeHandler(catalog Catalog, logger *slog.Logger) *ActivityTypeHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ActivityTypeHandler{catalog: catalog, logger: logger}
}

type activityTypeRequest struct {
	Name       string   `json:"name"`
	Multiplier *float64 `json:"multiplier"`
}

// ListActivityTypes は運動種別の一覧を保存順で返す。
// GET /api/activity-types
func (h *ActivityTypeHandler) ListActivityTypes(w http.ResponseWriter, r *http.Request) {
	types := h.catalog.Get()
	if types == nil {
		types = []model.ActivityType{}
	}
	writeJSON(w, http.StatusOK, types)
}

// CreateActivityType は運動種別を末尾に追加する。
// POST /api/activity-types
func (h *ActivityTypeHandler) CreateActivityType(w http.ResponseWriter, r *http.Request) {
	var req activityTypeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, h.logger, model.NewValidationError("body", "JSONの解析に失敗しました"))
		return
	}
	if req.Multiplier == nil {
		middleware.WriteError(w, h.logger, model.NewValidationError("multiplier", "必須です"))
		return
	}

	t, err := h.catalog.Add(r.Context(), req.Name, *req.Multiplier)
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}
