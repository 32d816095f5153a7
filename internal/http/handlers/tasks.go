package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/itf-gmbh/phone-agent/internal/tenancy"
	"github.com/itf-gmbh/phone-agent/pkg/logging"
)

type staleSweeper interface {
	SweepStale(ctx context.Context, tenantID uuid.UUID, limit int) (int, error)
}

// TaskHandler exposes the routing maintenance commands.
type TaskHandler struct {
	routing staleSweeper
	logger  *logging.Logger
}

func NewTaskHandler(routing staleSweeper, logger *logging.Logger) *TaskHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &TaskHandler{routing: routing, logger: logger.WithComponent("http_tasks")}
}

type sweepStaleRequest struct {
	Limit int `json:"limit"`
}

// SweepStale handles POST /admin/tasks/sweep-stale: escalates assigned
// tasks whose urgency window elapsed without progress. The tenant
// comes from the X-Tenant-Id header the router middleware enforces.
func (h *TaskHandler) SweepStale(w http.ResponseWriter, r *http.Request) {
	if h.routing == nil {
		http.Error(w, "routing not configured", http.StatusServiceUnavailable)
		return
	}
	raw, ok := tenancy.TenantIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing tenant", http.StatusBadRequest)
		return
	}
	tenantID, err := uuid.Parse(raw)
	if err != nil {
		http.Error(w, "invalid tenant id", http.StatusBadRequest)
		return
	}
	req := sweepStaleRequest{Limit: 50}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}
	if req.Limit <= 0 {
		req.Limit = 50
	}
	escalated, err := h.routing.SweepStale(r.Context(), tenantID, req.Limit)
	if err != nil {
		h.logger.Error("stale sweep failed", "tenant_id", tenantID, "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"escalated": escalated})
}
