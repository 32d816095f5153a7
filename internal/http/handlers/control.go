// Package handlers contains the HTTP handlers mounted by the API
// router: the operator control surface, provider webhooks and health.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/itf-gmbh/phone-agent/internal/campaign"
	"github.com/itf-gmbh/phone-agent/internal/control"
	"github.com/itf-gmbh/phone-agent/internal/dialer"
	"github.com/itf-gmbh/phone-agent/pkg/logging"
)

// campaignControl is the slice of the control surface this handler
// drives. *control.Controller satisfies it.
type campaignControl interface {
	StartReminderCampaign(ctx context.Context, targetDate time.Time) (campaign.ReminderStats, error)
	ReminderStats() (campaign.ReminderStats, error)
	CancelReminderCampaign() error
	StartRecallCalling(ctx context.Context, campaignID uuid.UUID, maxCalls int) (campaign.RecallStats, error)
	PauseRecall(campaignID uuid.UUID) (bool, error)
	ResumeRecall(campaignID uuid.UUID) (bool, error)
	RecallStats(campaignID uuid.UUID) (campaign.RecallStats, error)
	ProcessNoShows(ctx context.Context, run campaign.NoShowRun) (campaign.NoShowStats, error)
	CallQueue() ([]dialer.QueuedCall, dialer.Stats, error)
	PauseDialer() error
	ResumeDialer() error
	CancelQueuedCall(callID uuid.UUID) (bool, error)
	ClearCallQueue() (int, error)
}

// ControlHandler exposes the operator commands over HTTP.
type ControlHandler struct {
	control campaignControl
	logger  *logging.Logger
}

func NewControlHandler(control campaignControl, logger *logging.Logger) *ControlHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &ControlHandler{control: control, logger: logger.WithComponent("http_control")}
}

type startReminderRequest struct {
	TargetDate string `json:"target_date"` // YYYY-MM-DD, empty means tomorrow
}

// StartReminderCampaign handles POST /admin/campaigns/reminders.
func (h *ControlHandler) StartReminderCampaign(w http.ResponseWriter, r *http.Request) {
	var req startReminderRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}
	var targetDate time.Time
	if req.TargetDate != "" {
		var err error
		targetDate, err = time.Parse("2006-01-02", req.TargetDate)
		if err != nil {
			http.Error(w, "target_date must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
	}
	stats, err := h.control.StartReminderCampaign(r.Context(), targetDate)
	if err != nil {
		h.writeControlError(w, err)
		return
	}
	h.logger.Info("reminder campaign started", "target_date", req.TargetDate,
		"appointments", stats.TotalAppointments, "reminders_sent", stats.RemindersSent)
	writeJSON(w, http.StatusAccepted, stats)
}

// ReminderStats handles GET /admin/campaigns/reminders/stats.
func (h *ControlHandler) ReminderStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.control.ReminderStats()
	if err != nil {
		h.writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// CancelReminderCampaign handles DELETE /admin/campaigns/reminders.
func (h *ControlHandler) CancelReminderCampaign(w http.ResponseWriter, r *http.Request) {
	if err := h.control.CancelReminderCampaign(); err != nil {
		h.writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

type startRecallRequest struct {
	MaxCalls int `json:"max_calls"` // 0 means no cap
}

// StartRecallCalling handles POST /admin/campaigns/recalls/{campaignID}/start.
func (h *ControlHandler) StartRecallCalling(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := campaignIDFromURL(w, r)
	if !ok {
		return
	}
	var req startRecallRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}
	if req.MaxCalls < 0 {
		http.Error(w, "max_calls must not be negative", http.StatusBadRequest)
		return
	}
	stats, err := h.control.StartRecallCalling(r.Context(), campaignID, req.MaxCalls)
	if err != nil {
		h.writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, stats)
}

// PauseRecall handles POST /admin/campaigns/recalls/{campaignID}/pause.
func (h *ControlHandler) PauseRecall(w http.ResponseWriter, r *http.Request) {
	h.toggleRecall(w, r, h.control.PauseRecall, "paused")
}

// ResumeRecall handles POST /admin/campaigns/recalls/{campaignID}/resume.
func (h *ControlHandler) ResumeRecall(w http.ResponseWriter, r *http.Request) {
	h.toggleRecall(w, r, h.control.ResumeRecall, "active")
}

func (h *ControlHandler) toggleRecall(w http.ResponseWriter, r *http.Request, toggle func(uuid.UUID) (bool, error), status string) {
	campaignID, ok := campaignIDFromURL(w, r)
	if !ok {
		return
	}
	found, err := toggle(campaignID)
	if err != nil {
		h.writeControlError(w, err)
		return
	}
	if !found {
		http.Error(w, "campaign not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

// RecallStats handles GET /admin/campaigns/recalls/{campaignID}/stats.
func (h *ControlHandler) RecallStats(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := campaignIDFromURL(w, r)
	if !ok {
		return
	}
	stats, err := h.control.RecallStats(campaignID)
	if err != nil {
		h.writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type processNoShowsRequest struct {
	TargetDate    string  `json:"target_date"` // YYYY-MM-DD, empty scans the full window
	MinHoursAfter float64 `json:"min_hours_after"`
	MaxHoursAfter float64 `json:"max_hours_after"`
}

// ProcessNoShows handles POST /admin/campaigns/no-shows/process.
func (h *ControlHandler) ProcessNoShows(w http.ResponseWriter, r *http.Request) {
	var req processNoShowsRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}
	run := campaign.NoShowRun{
		MinHoursAfter: req.MinHoursAfter,
		MaxHoursAfter: req.MaxHoursAfter,
	}
	if req.TargetDate != "" {
		day, err := time.Parse("2006-01-02", req.TargetDate)
		if err != nil {
			http.Error(w, "target_date must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		run.TargetDate = &day
	}
	stats, err := h.control.ProcessNoShows(r.Context(), run)
	if err != nil {
		h.writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, stats)
}

type queuedCallView struct {
	CallID      uuid.UUID  `json:"call_id"`
	Phone       string     `json:"phone"`
	CallType    string     `json:"call_type"`
	Priority    int        `json:"priority"`
	QueuedAt    time.Time  `json:"queued_at"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
}

// CallQueue handles GET /admin/dialer/queue.
func (h *ControlHandler) CallQueue(w http.ResponseWriter, r *http.Request) {
	queue, stats, err := h.control.CallQueue()
	if err != nil {
		h.writeControlError(w, err)
		return
	}
	views := make([]queuedCallView, 0, len(queue))
	for _, call := range queue {
		views = append(views, queuedCallView{
			CallID:      call.CallID,
			Phone:       call.Phone,
			CallType:    call.CallType,
			Priority:    int(call.Priority),
			QueuedAt:    call.QueuedAt,
			ScheduledAt: call.ScheduledAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"queue": views, "stats": stats})
}

// PauseDialer handles POST /admin/dialer/pause.
func (h *ControlHandler) PauseDialer(w http.ResponseWriter, r *http.Request) {
	if err := h.control.PauseDialer(); err != nil {
		h.writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

// ResumeDialer handles POST /admin/dialer/resume.
func (h *ControlHandler) ResumeDialer(w http.ResponseWriter, r *http.Request) {
	if err := h.control.ResumeDialer(); err != nil {
		h.writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "running"})
}

// CancelQueuedCall handles DELETE /admin/dialer/queue/{callID}.
func (h *ControlHandler) CancelQueuedCall(w http.ResponseWriter, r *http.Request) {
	callID, err := uuid.Parse(chi.URLParam(r, "callID"))
	if err != nil {
		http.Error(w, "invalid call id", http.StatusBadRequest)
		return
	}
	cancelled, err := h.control.CancelQueuedCall(callID)
	if err != nil {
		h.writeControlError(w, err)
		return
	}
	if !cancelled {
		http.Error(w, "call not found or already dialing", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// ClearCallQueue handles DELETE /admin/dialer/queue.
func (h *ControlHandler) ClearCallQueue(w http.ResponseWriter, r *http.Request) {
	cleared, err := h.control.ClearCallQueue()
	if err != nil {
		h.writeControlError(w, err)
		return
	}
	h.logger.Info("call queue cleared", "cancelled", cleared)
	writeJSON(w, http.StatusOK, map[string]int{"cancelled": cleared})
}

func (h *ControlHandler) writeControlError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, control.ErrNotConfigured):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, control.ErrInvalidDate):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, control.ErrCampaignNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		h.logger.Error("control command failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func campaignIDFromURL(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	campaignID, err := uuid.Parse(chi.URLParam(r, "campaignID"))
	if err != nil {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return campaignID, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
