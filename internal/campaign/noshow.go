package campaign

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/itf-gmbh/phone-agent/internal/audit"
	"github.com/itf-gmbh/phone-agent/internal/clock"
	"github.com/itf-gmbh/phone-agent/internal/consent"
	"github.com/itf-gmbh/phone-agent/internal/conversation"
	"github.com/itf-gmbh/phone-agent/internal/dialer"
	"github.com/itf-gmbh/phone-agent/internal/scheduling"
	"github.com/itf-gmbh/phone-agent/pkg/logging"
)

// NoShowReason captures why the patient missed the appointment.
type NoShowReason string

const (
	ReasonForgot         NoShowReason = "forgot"
	ReasonSick           NoShowReason = "sick"
	ReasonEmergency      NoShowReason = "emergency"
	ReasonTransportation NoShowReason = "transportation"
	ReasonWork           NoShowReason = "work"
	ReasonChildcare      NoShowReason = "childcare"
	ReasonFeelingBetter  NoShowReason = "feeling_better"
	ReasonWrongTime      NoShowReason = "wrong_time"
	ReasonOther          NoShowReason = "other"
	ReasonNotDisclosed   NoShowReason = "not_disclosed"
)

// barrierReasons are structural obstacles. They always flag the task
// for manual follow-up, even when a new appointment was booked, so the
// practice team can help remove the obstacle before the next visit.
var barrierReasons = map[NoShowReason]bool{
	ReasonTransportation: true,
	ReasonChildcare:      true,
	ReasonWork:           true,
}

// NoShowOutcome is the terminal classification of a follow-up.
type NoShowOutcome string

const (
	NoShowRescheduled       NoShowOutcome = "rescheduled"
	NoShowDeclinedCare      NoShowOutcome = "declined_care"
	NoShowBarrierIdentified NoShowOutcome = "barrier_identified"
	NoShowUnreachable       NoShowOutcome = "unreachable"
	NoShowNeedsFollowup     NoShowOutcome = "needs_followup"
	NoShowResolved          NoShowOutcome = "resolved"
)

// NoShowTask is one missed appointment being followed up.
type NoShowTask struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	PatientID     uuid.UUID
	PatientName   string
	Phone         string
	MissedAt      time.Time
	Type          scheduling.AppointmentType

	Attempts            int
	LastAttempt         *time.Time
	Reason              NoShowReason
	Outcome             NoShowOutcome
	NeedsManualFollowup bool
	Done                bool
	CompletedAt         *time.Time
}

// NoShowConfig tunes the follow-up window and retry behavior.
type NoShowConfig struct {
	// MinHoursAfter is the grace period before a missed appointment is
	// treated as a no-show.
	MinHoursAfter float64
	// MaxHoursAfter is the oldest miss still worth a call.
	MaxHoursAfter float64
	MaxAttempts   int
	RetryDelay    time.Duration
}

func (c NoShowConfig) withDefaults() NoShowConfig {
	if c.MinHoursAfter <= 0 {
		c.MinHoursAfter = 0.5
	}
	if c.MaxHoursAfter <= 0 {
		c.MaxHoursAfter = 72
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 2
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 4 * time.Hour
	}
	return c
}

// NoShowStats summarizes one processing run.
type NoShowStats struct {
	Identified         int `json:"identified"`
	CallsQueued        int `json:"calls_queued"`
	Rescheduled        int `json:"rescheduled"`
	DeclinedCare       int `json:"declined_care"`
	BarriersIdentified int `json:"barriers_identified"`
	Unreachable        int `json:"unreachable"`
	ManualFollowups    int `json:"manual_followups"`
}

// ReasonLookup resolves the no-show reason detected during the call,
// keyed by the dial call id. In production this reads the persisted
// conversation session.
type ReasonLookup func(ctx context.Context, callID uuid.UUID) string

type noShowResult struct {
	taskID uuid.UUID
	result dialer.Result
}

// NoShowWorkflow finds recently missed appointments and calls the
// patients to reschedule and learn why they did not come.
type NoShowWorkflow struct {
	tenantID uuid.UUID
	cfg      NoShowConfig

	appts    AppointmentSource
	patients PatientDirectory
	consents ConsentChecker
	dials    CallQueue
	reasons  ReasonLookup
	auditLog *audit.Logger
	clk      clock.Clock
	logger   *logging.Logger

	mu    sync.Mutex
	tasks map[uuid.UUID]*NoShowTask
	seen  map[uuid.UUID]bool // appointment ids already turned into tasks
	stats NoShowStats

	results chan noShowResult
}

func NewNoShowWorkflow(tenantID uuid.UUID, cfg NoShowConfig, appts AppointmentSource, patients PatientDirectory, consents ConsentChecker, dials CallQueue, auditLog *audit.Logger, clk clock.Clock, logger *logging.Logger) *NoShowWorkflow {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &NoShowWorkflow{
		tenantID: tenantID,
		cfg:      cfg.withDefaults(),
		appts:    appts,
		patients: patients,
		consents: consents,
		dials:    dials,
		auditLog: auditLog,
		clk:      clk,
		logger:   logger.WithComponent("noshow_followup").WithTenant(tenantID.String()),
		tasks:    make(map[uuid.UUID]*NoShowTask),
		seen:     make(map[uuid.UUID]bool),
		results:  make(chan noShowResult, 64),
	}
}

// WithReasonLookup installs the conversation reason resolver.
func (w *NoShowWorkflow) WithReasonLookup(lookup ReasonLookup) *NoShowWorkflow {
	w.reasons = lookup
	return w
}

// Run drains call results until the context ends.
func (w *NoShowWorkflow) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case res := <-w.results:
			w.handleResult(ctx, res)
		}
	}
}

// NoShowRun overrides the scan window for one processing run. Zero
// values fall back to the workflow configuration; TargetDate narrows
// the scan to misses on that calendar day.
type NoShowRun struct {
	TargetDate    *time.Time
	MinHoursAfter float64
	MaxHoursAfter float64
}

// ProcessNoShows scans the missed-appointment window and queues
// follow-up calls for anything new.
func (w *NoShowWorkflow) ProcessNoShows(ctx context.Context, run NoShowRun) (NoShowStats, error) {
	now := w.clk.Now()
	minAfter := w.cfg.MinHoursAfter
	if run.MinHoursAfter > 0 {
		minAfter = run.MinHoursAfter
	}
	maxAfter := w.cfg.MaxHoursAfter
	if run.MaxHoursAfter > 0 {
		maxAfter = run.MaxHoursAfter
	}
	from := now.Add(-time.Duration(maxAfter * float64(time.Hour)))
	to := now.Add(-time.Duration(minAfter * float64(time.Hour)))
	if run.TargetDate != nil {
		d := *run.TargetDate
		dayStart := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, d.Location())
		dayEnd := dayStart.AddDate(0, 0, 1)
		if dayStart.After(from) {
			from = dayStart
		}
		if dayEnd.Before(to) {
			to = dayEnd
		}
	}

	missed, err := w.appts.MissedBetween(ctx, from, to)
	if err != nil {
		return NoShowStats{}, fmt.Errorf("campaign: list missed appointments: %w", err)
	}

	var queued []*NoShowTask
	w.mu.Lock()
	for i := range missed {
		appt := missed[i]
		if w.seen[appt.ID] {
			continue
		}
		w.seen[appt.ID] = true
		task := &NoShowTask{
			ID:            uuid.New(),
			AppointmentID: appt.ID,
			PatientID:     appt.PatientID,
			PatientName:   appt.PatientName,
			MissedAt:      appt.Slot.Start,
			Type:          appt.Type,
		}
		w.tasks[task.ID] = task
		w.stats.Identified++
		queued = append(queued, task)
	}
	w.mu.Unlock()

	for _, task := range queued {
		ok, err := w.consents.Check(ctx, w.tenantID, task.PatientID, consent.PhoneContact)
		if err != nil || !ok {
			w.complete(task, NoShowNeedsFollowup, true, now)
			if err == nil {
				auditConsentMiss(ctx, w.auditLog, w.logger, w.tenantID, task.PatientID,
					"noshow_followup", "noshow_task", task.ID.String())
			}
			w.logger.Info("no-show follow-up needs manual handling, no phone consent",
				"task_id", task.ID, "patient_id", task.PatientID)
			continue
		}
		patient, err := w.patients.Patient(ctx, task.PatientID)
		if err != nil || patient == nil || patient.Phone == "" {
			w.complete(task, NoShowNeedsFollowup, true, now)
			w.logger.Info("no-show follow-up needs manual handling, no phone number",
				"task_id", task.ID, "patient_id", task.PatientID)
			continue
		}
		w.mu.Lock()
		task.Phone = patient.Phone
		w.mu.Unlock()
		w.queueFollowupCall(task, nil)
		w.mu.Lock()
		w.stats.CallsQueued++
		w.mu.Unlock()
	}

	w.mu.Lock()
	stats := w.stats
	w.mu.Unlock()
	w.logger.Info("no-show scan complete", "identified", len(queued), "window_hours", maxAfter)
	return stats, nil
}

func (w *NoShowWorkflow) queueFollowupCall(task *NoShowTask, at *time.Time) {
	taskID := task.ID
	w.dials.QueueCall(dialer.QueuedCall{
		TenantID:    w.tenantID,
		PatientID:   task.PatientID,
		Phone:       task.Phone,
		CallType:    string(conversation.CampaignNoShow),
		Priority:    w.followupPriority(task),
		ScheduledAt: at,
		Metadata: map[string]string{
			"workflow":           "noshow_followup",
			"task_id":            task.ID.String(),
			"appointment_id":     task.AppointmentID.String(),
			"patient_name":       task.PatientName,
			"patient_first_name": firstName(task.PatientName),
			"appointment_at":     task.MissedAt.Format(time.RFC3339),
		},
		Callback: func(r dialer.Result) {
			w.results <- noShowResult{taskID: taskID, result: r}
		},
	})
}

// followupPriority: acute and specialist visits matter most, then the
// freshness of the miss.
func (w *NoShowWorkflow) followupPriority(task *NoShowTask) dialer.Priority {
	if task.Type == scheduling.Acute || task.Type == scheduling.Specialist {
		return dialer.PriorityHigh
	}
	since := w.clk.Now().Sub(task.MissedAt).Hours()
	switch {
	case since < 4:
		return dialer.PriorityHigh
	case since < 24:
		return dialer.PriorityNormal
	default:
		return dialer.PriorityLow
	}
}

func (w *NoShowWorkflow) handleResult(ctx context.Context, res noShowResult) {
	now := w.clk.Now()

	w.mu.Lock()
	task, ok := w.tasks[res.taskID]
	if !ok {
		w.mu.Unlock()
		w.logger.Warn("result for unknown no-show task", "task_id", res.taskID)
		return
	}
	task.Attempts++
	task.LastAttempt = &now
	w.mu.Unlock()

	if res.result.Answered {
		task.Reason = w.resolveReason(ctx, res.result.CallID)
	}

	switch res.result.Outcome {
	case string(conversation.OutcomeAppointmentMade), string(conversation.OutcomeAppointmentRescheduled):
		if barrierReasons[task.Reason] {
			w.complete(task, NoShowBarrierIdentified, true, now)
			w.bumpNoShowStat(func(s *NoShowStats) { s.BarriersIdentified++; s.Rescheduled++ })
		} else {
			w.complete(task, NoShowRescheduled, false, now)
			w.bumpNoShowStat(func(s *NoShowStats) { s.Rescheduled++ })
		}

	case string(conversation.OutcomeDeclined):
		w.complete(task, NoShowDeclinedCare, false, now)
		w.bumpNoShowStat(func(s *NoShowStats) { s.DeclinedCare++ })

	case string(conversation.OutcomeInformationDelivered):
		if barrierReasons[task.Reason] {
			w.complete(task, NoShowBarrierIdentified, true, now)
			w.bumpNoShowStat(func(s *NoShowStats) { s.BarriersIdentified++ })
		} else {
			w.complete(task, NoShowResolved, false, now)
		}

	case dialer.OutcomeNoAnswer:
		w.handleNoShowNoAnswer(task, now)

	default:
		w.complete(task, NoShowNeedsFollowup, true, now)
	}

	w.auditNoShow(ctx, task)
	w.logger.Info("no-show follow-up completed",
		"task_id", task.ID,
		"outcome", string(task.Outcome),
		"reason", string(task.Reason),
		"attempts", task.Attempts,
		"needs_manual_followup", task.NeedsManualFollowup)
}

func (w *NoShowWorkflow) handleNoShowNoAnswer(task *NoShowTask, now time.Time) {
	if task.Attempts >= w.cfg.MaxAttempts {
		w.complete(task, NoShowUnreachable, true, now)
		w.bumpNoShowStat(func(s *NoShowStats) { s.Unreachable++ })
		return
	}
	retryAt := now.Add(w.cfg.RetryDelay)
	// A retry that would land outside the follow-up window is pointless;
	// hand the task to a human instead.
	if retryAt.Sub(task.MissedAt).Hours() > w.cfg.MaxHoursAfter {
		w.complete(task, NoShowNeedsFollowup, true, now)
		return
	}
	w.queueFollowupCall(task, &retryAt)
	w.logger.Info("no-show retry scheduled", "task_id", task.ID, "retry_at", retryAt)
}

func (w *NoShowWorkflow) resolveReason(ctx context.Context, callID uuid.UUID) NoShowReason {
	if w.reasons == nil {
		return ReasonNotDisclosed
	}
	raw := strings.TrimSpace(w.reasons(ctx, callID))
	if raw == "" {
		return ReasonNotDisclosed
	}
	switch r := NoShowReason(raw); r {
	case ReasonForgot, ReasonSick, ReasonEmergency, ReasonTransportation,
		ReasonWork, ReasonChildcare, ReasonFeelingBetter, ReasonWrongTime:
		return r
	default:
		return ReasonOther
	}
}

func (w *NoShowWorkflow) complete(task *NoShowTask, outcome NoShowOutcome, manual bool, now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	task.Outcome = outcome
	task.NeedsManualFollowup = manual
	task.Done = true
	task.CompletedAt = &now
	if manual {
		w.stats.ManualFollowups++
	}
}

func (w *NoShowWorkflow) bumpNoShowStat(f func(*NoShowStats)) {
	w.mu.Lock()
	f(&w.stats)
	w.mu.Unlock()
}

func (w *NoShowWorkflow) auditNoShow(ctx context.Context, task *NoShowTask) {
	if w.auditLog == nil {
		return
	}
	patientID := task.PatientID
	details, _ := json.Marshal(map[string]any{
		"task_id":               task.ID.String(),
		"appointment_id":        task.AppointmentID.String(),
		"outcome":               string(task.Outcome),
		"reason":                string(task.Reason),
		"needs_manual_followup": task.NeedsManualFollowup,
		"attempts":              task.Attempts,
	})
	if _, err := w.auditLog.Append(ctx, audit.Entry{
		TenantID:     w.tenantID,
		Action:       audit.ActionNoShowFollowup,
		ActorID:      "noshow_followup",
		ActorType:    "system",
		ResourceType: "noshow_task",
		ResourceID:   task.ID.String(),
		SubjectID:    &patientID,
		Details:      details,
	}); err != nil {
		w.logger.Error("audit append failed", "error", err)
	}
}

// Stats returns a copy of the running counters.
func (w *NoShowWorkflow) Stats() NoShowStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// Task looks up a follow-up task by id.
func (w *NoShowWorkflow) Task(id uuid.UUID) (*NoShowTask, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.tasks[id]
	return t, ok
}

// ManualFollowups lists tasks flagged for the practice team.
func (w *NoShowWorkflow) ManualFollowups() []*NoShowTask {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []*NoShowTask
	for _, t := range w.tasks {
		if t.Done && t.NeedsManualFollowup {
			out = append(out, t)
		}
	}
	return out
}
