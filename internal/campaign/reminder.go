package campaign

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/itf-gmbh/phone-agent/internal/audit"
	"github.com/itf-gmbh/phone-agent/internal/clock"
	"github.com/itf-gmbh/phone-agent/internal/consent"
	"github.com/itf-gmbh/phone-agent/internal/conversation"
	"github.com/itf-gmbh/phone-agent/internal/dialer"
	"github.com/itf-gmbh/phone-agent/internal/messaging"
	"github.com/itf-gmbh/phone-agent/internal/scheduling"
	"github.com/itf-gmbh/phone-agent/pkg/logging"
)

// ReminderStatus is the lifecycle of one reminder task.
type ReminderStatus string

const (
	ReminderPending     ReminderStatus = "pending"
	ReminderCalling     ReminderStatus = "calling"
	ReminderConfirmed   ReminderStatus = "confirmed"
	ReminderRescheduled ReminderStatus = "rescheduled"
	ReminderCancelled   ReminderStatus = "cancelled"
	ReminderNoAnswer    ReminderStatus = "no_answer"
	ReminderDeclined    ReminderStatus = "declined"
	ReminderFailed      ReminderStatus = "failed"
)

// ReminderTask tracks one appointment being reminded.
type ReminderTask struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	PatientID     uuid.UUID
	PatientName   string
	PatientPhone  string

	AppointmentTime time.Time
	ProviderName    string
	AppointmentType scheduling.AppointmentType

	Status      ReminderStatus
	Attempts    int
	LastAttempt *time.Time

	Outcome          string
	NewAppointmentID *uuid.UUID
	Notes            string

	CreatedAt   time.Time
	CompletedAt *time.Time
}

// ReminderConfig bounds the reminder campaign.
type ReminderConfig struct {
	ReminderHoursBefore    int
	MinHoursBefore         int
	MaxAttempts            int
	RetryDelay             time.Duration
	SMSAfterFailedAttempts int
	SMSEnabled             bool
	PracticeName           string
	PracticePhone          string
	FromNumber             string
}

func (c ReminderConfig) withDefaults() ReminderConfig {
	if c.ReminderHoursBefore <= 0 {
		c.ReminderHoursBefore = 24
	}
	if c.MinHoursBefore <= 0 {
		c.MinHoursBefore = 2
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 2
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 60 * time.Minute
	}
	if c.SMSAfterFailedAttempts <= 0 {
		c.SMSAfterFailedAttempts = 2
	}
	if c.PracticeName == "" {
		c.PracticeName = "Ihre Arztpraxis"
	}
	return c
}

// ReminderStats summarizes one campaign run.
type ReminderStats struct {
	TotalAppointments int        `json:"total_appointments"`
	RemindersSent     int        `json:"reminders_sent"`
	Confirmed         int        `json:"confirmed"`
	Rescheduled       int        `json:"rescheduled"`
	Cancelled         int        `json:"cancelled"`
	NoAnswer          int        `json:"no_answer"`
	Declined          int        `json:"declined"`
	StartedAt         time.Time  `json:"started_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

// ConfirmationRate is the share of sent reminders that were confirmed.
func (s ReminderStats) ConfirmationRate() float64 {
	if s.RemindersSent == 0 {
		return 0
	}
	return float64(s.Confirmed) / float64(s.RemindersSent) * 100
}

type reminderResult struct {
	taskID uuid.UUID
	result dialer.Result
}

// ReminderWorkflow queues reminder calls for upcoming appointments and
// interprets their outcomes.
type ReminderWorkflow struct {
	tenantID uuid.UUID
	cfg      ReminderConfig

	appts    AppointmentSource
	patients PatientDirectory
	consents ConsentChecker
	dials    CallQueue
	sms      SMSQueue
	auditLog *audit.Logger
	clk      clock.Clock
	logger   *logging.Logger

	mu    sync.Mutex
	tasks map[uuid.UUID]*ReminderTask
	stats ReminderStats

	results chan reminderResult
}

func NewReminderWorkflow(tenantID uuid.UUID, cfg ReminderConfig, appts AppointmentSource, patients PatientDirectory, consents ConsentChecker, dials CallQueue, sms SMSQueue, auditLog *audit.Logger, clk clock.Clock, logger *logging.Logger) *ReminderWorkflow {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ReminderWorkflow{
		tenantID: tenantID,
		cfg:      cfg.withDefaults(),
		appts:    appts,
		patients: patients,
		consents: consents,
		dials:    dials,
		sms:      sms,
		auditLog: auditLog,
		clk:      clk,
		logger:   logger.WithComponent("reminder_campaign").WithTenant(tenantID.String()),
		tasks:    make(map[uuid.UUID]*ReminderTask),
		results:  make(chan reminderResult, 64),
	}
}

// Run drains call results until the context ends. Callbacks only post to
// the channel, so the dialer's goroutines never touch workflow state.
func (w *ReminderWorkflow) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case res := <-w.results:
			w.handleResult(ctx, res)
		}
	}
}

// StartCampaign enumerates the target day's appointments and queues
// reminder calls for the eligible ones.
func (w *ReminderWorkflow) StartCampaign(ctx context.Context, targetDate time.Time) (ReminderStats, error) {
	now := w.clk.Now()
	w.mu.Lock()
	w.stats = ReminderStats{StartedAt: now}
	w.mu.Unlock()

	appointments, err := w.appts.AppointmentsOn(ctx, targetDate)
	if err != nil {
		return ReminderStats{}, fmt.Errorf("campaign: list appointments: %w", err)
	}

	w.mu.Lock()
	w.stats.TotalAppointments = len(appointments)
	w.mu.Unlock()

	for _, appt := range appointments {
		task, skip := w.buildTask(ctx, appt, now)
		if skip != "" {
			w.logger.Info("skipping reminder",
				"appointment_id", appt.ID, "reason", skip)
			continue
		}
		w.mu.Lock()
		w.tasks[task.ID] = task
		w.mu.Unlock()
		w.queueCall(task)
	}

	w.logger.Info("reminder campaign queued",
		"target_date", targetDate.Format("2006-01-02"),
		"total_appointments", len(appointments))
	return w.Stats(), nil
}

// buildTask applies the eligibility filters. A non-empty skip reason
// means no call is queued.
func (w *ReminderWorkflow) buildTask(ctx context.Context, appt scheduling.Appointment, now time.Time) (*ReminderTask, string) {
	ok, err := w.consents.Check(ctx, w.tenantID, appt.PatientID, consent.PhoneContact)
	if err != nil {
		return nil, "consent check failed: " + err.Error()
	}
	if !ok {
		auditConsentMiss(ctx, w.auditLog, w.logger, w.tenantID, appt.PatientID,
			"reminder_campaign", "appointment", appt.ID.String())
		return nil, "no phone consent"
	}

	hoursUntil := appt.Slot.Start.Sub(now).Hours()
	if hoursUntil < float64(w.cfg.MinHoursBefore) {
		return nil, "too close to appointment"
	}
	if hoursUntil > float64(w.cfg.ReminderHoursBefore) {
		return nil, "too far from appointment"
	}

	phone := ""
	if w.patients != nil {
		if p, err := w.patients.Patient(ctx, appt.PatientID); err == nil && p != nil {
			phone = p.Phone
		}
	}
	if phone == "" {
		return nil, "no phone number on record"
	}

	return &ReminderTask{
		ID:              uuid.New(),
		AppointmentID:   appt.ID,
		PatientID:       appt.PatientID,
		PatientName:     appt.PatientName,
		PatientPhone:    phone,
		AppointmentTime: appt.Slot.Start,
		ProviderName:    appt.Slot.ProviderName,
		AppointmentType: appt.Type,
		Status:          ReminderPending,
		CreatedAt:       now,
	}, ""
}

func (w *ReminderWorkflow) queueCall(task *ReminderTask) {
	w.queueCallAt(task, nil)
}

func (w *ReminderWorkflow) queueCallAt(task *ReminderTask, scheduledAt *time.Time) {
	hoursUntil := task.AppointmentTime.Sub(w.clk.Now()).Hours()
	taskID := task.ID

	w.dials.QueueCall(dialer.QueuedCall{
		TenantID:    w.tenantID,
		PatientID:   task.PatientID,
		Phone:       task.PatientPhone,
		CallType:    string(conversation.CampaignReminder),
		Priority:    priorityFromHoursUntil(hoursUntil),
		ScheduledAt: scheduledAt,
		Metadata: map[string]string{
			"workflow":           "appointment_reminder",
			"task_id":            task.ID.String(),
			"appointment_id":     task.AppointmentID.String(),
			"patient_name":       task.PatientName,
			"patient_first_name": firstName(task.PatientName),
			"provider_name":      task.ProviderName,
			"appointment_at":     task.AppointmentTime.Format(time.RFC3339),
		},
		Callback: func(r dialer.Result) {
			w.results <- reminderResult{taskID: taskID, result: r}
		},
	})

	w.mu.Lock()
	task.Status = ReminderCalling
	w.stats.RemindersSent++
	w.mu.Unlock()
}

func (w *ReminderWorkflow) handleResult(ctx context.Context, res reminderResult) {
	w.mu.Lock()
	task, ok := w.tasks[res.taskID]
	if !ok {
		w.mu.Unlock()
		w.logger.Warn("result for unknown reminder task", "task_id", res.taskID)
		return
	}
	now := w.clk.Now()
	task.Attempts++
	task.LastAttempt = &now
	task.Outcome = res.result.Outcome
	cancelled := task.Notes == "Campaign cancelled"
	w.mu.Unlock()

	if cancelled {
		// The campaign was cancelled while this call was running; the
		// task stays failed regardless of how the conversation went.
		w.audit(ctx, task)
		return
	}

	switch res.result.Outcome {
	case string(conversation.OutcomeAppointmentConfirmed):
		w.complete(task, ReminderConfirmed, now)
		w.bumpStat(func(s *ReminderStats) { s.Confirmed++ })
		if err := w.appts.MarkConfirmed(ctx, task.AppointmentID); err != nil {
			w.logger.Error("mark confirmed failed", "appointment_id", task.AppointmentID, "error", err)
		}
		if w.cfg.SMSEnabled {
			w.sendConfirmationSMS(ctx, task)
		}

	case string(conversation.OutcomeAppointmentRescheduled):
		// The driver's book_slot side effect already created the new
		// appointment and sent the booking SMS.
		w.complete(task, ReminderRescheduled, now)
		w.bumpStat(func(s *ReminderStats) { s.Rescheduled++ })

	case string(conversation.OutcomeDeclined):
		w.complete(task, ReminderDeclined, now)
		w.bumpStat(func(s *ReminderStats) { s.Declined++ })

	case dialer.OutcomeNoAnswer:
		w.handleNoAnswer(ctx, task, now)

	default:
		w.complete(task, ReminderFailed, now)
	}

	w.audit(ctx, task)
	w.logger.Info("reminder call completed",
		"task_id", task.ID,
		"status", string(task.Status),
		"outcome", task.Outcome,
		"attempts", task.Attempts)
}

func (w *ReminderWorkflow) handleNoAnswer(ctx context.Context, task *ReminderTask, now time.Time) {
	w.mu.Lock()
	attempts := task.Attempts
	w.mu.Unlock()

	if attempts >= w.cfg.MaxAttempts {
		w.complete(task, ReminderNoAnswer, now)
		w.bumpStat(func(s *ReminderStats) { s.NoAnswer++ })
		if w.cfg.SMSEnabled && attempts >= w.cfg.SMSAfterFailedAttempts {
			w.sendFallbackSMS(ctx, task)
		}
		return
	}

	// A retry must still land before the quiet zone ahead of the
	// appointment.
	hoursUntil := task.AppointmentTime.Sub(now).Hours()
	if hoursUntil < float64(w.cfg.MinHoursBefore)+1 {
		w.complete(task, ReminderNoAnswer, now)
		w.bumpStat(func(s *ReminderStats) { s.NoAnswer++ })
		if w.cfg.SMSEnabled {
			w.sendFallbackSMS(ctx, task)
		}
		return
	}

	retryAt := now.Add(w.cfg.RetryDelay)
	w.logger.Info("scheduling reminder retry",
		"task_id", task.ID,
		"retry_at", retryAt.Format(time.RFC3339),
		"attempt", attempts+1)
	w.queueCallAt(task, &retryAt)
}

func (w *ReminderWorkflow) complete(task *ReminderTask, status ReminderStatus, now time.Time) {
	w.mu.Lock()
	task.Status = status
	task.CompletedAt = &now
	w.mu.Unlock()
}

func (w *ReminderWorkflow) bumpStat(f func(*ReminderStats)) {
	w.mu.Lock()
	f(&w.stats)
	w.mu.Unlock()
}

func (w *ReminderWorkflow) sendConfirmationSMS(ctx context.Context, task *ReminderTask) {
	day, date, clockStr := formatSMSTimestamp(task.AppointmentTime)
	body := fmt.Sprintf("%s: Ihr Termin am %s, %s um %s Uhr bei %s ist bestätigt. Bitte kommen Sie 10 Min. vorher.",
		w.cfg.PracticeName, day, date, clockStr, task.ProviderName)
	w.enqueueSMS(ctx, task, body, messaging.TypeConfirmation)
}

func (w *ReminderWorkflow) sendFallbackSMS(ctx context.Context, task *ReminderTask) {
	day, date, clockStr := formatSMSTimestamp(task.AppointmentTime)
	body := fmt.Sprintf("%s: Terminerinnerung - %s, %s um %s Uhr bei %s. Absagen/Umbuchung: %s",
		w.cfg.PracticeName, day, date, clockStr, task.ProviderName, w.cfg.PracticePhone)
	w.enqueueSMS(ctx, task, body, messaging.TypeReminder)
}

func (w *ReminderWorkflow) enqueueSMS(ctx context.Context, task *ReminderTask, body string, msgType messaging.MessageType) {
	if w.sms == nil {
		return
	}
	apptID := task.AppointmentID
	patientID := task.PatientID
	msg := messaging.NewMessage(w.tenantID, task.PatientPhone, w.cfg.FromNumber, body)
	msg.MessageType = msgType
	msg.Reference = "reminder:" + task.ID.String()
	msg.AppointmentID = &apptID
	msg.ContactID = &patientID
	if err := w.sms.Enqueue(ctx, msg); err != nil {
		w.logger.Error("reminder sms enqueue failed", "task_id", task.ID, "error", err)
	}
}

func (w *ReminderWorkflow) audit(ctx context.Context, task *ReminderTask) {
	if w.auditLog == nil {
		return
	}
	patientID := task.PatientID
	details, _ := json.Marshal(map[string]any{
		"task_id":        task.ID.String(),
		"appointment_id": task.AppointmentID.String(),
		"outcome":        task.Outcome,
		"attempts":       task.Attempts,
	})
	if _, err := w.auditLog.Append(ctx, audit.Entry{
		TenantID:     w.tenantID,
		Action:       audit.ActionReminderCallCompleted,
		ActorID:      "reminder_campaign",
		ActorType:    "system",
		ResourceType: "reminder_task",
		ResourceID:   task.ID.String(),
		SubjectID:    &patientID,
		Details:      details,
	}); err != nil {
		w.logger.Error("audit append failed", "error", err)
	}
}

// CancelCampaign marks every in-flight task failed. Running calls finish
// their conversation; the note records why the callback sees failed.
func (w *ReminderWorkflow) CancelCampaign() {
	now := w.clk.Now()
	w.mu.Lock()
	for _, task := range w.tasks {
		if task.Status == ReminderCalling {
			task.Status = ReminderFailed
			task.Notes = "Campaign cancelled"
		}
	}
	w.stats.CompletedAt = &now
	w.mu.Unlock()
	w.logger.Info("reminder campaign cancelled")
}

// Stats returns a copy of the current campaign statistics.
func (w *ReminderWorkflow) Stats() ReminderStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// Task looks up a reminder task by id.
func (w *ReminderWorkflow) Task(id uuid.UUID) (*ReminderTask, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	task, ok := w.tasks[id]
	return task, ok
}

func firstName(full string) string {
	for i := 0; i < len(full); i++ {
		if full[i] == ' ' {
			return full[:i]
		}
	}
	return full
}
