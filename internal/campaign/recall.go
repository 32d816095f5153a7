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
	"github.com/itf-gmbh/phone-agent/internal/messaging"
	"github.com/itf-gmbh/phone-agent/pkg/logging"
)

// RecallType categorizes the outreach.
type RecallType string

const (
	RecallPreventive  RecallType = "preventive"  // Vorsorge
	RecallVaccination RecallType = "vaccination" // Impfkampagne
	RecallFollowup    RecallType = "followup"
	RecallChronic     RecallType = "chronic" // DMP
	RecallLabResults  RecallType = "lab_results"
	RecallCustom      RecallType = "custom"
)

// RecallCallStatus is the per-patient state inside a recall campaign.
type RecallCallStatus string

const (
	RecallQueued          RecallCallStatus = "queued"
	RecallCalling         RecallCallStatus = "calling"
	RecallAppointmentMade RecallCallStatus = "appointment_made"
	RecallDeclined        RecallCallStatus = "declined"
	RecallUnreachable     RecallCallStatus = "unreachable"
	RecallRetryScheduled  RecallCallStatus = "retry_scheduled"
	RecallSMSFallback     RecallCallStatus = "sms_fallback"
	RecallNoConsent       RecallCallStatus = "no_consent"
	RecallCompleted       RecallCallStatus = "completed"
)

// RecallCampaign defines one outreach effort.
type RecallCampaign struct {
	ID                  uuid.UUID
	Name                string
	Type                RecallType
	MaxAttempts         int
	DaysBetweenAttempts int
	SMSTemplate         string
	SMSFallback         bool
	Paused              bool
	CreatedAt           time.Time
}

// RecallPatient is one campaign target.
type RecallPatient struct {
	ID          uuid.UUID
	CampaignID  uuid.UUID
	PatientID   uuid.UUID
	FirstName   string
	LastName    string
	Phone       string
	Priority    int // 0..10, higher calls first
	Attempts    int
	NextAttempt *time.Time
	Status      RecallCallStatus

	Outcome       string
	AppointmentID *uuid.UUID
	CompletedAt   *time.Time
}

// RecallStats summarizes a campaign execution.
type RecallStats struct {
	CampaignID       uuid.UUID  `json:"campaign_id"`
	CampaignName     string     `json:"campaign_name"`
	Pending          int        `json:"pending"`
	CallsAttempted   int        `json:"calls_attempted"`
	AppointmentsMade int        `json:"appointments_made"`
	Declined         int        `json:"declined"`
	Unreachable      int        `json:"unreachable"`
	SMSFallbacks     int        `json:"sms_fallbacks"`
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// SuccessRate is appointments made per attempted call.
func (s RecallStats) SuccessRate() float64 {
	if s.CallsAttempted == 0 {
		return 0
	}
	return float64(s.AppointmentsMade) / float64(s.CallsAttempted) * 100
}

type recallResult struct {
	patientKey uuid.UUID
	result     dialer.Result
}

// RecallWorkflow runs recall campaigns: it owns the campaign registry,
// queues calls for due patients, and advances per-patient state from
// call outcomes.
type RecallWorkflow struct {
	tenantID     uuid.UUID
	practiceName string
	fromNumber   string

	consents ConsentChecker
	dials    CallQueue
	sms      SMSQueue
	auditLog *audit.Logger
	clk      clock.Clock
	logger   *logging.Logger

	mu        sync.Mutex
	campaigns map[uuid.UUID]*RecallCampaign
	patients  map[uuid.UUID]*RecallPatient
	stats     map[uuid.UUID]*RecallStats

	results chan recallResult
}

func NewRecallWorkflow(tenantID uuid.UUID, practiceName, fromNumber string, consents ConsentChecker, dials CallQueue, sms SMSQueue, auditLog *audit.Logger, clk clock.Clock, logger *logging.Logger) *RecallWorkflow {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	if practiceName == "" {
		practiceName = "Ihre Arztpraxis"
	}
	return &RecallWorkflow{
		tenantID:     tenantID,
		practiceName: practiceName,
		fromNumber:   fromNumber,
		consents:     consents,
		dials:        dials,
		sms:          sms,
		auditLog:     auditLog,
		clk:          clk,
		logger:       logger.WithComponent("recall_campaign").WithTenant(tenantID.String()),
		campaigns:    make(map[uuid.UUID]*RecallCampaign),
		patients:     make(map[uuid.UUID]*RecallPatient),
		stats:        make(map[uuid.UUID]*RecallStats),
		results:      make(chan recallResult, 64),
	}
}

// Run drains call results until the context ends.
func (w *RecallWorkflow) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case res := <-w.results:
			w.handleResult(ctx, res)
		}
	}
}

// AddCampaign registers a campaign definition.
func (w *RecallWorkflow) AddCampaign(c *RecallCampaign) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.DaysBetweenAttempts <= 0 {
		c.DaysBetweenAttempts = 7
	}
	c.CreatedAt = w.clk.Now()
	w.mu.Lock()
	w.campaigns[c.ID] = c
	w.mu.Unlock()
}

// AddPatients registers targets for a campaign.
func (w *RecallWorkflow) AddPatients(campaignID uuid.UUID, targets []*RecallPatient) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, p := range targets {
		if p.ID == uuid.Nil {
			p.ID = uuid.New()
		}
		p.CampaignID = campaignID
		if p.Status == "" {
			p.Status = RecallQueued
		}
		w.patients[p.ID] = p
	}
}

// StartCalling queues calls for every due patient in the campaign.
// maxCalls caps the number of calls queued in this run; zero means no
// cap. Targets left over stay queued for the next run.
func (w *RecallWorkflow) StartCalling(ctx context.Context, campaignID uuid.UUID, maxCalls int) (RecallStats, error) {
	now := w.clk.Now()

	w.mu.Lock()
	campaign, ok := w.campaigns[campaignID]
	if !ok {
		w.mu.Unlock()
		return RecallStats{}, fmt.Errorf("%w %s", ErrUnknownCampaign, campaignID)
	}
	if campaign.Paused {
		w.mu.Unlock()
		return RecallStats{}, fmt.Errorf("campaign: recall campaign %s is paused", campaignID)
	}
	stats := &RecallStats{
		CampaignID:   campaignID,
		CampaignName: campaign.Name,
		StartedAt:    now,
	}
	w.stats[campaignID] = stats

	var due []*RecallPatient
	for _, p := range w.patients {
		if p.CampaignID != campaignID {
			continue
		}
		if p.Status != RecallQueued && p.Status != RecallRetryScheduled {
			continue
		}
		if p.NextAttempt != nil && p.NextAttempt.After(now) {
			continue
		}
		if p.Attempts >= campaign.MaxAttempts {
			p.Status = RecallUnreachable
			stats.Unreachable++
			continue
		}
		due = append(due, p)
	}
	stats.Pending = len(due)
	w.mu.Unlock()

	queued := 0
	for _, p := range due {
		if maxCalls > 0 && queued >= maxCalls {
			break
		}
		ok, err := w.consents.Check(ctx, w.tenantID, p.PatientID, consent.PhoneContact)
		if err != nil || !ok {
			w.mu.Lock()
			p.Status = RecallNoConsent
			stats.Pending--
			w.mu.Unlock()
			if err != nil {
				w.logger.Error("recall consent check failed", "patient_id", p.PatientID, "error", err)
				continue
			}
			auditConsentMiss(ctx, w.auditLog, w.logger, w.tenantID, p.PatientID,
				"recall_campaign", "recall_target", p.ID.String())
			w.logger.Info("skipping recall target, no phone consent", "patient_id", p.PatientID)
			continue
		}
		w.queueRecallCall(campaign, p)
		queued++
	}

	w.logger.Info("recall calling started",
		"campaign_id", campaignID,
		"campaign_name", campaign.Name,
		"due", len(due),
		"queued", queued)
	return *stats, nil
}

func (w *RecallWorkflow) queueRecallCall(campaign *RecallCampaign, p *RecallPatient) {
	key := p.ID
	w.dials.QueueCall(dialer.QueuedCall{
		TenantID:  w.tenantID,
		PatientID: p.PatientID,
		Phone:     p.Phone,
		CallType:  string(conversation.CampaignRecall),
		Priority:  recallPriority(p.Priority),
		Metadata: map[string]string{
			"workflow":           "recall_campaign",
			"campaign_id":        campaign.ID.String(),
			"recall_type":        string(campaign.Type),
			"patient_name":       p.FirstName + " " + p.LastName,
			"patient_first_name": p.FirstName,
		},
		Callback: func(r dialer.Result) {
			w.results <- recallResult{patientKey: key, result: r}
		},
	})

	w.mu.Lock()
	p.Status = RecallCalling
	w.mu.Unlock()
}

func (w *RecallWorkflow) handleResult(ctx context.Context, res recallResult) {
	now := w.clk.Now()

	w.mu.Lock()
	p, ok := w.patients[res.patientKey]
	if !ok {
		w.mu.Unlock()
		w.logger.Warn("result for unknown recall target", "target_id", res.patientKey)
		return
	}
	campaign := w.campaigns[p.CampaignID]
	stats := w.stats[p.CampaignID]
	p.Attempts++
	p.Outcome = res.result.Outcome
	if stats != nil {
		stats.CallsAttempted++
		if stats.Pending > 0 {
			stats.Pending--
		}
	}
	w.mu.Unlock()

	switch res.result.Outcome {
	case string(conversation.OutcomeAppointmentMade), string(conversation.OutcomeAppointmentConfirmed):
		w.finishPatient(p, RecallAppointmentMade, now)
		w.bumpRecallStat(p.CampaignID, func(s *RecallStats) { s.AppointmentsMade++ })

	case string(conversation.OutcomeDeclined):
		w.finishPatient(p, RecallDeclined, now)
		w.bumpRecallStat(p.CampaignID, func(s *RecallStats) { s.Declined++ })

	case dialer.OutcomeNoAnswer:
		if campaign != nil && p.Attempts < campaign.MaxAttempts {
			next := now.AddDate(0, 0, campaign.DaysBetweenAttempts)
			w.mu.Lock()
			p.Status = RecallRetryScheduled
			p.NextAttempt = &next
			w.mu.Unlock()
			w.logger.Info("recall target unreachable, retry scheduled",
				"target_id", p.ID, "next_attempt", next.Format("2006-01-02"))
		} else {
			w.finishPatient(p, RecallUnreachable, now)
			w.bumpRecallStat(p.CampaignID, func(s *RecallStats) { s.Unreachable++ })
			if campaign != nil && campaign.SMSFallback {
				w.sendRecallSMS(ctx, campaign, p)
			}
		}

	default:
		w.finishPatient(p, RecallCompleted, now)
		w.bumpRecallStat(p.CampaignID, func(s *RecallStats) { s.Unreachable++ })
	}

	w.auditRecall(ctx, campaign, p)
	w.logger.Info("recall call completed",
		"target_id", p.ID,
		"status", string(p.Status),
		"outcome", res.result.Outcome,
		"attempts", p.Attempts)
}

func (w *RecallWorkflow) finishPatient(p *RecallPatient, status RecallCallStatus, now time.Time) {
	w.mu.Lock()
	p.Status = status
	p.CompletedAt = &now
	w.mu.Unlock()
}

func (w *RecallWorkflow) bumpRecallStat(campaignID uuid.UUID, f func(*RecallStats)) {
	w.mu.Lock()
	if s, ok := w.stats[campaignID]; ok {
		f(s)
	}
	w.mu.Unlock()
}

// sendRecallSMS renders the campaign template. Placeholders follow the
// campaign editor convention: {practice_name}, {first_name}, {last_name}.
func (w *RecallWorkflow) sendRecallSMS(ctx context.Context, campaign *RecallCampaign, p *RecallPatient) {
	if w.sms == nil || campaign.SMSTemplate == "" {
		return
	}
	body := strings.NewReplacer(
		"{practice_name}", w.practiceName,
		"{first_name}", p.FirstName,
		"{last_name}", p.LastName,
	).Replace(campaign.SMSTemplate)

	patientID := p.PatientID
	msg := messaging.NewMessage(w.tenantID, p.Phone, w.fromNumber, body)
	msg.MessageType = messaging.TypeNotification
	msg.Reference = "recall:" + p.ID.String()
	msg.ContactID = &patientID
	if err := w.sms.Enqueue(ctx, msg); err != nil {
		w.logger.Error("recall sms enqueue failed", "target_id", p.ID, "error", err)
		return
	}
	w.mu.Lock()
	p.Status = RecallSMSFallback
	w.mu.Unlock()
	w.bumpRecallStat(campaign.ID, func(s *RecallStats) { s.SMSFallbacks++ })
}

func (w *RecallWorkflow) auditRecall(ctx context.Context, campaign *RecallCampaign, p *RecallPatient) {
	if w.auditLog == nil {
		return
	}
	patientID := p.PatientID
	detail := map[string]any{
		"target_id": p.ID.String(),
		"outcome":   p.Outcome,
		"attempts":  p.Attempts,
	}
	if campaign != nil {
		detail["campaign_id"] = campaign.ID.String()
		detail["recall_type"] = string(campaign.Type)
	}
	details, _ := json.Marshal(detail)
	if _, err := w.auditLog.Append(ctx, audit.Entry{
		TenantID:     w.tenantID,
		Action:       audit.ActionRecallCallCompleted,
		ActorID:      "recall_campaign",
		ActorType:    "system",
		ResourceType: "recall_target",
		ResourceID:   p.ID.String(),
		SubjectID:    &patientID,
		Details:      details,
	}); err != nil {
		w.logger.Error("audit append failed", "error", err)
	}
}

// PauseCampaign stops new calls from being queued. In-flight calls
// finish normally.
func (w *RecallWorkflow) PauseCampaign(campaignID uuid.UUID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	c, ok := w.campaigns[campaignID]
	if !ok {
		return false
	}
	c.Paused = true
	return true
}

// ResumeCampaign allows calling again after a pause.
func (w *RecallWorkflow) ResumeCampaign(campaignID uuid.UUID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	c, ok := w.campaigns[campaignID]
	if !ok {
		return false
	}
	c.Paused = false
	return true
}

// Stats returns the execution stats for a campaign.
func (w *RecallWorkflow) Stats(campaignID uuid.UUID) (RecallStats, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.stats[campaignID]
	if !ok {
		return RecallStats{}, false
	}
	return *s, true
}

// Target looks up a campaign target by id.
func (w *RecallWorkflow) Target(id uuid.UUID) (*RecallPatient, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.patients[id]
	return p, ok
}

// recallPriority maps the 0..10 patient priority onto dial priorities.
func recallPriority(priority int) dialer.Priority {
	switch {
	case priority >= 8:
		return dialer.PriorityUrgent
	case priority >= 6:
		return dialer.PriorityHigh
	case priority >= 4:
		return dialer.PriorityNormal
	default:
		return dialer.PriorityLow
	}
}
