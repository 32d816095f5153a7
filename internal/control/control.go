// Package control is the command surface a transport layer exposes:
// every operation an operator or an admin UI may trigger, bundled in
// one facade with validation, so the HTTP handlers stay thin.
package control

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/itf-gmbh/phone-agent/internal/campaign"
	"github.com/itf-gmbh/phone-agent/internal/clock"
	"github.com/itf-gmbh/phone-agent/internal/dialer"
	"github.com/itf-gmbh/phone-agent/internal/messaging"
	"github.com/itf-gmbh/phone-agent/internal/notify"
	"github.com/itf-gmbh/phone-agent/pkg/logging"
)

var (
	ErrInvalidDate      = errors.New("control: invalid target date")
	ErrNotConfigured    = errors.New("control: component not configured")
	ErrCampaignNotFound = errors.New("control: campaign not found")
)

// Controller wires the campaign workflows, the dialer and the webhook
// processors behind a uniform command API.
type Controller struct {
	reminders *campaign.ReminderWorkflow
	recalls   *campaign.RecallWorkflow
	noShows   *campaign.NoShowWorkflow
	dials     *dialer.Dialer

	smsHooks   *messaging.WebhookProcessor
	emailHooks *notify.SendGridWebhookProcessor

	clk    clock.Clock
	logger *logging.Logger
}

func NewController(clk clock.Clock, logger *logging.Logger) *Controller {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Controller{clk: clk, logger: logger.WithComponent("control")}
}

func (c *Controller) WithReminders(w *campaign.ReminderWorkflow) *Controller {
	c.reminders = w
	return c
}

func (c *Controller) WithRecalls(w *campaign.RecallWorkflow) *Controller {
	c.recalls = w
	return c
}

func (c *Controller) WithNoShows(w *campaign.NoShowWorkflow) *Controller {
	c.noShows = w
	return c
}

func (c *Controller) WithDialer(d *dialer.Dialer) *Controller {
	c.dials = d
	return c
}

func (c *Controller) WithSMSWebhooks(p *messaging.WebhookProcessor) *Controller {
	c.smsHooks = p
	return c
}

func (c *Controller) WithEmailWebhooks(p *notify.SendGridWebhookProcessor) *Controller {
	c.emailHooks = p
	return c
}

// StartReminderCampaign queues reminder calls for the target date.
// A zero date means tomorrow. Dates in the past are rejected.
func (c *Controller) StartReminderCampaign(ctx context.Context, targetDate time.Time) (campaign.ReminderStats, error) {
	if c.reminders == nil {
		return campaign.ReminderStats{}, ErrNotConfigured
	}
	now := c.clk.Now()
	if targetDate.IsZero() {
		targetDate = now.AddDate(0, 0, 1)
	}
	if targetDate.Before(now.Truncate(24 * time.Hour)) {
		return campaign.ReminderStats{}, fmt.Errorf("%w: %s is in the past", ErrInvalidDate, targetDate.Format("2006-01-02"))
	}
	return c.reminders.StartCampaign(ctx, targetDate)
}

func (c *Controller) ReminderStats() (campaign.ReminderStats, error) {
	if c.reminders == nil {
		return campaign.ReminderStats{}, ErrNotConfigured
	}
	return c.reminders.Stats(), nil
}

func (c *Controller) CancelReminderCampaign() error {
	if c.reminders == nil {
		return ErrNotConfigured
	}
	c.reminders.CancelCampaign()
	return nil
}

// StartRecallCalling begins calling the due targets of one recall
// campaign. maxCalls caps this run; zero means no cap.
func (c *Controller) StartRecallCalling(ctx context.Context, campaignID uuid.UUID, maxCalls int) (campaign.RecallStats, error) {
	if c.recalls == nil {
		return campaign.RecallStats{}, ErrNotConfigured
	}
	stats, err := c.recalls.StartCalling(ctx, campaignID, maxCalls)
	if errors.Is(err, campaign.ErrUnknownCampaign) {
		return campaign.RecallStats{}, fmt.Errorf("%w: %s", ErrCampaignNotFound, campaignID)
	}
	return stats, err
}

func (c *Controller) PauseRecall(campaignID uuid.UUID) (bool, error) {
	if c.recalls == nil {
		return false, ErrNotConfigured
	}
	return c.recalls.PauseCampaign(campaignID), nil
}

func (c *Controller) ResumeRecall(campaignID uuid.UUID) (bool, error) {
	if c.recalls == nil {
		return false, ErrNotConfigured
	}
	return c.recalls.ResumeCampaign(campaignID), nil
}

func (c *Controller) RecallStats(campaignID uuid.UUID) (campaign.RecallStats, error) {
	if c.recalls == nil {
		return campaign.RecallStats{}, ErrNotConfigured
	}
	stats, ok := c.recalls.Stats(campaignID)
	if !ok {
		return campaign.RecallStats{}, ErrCampaignNotFound
	}
	return stats, nil
}

// ProcessNoShows runs one missed-appointment scan. The run overrides
// narrow the window for this invocation only.
func (c *Controller) ProcessNoShows(ctx context.Context, run campaign.NoShowRun) (campaign.NoShowStats, error) {
	if c.noShows == nil {
		return campaign.NoShowStats{}, ErrNotConfigured
	}
	return c.noShows.ProcessNoShows(ctx, run)
}

// CallQueue returns the pending calls in dispatch order plus the
// dialer counters.
func (c *Controller) CallQueue() ([]dialer.QueuedCall, dialer.Stats, error) {
	if c.dials == nil {
		return nil, dialer.Stats{}, ErrNotConfigured
	}
	return c.dials.Snapshot(), c.dials.Stats(), nil
}

func (c *Controller) PauseDialer() error {
	if c.dials == nil {
		return ErrNotConfigured
	}
	c.dials.Pause()
	c.logger.Info("dialer paused via control surface")
	return nil
}

func (c *Controller) ResumeDialer() error {
	if c.dials == nil {
		return ErrNotConfigured
	}
	c.dials.Resume()
	c.logger.Info("dialer resumed via control surface")
	return nil
}

func (c *Controller) CancelQueuedCall(callID uuid.UUID) (bool, error) {
	if c.dials == nil {
		return false, ErrNotConfigured
	}
	return c.dials.CancelCall(callID), nil
}

func (c *Controller) ClearCallQueue() (int, error) {
	if c.dials == nil {
		return 0, ErrNotConfigured
	}
	cleared := c.dials.ClearQueue()
	c.logger.Info("call queue cleared via control surface", "cancelled", cleared)
	return cleared, nil
}

// HandleSMSWebhook drives the SMS delivery state machine from a
// provider status callback.
func (c *Controller) HandleSMSWebhook(ctx context.Context, hook *messaging.TwilioStatusWebhook) (*messaging.WebhookOutcome, error) {
	if c.smsHooks == nil {
		return nil, ErrNotConfigured
	}
	return c.smsHooks.ProcessStatus(ctx, hook)
}

// HandleEmailWebhook drives the email delivery state machine from a
// provider event batch.
func (c *Controller) HandleEmailWebhook(ctx context.Context, events []notify.SendGridEvent) ([]notify.EventOutcome, error) {
	if c.emailHooks == nil {
		return nil, ErrNotConfigured
	}
	return c.emailHooks.ProcessBatch(ctx, events), nil
}
