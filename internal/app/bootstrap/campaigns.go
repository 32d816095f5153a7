package bootstrap

import (
	"github.com/itf-gmbh/phone-agent/internal/campaign"
	"github.com/itf-gmbh/phone-agent/internal/clock"
	appconfig "github.com/itf-gmbh/phone-agent/internal/config"
	"github.com/itf-gmbh/phone-agent/pkg/logging"
)

// buildCampaigns wires the three outbound workflows. They need the
// appointment store, the consent store and the dialer; without a
// database the control surface reports them unconfigured.
func buildCampaigns(rt *Runtime, cfg *appconfig.Config, clk clock.Clock, logger *logging.Logger) {
	if rt.Appointments == nil || rt.Consents == nil {
		return
	}

	var smsQueue campaign.SMSQueue
	if rt.SMSSender != nil {
		smsQueue = rt.SMSSender
	}

	rt.Reminders = campaign.NewReminderWorkflow(rt.TenantID, campaign.ReminderConfig{
		ReminderHoursBefore:    cfg.ReminderHoursBefore,
		MinHoursBefore:         cfg.ReminderMinHoursBefore,
		MaxAttempts:            cfg.ReminderMaxAttempts,
		RetryDelay:             cfg.ReminderRetryDelay,
		SMSAfterFailedAttempts: cfg.ReminderSMSAfterAttempts,
		SMSEnabled:             smsQueue != nil,
		PracticeName:           cfg.PracticeName,
		PracticePhone:          cfg.PracticePhone,
		FromNumber:             cfg.TwilioFromNumber,
	}, rt.Appointments, rt.Appointments, rt.Consents, rt.Dialer, smsQueue, rt.AuditLog, clk, logger)

	rt.Recalls = campaign.NewRecallWorkflow(rt.TenantID, cfg.PracticeName, cfg.TwilioFromNumber,
		rt.Consents, rt.Dialer, smsQueue, rt.AuditLog, clk, logger)

	rt.NoShows = campaign.NewNoShowWorkflow(rt.TenantID, campaign.NoShowConfig{
		MinHoursAfter: cfg.NoShowMinHoursAfter,
		MaxHoursAfter: cfg.NoShowMaxHoursAfter,
		MaxAttempts:   cfg.NoShowMaxAttempts,
		RetryDelay:    cfg.NoShowRetryDelay,
	}, rt.Appointments, rt.Appointments, rt.Consents, rt.Dialer, rt.AuditLog, clk, logger)
}
