package bootstrap

import (
	"context"
	"fmt"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	"github.com/itf-gmbh/phone-agent/internal/clock"
	appconfig "github.com/itf-gmbh/phone-agent/internal/config"
	"github.com/itf-gmbh/phone-agent/internal/messaging"
	"github.com/itf-gmbh/phone-agent/internal/notify"
	"github.com/itf-gmbh/phone-agent/pkg/logging"
)

// buildSMSPipeline wires the SMS store, sender and webhook processor.
// Without a database there is nothing to track, so the whole pipeline
// stays off.
func buildSMSPipeline(rt *Runtime, cfg *appconfig.Config, clk clock.Clock, logger *logging.Logger) {
	if rt.Pool == nil {
		return
	}
	gateway, provider, reason := messaging.BuildGateway(messaging.ProviderSelectionConfig{
		Preference:        cfg.SMSProvider,
		TwilioAccountSID:  cfg.TwilioAccountSID,
		TwilioAuthToken:   cfg.TwilioAuthToken,
		StatusCallbackURL: TwilioStatusCallbackURL(cfg),
		SipgateToken:      cfg.SipgateToken,
		SipgateSMSID:      cfg.SipgateSMSID,
	}, clk, logger)

	rt.SMSStore = messaging.NewStore(rt.Pool, clk)
	rt.SMSWebhooks = messaging.NewWebhookProcessor(rt.SMSStore, clk, logger, cfg.SMSRetryBaseDelay, cfg.SMSRetryMaxDelay)

	if gateway == nil {
		logger.Warn("sms sending disabled", "reason", reason)
		return
	}
	rt.SMSProvider = provider
	rt.SMSSender = messaging.NewSender(rt.SMSStore, gateway, rt.AuditLog, clk, logger, cfg.SMSRetryBaseDelay, cfg.SMSRetryMaxDelay)
	logger.Info("sms pipeline ready", "provider", provider)
}

// TwilioStatusCallbackURL is the public URL Twilio both posts to and
// signs against. Signature validation breaks when they diverge.
func TwilioStatusCallbackURL(cfg *appconfig.Config) string {
	base := strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/")
	if base == "" {
		return ""
	}
	return base + "/webhooks/twilio/sms-status"
}

// buildEmailPipeline wires the email store, dispatcher and SendGrid
// event processor.
func buildEmailPipeline(ctx context.Context, rt *Runtime, cfg *appconfig.Config, clk clock.Clock, logger *logging.Logger) error {
	if rt.Pool == nil {
		return nil
	}
	sender, provider, err := BuildEmailSender(ctx, cfg, logger)
	if err != nil {
		return err
	}

	rt.EmailStore = notify.NewStore(rt.Pool, clk)
	rt.EmailWebhooks = notify.NewSendGridWebhookProcessor(rt.EmailStore, clk, logger, cfg.SMSRetryBaseDelay, cfg.SMSRetryMaxDelay)

	if sender == nil {
		logger.Warn("email sending disabled; no provider configured")
		return nil
	}
	rt.EmailSender = sender
	rt.EmailProvider = provider
	rt.EmailQueue = notify.NewDispatcher(rt.EmailStore, sender, provider, rt.AuditLog, clk, logger, cfg.SMSRetryBaseDelay, cfg.SMSRetryMaxDelay)
	logger.Info("email pipeline ready", "provider", provider)
	return nil
}

// BuildEmailSender picks the outgoing email gateway from config. The
// stub provider is explicit; an unconfigured real provider returns nil.
func BuildEmailSender(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (notify.EmailSender, string, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.EmailProvider))
	switch provider {
	case "", "sendgrid":
		sender := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger)
		if sender == nil {
			return nil, "", nil
		}
		return sender, "sendgrid", nil
	case "ses":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.SESRegion))
		if err != nil {
			return nil, "", fmt.Errorf("bootstrap: load aws config for ses: %w", err)
		}
		sender := notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger)
		if sender == nil {
			return nil, "", nil
		}
		return sender, "ses", nil
	case "smtp":
		sender := notify.NewSMTPSender(notify.SMTPConfig{
			Host:      cfg.SMTPHost,
			Port:      cfg.SMTPPort,
			Username:  cfg.SMTPUser,
			Password:  cfg.SMTPPassword,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger)
		if sender == nil {
			return nil, "", nil
		}
		return sender, "smtp", nil
	case "stub":
		return notify.NewStubEmailSender(logger), "stub", nil
	default:
		return nil, "", fmt.Errorf("bootstrap: unknown email provider %q", provider)
	}
}
