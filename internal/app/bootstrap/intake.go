package bootstrap

import (
	"context"
	"fmt"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/itf-gmbh/phone-agent/internal/clock"
	appconfig "github.com/itf-gmbh/phone-agent/internal/config"
	"github.com/itf-gmbh/phone-agent/internal/emailintake"
	"github.com/itf-gmbh/phone-agent/pkg/logging"
)

// BuildEmailClassifier wires the Bedrock-backed classifier. Without a
// model id the classifier still works on its keyword patterns.
func BuildEmailClassifier(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*emailintake.Classifier, error) {
	model := strings.TrimSpace(cfg.BedrockModelID)
	if model == "" {
		logger.Warn("no Bedrock model configured; email classification falls back to keyword patterns")
		return emailintake.NewClassifier(nil, "", logger), nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("bootstrap: load aws config: %w", err)
	}
	return emailintake.NewClassifier(bedrockruntime.NewFromConfig(awsCfg), model, logger), nil
}

// buildEmailIntake wires the IMAP poller when a mailbox, a credential
// key and a task store are all present.
func buildEmailIntake(ctx context.Context, rt *Runtime, cfg *appconfig.Config, clk clock.Clock, logger *logging.Logger) error {
	if cfg.IntakeIMAPHost == "" || cfg.IntakeIMAPUsername == "" {
		return nil
	}
	if rt.Tenants == nil || rt.Routing == nil {
		logger.Warn("email intake configured but no database; intake disabled")
		return nil
	}
	key := strings.TrimSpace(cfg.IntakeCredentialKey)
	if key == "" {
		logger.Warn("INTAKE_CREDENTIAL_KEY missing; email intake disabled")
		return nil
	}
	cipher, err := emailintake.NewCipher([]byte(key))
	if err != nil {
		return fmt.Errorf("bootstrap: intake credential key: %w", err)
	}
	encrypted, err := cipher.Encrypt(cfg.IntakeIMAPPassword)
	if err != nil {
		return fmt.Errorf("bootstrap: encrypt mailbox password: %w", err)
	}

	classifier, err := BuildEmailClassifier(ctx, cfg, logger)
	if err != nil {
		return err
	}

	mailbox := emailintake.MailboxConfig{
		IMAPHost:          cfg.IntakeIMAPHost,
		IMAPPort:          cfg.IntakeIMAPPort,
		Username:          cfg.IntakeIMAPUsername,
		EncryptedPassword: encrypted,
		Folder:            cfg.IntakeIMAPFolder,
		ProcessedFolder:   cfg.IntakeProcessedFolder,
		MarkRead:          cfg.IntakeMarkRead,
		SendAutoReply:     cfg.IntakeAutoReply,
	}
	svc := emailintake.NewService(rt.TenantID, mailbox, &emailintake.IMAPDialer{}, cipher, classifier,
		rt.Tenants, rt.Routing, clk, logger).
		WithInterval(cfg.IntakePollInterval)
	if cfg.IntakeAutoReply && rt.EmailSender != nil {
		if replier, ok := rt.EmailSender.(emailintake.Replier); ok {
			svc = svc.WithReplier(replier)
		}
	}
	rt.Intake = svc
	return nil
}
