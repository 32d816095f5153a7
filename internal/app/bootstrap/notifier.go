package bootstrap

import (
	"context"

	"github.com/google/uuid"

	appconfig "github.com/itf-gmbh/phone-agent/internal/config"
	"github.com/itf-gmbh/phone-agent/internal/messaging"
	"github.com/itf-gmbh/phone-agent/internal/notify"
	"github.com/itf-gmbh/phone-agent/internal/routing"
	"github.com/itf-gmbh/phone-agent/pkg/logging"
)

// workerSMS adapts the tracked SMS pipeline to the short notification
// sends the routing notifier wants. Messages go through the normal
// delivery state machine, so worker pings get retries and receipts too.
type workerSMS struct {
	sender   *messaging.Sender
	tenantID uuid.UUID
	from     string
}

func (w *workerSMS) SendSMS(ctx context.Context, to, body string) error {
	return w.sender.Enqueue(ctx, &messaging.Message{
		ID:          uuid.New(),
		TenantID:    w.tenantID,
		ToNumber:    to,
		FromNumber:  w.from,
		Body:        body,
		MessageType: messaging.TypeNotification,
	})
}

func buildWorkerNotifier(rt *Runtime, cfg *appconfig.Config, logger *logging.Logger) routing.Notifier {
	var email notify.EmailSender
	if rt.EmailSender != nil {
		email = rt.EmailSender
	}
	var sms notify.SMSSender
	if rt.SMSSender != nil {
		sms = &workerSMS{sender: rt.SMSSender, tenantID: rt.TenantID, from: cfg.TwilioFromNumber}
	}
	if email == nil && sms == nil {
		return nil
	}
	return notify.NewService(email, sms, logger)
}
