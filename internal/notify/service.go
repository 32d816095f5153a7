package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/itf-gmbh/phone-agent/internal/tenancy"
	"github.com/itf-gmbh/phone-agent/pkg/logging"
)

// SMSSender sends short notifications to workers.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// Service fans a task notification out to the assigned worker over the
// channels the routing rule asked for.
type Service struct {
	email  EmailSender
	sms    SMSSender
	logger *logging.Logger
}

func NewService(email EmailSender, sms SMSSender, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{email: email, sms: sms, logger: logger.WithComponent("notify")}
}

// NotifyTaskAssigned tells the worker about a freshly routed task. Channel
// failures are collected, not fatal; the task stays assigned either way.
func (s *Service) NotifyTaskAssigned(ctx context.Context, task *tenancy.Task, worker *tenancy.Worker, channels []string) error {
	if worker == nil {
		return nil
	}
	var errs []error
	for _, channel := range channels {
		switch strings.ToLower(channel) {
		case "sms":
			if s.sms == nil || worker.Phone == "" {
				continue
			}
			if err := s.sms.SendSMS(ctx, worker.Phone, s.smsBody(task)); err != nil {
				s.logger.Error("task sms notification failed", "worker_id", worker.ID, "error", err)
				errs = append(errs, err)
			}
		case "email":
			if s.email == nil || worker.Email == "" {
				continue
			}
			msg := EmailMessage{
				To:      worker.Email,
				ToName:  worker.Name,
				Subject: s.emailSubject(task),
				Body:    s.emailBody(task),
			}
			if _, err := s.email.Send(ctx, msg); err != nil {
				s.logger.Error("task email notification failed", "worker_id", worker.ID, "error", err)
				errs = append(errs, err)
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d notification(s) failed", len(errs))
	}
	return nil
}

// NotifyEscalation warns about a task that sat unhandled past its window.
func (s *Service) NotifyEscalation(ctx context.Context, task *tenancy.Task, worker *tenancy.Worker, reason string) error {
	if worker == nil || s.sms == nil || worker.Phone == "" {
		return nil
	}
	body := fmt.Sprintf("ESKALATION: Auftrag %q wurde noch nicht bearbeitet (%s). Bitte umgehend prüfen.",
		truncate(task.Subject, 60), reason)
	return s.sms.SendSMS(ctx, worker.Phone, body)
}

func (s *Service) smsBody(task *tenancy.Task) string {
	urgency := urgencyLabel(task.Urgency)
	return fmt.Sprintf("Neuer Auftrag (%s): %s. Kunde: %s %s", urgency,
		truncate(task.Subject, 80), task.CustomerName, task.CustomerPhone)
}

func (s *Service) emailSubject(task *tenancy.Task) string {
	return fmt.Sprintf("Neuer Auftrag: %s", truncate(task.Subject, 80))
}

func (s *Service) emailBody(task *tenancy.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Ihnen wurde ein neuer Auftrag zugewiesen.\n\n")
	fmt.Fprintf(&b, "Betreff: %s\n", task.Subject)
	fmt.Fprintf(&b, "Dringlichkeit: %s\n", urgencyLabel(task.Urgency))
	if task.Summary != "" {
		fmt.Fprintf(&b, "Beschreibung: %s\n", task.Summary)
	}
	fmt.Fprintf(&b, "Kunde: %s\n", task.CustomerName)
	if task.CustomerPhone != "" {
		fmt.Fprintf(&b, "Telefon: %s\n", task.CustomerPhone)
	}
	if task.CustomerPLZ != "" {
		fmt.Fprintf(&b, "PLZ: %s\n", task.CustomerPLZ)
	}
	return b.String()
}

func urgencyLabel(u tenancy.Urgency) string {
	switch u {
	case tenancy.UrgencyNotfall:
		return "NOTFALL"
	case tenancy.UrgencyDringend:
		return "dringend"
	case tenancy.UrgencyRoutine:
		return "Routine"
	default:
		return "normal"
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// StubSMSSender is a no-op sender for testing.
type StubSMSSender struct {
	logger *logging.Logger
	Sent   []string
}

func NewStubSMSSender(logger *logging.Logger) *StubSMSSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubSMSSender{logger: logger}
}

func (s *StubSMSSender) SendSMS(_ context.Context, to, body string) error {
	s.Sent = append(s.Sent, to+": "+body)
	s.logger.Info("stub SMS sender: would send", "to", to, "body_preview", truncate(body, 50))
	return nil
}

var _ SMSSender = (*StubSMSSender)(nil)
