// Package emailintake turns a tenant's mailbox into routed tasks. A
// polling loop fetches unread mail over IMAP, classifies each message,
// creates a task, hands it to the routing engine, and answers the
// customer with a ticket number.
package emailintake

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/itf-gmbh/phone-agent/internal/clock"
	"github.com/itf-gmbh/phone-agent/internal/notify"
	"github.com/itf-gmbh/phone-agent/internal/routing"
	"github.com/itf-gmbh/phone-agent/internal/tenancy"
	"github.com/itf-gmbh/phone-agent/pkg/logging"
)

const defaultPollInterval = 2 * time.Minute

// TaskStore persists new tasks.
type TaskStore interface {
	InsertTask(ctx context.Context, q tenancy.Querier, task *tenancy.Task) error
}

// Router assigns a freshly created task.
type Router interface {
	RouteTask(ctx context.Context, task *tenancy.Task) (*routing.Decision, error)
}

// Replier sends the auto-reply. notify.SMTPSender satisfies this.
type Replier interface {
	Send(ctx context.Context, msg notify.EmailMessage) (*notify.SendResult, error)
}

// ProcessedEmail is the result of handling one inbound message.
type ProcessedEmail struct {
	MessageID     string
	TaskID        *uuid.UUID
	TicketNumber  string
	TaskType      string
	Urgency       string
	AutoReplySent bool
	Skipped       string // non-empty when no task was created
}

// Service processes one tenant's mailbox.
type Service struct {
	tenantID   uuid.UUID
	cfg        MailboxConfig
	interval   time.Duration
	dialer     MailboxDialer
	cipher     *Cipher
	classifier *Classifier
	tasks      TaskStore
	router     Router
	replier    Replier
	clk        clock.Clock
	logger     *logging.Logger
}

func NewService(tenantID uuid.UUID, cfg MailboxConfig, dialer MailboxDialer, cipher *Cipher, classifier *Classifier, tasks TaskStore, router Router, clk clock.Clock, logger *logging.Logger) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		tenantID:   tenantID,
		cfg:        cfg,
		interval:   defaultPollInterval,
		dialer:     dialer,
		cipher:     cipher,
		classifier: classifier,
		tasks:      tasks,
		router:     router,
		clk:        clk,
		logger:     logger.WithComponent("email_intake").WithTenant(tenantID.String()),
	}
}

// WithReplier enables auto-replies through the given sender.
func (s *Service) WithReplier(r Replier) *Service {
	s.replier = r
	return s
}

// WithInterval overrides the poll interval.
func (s *Service) WithInterval(d time.Duration) *Service {
	if d > 0 {
		s.interval = d
	}
	return s
}

// Run polls until the context ends. A failed poll logs and waits one
// interval before the next try.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("email intake started",
		"imap_host", s.cfg.IMAPHost,
		"interval", s.interval.String())
	for {
		if _, err := s.PollOnce(ctx); err != nil {
			s.logger.Error("mailbox poll failed", "error", err)
		}
		select {
		case <-ctx.Done():
			s.logger.Info("email intake stopped")
			return
		case <-ticker.C:
		}
	}
}

// PollOnce fetches and processes everything unread. Also the manual
// trigger behind the control surface.
func (s *Service) PollOnce(ctx context.Context) ([]ProcessedEmail, error) {
	password, err := s.cipher.Decrypt(s.cfg.EncryptedPassword)
	if err != nil {
		return nil, fmt.Errorf("emailintake: decrypt mailbox password: %w", err)
	}

	box, err := s.dialer.Dial(ctx, s.cfg, password)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := box.Close(); err != nil {
			s.logger.Warn("mailbox close failed", "error", err)
		}
	}()

	raws, err := box.FetchUnread(ctx)
	if err != nil {
		return nil, err
	}

	var results []ProcessedEmail
	for _, raw := range raws {
		result, err := s.processMessage(ctx, raw)
		if err != nil {
			s.logger.Error("email processing failed", "seq", raw.SeqNum, "error", err)
			continue
		}
		results = append(results, *result)
		if err := box.MarkProcessed(ctx, raw.SeqNum); err != nil {
			s.logger.Warn("mark processed failed", "seq", raw.SeqNum, "error", err)
		}
	}
	return results, nil
}

func (s *Service) processMessage(ctx context.Context, raw RawMessage) (*ProcessedEmail, error) {
	parsed, err := ParseMessage(bytes.NewReader(raw.Body))
	if err != nil {
		return nil, err
	}

	cls, err := s.classifier.Classify(ctx, parsed)
	if err != nil {
		return nil, err
	}

	result := &ProcessedEmail{
		MessageID: parsed.MessageID,
		TaskType:  cls.TaskType,
		Urgency:   cls.Urgency,
	}

	if cls.TaskType == "spam" {
		result.Skipped = "spam"
		s.logger.Info("skipping spam email", "subject", parsed.Subject)
		return result, nil
	}

	task := s.buildTask(parsed, cls)
	if err := s.tasks.InsertTask(ctx, nil, task); err != nil {
		return nil, err
	}
	taskID := task.ID
	result.TaskID = &taskID

	if _, err := s.router.RouteTask(ctx, task); err != nil {
		// The task exists and stays routable; routing retries later.
		s.logger.Error("routing failed for email task", "task_id", task.ID, "error", err)
	}

	if s.cfg.SendAutoReply && s.replier != nil {
		if parsed.AutoSubmitted {
			s.logger.Info("suppressing auto-reply to automated mail", "message_id", parsed.MessageID)
		} else {
			result.TicketNumber = s.ticketNumber()
			if err := s.sendAutoReply(ctx, parsed, cls, result.TicketNumber); err != nil {
				s.logger.Warn("auto-reply failed", "error", err)
			} else {
				result.AutoReplySent = true
			}
		}
	}

	s.logger.Info("email processed",
		"message_id", parsed.MessageID,
		"task_id", task.ID,
		"task_type", cls.TaskType,
		"urgency", cls.Urgency,
		"confidence", cls.Confidence)
	return result, nil
}

func (s *Service) buildTask(parsed *ParsedEmail, cls *Classification) *tenancy.Task {
	subject := parsed.Subject
	if subject == "" {
		subject = "E-Mail-Anfrage"
	}
	summary := parsed.TextBody
	if len(summary) > 2000 {
		summary = summary[:2000]
	}
	customerName := cls.CustomerName
	if customerName == "" {
		customerName = parsed.SenderName
	}
	return &tenancy.Task{
		ID:            uuid.New(),
		TenantID:      s.tenantID,
		SourceType:    tenancy.SourceEmail,
		SourceID:      parsed.MessageID,
		TaskType:      cls.TaskType,
		Urgency:       tenancy.Urgency(cls.Urgency),
		TradeCategory: cls.TradeCategory,
		CustomerName:  customerName,
		CustomerEmail: parsed.SenderEmail,
		CustomerPhone: cls.CustomerPhone,
		CustomerPLZ:   cls.CustomerPLZ,
		Subject:       subject,
		Summary:       summary,
		Status:        tenancy.TaskNew,
	}
}

// ticketNumber is the human-facing reference in the auto-reply, e.g.
// TKT-20260824-3FA2B1.
func (s *Service) ticketNumber() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return fmt.Sprintf("TKT-%s-%s", s.clk.Now().Format("20060102"), suffix)
}

func (s *Service) sendAutoReply(ctx context.Context, parsed *ParsedEmail, cls *Classification, ticket string) error {
	template, ok := autoReplyTemplates[cls.Urgency]
	if !ok {
		return nil
	}
	customerName := cls.CustomerName
	if customerName == "" {
		customerName = parsed.SenderName
	}
	if customerName == "" {
		customerName = "Kunde"
	}
	companyName := s.cfg.CompanyName
	if companyName == "" {
		companyName = "Ihr Handwerksbetrieb"
	}
	body := strings.NewReplacer(
		"{customer_name}", customerName,
		"{ticket_number}", ticket,
		"{company_name}", companyName,
		"{emergency_phone}", s.cfg.EmergencyPhone,
	).Replace(template)

	subject := "Ihre Anfrage"
	if parsed.Subject != "" {
		subject = "Re: " + parsed.Subject
	}
	_, err := s.replier.Send(ctx, notify.EmailMessage{
		To:      parsed.SenderEmail,
		ToName:  parsed.SenderName,
		Subject: subject,
		Body:    body,
	})
	return err
}

// autoReplyTemplates by urgency, in the customer's language.
var autoReplyTemplates = map[string]string{
	"notfall": `Sehr geehrte/r {customer_name},

vielen Dank für Ihre Nachricht.

Wir haben Ihre Anfrage als DRINGLICH eingestuft und werden uns schnellstmöglich bei Ihnen melden.

Bei einem akuten Notfall (Gasgeruch, Wasserrohrbruch) rufen Sie bitte sofort unsere Notfall-Hotline an: {emergency_phone}

Ihre Auftragsnummer: {ticket_number}

Mit freundlichen Grüßen
{company_name}`,

	"dringend": `Sehr geehrte/r {customer_name},

vielen Dank für Ihre Nachricht.

Wir haben Ihre Anfrage erhalten und werden uns innerhalb der nächsten 24 Stunden bei Ihnen melden.

Ihre Auftragsnummer: {ticket_number}

Mit freundlichen Grüßen
{company_name}`,

	"normal": `Sehr geehrte/r {customer_name},

vielen Dank für Ihre Anfrage.

Wir werden uns zeitnah bei Ihnen melden, um Ihr Anliegen zu besprechen.

Ihre Auftragsnummer: {ticket_number}

Mit freundlichen Grüßen
{company_name}`,

	"routine": `Sehr geehrte/r {customer_name},

vielen Dank für Ihre Anfrage.

Wir haben Ihre Nachricht erhalten und werden uns innerhalb der nächsten Werktage bei Ihnen melden.

Ihre Auftragsnummer: {ticket_number}

Mit freundlichen Grüßen
{company_name}`,
}
