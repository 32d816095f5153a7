package notify

import (
	"context"
	"fmt"
	"mime"
	"net/smtp"
	"strings"
	"time"

	"github.com/itf-gmbh/phone-agent/pkg/logging"
)

// SMTPSender sends email over plain SMTP with STARTTLS. Used for auto
// replies from the practice's own mailbox, where SendGrid would break the
// reply threading.
type SMTPSender struct {
	host      string
	port      int
	username  string
	password  string
	fromEmail string
	fromName  string
	logger    *logging.Logger
}

// SMTPConfig holds connection settings for the outgoing mail server.
type SMTPConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	FromEmail string
	FromName  string
}

func NewSMTPSender(cfg SMTPConfig, logger *logging.Logger) *SMTPSender {
	if cfg.Host == "" {
		return nil
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SMTPSender{
		host:      cfg.Host,
		port:      cfg.Port,
		username:  cfg.Username,
		password:  cfg.Password,
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		logger:    logger.WithComponent("smtp"),
	}
}

func (s *SMTPSender) Send(ctx context.Context, msg EmailMessage) (*SendResult, error) {
	if s == nil {
		return nil, fmt.Errorf("notify: smtp sender not configured")
	}
	if msg.To == "" {
		return nil, fmt.Errorf("notify: smtp: recipient required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	from := s.fromEmail
	if s.fromName != "" {
		from = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", s.fromName), s.fromEmail)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	// Mark the mail as automated so other systems do not reply to it.
	b.WriteString("Auto-Submitted: auto-replied\r\n")
	b.WriteString("Precedence: auto_reply\r\n")
	b.WriteString("X-Autoreply: yes\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.Body)

	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	var auth smtp.Auth
	if s.username != "" {
		auth = smtp.PlainAuth("", s.username, s.password, s.host)
	}
	if err := smtp.SendMail(addr, auth, s.fromEmail, []string{msg.To}, []byte(b.String())); err != nil {
		s.logger.Error("smtp send failed", "error", err, "to", msg.To)
		return nil, fmt.Errorf("notify: smtp send: %w", err)
	}
	s.logger.Info("email sent via smtp", "to", msg.To, "subject", msg.Subject)
	return &SendResult{}, nil
}

var _ EmailSender = (*SMTPSender)(nil)
