package emailintake

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

// MailboxConfig holds a tenant's IMAP and reply settings. Passwords are
// stored encrypted; the poller decrypts through its Cipher on connect.
type MailboxConfig struct {
	IMAPHost          string
	IMAPPort          int
	Username          string
	EncryptedPassword string
	Folder            string
	ProcessedFolder   string
	MarkRead          bool
	SendAutoReply     bool

	CompanyName    string
	EmergencyPhone string
	ReplyFrom      string
}

// RawMessage is one fetched, unread message.
type RawMessage struct {
	SeqNum uint32
	Body   []byte
}

// Mailbox is one open IMAP session.
type Mailbox interface {
	// FetchUnread returns the unread messages in the configured folder.
	FetchUnread(ctx context.Context) ([]RawMessage, error)
	// MarkProcessed flags the message seen and moves it to the
	// processed folder when one is configured.
	MarkProcessed(ctx context.Context, seqNum uint32) error
	Close() error
}

// MailboxDialer opens mailboxes. Swappable so tests run without an
// IMAP server.
type MailboxDialer interface {
	Dial(ctx context.Context, cfg MailboxConfig, password string) (Mailbox, error)
}

// IMAPDialer connects over IMAP with TLS.
type IMAPDialer struct {
	// TLSConfig overrides the default TLS settings, mainly for tests.
	TLSConfig *tls.Config
}

func (d *IMAPDialer) Dial(_ context.Context, cfg MailboxConfig, password string) (Mailbox, error) {
	port := cfg.IMAPPort
	if port == 0 {
		port = 993
	}
	addr := fmt.Sprintf("%s:%d", cfg.IMAPHost, port)
	c, err := client.DialTLS(addr, d.TLSConfig)
	if err != nil {
		return nil, fmt.Errorf("emailintake: dial %s: %w", addr, err)
	}
	if err := c.Login(cfg.Username, password); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("emailintake: login %s: %w", cfg.Username, err)
	}
	folder := cfg.Folder
	if folder == "" {
		folder = "INBOX"
	}
	return &imapMailbox{client: c, cfg: cfg, folder: folder}, nil
}

type imapMailbox struct {
	client *client.Client
	cfg    MailboxConfig
	folder string
}

func (m *imapMailbox) FetchUnread(_ context.Context) ([]RawMessage, error) {
	if _, err := m.client.Select(m.folder, false); err != nil {
		return nil, fmt.Errorf("emailintake: select %s: %w", m.folder, err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	seqNums, err := m.client.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("emailintake: search unseen: %w", err)
	}
	if len(seqNums) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(seqNums...)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem()}

	messages := make(chan *imap.Message, len(seqNums))
	done := make(chan error, 1)
	go func() {
		done <- m.client.Fetch(seqset, items, messages)
	}()

	var out []RawMessage
	for msg := range messages {
		literal := msg.GetBody(section)
		if literal == nil {
			continue
		}
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, literal); err != nil {
			continue
		}
		out = append(out, RawMessage{SeqNum: msg.SeqNum, Body: buf.Bytes()})
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("emailintake: fetch: %w", err)
	}
	return out, nil
}

func (m *imapMailbox) MarkProcessed(_ context.Context, seqNum uint32) error {
	seqset := new(imap.SeqSet)
	seqset.AddNum(seqNum)

	if m.cfg.MarkRead {
		flags := []interface{}{imap.SeenFlag}
		if err := m.client.Store(seqset, imap.FormatFlagsOp(imap.AddFlags, true), flags, nil); err != nil {
			return fmt.Errorf("emailintake: mark seen: %w", err)
		}
	}
	if m.cfg.ProcessedFolder != "" {
		if err := m.client.Copy(seqset, m.cfg.ProcessedFolder); err != nil {
			return fmt.Errorf("emailintake: copy to %s: %w", m.cfg.ProcessedFolder, err)
		}
		flags := []interface{}{imap.DeletedFlag}
		if err := m.client.Store(seqset, imap.FormatFlagsOp(imap.AddFlags, true), flags, nil); err != nil {
			return fmt.Errorf("emailintake: flag deleted: %w", err)
		}
	}
	return nil
}

func (m *imapMailbox) Close() error {
	if err := m.client.Expunge(nil); err != nil {
		_ = m.client.Logout()
		return fmt.Errorf("emailintake: expunge: %w", err)
	}
	return m.client.Logout()
}
