package emailintake

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
)

// ParsedEmail is the structured view of one inbound message.
type ParsedEmail struct {
	MessageID   string
	Subject     string
	SenderEmail string
	SenderName  string
	Recipient   string
	Date        time.Time
	TextBody    string
	InReplyTo   string
	References  []string

	// AutoSubmitted is true when the mail carries auto-reply markers.
	// Replying to those would start a mail loop.
	AutoSubmitted bool
}

// ParseMessage reads a raw RFC 5322 message and extracts the fields the
// intake pipeline needs. HTML-only mails yield a crudely stripped text
// body; attachments are ignored.
func ParseMessage(r io.Reader) (*ParsedEmail, error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return nil, fmt.Errorf("emailintake: read message: %w", err)
	}

	header := mr.Header
	parsed := &ParsedEmail{
		MessageID: strings.Trim(header.Get("Message-Id"), "<>"),
		InReplyTo: strings.Trim(header.Get("In-Reply-To"), "<>"),
	}
	if subject, err := header.Subject(); err == nil {
		parsed.Subject = subject
	}
	if date, err := header.Date(); err == nil {
		parsed.Date = date
	}
	if from, err := header.AddressList("From"); err == nil && len(from) > 0 {
		parsed.SenderEmail = from[0].Address
		parsed.SenderName = from[0].Name
	}
	if to, err := header.AddressList("To"); err == nil && len(to) > 0 {
		parsed.Recipient = to[0].Address
	}
	if refs := header.Get("References"); refs != "" {
		for _, ref := range strings.Fields(refs) {
			parsed.References = append(parsed.References, strings.Trim(ref, "<>"))
		}
	}
	parsed.AutoSubmitted = isAutoSubmitted(headerGetter(header.Get))

	var textBody, htmlBody string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("emailintake: read part: %w", err)
		}
		inline, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, err := inline.ContentType()
		if err != nil {
			continue
		}
		body, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}
		switch contentType {
		case "text/plain":
			if textBody == "" {
				textBody = string(body)
			}
		case "text/html":
			if htmlBody == "" {
				htmlBody = string(body)
			}
		}
	}

	if textBody == "" && htmlBody != "" {
		textBody = stripHTML(htmlBody)
	}
	parsed.TextBody = cleanText(textBody)
	return parsed, nil
}

type headerGetter func(key string) string

// isAutoSubmitted checks the loop-protection headers other mail systems
// set on automated mail.
func isAutoSubmitted(get headerGetter) bool {
	if v := get("Auto-Submitted"); v != "" && !strings.EqualFold(v, "no") {
		return true
	}
	switch strings.ToLower(get("Precedence")) {
	case "auto_reply", "bulk", "junk", "list":
		return true
	}
	if get("X-Autoreply") != "" || get("X-Autorespond") != "" {
		return true
	}
	return false
}

// stripHTML removes tags and collapses entities well enough for
// classification. Not a renderer.
func stripHTML(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
			b.WriteByte(' ')
		case !inTag:
			b.WriteRune(r)
		}
	}
	out := b.String()
	replacer := strings.NewReplacer("&nbsp;", " ", "&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", `"`, "&#39;", "'")
	return replacer.Replace(out)
}

// cleanText trims quoted reply tails and collapses whitespace runs.
func cleanText(s string) string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		trimmed := strings.TrimRight(line, " \r\t")
		// The signature delimiter and quoted history add noise without
		// classification value.
		if trimmed == "--" {
			break
		}
		if strings.HasPrefix(trimmed, ">") {
			continue
		}
		lines = append(lines, trimmed)
	}
	out := strings.Join(lines, "\n")
	for strings.Contains(out, "\n\n\n") {
		out = strings.ReplaceAll(out, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(out)
}
