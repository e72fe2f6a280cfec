package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"text/template"
	"time"

	"github.com/rs/zerolog"

	"github.com/Kevinzh0C/fechatter-core/internal/config"
)

// No example repo in the retrieval pack imports an email/SMTP library
// (gomail, sendgrid-go, etc.) and original_source's lettre usage has no Go
// ecosystem analogue in the pack, so EmailChannel is built on stdlib
// net/smtp + text/template, the same boundary the original draws around
// its SMTP transport.

const emailBodyTemplate = `{{.Title}}

{{.Message}}
{{if .ChatLink}}
View: {{.ChatLink}}
{{end}}
--
Sent by Fechatter
`

var parsedEmailTemplate = template.Must(template.New("notification_email").Parse(emailBodyTemplate))

type emailTemplateData struct {
	Title    string
	Message  string
	ChatLink string
}

// UserDirectory resolves the display name and email address a notification
// targets; EmailChannel never trusts a user-supplied value for these,
// mirroring the original's get_user_info lookup.
type UserDirectory interface {
	UserContact(ctx context.Context, userID int64) (name, email string, err error)
}

// EmailChannel sends templated email via SMTP with bounded exponential
// backoff, grounded on channels.rs's EmailChannelImpl.send_with_retry and
// is_retryable_error.
type EmailChannel struct {
	cfg       config.EmailConfig
	directory UserDirectory
	baseURL   string
	log       zerolog.Logger

	// dial is overridable in tests to avoid a real network dependency.
	dial func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewEmailChannel(cfg config.EmailConfig, directory UserDirectory, baseURL string, log zerolog.Logger) *EmailChannel {
	return &EmailChannel{cfg: cfg, directory: directory, baseURL: baseURL, log: log, dial: smtp.SendMail}
}

func (c *EmailChannel) Name() Channel { return ChannelEmail }

func (c *EmailChannel) Send(ctx context.Context, n Notification) error {
	if !c.cfg.Enabled {
		c.log.Warn().Msg("notify: email disabled in configuration, skipping")
		return nil
	}

	name, email, err := c.directory.UserContact(ctx, n.UserID)
	if err != nil {
		return fmt.Errorf("notify: resolve contact for user %d: %w", n.UserID, err)
	}

	body, err := c.renderBody(n)
	if err != nil {
		return fmt.Errorf("notify: render email template: %w", err)
	}

	msg := c.buildMessage(name, email, n.Title, body)

	return c.sendWithRetry(ctx, email, msg)
}

func (c *EmailChannel) renderBody(n Notification) (string, error) {
	data := emailTemplateData{Title: n.Title, Message: n.Message}
	if n.ChatID != nil {
		data.ChatLink = fmt.Sprintf("%s/chats/%d", c.baseURL, *n.ChatID)
	}
	var buf bytes.Buffer
	if err := parsedEmailTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (c *EmailChannel) buildMessage(toName, toEmail, subject, body string) []byte {
	fromName := c.cfg.FromName
	if fromName == "" {
		fromName = "Fechatter"
	}
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s <%s>\r\n", fromName, c.cfg.From)
	fmt.Fprintf(&b, "To: %s <%s>\r\n", toName, toEmail)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(body)
	return b.Bytes()
}

func (c *EmailChannel) sendWithRetry(ctx context.Context, toEmail string, msg []byte) error {
	maxRetries := c.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := c.cfg.RetryBaseDelay
	if baseDelay <= 0 {
		baseDelay = 2 * time.Second
	}

	addr := fmt.Sprintf("%s:%d", c.cfg.SMTPHost, c.cfg.SMTPPort)
	var auth smtp.Auth
	if c.cfg.SMTPUsername != "" && c.cfg.SMTPPassword != "" {
		auth = smtp.PlainAuth("", c.cfg.SMTPUsername, c.cfg.SMTPPassword, c.cfg.SMTPHost)
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		err := c.dial(addr, auth, c.cfg.From, []string{toEmail}, msg)
		if err == nil {
			return nil
		}
		lastErr = err
		c.log.Warn().Err(err).Int("attempt", attempt).Msg("notify: SMTP send failed")

		if !isRetryableSMTPError(err) {
			return fmt.Errorf("notify: non-retryable SMTP error: %w", err)
		}
		if attempt < maxRetries {
			delay := baseDelay * time.Duration(1<<uint(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("notify: failed to send email after %d attempts: %w", maxRetries, lastErr)
}

// isRetryableSMTPError mirrors channels.rs's is_retryable_error: connection,
// timeout, io, network, and temporary failures are retried; authentication
// and syntax errors are permanent.
func isRetryableSMTPError(err error) bool {
	s := strings.ToLower(err.Error())
	retryableSubstrings := []string{"connection", "timeout", "i/o", "network", "temporary", "try again"}
	for _, sub := range retryableSubstrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
