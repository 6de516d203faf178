package alerting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mailgun/mailgun-go/v4"

	"pricewatch/internal/config"
)

// MailgunMailer sends through the Mailgun HTTP API.
type MailgunMailer struct {
	from    string
	timeout time.Duration
	mg      *mailgun.MailgunImpl
}

// NewMailgunMailer 构造 Mailgun 发送器。
func NewMailgunMailer(cfg config.MailConfig) (*MailgunMailer, error) {
	if cfg.Mailgun.Domain == "" || cfg.Mailgun.APIKey == "" {
		return nil, errors.New("mailgun domain and api key are required")
	}

	mg := mailgun.NewMailgun(cfg.Mailgun.Domain, cfg.Mailgun.APIKey)
	if cfg.Mailgun.APIBase != "" {
		mg.SetAPIBase(cfg.Mailgun.APIBase)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &MailgunMailer{from: cfg.From, timeout: timeout, mg: mg}, nil
}

// Send queues one HTML message.
func (m *MailgunMailer) Send(ctx context.Context, to, subject, htmlBody string) error {
	// Create message with empty text body; SetHtml assigns the MIME type.
	message := m.mg.NewMessage(m.from, subject, "", to)
	message.SetHtml(htmlBody)

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if _, _, err := m.mg.Send(ctx, message); err != nil {
		return fmt.Errorf("mailgun send: %w", err)
	}
	return nil
}

var _ Mailer = (*MailgunMailer)(nil)
