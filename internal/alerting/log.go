package alerting

import (
	"context"

	"github.com/rs/zerolog"
)

// LogMailer writes messages to the log instead of sending them. Used when mail is disabled.
type LogMailer struct {
	logger zerolog.Logger
}

// NewLogMailer 构造仅记录日志的发送器。
func NewLogMailer(logger zerolog.Logger) *LogMailer {
	return &LogMailer{logger: logger.With().Str("component", "alert_dryrun").Logger()}
}

// Send logs the envelope and body size.
func (m *LogMailer) Send(_ context.Context, to, subject, htmlBody string) error {
	m.logger.Warn().
		Str("to", to).
		Str("subject", subject).
		Int("body_bytes", len(htmlBody)).
		Msg("mail disabled; message not sent")
	return nil
}

var _ Mailer = (*LogMailer)(nil)
