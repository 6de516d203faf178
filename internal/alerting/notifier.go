package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// PricePoint is one entry of the rendered price history.
type PricePoint struct {
	RecordedAt time.Time
	Price      decimal.Decimal
}

// Notification 封装一次价格通知的内容。
type Notification struct {
	ProductID       int64
	ProductName     string
	CurrentPrice    decimal.Decimal
	HighestPrice    decimal.Decimal
	LowestPrice     decimal.Decimal
	PriceThreshold  decimal.Decimal
	NotifyOnLowest  bool
	NotifyOnHighest bool
	// History is ordered newest first.
	History []PricePoint
}

// Notifier 定义通知投递接口。
type Notifier interface {
	Deliver(ctx context.Context, recipient string, notification Notification) error
}

// Mailer sends one HTML message.
type Mailer interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// DeliveryError reports a rendering or transport failure for one recipient.
type DeliveryError struct {
	Recipient string
	Op        string
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s: %s: %v", e.Recipient, e.Op, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// EmailNotifier renders a notification and hands it to a Mailer. It never retries.
type EmailNotifier struct {
	renderer *Renderer
	mailer   Mailer
	subject  string
	logger   zerolog.Logger
}

// NewEmailNotifier 构造邮件通知器。
func NewEmailNotifier(renderer *Renderer, mailer Mailer, subject string, logger zerolog.Logger) *EmailNotifier {
	if renderer == nil {
		renderer = NewRenderer()
	}
	if subject == "" {
		subject = "Price History Update"
	}
	return &EmailNotifier{
		renderer: renderer,
		mailer:   mailer,
		subject:  subject,
		logger:   logger.With().Str("component", "alert_email").Logger(),
	}
}

// Deliver renders the price history email and sends it.
func (n *EmailNotifier) Deliver(ctx context.Context, recipient string, note Notification) error {
	body, err := n.renderer.Render(note)
	if err != nil {
		return &DeliveryError{Recipient: recipient, Op: "render", Err: err}
	}
	if err := n.mailer.Send(ctx, recipient, n.subject, body); err != nil {
		return &DeliveryError{Recipient: recipient, Op: "send", Err: err}
	}

	n.logger.Info().
		Int64("product_id", note.ProductID).
		Str("recipient", recipient).
		Int("history_points", len(note.History)).
		Msg("通知已发送 (email)")
	return nil
}

var _ Notifier = (*EmailNotifier)(nil)
