package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pricewatch/internal/service"
	"pricewatch/internal/storage"
)

// SendTestOptions configure a preview email.
type SendTestOptions struct {
	ProductID int64
	Email     string
}

// SendTest renders and delivers the history email for a product to one address.
// No subscription is read or updated.
func (a *App) SendTest(ctx context.Context, opts SendTestOptions) error {
	if opts.ProductID <= 0 {
		return errors.New("--product is required")
	}
	email := strings.ToLower(strings.TrimSpace(opts.Email))
	if email == "" {
		return errors.New("--email is required")
	}

	b, err := a.openBackend(ctx)
	if err != nil {
		return err
	}
	product, err := b.prices.GetProduct(ctx, opts.ProductID)
	if err != nil {
		return err
	}
	history, err := b.prices.ListHistory(ctx, opts.ProductID)
	if err != nil {
		return err
	}

	notifier, err := a.newNotifier()
	if err != nil {
		return err
	}

	// 预览邮件：不读取订阅，不更新 last_notified。
	note := service.BuildNotification(product, history, storage.Subscription{ProductID: opts.ProductID, Email: email})
	if err := notifier.Deliver(ctx, email, note); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "sent %d price points for product %d to %s\n", len(history), opts.ProductID, email)
	return nil
}
