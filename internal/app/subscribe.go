package app

import (
	"context"
	"fmt"
)

// Subscribe creates one subscription synchronously so the exit status reflects the outcome.
// The admin API goes through the asynchronous Submit path instead.
func (a *App) Subscribe(ctx context.Context, opts SubscribeOptions) error {
	b, err := a.openBackend(ctx)
	if err != nil {
		return err
	}

	sub, err := a.newSubscriptions(ctx, b).Create(ctx, opts.Request)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "subscribed %s to product %d (preference %d, every %dh)\n",
		sub.Email, sub.ProductID, sub.PreferenceID, sub.IntervalHours)
	return nil
}
