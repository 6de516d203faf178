package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pricewatch/internal/storage"
)

// ScrapeOptions configure a one-off fetch.
type ScrapeOptions struct {
	ProductID int64
	// Save records the fetched price as a new observation.
	Save bool
}

// Scrape fetches one product's price and optionally persists it.
func (a *App) Scrape(ctx context.Context, opts ScrapeOptions) error {
	if opts.ProductID <= 0 {
		return errors.New("--product is required")
	}

	price, err := a.newFetcher().Fetch(ctx, opts.ProductID)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "product %d: %s\n", opts.ProductID, formatDecimal(price, 2))

	if !opts.Save {
		return nil
	}

	b, err := a.openBackend(ctx)
	if err != nil {
		return err
	}
	product, err := b.prices.UpsertObservation(ctx, opts.ProductID, price, time.Now().UTC())
	if errors.Is(err, storage.ErrAggregateStale) {
		a.Logger.Warn().Err(err).Int64("product_id", opts.ProductID).Msg("observation saved without aggregate update")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "saved: highest %s, lowest %s\n",
		formatDecimal(product.HighestPrice, 2), formatDecimal(product.LowestPrice, 2))
	return nil
}
