package app

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"
)

// Show prints the aggregate row of every tracked product.
func (a *App) Show(ctx context.Context) error {
	b, err := a.openBackend(ctx)
	if err != nil {
		return err
	}

	products, err := b.prices.ListProducts(ctx)
	if err != nil {
		return err
	}
	if len(products) == 0 {
		fmt.Fprintln(a.Out, "no products found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Product\tCurrent\tHighest\tLowest\tUpdated (UTC)")
	for _, p := range products {
		fmt.Fprintf(
			writer,
			"%d\t%s\t%s\t%s\t%s\n",
			p.ProductID,
			formatDecimal(p.CurrentPrice, 2),
			formatDecimal(p.HighestPrice, 2),
			formatDecimal(p.LowestPrice, 2),
			p.LastUpdated.UTC().Format(time.RFC3339),
		)
	}
	return writer.Flush()
}

// History prints a product's observations, newest first.
func (a *App) History(ctx context.Context, opts HistoryOptions) error {
	if opts.ProductID <= 0 {
		return errors.New("--product is required")
	}

	b, err := a.openBackend(ctx)
	if err != nil {
		return err
	}

	history, err := b.prices.ListHistory(ctx, opts.ProductID)
	if err != nil {
		return err
	}
	if opts.Limit > 0 && len(history) > opts.Limit {
		history = history[:opts.Limit]
	}
	if len(history) == 0 {
		fmt.Fprintln(a.Out, "no price history found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tPrice")
	for _, obs := range history {
		fmt.Fprintf(writer, "%s\t%s\n", obs.RecordedAt.UTC().Format(time.RFC3339), formatDecimal(obs.Price, 2))
	}
	return writer.Flush()
}
