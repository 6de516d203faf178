package app

import (
	"cmp"
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"pricewatch/internal/storage"
)

// Export renders one product's price history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.ProductID <= 0 {
		return errors.New("--product is required")
	}
	if opts.From != nil && opts.To != nil && !opts.From.Before(*opts.To) {
		return errors.New("from must be before to")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	b, err := a.openBackend(ctx)
	if err != nil {
		return err
	}

	history, err := b.prices.ListHistory(ctx, opts.ProductID)
	if err != nil {
		return err
	}
	points := exportWindow(history, opts.From, opts.To)
	if len(points) == 0 {
		a.Logger.Info().Int64("product_id", opts.ProductID).Msg("no price history found for export window")
		return nil
	}

	downsampled := downsampleHistory(points, opts.MaxPoints)
	a.Logger.Info().
		Int64("product_id", opts.ProductID).
		Int("total", len(points)).
		Int("exported", len(downsampled)).
		Msg("exporting price history")

	if opts.CSVPath != "" {
		if err := writeHistoryCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeHistoryPNG(opts.PNGPath, opts.ProductID, downsampled); err != nil {
			return err
		}
	}

	return nil
}

// exportWindow filters to [from, to] and returns the rows oldest first.
func exportWindow(history []storage.PriceObservation, from, to *time.Time) []storage.PriceObservation {
	out := make([]storage.PriceObservation, 0, len(history))
	for _, obs := range history {
		if from != nil && obs.RecordedAt.Before(*from) {
			continue
		}
		if to != nil && obs.RecordedAt.After(*to) {
			continue
		}
		out = append(out, obs)
	}
	slices.SortFunc(out, func(x, y storage.PriceObservation) int {
		if c := x.RecordedAt.Compare(y.RecordedAt); c != 0 {
			return c
		}
		return cmp.Compare(x.HistoryID, y.HistoryID)
	})
	return out
}

func downsampleHistory(points []storage.PriceObservation, max int) []storage.PriceObservation {
	if max <= 0 || len(points) <= max {
		return points
	}
	if max == 1 {
		return points[len(points)-1:]
	}

	result := make([]storage.PriceObservation, 0, max)
	step := float64(len(points)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(points) {
			idx = len(points) - 1
		}
		result = append(result, points[idx])
	}
	return result
}

func writeHistoryCSV(path string, points []storage.PriceObservation) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"history_id", "product_id", "recorded_at", "price"}); err != nil {
		return err
	}

	for _, obs := range points {
		record := []string{
			strconv.FormatInt(obs.HistoryID, 10),
			strconv.FormatInt(obs.ProductID, 10),
			obs.RecordedAt.UTC().Format(time.RFC3339),
			formatDecimal(obs.Price, 2),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeHistoryPNG(path string, productID int64, points []storage.PriceObservation) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(points))
	y := make([]float64, len(points))
	for i, obs := range points {
		x[i] = obs.RecordedAt
		y[i] = obs.Price.InexactFloat64()
	}
	// go-chart needs two points to draw a line.
	if len(points) == 1 {
		x = append(x, x[0].Add(time.Minute))
		y = append(y, y[0])
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Title:  "Product " + strconv.FormatInt(productID, 10),
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price",
			ValueFormatter: priceFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Price",
				XValues: x,
				YValues: y,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
