package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/carlmjohnson/requests"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// HTTP fetches product pages with a plain GET carrying browser-like headers.
// It only works for pages that render the price server-side.
type HTTP struct {
	opts   Options
	logger zerolog.Logger
	client *http.Client
}

// NewHTTP constructs an HTTP fetcher.
func NewHTTP(opts Options, logger zerolog.Logger) *HTTP {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &HTTP{
		opts:   opts,
		logger: logger.With().Str("component", "http_fetcher").Logger(),
		client: &http.Client{Timeout: timeout},
	}
}

// Fetch downloads the page and extracts the price element.
func (h *HTTP) Fetch(ctx context.Context, productID int64) (decimal.Decimal, error) {
	if err := sleepContext(ctx, jitter(h.opts.MinDelay, h.opts.MaxDelay)); err != nil {
		return decimal.Decimal{}, &FetchError{ProductID: productID, Op: "delay", Err: err}
	}

	builder := requests.URL(ProductURL(h.opts.BaseURL, productID)).Client(h.client)
	for k, v := range requestHeaders(h.opts) {
		builder = builder.Header(k, v)
	}
	if h.opts.UserAgent != "" {
		builder = builder.UserAgent(h.opts.UserAgent)
	}

	var body string
	if err := builder.ToString(&body).Fetch(ctx); err != nil {
		return decimal.Decimal{}, &FetchError{ProductID: productID, Op: "get", Err: fmt.Errorf("%w: %v", ErrPageLoad, err)}
	}

	price, err := ExtractPrice(body, h.opts.PriceXPath)
	if err != nil {
		return decimal.Decimal{}, &FetchError{ProductID: productID, Op: "extract", Err: err}
	}

	h.logger.Debug().Int64("product_id", productID).Str("price", price.String()).Msg("http fetch complete")
	return price, nil
}

var _ PriceFetcher = (*HTTP)(nil)
