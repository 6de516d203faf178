package fetcher

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const hideWebdriverJS = `Object.defineProperty(navigator, 'webdriver', { get: () => false });`

// Browser loads product pages in a disposable headless Chrome and reads the rendered price.
type Browser struct {
	opts   Options
	logger zerolog.Logger
}

// NewBrowser constructs a chromedp-backed fetcher.
func NewBrowser(opts Options, logger zerolog.Logger) *Browser {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	return &Browser{opts: opts, logger: logger.With().Str("component", "browser_fetcher").Logger()}
}

// Fetch starts a fresh browser for every call; no cookies or cache survive between products.
func (b *Browser) Fetch(ctx context.Context, productID int64) (decimal.Decimal, error) {
	url := ProductURL(b.opts.BaseURL, productID)

	delay := jitter(b.opts.MinDelay, b.opts.MaxDelay)
	if err := sleepContext(ctx, delay); err != nil {
		return decimal.Decimal{}, &FetchError{ProductID: productID, Op: "delay", Err: err}
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, b.allocatorOptions()...)
	defer cancelAlloc()
	taskCtx, cancelTask := chromedp.NewContext(allocCtx)
	defer cancelTask()
	taskCtx, cancelTimeout := context.WithTimeout(taskCtx, b.opts.Timeout)
	defer cancelTimeout()

	headers := make(network.Headers)
	for k, v := range requestHeaders(b.opts) {
		headers[k] = v
	}

	var rendered string
	err := chromedp.Run(taskCtx,
		network.Enable(),
		network.SetExtraHTTPHeaders(headers),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(hideWebdriverJS).Do(ctx)
			return err
		}),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Evaluate(fmt.Sprintf("window.scrollTo(0, %d)", rand.IntN(100)), nil),
		chromedp.Sleep(b.opts.ScrollPause),
		chromedp.Evaluate(fmt.Sprintf("window.scrollTo(0, %d)", rand.IntN(500)), nil),
		chromedp.OuterHTML("html", &rendered, chromedp.ByQuery),
	)
	if err != nil {
		return decimal.Decimal{}, &FetchError{ProductID: productID, Op: "navigate", Err: fmt.Errorf("%w: %v", ErrPageLoad, err)}
	}

	price, err := ExtractPrice(rendered, b.opts.PriceXPath)
	if err != nil {
		return decimal.Decimal{}, &FetchError{ProductID: productID, Op: "extract", Err: err}
	}

	b.logger.Debug().
		Int64("product_id", productID).
		Dur("delay", delay).
		Str("price", price.String()).
		Msg("browser fetch complete")
	return price, nil
}

func (b *Browser) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", b.opts.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1920, 1080),
		chromedp.NoSandbox,
		chromedp.DisableGPU,
	)
	if b.opts.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(b.opts.UserAgent))
	}
	if b.opts.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(b.opts.ExecPath))
	}
	return opts
}

var _ PriceFetcher = (*Browser)(nil)
