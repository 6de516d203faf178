package fetcher

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PriceFetcher retrieves the current listed price of a product.
type PriceFetcher interface {
	Fetch(ctx context.Context, productID int64) (decimal.Decimal, error)
}

var (
	// ErrPageLoad indicates the product page could not be retrieved or rendered.
	ErrPageLoad = errors.New("page load failed")
	// ErrPriceNotFound indicates the price element is absent from the document.
	ErrPriceNotFound = errors.New("price element not found")
	// ErrPriceUnparseable indicates the price element text does not hold exactly one price.
	ErrPriceUnparseable = errors.New("price text unparseable")
	// ErrInvalidXPath indicates the configured price selector does not compile.
	ErrInvalidXPath = errors.New("invalid price xpath")
)

// FetchError describes a failed fetch for one product.
type FetchError struct {
	ProductID int64
	Op        string
	Err       error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch product %d: %s: %v", e.ProductID, e.Op, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Options parameterise both fetcher drivers.
type Options struct {
	BaseURL        string
	PriceXPath     string
	UserAgent      string
	AcceptLanguage string
	// MinDelay and MaxDelay bound the random pause taken before each request.
	MinDelay    time.Duration
	MaxDelay    time.Duration
	ScrollPause time.Duration
	Timeout     time.Duration
	Headless    bool
	ExecPath    string
}

// ProductURL returns the canonical page for a product id.
func ProductURL(baseURL string, productID int64) string {
	return strings.TrimRight(baseURL, "/") + "/" + strconv.FormatInt(productID, 10)
}

// requestHeaders mirrors what a desktop Chrome sends on a top-level navigation.
func requestHeaders(opts Options) map[string]string {
	lang := opts.AcceptLanguage
	if lang == "" {
		lang = "en-US,en;q=0.9"
	}
	return map[string]string{
		"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,image/apng,*/*;q=0.8",
		"Accept-Language":           lang,
		"Cache-Control":             "max-age=0",
		"Upgrade-Insecure-Requests": "1",
		"Sec-Ch-Ua":                 `"Not_A Brand";v="8", "Chromium";v="120"`,
		"Sec-Ch-Ua-Mobile":          "?0",
		"Sec-Ch-Ua-Platform":        `"Windows"`,
		"Sec-Fetch-Dest":            "document",
		"Sec-Fetch-Mode":            "navigate",
		"Sec-Fetch-Site":            "same-origin",
		"Sec-Fetch-User":            "?1",
	}
}

// jitter picks a duration in [lo, hi).
func jitter(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
