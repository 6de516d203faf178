package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPFetchSuccess(t *testing.T) {
	var gotPath, gotUA, gotFetchMode string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUA = r.Header.Get("User-Agent")
		gotFetchMode = r.Header.Get("Sec-Fetch-Mode")
		_, _ = w.Write([]byte(`<html><body><span class="pdp-price"><strong>₹1,299</strong></span></body></html>`))
	}))
	defer srv.Close()

	f := NewHTTP(Options{
		BaseURL:    srv.URL,
		PriceXPath: pdpXPath,
		UserAgent:  "pricewatch-test",
		Timeout:    time.Second,
	}, zerolog.Nop())

	price, err := f.Fetch(context.Background(), 11223344)
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromInt(1299)))
	assert.Equal(t, "/11223344", gotPath)
	assert.Equal(t, "pricewatch-test", gotUA)
	assert.Equal(t, "navigate", gotFetchMode)
}

func TestHTTPFetchStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	f := NewHTTP(Options{BaseURL: srv.URL, PriceXPath: pdpXPath, Timeout: time.Second}, zerolog.Nop())

	_, err := f.Fetch(context.Background(), 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPageLoad)

	var fetchErr *FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, int64(1), fetchErr.ProductID)
}

func TestHTTPFetchMissingPriceIsNotZero(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body><h1>Something went wrong</h1></body></html>`))
	}))
	defer srv.Close()

	f := NewHTTP(Options{BaseURL: srv.URL, PriceXPath: pdpXPath, Timeout: time.Second}, zerolog.Nop())

	price, err := f.Fetch(context.Background(), 2)
	assert.ErrorIs(t, err, ErrPriceNotFound)
	assert.True(t, price.IsZero())
}

func TestHTTPFetchHonoursCancelledDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := NewHTTP(Options{BaseURL: "http://127.0.0.1:1", PriceXPath: pdpXPath, MinDelay: time.Hour, MaxDelay: 2 * time.Hour}, zerolog.Nop())
	_, err := f.Fetch(ctx, 3)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestJitterBounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := jitter(2*time.Second, 5*time.Second)
		assert.GreaterOrEqual(t, d, 2*time.Second)
		assert.Less(t, d, 5*time.Second)
	}
	assert.Equal(t, time.Second, jitter(time.Second, time.Second))
}

func TestProductURL(t *testing.T) {
	assert.Equal(t, "https://www.myntra.com/42", ProductURL("https://www.myntra.com/", 42))
}

func TestBrowserAllocatorOptions(t *testing.T) {
	b := NewBrowser(Options{UserAgent: "ua", ExecPath: "/usr/bin/chromium"}, zerolog.Nop())
	assert.Greater(t, len(b.allocatorOptions()), 5)
	assert.Equal(t, 60*time.Second, b.opts.Timeout)
}
