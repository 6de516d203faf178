package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"pricewatch/internal/fetcher"
	"pricewatch/internal/storage"
)

// LoopOptions tune a single cycle runner.
type LoopOptions struct {
	LockKey int64
	MaxRPS  float64
	// Now overrides the clock used for timestamps; defaults to UTC wall time.
	Now func() time.Time
}

// ScrapeReport summarises one scrape cycle.
type ScrapeReport struct {
	CycleID  string
	Products int
	Scraped  int
	Failed   int
	Stale    int
	Skipped  bool
}

// Scraper runs the scrape cycle: every subscribed product is fetched once, sequentially.
type Scraper struct {
	fetcher fetcher.PriceFetcher
	prices  storage.PriceStore
	subs    storage.SubscriptionStore
	locker  storage.AdvisoryLocker
	lockKey int64
	limiter *rate.Limiter
	now     func() time.Time
	logger  zerolog.Logger
}

// NewScraper constructs the scrape cycle runner.
func NewScraper(f fetcher.PriceFetcher, prices storage.PriceStore, subs storage.SubscriptionStore, opts LoopOptions, logger zerolog.Logger) *Scraper {
	return &Scraper{
		fetcher: f,
		prices:  prices,
		subs:    subs,
		locker:  lockerOf(prices),
		lockKey: opts.LockKey,
		limiter: newLimiter(opts.MaxRPS),
		now:     clockOrDefault(opts.Now),
		logger:  logger.With().Str("component", "scraper").Logger(),
	}
}

// Tick adapts RunCycle to scheduler.TickFunc.
func (s *Scraper) Tick(ctx context.Context, at time.Time) error {
	_, err := s.RunCycle(ctx, at)
	return err
}

// RunCycle fetches and records the price of every subscribed product. A failure for one
// product is logged and never stops the cycle; only listing products or cancellation
// returns an error.
func (s *Scraper) RunCycle(ctx context.Context, at time.Time) (ScrapeReport, error) {
	report := ScrapeReport{CycleID: uuid.NewString()}
	logger := s.logger.With().Str("cycle_id", report.CycleID).Time("at", at).Logger()

	unlock, proceed, err := acquireLock(ctx, s.locker, s.lockKey)
	if err != nil {
		return report, err
	}
	if !proceed {
		report.Skipped = true
		logger.Debug().Msg("skip scrape cycle because advisory lock held elsewhere")
		return report, nil
	}
	if unlock != nil {
		defer unlock()
	}

	ids, err := s.subs.ListSubscribedProductIDs(ctx)
	if err != nil {
		return report, fmt.Errorf("list subscribed products: %w", err)
	}
	report.Products = len(ids)

	for _, productID := range ids {
		if err := waitLimiter(ctx, s.limiter); err != nil {
			return report, err
		}
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		price, err := s.fetcher.Fetch(ctx, productID)
		if err != nil {
			report.Failed++
			logger.Warn().Err(err).Int64("product_id", productID).Msg("fetch failed; aggregate left stale")
			continue
		}

		product, err := s.prices.UpsertObservation(ctx, productID, price, s.now())
		switch {
		case errors.Is(err, storage.ErrAggregateStale):
			report.Stale++
			logger.Error().Err(err).Int64("product_id", productID).Msg("history recorded but aggregate update skipped")
			continue
		case err != nil:
			report.Failed++
			logger.Error().Err(err).Int64("product_id", productID).Msg("failed to record observation")
			continue
		}

		report.Scraped++
		logger.Info().
			Int64("product_id", productID).
			Str("price", price.String()).
			Str("highest", product.HighestPrice.String()).
			Str("lowest", product.LowestPrice.String()).
			Msg("price recorded")
	}

	logger.Info().
		Int("products", report.Products).
		Int("scraped", report.Scraped).
		Int("failed", report.Failed).
		Int("stale", report.Stale).
		Msg("scrape cycle complete")
	return report, nil
}

func clockOrDefault(now func() time.Time) func() time.Time {
	if now != nil {
		return now
	}
	return func() time.Time { return time.Now().UTC() }
}
