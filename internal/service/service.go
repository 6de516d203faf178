package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"pricewatch/internal/scheduler"
)

// Service runs the scrape and notify loops side by side. They share nothing but the stores.
type Service struct {
	scraper     *Scraper
	evaluator   *Evaluator
	scrapeSched *scheduler.Scheduler
	notifySched *scheduler.Scheduler
	logger      zerolog.Logger
}

// New constructs the pipeline service.
func New(scraper *Scraper, evaluator *Evaluator, scrapeSched, notifySched *scheduler.Scheduler, logger zerolog.Logger) *Service {
	return &Service{
		scraper:     scraper,
		evaluator:   evaluator,
		scrapeSched: scrapeSched,
		notifySched: notifySched,
		logger:      logger.With().Str("component", "service").Logger(),
	}
}

// Run blocks until ctx is cancelled, returning the first loop error (ctx.Err() on shutdown).
func (s *Service) Run(ctx context.Context) error {
	if s.scrapeSched == nil || s.notifySched == nil {
		return fmt.Errorf("scheduler not configured")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.scrapeSched.Run(gctx, s.scraper.Tick)
	})
	g.Go(func() error {
		return s.notifySched.Run(gctx, s.evaluator.Tick)
	})

	s.logger.Info().Msg("scrape and notify loops started")
	return g.Wait()
}
