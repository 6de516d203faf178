package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"pricewatch/internal/alerting"
	"pricewatch/internal/storage"
)

// EvaluateReport summarises one notification cycle.
type EvaluateReport struct {
	CycleID       string
	Subscriptions int
	Notified      int
	Throttled     int
	Waiting       int
	Failed        int
	Skipped       bool
}

// decision is the per-cycle verdict for one subscription; it is never persisted.
type decision struct {
	sub      storage.Subscription
	elapsed  time.Duration
	eligible bool
}

// decide applies the interval throttle. Price fields do not gate delivery.
func decide(sub storage.Subscription, now time.Time) decision {
	elapsed := now.Sub(sub.LastNotified)
	return decision{sub: sub, elapsed: elapsed, eligible: elapsed >= sub.Interval()}
}

// Evaluator runs the notification cycle over every subscription.
type Evaluator struct {
	prices   storage.PriceStore
	subs     storage.SubscriptionStore
	notifier alerting.Notifier
	locker   storage.AdvisoryLocker
	lockKey  int64
	limiter  *rate.Limiter
	logger   zerolog.Logger
}

// NewEvaluator constructs the notification cycle runner.
func NewEvaluator(prices storage.PriceStore, subs storage.SubscriptionStore, notifier alerting.Notifier, opts LoopOptions, logger zerolog.Logger) *Evaluator {
	return &Evaluator{
		prices:   prices,
		subs:     subs,
		notifier: notifier,
		locker:   lockerOf(subs),
		lockKey:  opts.LockKey,
		limiter:  newLimiter(opts.MaxRPS),
		logger:   logger.With().Str("component", "evaluator").Logger(),
	}
}

// Tick adapts RunCycle to scheduler.TickFunc.
func (e *Evaluator) Tick(ctx context.Context, at time.Time) error {
	_, err := e.RunCycle(ctx, at)
	return err
}

// RunCycle notifies every subscription whose interval has elapsed at now. last_notified is
// written only after a successful delivery, so failures are retried next cycle.
func (e *Evaluator) RunCycle(ctx context.Context, now time.Time) (EvaluateReport, error) {
	report := EvaluateReport{CycleID: uuid.NewString()}
	logger := e.logger.With().Str("cycle_id", report.CycleID).Time("at", now).Logger()

	unlock, proceed, err := acquireLock(ctx, e.locker, e.lockKey)
	if err != nil {
		return report, err
	}
	if !proceed {
		report.Skipped = true
		logger.Debug().Msg("skip notify cycle because advisory lock held elsewhere")
		return report, nil
	}
	if unlock != nil {
		defer unlock()
	}

	subs, err := e.subs.ListSubscriptions(ctx)
	if err != nil {
		return report, fmt.Errorf("list subscriptions: %w", err)
	}
	report.Subscriptions = len(subs)

	for _, sub := range subs {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		d := decide(sub, now)
		subLogger := logger.With().
			Int64("preference_id", sub.PreferenceID).
			Int64("product_id", sub.ProductID).
			Logger()
		if !d.eligible {
			report.Throttled++
			subLogger.Debug().Dur("elapsed", d.elapsed).Msg("interval not elapsed")
			continue
		}

		note, err := e.compose(ctx, d)
		if errors.Is(err, storage.ErrProductNotFound) {
			report.Waiting++
			subLogger.Debug().Msg("product has no observations yet")
			continue
		}
		if err != nil {
			report.Failed++
			subLogger.Error().Err(err).Msg("failed to compose notification")
			continue
		}

		if err := waitLimiter(ctx, e.limiter); err != nil {
			return report, err
		}
		if err := e.notifier.Deliver(ctx, sub.Email, note); err != nil {
			report.Failed++
			subLogger.Warn().Err(err).Msg("delivery failed; will retry next cycle")
			continue
		}

		if err := e.subs.UpdateLastNotified(ctx, sub.PreferenceID, now); err != nil {
			// delivered but not marked: the next cycle sends again
			report.Failed++
			subLogger.Error().Err(err).Msg("failed to update last_notified after delivery")
			continue
		}
		report.Notified++
	}

	logger.Info().
		Int("subscriptions", report.Subscriptions).
		Int("notified", report.Notified).
		Int("throttled", report.Throttled).
		Int("waiting", report.Waiting).
		Int("failed", report.Failed).
		Msg("notify cycle complete")
	return report, nil
}

func (e *Evaluator) compose(ctx context.Context, d decision) (alerting.Notification, error) {
	product, err := e.prices.GetProduct(ctx, d.sub.ProductID)
	if err != nil {
		return alerting.Notification{}, err
	}
	history, err := e.prices.ListHistory(ctx, d.sub.ProductID)
	if err != nil {
		return alerting.Notification{}, fmt.Errorf("list history: %w", err)
	}
	return BuildNotification(product, history, d.sub), nil
}

// BuildNotification assembles the email payload; history keeps the store's newest-first order.
func BuildNotification(product storage.Product, history []storage.PriceObservation, sub storage.Subscription) alerting.Notification {
	points := make([]alerting.PricePoint, 0, len(history))
	for _, obs := range history {
		points = append(points, alerting.PricePoint{RecordedAt: obs.RecordedAt, Price: obs.Price})
	}
	return alerting.Notification{
		ProductID:       product.ProductID,
		ProductName:     strconv.FormatInt(product.ProductID, 10),
		CurrentPrice:    product.CurrentPrice,
		HighestPrice:    product.HighestPrice,
		LowestPrice:     product.LowestPrice,
		PriceThreshold:  sub.PriceThreshold,
		NotifyOnLowest:  sub.NotifyOnLowest,
		NotifyOnHighest: sub.NotifyOnHighest,
		History:         points,
	}
}
