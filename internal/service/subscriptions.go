package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pricewatch/internal/fetcher"
	"pricewatch/internal/storage"
)

// ErrInvalidRequest wraps every validation failure of a subscription request.
var ErrInvalidRequest = errors.New("invalid subscription request")

// SubscriptionRequest is what a front end submits. Nil optional fields take defaults.
type SubscriptionRequest struct {
	ProductID       int64            `json:"product_id"`
	Email           string           `json:"email"`
	IntervalHours   *int             `json:"interval_hours,omitempty"`
	PriceThreshold  *decimal.Decimal `json:"price_threshold,omitempty"`
	NotifyOnLowest  *bool            `json:"notify_on_lowest,omitempty"`
	NotifyOnHighest *bool            `json:"notify_on_highest,omitempty"`
}

// Ack only confirms the request was queued; the outcome is visible in logs.
type Ack struct {
	Status    string `json:"status"`
	ProductID int64  `json:"product_id"`
	Email     string `json:"email"`
}

// SubscriptionsOptions configure the entry point.
type SubscriptionsOptions struct {
	DefaultIntervalHours int
	// Timeout bounds the background seed fetch and transaction.
	Timeout time.Duration
	Now     func() time.Time
}

// Subscriptions creates subscriptions asynchronously, seeding unseen products with one fetch.
type Subscriptions struct {
	fetcher         fetcher.PriceFetcher
	prices          storage.PriceStore
	subs            storage.SubscriptionStore
	defaultInterval int
	timeout         time.Duration
	now             func() time.Time
	logger          zerolog.Logger

	base context.Context
	wg   sync.WaitGroup
}

// NewSubscriptions constructs the entry point. Background work inherits values from ctx
// but not its cancellation, so Wait can drain it during shutdown.
func NewSubscriptions(ctx context.Context, f fetcher.PriceFetcher, prices storage.PriceStore, subs storage.SubscriptionStore, opts SubscriptionsOptions, logger zerolog.Logger) *Subscriptions {
	interval := opts.DefaultIntervalHours
	if interval <= 0 {
		interval = 24
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Subscriptions{
		fetcher:         f,
		prices:          prices,
		subs:            subs,
		defaultInterval: interval,
		timeout:         timeout,
		now:             clockOrDefault(opts.Now),
		logger:          logger.With().Str("component", "subscriptions").Logger(),
		base:            context.WithoutCancel(ctx),
	}
}

// Submit validates the request, queues the work and returns immediately.
func (s *Subscriptions) Submit(req SubscriptionRequest) (Ack, error) {
	normalized, err := s.normalize(req)
	if err != nil {
		return Ack{}, err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.base, s.timeout)
		defer cancel()

		sub, err := s.Create(ctx, normalized)
		logger := s.logger.With().Int64("product_id", normalized.ProductID).Str("email", normalized.Email).Logger()
		if err != nil {
			logger.Error().Err(err).Msg("subscription request failed")
			return
		}
		logger.Info().Int64("preference_id", sub.PreferenceID).Msg("subscription created")
	}()

	return Ack{Status: "accepted", ProductID: normalized.ProductID, Email: normalized.Email}, nil
}

// Wait blocks until every submitted request has finished.
func (s *Subscriptions) Wait() {
	s.wg.Wait()
}

// Create runs the request synchronously: seed the product if it is unseen, then insert the
// subscription in one transaction.
func (s *Subscriptions) Create(ctx context.Context, req SubscriptionRequest) (storage.Subscription, error) {
	normalized, err := s.normalize(req)
	if err != nil {
		return storage.Subscription{}, err
	}

	var seed *decimal.Decimal
	_, err = s.prices.GetProduct(ctx, normalized.ProductID)
	switch {
	case errors.Is(err, storage.ErrProductNotFound):
		price, fetchErr := s.fetcher.Fetch(ctx, normalized.ProductID)
		if fetchErr != nil {
			return storage.Subscription{}, fmt.Errorf("seed product %d: %w", normalized.ProductID, fetchErr)
		}
		seed = &price
	case err != nil:
		return storage.Subscription{}, fmt.Errorf("lookup product: %w", err)
	}

	return s.subs.CreateSubscription(ctx, storage.NewSubscription{
		ProductID:       normalized.ProductID,
		Email:           normalized.Email,
		IntervalHours:   *normalized.IntervalHours,
		PriceThreshold:  *normalized.PriceThreshold,
		NotifyOnLowest:  *normalized.NotifyOnLowest,
		NotifyOnHighest: *normalized.NotifyOnHighest,
		CreatedAt:       s.now(),
	}, seed)
}

func (s *Subscriptions) normalize(req SubscriptionRequest) (SubscriptionRequest, error) {
	if req.ProductID <= 0 {
		return req, fmt.Errorf("%w: product_id must be positive", ErrInvalidRequest)
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return req, fmt.Errorf("%w: email %q is not a bare address", ErrInvalidRequest, req.Email)
	}
	req.Email = email

	interval := s.defaultInterval
	if req.IntervalHours != nil {
		interval = *req.IntervalHours
	}
	if interval <= 0 || interval > storage.MaxIntervalHours {
		return req, fmt.Errorf("%w: interval_hours must be in [1, %d]", ErrInvalidRequest, storage.MaxIntervalHours)
	}
	req.IntervalHours = &interval

	threshold := decimal.Zero
	if req.PriceThreshold != nil {
		threshold = *req.PriceThreshold
	}
	if threshold.IsNegative() {
		return req, fmt.Errorf("%w: price_threshold cannot be negative", ErrInvalidRequest)
	}
	req.PriceThreshold = &threshold

	lowest, highest := false, false
	if req.NotifyOnLowest != nil {
		lowest = *req.NotifyOnLowest
	}
	if req.NotifyOnHighest != nil {
		highest = *req.NotifyOnHighest
	}
	req.NotifyOnLowest = &lowest
	req.NotifyOnHighest = &highest
	return req, nil
}
