package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is the aggregate price state of one catalog product.
// After the first observation LowestPrice <= CurrentPrice <= HighestPrice.
type Product struct {
	ProductID    int64
	CurrentPrice decimal.Decimal
	HighestPrice decimal.Decimal
	LowestPrice  decimal.Decimal
	LastUpdated  time.Time
}

// PriceObservation is one append-only history row.
type PriceObservation struct {
	HistoryID  int64
	ProductID  int64
	Price      decimal.Decimal
	RecordedAt time.Time
}

// Subscription is a persisted notification preference.
type Subscription struct {
	PreferenceID    int64
	ProductID       int64
	Email           string
	IntervalHours   int
	PriceThreshold  decimal.Decimal
	NotifyOnLowest  bool
	NotifyOnHighest bool
	LastNotified    time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// MaxIntervalHours caps time_interval_hours at ten years.
const MaxIntervalHours = 24 * 365 * 10

// Interval returns the minimum spacing between two notifications.
// Values above MaxIntervalHours are clamped so the duration never overflows.
func (s Subscription) Interval() time.Duration {
	hours := min(s.IntervalHours, MaxIntervalHours)
	return time.Duration(hours) * time.Hour
}

// NewSubscription carries the caller-supplied fields of a subscription insert.
type NewSubscription struct {
	ProductID       int64
	Email           string
	IntervalHours   int
	PriceThreshold  decimal.Decimal
	NotifyOnLowest  bool
	NotifyOnHighest bool
	CreatedAt       time.Time
}
