package service

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"pricewatch/internal/storage"
)

// acquireLock returns proceed=false when another process holds the loop's lock.
// A zero key or a backend without advisory locks always proceeds.
func acquireLock(ctx context.Context, locker storage.AdvisoryLocker, key int64) (func(), bool, error) {
	if key == 0 || locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := locker.TryAdvisoryLock(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

func lockerOf(v any) storage.AdvisoryLocker {
	if l, ok := v.(storage.AdvisoryLocker); ok {
		return l
	}
	return nil
}

func newLimiter(maxRPS float64) *rate.Limiter {
	if maxRPS <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(maxRPS), 1)
}

func waitLimiter(ctx context.Context, limiter *rate.Limiter) error {
	if limiter == nil {
		return nil
	}
	return limiter.Wait(ctx)
}
