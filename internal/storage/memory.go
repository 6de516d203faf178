package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MemoryStore keeps products, history and subscriptions in process memory.
// It is used when no database DSN is configured and by tests.
type MemoryStore struct {
	mu            sync.RWMutex
	products      map[int64]Product
	history       map[int64][]PriceObservation
	subscriptions map[int64]Subscription
	nextHistoryID int64
	nextPrefID    int64
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products:      make(map[int64]Product),
		history:       make(map[int64][]PriceObservation),
		subscriptions: make(map[int64]Subscription),
	}
}

// UpsertObservation appends a history row and folds the price into the aggregate.
func (m *MemoryStore) UpsertObservation(ctx context.Context, productID int64, price decimal.Decimal, recordedAt time.Time) (Product, error) {
	if err := ctx.Err(); err != nil {
		return Product{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.seedLocked(productID, price, recordedAt)
	m.appendLocked(productID, price, recordedAt)

	product := m.products[productID]
	product.CurrentPrice = price
	product.LastUpdated = recordedAt
	if price.GreaterThan(product.HighestPrice) {
		product.HighestPrice = price
	}
	if price.LessThan(product.LowestPrice) {
		product.LowestPrice = price
	}
	m.products[productID] = product
	return product, nil
}

// GetProduct returns the aggregate for a product.
func (m *MemoryStore) GetProduct(ctx context.Context, productID int64) (Product, error) {
	if err := ctx.Err(); err != nil {
		return Product{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	product, ok := m.products[productID]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	return product, nil
}

// ListProducts lists every product ordered by id.
func (m *MemoryStore) ListProducts(ctx context.Context) ([]Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	products := make([]Product, 0, len(m.products))
	for _, product := range m.products {
		products = append(products, product)
	}
	sort.Slice(products, func(i, j int) bool { return products[i].ProductID < products[j].ProductID })
	return products, nil
}

// ListHistory returns a product's observations, newest first.
func (m *MemoryStore) ListHistory(ctx context.Context, productID int64) ([]PriceObservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	rows := m.history[productID]
	history := make([]PriceObservation, len(rows))
	copy(history, rows)
	sort.SliceStable(history, func(i, j int) bool {
		if history[i].RecordedAt.Equal(history[j].RecordedAt) {
			return history[i].HistoryID > history[j].HistoryID
		}
		return history[i].RecordedAt.After(history[j].RecordedAt)
	})
	return history, nil
}

// ListSubscribedProductIDs returns the distinct subscribed product ids in ascending order.
func (m *MemoryStore) ListSubscribedProductIDs(ctx context.Context) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[int64]struct{})
	ids := make([]int64, 0)
	for _, sub := range m.subscriptions {
		if _, ok := seen[sub.ProductID]; ok {
			continue
		}
		seen[sub.ProductID] = struct{}{}
		ids = append(ids, sub.ProductID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// ListSubscriptions lists every subscription ordered by preference id.
func (m *MemoryStore) ListSubscriptions(ctx context.Context) ([]Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	subs := make([]Subscription, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		subs = append(subs, sub)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].PreferenceID < subs[j].PreferenceID })
	return subs, nil
}

// UpdateLastNotified records a successful delivery.
func (m *MemoryStore) UpdateLastNotified(ctx context.Context, preferenceID int64, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subscriptions[preferenceID]
	if !ok {
		return ErrSubscriptionNotFound
	}
	sub.LastNotified = at
	sub.UpdatedAt = at
	m.subscriptions[preferenceID] = sub
	return nil
}

// CreateSubscription inserts a subscription, creating the product from seed when absent.
// All checks run before any mutation so a failed call leaves the store unchanged.
func (m *MemoryStore) CreateSubscription(ctx context.Context, sub NewSubscription, seed *decimal.Decimal) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return Subscription{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.subscriptions {
		if existing.ProductID == sub.ProductID && existing.Email == sub.Email {
			return Subscription{}, ErrSubscriptionExists
		}
	}
	if _, ok := m.products[sub.ProductID]; !ok {
		if seed == nil {
			return Subscription{}, ErrProductNotFound
		}
		m.seedLocked(sub.ProductID, *seed, sub.CreatedAt)
		m.appendLocked(sub.ProductID, *seed, sub.CreatedAt)
	}

	m.nextPrefID++
	created := Subscription{
		PreferenceID:    m.nextPrefID,
		ProductID:       sub.ProductID,
		Email:           sub.Email,
		IntervalHours:   sub.IntervalHours,
		PriceThreshold:  sub.PriceThreshold,
		NotifyOnLowest:  sub.NotifyOnLowest,
		NotifyOnHighest: sub.NotifyOnHighest,
		LastNotified:    sub.CreatedAt,
		CreatedAt:       sub.CreatedAt,
		UpdatedAt:       sub.CreatedAt,
	}
	m.subscriptions[created.PreferenceID] = created
	return created, nil
}

// PutSubscription stores a subscription as-is, assigning an id when zero.
func (m *MemoryStore) PutSubscription(sub Subscription) Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sub.PreferenceID == 0 {
		m.nextPrefID++
		sub.PreferenceID = m.nextPrefID
	} else if sub.PreferenceID > m.nextPrefID {
		m.nextPrefID = sub.PreferenceID
	}
	m.subscriptions[sub.PreferenceID] = sub
	return sub
}

func (m *MemoryStore) seedLocked(productID int64, price decimal.Decimal, at time.Time) {
	if _, ok := m.products[productID]; ok {
		return
	}
	m.products[productID] = Product{
		ProductID:    productID,
		CurrentPrice: price,
		HighestPrice: price,
		LowestPrice:  price,
		LastUpdated:  at,
	}
}

func (m *MemoryStore) appendLocked(productID int64, price decimal.Decimal, at time.Time) {
	m.nextHistoryID++
	m.history[productID] = append(m.history[productID], PriceObservation{
		HistoryID:  m.nextHistoryID,
		ProductID:  productID,
		Price:      price,
		RecordedAt: at,
	})
}

var (
	_ PriceStore        = (*MemoryStore)(nil)
	_ SubscriptionStore = (*MemoryStore)(nil)
)
