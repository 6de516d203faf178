package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrProductNotFound is returned when no aggregate row exists for a product.
	ErrProductNotFound = errors.New("storage: product not found")
	// ErrSubscriptionNotFound is returned when a preference id matches no row.
	ErrSubscriptionNotFound = errors.New("storage: subscription not found")
	// ErrSubscriptionExists is returned when (product_id, email) is already subscribed.
	ErrSubscriptionExists = errors.New("storage: subscription already exists")
	// ErrAggregateStale means the history row was committed but the aggregate update was skipped.
	ErrAggregateStale = errors.New("storage: aggregate update skipped")
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

const (
	seedProductSQL = `INSERT INTO products (
        product_id,
        current_price,
        highest_price,
        lowest_price,
        last_updated
    ) VALUES (
        $1, $2::numeric, $2::numeric, $2::numeric, $3
    )
    ON CONFLICT (product_id) DO NOTHING;`

	insertObservationSQL = `INSERT INTO price_history (
        product_id,
        price,
        recorded_at
    ) VALUES (
        $1, $2::numeric, $3
    );`

	aggregateSavepointSQL         = `SAVEPOINT product_aggregate;`
	rollbackAggregateSavepointSQL = `ROLLBACK TO SAVEPOINT product_aggregate;`

	updateAggregateSQL = `UPDATE products
    SET
        current_price = $2::numeric,
        highest_price = GREATEST(highest_price, $2::numeric),
        lowest_price  = LEAST(lowest_price, $2::numeric),
        last_updated  = $3
    WHERE product_id = $1
    RETURNING product_id, current_price::text, highest_price::text, lowest_price::text, last_updated;`

	getProductSQL = `SELECT
        product_id,
        current_price::text,
        highest_price::text,
        lowest_price::text,
        last_updated
    FROM products
    WHERE product_id = $1;`

	listProductsSQL = `SELECT
        product_id,
        current_price::text,
        highest_price::text,
        lowest_price::text,
        last_updated
    FROM products
    ORDER BY product_id;`

	listHistorySQL = `SELECT
        history_id,
        product_id,
        price::text,
        recorded_at
    FROM price_history
    WHERE product_id = $1
    ORDER BY recorded_at DESC, history_id DESC;`

	listSubscribedProductIDsSQL = `SELECT DISTINCT product_id
    FROM notification_preferences
    ORDER BY product_id;`

	listSubscriptionsSQL = `SELECT
        preference_id,
        product_id,
        email,
        time_interval_hours,
        price_threshold::text,
        notify_on_lowest,
        notify_on_highest,
        last_notified,
        created_at,
        updated_at
    FROM notification_preferences
    ORDER BY preference_id;`

	insertSubscriptionSQL = `INSERT INTO notification_preferences (
        product_id,
        email,
        time_interval_hours,
        price_threshold,
        notify_on_lowest,
        notify_on_highest,
        last_notified,
        created_at,
        updated_at
    ) VALUES (
        $1, $2, $3, $4::numeric, $5, $6, $7, $7, $7
    )
    RETURNING preference_id, product_id, email, time_interval_hours, price_threshold::text,
        notify_on_lowest, notify_on_highest, last_notified, created_at, updated_at;`

	updateLastNotifiedSQL = `UPDATE notification_preferences
    SET last_notified = $2, updated_at = $2
    WHERE preference_id = $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// PriceStore defines operations on product aggregates and price history.
type PriceStore interface {
	UpsertObservation(ctx context.Context, productID int64, price decimal.Decimal, recordedAt time.Time) (Product, error)
	GetProduct(ctx context.Context, productID int64) (Product, error)
	ListProducts(ctx context.Context) ([]Product, error)
	ListHistory(ctx context.Context, productID int64) ([]PriceObservation, error)
}

// SubscriptionStore defines operations on notification preferences.
type SubscriptionStore interface {
	ListSubscribedProductIDs(ctx context.Context) ([]int64, error)
	ListSubscriptions(ctx context.Context) ([]Subscription, error)
	UpdateLastNotified(ctx context.Context, preferenceID int64, at time.Time) error
	CreateSubscription(ctx context.Context, sub NewSubscription, seed *decimal.Decimal) (Subscription, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// dbtx is the subset of pgxpool.Pool the repository issues statements through.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store is the PostgreSQL implementation of PriceStore and SubscriptionStore.
type Store struct {
	pool *pgxpool.Pool
	db   dbtx
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	s := &Store{pool: pool}
	if pool != nil {
		s.db = pool
	}
	return s
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getDB() (dbtx, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotConfigured
	}
	return s.db, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	if s == nil || s.pool == nil {
		return nil, false, ErrNotConfigured
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// a failed unlock is released with the session
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// UpsertObservation appends a history row and folds the price into the product aggregate.
// The product row is created from the first price if absent. If only the aggregate update
// fails, the history row is still committed and the returned error wraps ErrAggregateStale.
func (s *Store) UpsertObservation(ctx context.Context, productID int64, price decimal.Decimal, recordedAt time.Time) (Product, error) {
	db, err := s.getDB()
	if err != nil {
		return Product{}, err
	}

	tx, err := db.Begin(ctx)
	if err != nil {
		return Product{}, fmt.Errorf("begin observation tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	priceStr := price.String()
	if _, err := tx.Exec(ctx, seedProductSQL, productID, priceStr, recordedAt); err != nil {
		return Product{}, fmt.Errorf("seed product: %w", err)
	}
	if _, err := tx.Exec(ctx, insertObservationSQL, productID, priceStr, recordedAt); err != nil {
		return Product{}, fmt.Errorf("insert price observation: %w", err)
	}

	if _, err := tx.Exec(ctx, aggregateSavepointSQL); err != nil {
		return Product{}, fmt.Errorf("aggregate savepoint: %w", err)
	}
	product, aggErr := scanProduct(tx.QueryRow(ctx, updateAggregateSQL, productID, priceStr, recordedAt))
	if aggErr != nil {
		if _, err := tx.Exec(ctx, rollbackAggregateSavepointSQL); err != nil {
			return Product{}, fmt.Errorf("rollback aggregate savepoint: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Product{}, fmt.Errorf("commit observation: %w", err)
	}
	if aggErr != nil {
		return Product{}, fmt.Errorf("%w: product %d: %v", ErrAggregateStale, productID, aggErr)
	}
	return product, nil
}

// GetProduct returns the aggregate row for a product.
func (s *Store) GetProduct(ctx context.Context, productID int64) (Product, error) {
	db, err := s.getDB()
	if err != nil {
		return Product{}, err
	}

	product, err := scanProduct(db.QueryRow(ctx, getProductSQL, productID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrProductNotFound
	}
	if err != nil {
		return Product{}, fmt.Errorf("get product: %w", err)
	}
	return product, nil
}

// ListProducts lists every product aggregate ordered by id.
func (s *Store) ListProducts(ctx context.Context) ([]Product, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, queryErr := db.Query(ctx, listProductsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list products: %w", queryErr)
	}
	defer rows.Close()

	products := make([]Product, 0)
	for rows.Next() {
		product, scanErr := scanProduct(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		products = append(products, product)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return products, nil
}

// ListHistory returns every observation for a product, newest first.
func (s *Store) ListHistory(ctx context.Context, productID int64) ([]PriceObservation, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, queryErr := db.Query(ctx, listHistorySQL, productID)
	if queryErr != nil {
		return nil, fmt.Errorf("list history: %w", queryErr)
	}
	defer rows.Close()

	history := make([]PriceObservation, 0)
	for rows.Next() {
		var (
			obs      PriceObservation
			priceStr string
		)
		if err := rows.Scan(&obs.HistoryID, &obs.ProductID, &priceStr, &obs.RecordedAt); err != nil {
			return nil, err
		}
		price, convErr := decimal.NewFromString(priceStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse history price: %w", convErr)
		}
		obs.Price = price
		history = append(history, obs)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return history, nil
}

// ListSubscribedProductIDs returns the distinct products referenced by any subscription.
func (s *Store) ListSubscribedProductIDs(ctx context.Context) ([]int64, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, queryErr := db.Query(ctx, listSubscribedProductIDsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list subscribed products: %w", queryErr)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return ids, nil
}

// ListSubscriptions lists every notification preference.
func (s *Store) ListSubscriptions(ctx context.Context) ([]Subscription, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, queryErr := db.Query(ctx, listSubscriptionsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list subscriptions: %w", queryErr)
	}
	defer rows.Close()

	subs := make([]Subscription, 0)
	for rows.Next() {
		sub, scanErr := scanSubscription(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		subs = append(subs, sub)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return subs, nil
}

// UpdateLastNotified records a successful delivery for one preference.
func (s *Store) UpdateLastNotified(ctx context.Context, preferenceID int64, at time.Time) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	cmdTag, execErr := db.Exec(ctx, updateLastNotifiedSQL, preferenceID, at)
	if execErr != nil {
		return fmt.Errorf("update last notified: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// CreateSubscription inserts a preference in one transaction. When seed is non-nil the product
// is created from it if absent, together with its first history row.
func (s *Store) CreateSubscription(ctx context.Context, sub NewSubscription, seed *decimal.Decimal) (Subscription, error) {
	db, err := s.getDB()
	if err != nil {
		return Subscription{}, err
	}

	tx, err := db.Begin(ctx)
	if err != nil {
		return Subscription{}, fmt.Errorf("begin subscription tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if seed != nil {
		seedStr := seed.String()
		cmdTag, execErr := tx.Exec(ctx, seedProductSQL, sub.ProductID, seedStr, sub.CreatedAt)
		if execErr != nil {
			return Subscription{}, fmt.Errorf("seed product: %w", execErr)
		}
		if cmdTag.RowsAffected() == 1 {
			if _, execErr := tx.Exec(ctx, insertObservationSQL, sub.ProductID, seedStr, sub.CreatedAt); execErr != nil {
				return Subscription{}, fmt.Errorf("insert seed observation: %w", execErr)
			}
		}
	}

	created, scanErr := scanSubscription(tx.QueryRow(ctx, insertSubscriptionSQL,
		sub.ProductID,
		sub.Email,
		sub.IntervalHours,
		sub.PriceThreshold.String(),
		sub.NotifyOnLowest,
		sub.NotifyOnHighest,
		sub.CreatedAt,
	))
	if scanErr != nil {
		var pgErr *pgconn.PgError
		if errors.As(scanErr, &pgErr) {
			switch pgErr.Code {
			case pgUniqueViolation:
				return Subscription{}, ErrSubscriptionExists
			case pgForeignKeyViolation:
				return Subscription{}, ErrProductNotFound
			}
		}
		return Subscription{}, fmt.Errorf("insert subscription: %w", scanErr)
	}

	if err := tx.Commit(ctx); err != nil {
		return Subscription{}, fmt.Errorf("commit subscription: %w", err)
	}
	return created, nil
}

func scanProduct(row pgx.Row) (Product, error) {
	var (
		product    Product
		currentStr string
		highestStr string
		lowestStr  string
	)
	if err := row.Scan(&product.ProductID, &currentStr, &highestStr, &lowestStr, &product.LastUpdated); err != nil {
		return Product{}, err
	}

	var err error
	if product.CurrentPrice, err = decimal.NewFromString(currentStr); err != nil {
		return Product{}, fmt.Errorf("parse current price: %w", err)
	}
	if product.HighestPrice, err = decimal.NewFromString(highestStr); err != nil {
		return Product{}, fmt.Errorf("parse highest price: %w", err)
	}
	if product.LowestPrice, err = decimal.NewFromString(lowestStr); err != nil {
		return Product{}, fmt.Errorf("parse lowest price: %w", err)
	}
	return product, nil
}

func scanSubscription(row pgx.Row) (Subscription, error) {
	var (
		sub          Subscription
		thresholdStr string
	)
	if err := row.Scan(
		&sub.PreferenceID,
		&sub.ProductID,
		&sub.Email,
		&sub.IntervalHours,
		&thresholdStr,
		&sub.NotifyOnLowest,
		&sub.NotifyOnHighest,
		&sub.LastNotified,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	); err != nil {
		return Subscription{}, err
	}

	threshold, err := decimal.NewFromString(thresholdStr)
	if err != nil {
		return Subscription{}, fmt.Errorf("parse price threshold: %w", err)
	}
	sub.PriceThreshold = threshold
	return sub, nil
}

var (
	_ PriceStore        = (*Store)(nil)
	_ SubscriptionStore = (*Store)(nil)
	_ AdvisoryLocker    = (*Store)(nil)
)
