// Package postgres provides a PostgreSQL implementation of the entitle.Store interface.
// Each write is a single statement; upserts rely on ON CONFLICT and partial
// updates on COALESCE so repeated webhook deliveries collapse into one row.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mihaimyh/goentitle/pkg/entitle"
)

// Storage implements entitle.Store using PostgreSQL
type Storage struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL storage configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	Logger entitle.Logger
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// New creates a new PostgreSQL storage adapter. The schema must already exist; see Migrate.
func New(ctx context.Context, config Config) (*Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}
	if config.Logger == nil {
		config.Logger = &entitle.NoopLogger{}
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	config.Logger.Debug("postgres pool ready", entitle.Field{Key: "max_conns", Value: poolConfig.MaxConns})

	return &Storage{pool: pool, config: config}, nil
}

// Close closes the PostgreSQL connection pool
func (s *Storage) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// CreateCheckout implements entitle.Store
func (s *Storage) CreateCheckout(ctx context.Context, c *entitle.Checkout) error {
	if c == nil || c.RequestID == "" || c.UserID == "" {
		return fmt.Errorf("%w: checkout requires request id and user id", entitle.ErrInvalidRecord)
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO billing_checkouts
				(request_id, user_id, plan_key, creem_product_id, status, creem_checkout_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (request_id) DO NOTHING`,
		c.RequestID, c.UserID, c.PlanKey, c.ProviderProductID, string(c.Status),
		nullString(c.ProviderCheckoutID), c.CreatedAt.UTC(), c.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create checkout: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return entitle.ErrDuplicateCheckout
	}
	return nil
}

// GetCheckout implements entitle.Store
func (s *Storage) GetCheckout(ctx context.Context, requestID string) (*entitle.Checkout, error) {
	var c entitle.Checkout
	var status string

	err := s.pool.QueryRow(ctx,
		`SELECT request_id, user_id, plan_key, creem_product_id, status,
				COALESCE(creem_checkout_id, ''), created_at, updated_at
			FROM billing_checkouts WHERE request_id = $1`,
		requestID).Scan(
		&c.RequestID,
		&c.UserID,
		&c.PlanKey,
		&c.ProviderProductID,
		&status,
		&c.ProviderCheckoutID,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, entitle.ErrCheckoutNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkout: %w", err)
	}

	c.Status = entitle.CheckoutStatus(status)
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

// UpdateCheckout implements entitle.Store
func (s *Storage) UpdateCheckout(ctx context.Context, requestID string, upd *entitle.CheckoutUpdate) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE billing_checkouts SET
				status = COALESCE($2, status),
				creem_checkout_id = COALESCE($3, creem_checkout_id),
				updated_at = $4
			WHERE request_id = $1`,
		requestID, nullString(string(upd.Status)), nullString(upd.ProviderCheckoutID), upd.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to update checkout: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return entitle.ErrCheckoutNotFound
	}
	return nil
}

// UpsertCustomer implements entitle.Store
func (s *Storage) UpsertCustomer(ctx context.Context, c *entitle.Customer) error {
	if c == nil || c.ProviderCustomerID == "" || c.UserID == "" {
		return fmt.Errorf("%w: customer requires provider id and user id", entitle.ErrInvalidRecord)
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO billing_customers (creem_customer_id, user_id, email, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (creem_customer_id) DO UPDATE SET
				user_id = EXCLUDED.user_id,
				email = COALESCE(EXCLUDED.email, billing_customers.email),
				updated_at = EXCLUDED.updated_at`,
		c.ProviderCustomerID, c.UserID, nullString(c.Email), c.CreatedAt.UTC(), c.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert customer: %w", err)
	}
	return nil
}

const subscriptionColumns = `creem_subscription_id, user_id, plan_key, status,
	COALESCE(creem_customer_id, ''), COALESCE(creem_product_id, ''),
	current_period_start_date, current_period_end_date, canceled_at, raw, updated_at`

func scanSubscription(row pgx.Row) (*entitle.Subscription, error) {
	var sub entitle.Subscription
	var raw []byte
	err := row.Scan(
		&sub.ProviderSubscriptionID,
		&sub.UserID,
		&sub.PlanKey,
		&sub.Status,
		&sub.ProviderCustomerID,
		&sub.ProviderProductID,
		&sub.CurrentPeriodStart,
		&sub.CurrentPeriodEnd,
		&sub.CanceledAt,
		&raw,
		&sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(raw) > 0 {
		sub.Raw = json.RawMessage(raw)
	}
	sub.CurrentPeriodStart = utcPtr(sub.CurrentPeriodStart)
	sub.CurrentPeriodEnd = utcPtr(sub.CurrentPeriodEnd)
	sub.CanceledAt = utcPtr(sub.CanceledAt)
	sub.UpdatedAt = sub.UpdatedAt.UTC()
	return &sub, nil
}

// GetSubscription implements entitle.Store
func (s *Storage) GetSubscription(ctx context.Context, id string) (*entitle.Subscription, error) {
	sub, err := scanSubscription(s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM billing_subscriptions WHERE creem_subscription_id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, entitle.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

// UpsertSubscription implements entitle.Store
func (s *Storage) UpsertSubscription(ctx context.Context, sub *entitle.Subscription) error {
	if sub == nil || sub.ProviderSubscriptionID == "" || sub.UserID == "" {
		return fmt.Errorf("%w: subscription requires provider id and user id", entitle.ErrInvalidRecord)
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO billing_subscriptions
				(creem_subscription_id, user_id, plan_key, status, creem_customer_id, creem_product_id,
				 current_period_start_date, current_period_end_date, canceled_at, raw, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (creem_subscription_id) DO UPDATE SET
				user_id = EXCLUDED.user_id,
				plan_key = EXCLUDED.plan_key,
				status = EXCLUDED.status,
				creem_customer_id = COALESCE(EXCLUDED.creem_customer_id, billing_subscriptions.creem_customer_id),
				creem_product_id = COALESCE(EXCLUDED.creem_product_id, billing_subscriptions.creem_product_id),
				current_period_start_date = COALESCE(EXCLUDED.current_period_start_date, billing_subscriptions.current_period_start_date),
				current_period_end_date = COALESCE(EXCLUDED.current_period_end_date, billing_subscriptions.current_period_end_date),
				canceled_at = COALESCE(EXCLUDED.canceled_at, billing_subscriptions.canceled_at),
				raw = COALESCE(EXCLUDED.raw, billing_subscriptions.raw),
				updated_at = EXCLUDED.updated_at`,
		sub.ProviderSubscriptionID, sub.UserID, sub.PlanKey, sub.Status,
		nullString(sub.ProviderCustomerID), nullString(sub.ProviderProductID),
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.CanceledAt,
		nullJSON(sub.Raw), sub.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return nil
}

// UpdateSubscription implements entitle.Store
func (s *Storage) UpdateSubscription(ctx context.Context, id string, patch *entitle.SubscriptionPatch) error {
	var updatedAt *time.Time
	if !patch.UpdatedAt.IsZero() {
		t := patch.UpdatedAt.UTC()
		updatedAt = &t
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE billing_subscriptions SET
				status = COALESCE($2, status),
				creem_customer_id = COALESCE($3, creem_customer_id),
				creem_product_id = COALESCE($4, creem_product_id),
				current_period_start_date = COALESCE($5, current_period_start_date),
				current_period_end_date = COALESCE($6, current_period_end_date),
				canceled_at = COALESCE($7, canceled_at),
				raw = COALESCE($8, raw),
				updated_at = COALESCE($9, updated_at)
			WHERE creem_subscription_id = $1`,
		id, patch.Status, patch.ProviderCustomerID, patch.ProviderProductID,
		patch.CurrentPeriodStart, patch.CurrentPeriodEnd, patch.CanceledAt,
		nullJSON(patch.Raw), updatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return entitle.ErrSubscriptionNotFound
	}
	return nil
}

// ListSubscriptions implements entitle.Store
func (s *Storage) ListSubscriptions(ctx context.Context, userID string, limit int) ([]*entitle.Subscription, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+subscriptionColumns+`
			FROM billing_subscriptions
			WHERE user_id = $1
			ORDER BY updated_at DESC, creem_subscription_id ASC
			LIMIT $2`,
		userID, lim)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*entitle.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return subs, nil
}

// Ping checks the PostgreSQL connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func nullString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

var _ entitle.Store = (*Storage)(nil)
