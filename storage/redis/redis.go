// Package redis provides a Redis implementation of the entitle.Store interface.
// Records are hashes; each user has a sorted set of subscription ids scored by
// update time. Conditional writes run as Lua scripts so they stay atomic.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mihaimyh/goentitle/pkg/entitle"
)

// Storage implements entitle.Store using Redis
type Storage struct {
	client  redis.UniversalClient
	config  Config
	scripts map[string]*redis.Script
}

// Config holds Redis storage configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "goentitle:")
	KeyPrefix string
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "goentitle:",
	}
}

// New creates a new Redis storage adapter
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring
func New(client redis.UniversalClient, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "goentitle:"
	}

	s := &Storage{
		client:  client,
		config:  config,
		scripts: make(map[string]*redis.Script),
	}
	s.loadScripts()
	return s, nil
}

func (s *Storage) loadScripts() {
	// ARGV holds field/value pairs. Checkouts never expire.
	s.scripts["createIfAbsent"] = redis.NewScript(`
		if redis.call('EXISTS', KEYS[1]) == 1 then
			return 0
		end
		redis.call('HSET', KEYS[1], unpack(ARGV))
		return 1
	`)

	s.scripts["updateIfExists"] = redis.NewScript(`
		if redis.call('EXISTS', KEYS[1]) == 0 then
			return 0
		end
		if #ARGV > 0 then
			redis.call('HSET', KEYS[1], unpack(ARGV))
		end
		return 1
	`)

	// KEYS[1] subscription hash, KEYS[2] owner index
	// ARGV: member, score, index prefix, user id, field/value pairs...
	s.scripts["upsertSubscription"] = redis.NewScript(`
		local old = redis.call('HGET', KEYS[1], 'user_id')
		if old and old ~= ARGV[4] then
			redis.call('ZREM', ARGV[3] .. old, ARGV[1])
		end
		redis.call('HSET', KEYS[1], unpack(ARGV, 5))
		redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
		return 1
	`)

	// KEYS[1] subscription hash
	// ARGV: index prefix, member, score ('' keeps the index untouched), field/value pairs...
	s.scripts["patchSubscription"] = redis.NewScript(`
		if redis.call('EXISTS', KEYS[1]) == 0 then
			return 0
		end
		if #ARGV > 3 then
			redis.call('HSET', KEYS[1], unpack(ARGV, 4))
		end
		if ARGV[3] ~= '' then
			local uid = redis.call('HGET', KEYS[1], 'user_id')
			if uid then
				redis.call('ZADD', ARGV[1] .. uid, ARGV[3], ARGV[2])
			end
		end
		return 1
	`)
}

// CreateCheckout implements entitle.Store
func (s *Storage) CreateCheckout(ctx context.Context, c *entitle.Checkout) error {
	if c == nil || c.RequestID == "" || c.UserID == "" {
		return fmt.Errorf("%w: checkout requires request id and user id", entitle.ErrInvalidRecord)
	}

	args := []interface{}{
		"user_id", c.UserID,
		"plan_key", c.PlanKey,
		"creem_product_id", c.ProviderProductID,
		"status", string(c.Status),
		"created_at", formatTime(c.CreatedAt),
		"updated_at", formatTime(c.UpdatedAt),
	}
	if c.ProviderCheckoutID != "" {
		args = append(args, "creem_checkout_id", c.ProviderCheckoutID)
	}

	created, err := s.scripts["createIfAbsent"].Run(ctx, s.client, []string{s.checkoutKey(c.RequestID)}, args...).Int()
	if err != nil {
		return fmt.Errorf("failed to create checkout: %w", err)
	}
	if created == 0 {
		return entitle.ErrDuplicateCheckout
	}
	return nil
}

// GetCheckout implements entitle.Store
func (s *Storage) GetCheckout(ctx context.Context, requestID string) (*entitle.Checkout, error) {
	h, err := s.client.HGetAll(ctx, s.checkoutKey(requestID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get checkout: %w", err)
	}
	if len(h) == 0 {
		return nil, entitle.ErrCheckoutNotFound
	}

	c := &entitle.Checkout{
		RequestID:          requestID,
		UserID:             h["user_id"],
		PlanKey:            h["plan_key"],
		ProviderProductID:  h["creem_product_id"],
		Status:             entitle.CheckoutStatus(h["status"]),
		ProviderCheckoutID: h["creem_checkout_id"],
	}
	if c.CreatedAt, err = parseTime(h["created_at"]); err != nil {
		return nil, fmt.Errorf("failed to parse checkout: %w", err)
	}
	if c.UpdatedAt, err = parseTime(h["updated_at"]); err != nil {
		return nil, fmt.Errorf("failed to parse checkout: %w", err)
	}
	return c, nil
}

// UpdateCheckout implements entitle.Store
func (s *Storage) UpdateCheckout(ctx context.Context, requestID string, upd *entitle.CheckoutUpdate) error {
	args := []interface{}{"updated_at", formatTime(upd.UpdatedAt)}
	if upd.Status != "" {
		args = append(args, "status", string(upd.Status))
	}
	if upd.ProviderCheckoutID != "" {
		args = append(args, "creem_checkout_id", upd.ProviderCheckoutID)
	}

	ok, err := s.scripts["updateIfExists"].Run(ctx, s.client, []string{s.checkoutKey(requestID)}, args...).Int()
	if err != nil {
		return fmt.Errorf("failed to update checkout: %w", err)
	}
	if ok == 0 {
		return entitle.ErrCheckoutNotFound
	}
	return nil
}

// UpsertCustomer implements entitle.Store
func (s *Storage) UpsertCustomer(ctx context.Context, c *entitle.Customer) error {
	if c == nil || c.ProviderCustomerID == "" || c.UserID == "" {
		return fmt.Errorf("%w: customer requires provider id and user id", entitle.ErrInvalidRecord)
	}

	key := s.customerKey(c.ProviderCustomerID)
	fields := []interface{}{"user_id", c.UserID, "updated_at", formatTime(c.UpdatedAt)}
	if c.Email != "" {
		fields = append(fields, "email", c.Email)
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, key, "created_at", formatTime(c.CreatedAt))
		pipe.HSet(ctx, key, fields...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to upsert customer: %w", err)
	}
	return nil
}

// GetSubscription implements entitle.Store
func (s *Storage) GetSubscription(ctx context.Context, id string) (*entitle.Subscription, error) {
	h, err := s.client.HGetAll(ctx, s.subscriptionKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	if len(h) == 0 {
		return nil, entitle.ErrSubscriptionNotFound
	}
	return decodeSubscription(id, h)
}

// UpsertSubscription implements entitle.Store
func (s *Storage) UpsertSubscription(ctx context.Context, sub *entitle.Subscription) error {
	if sub == nil || sub.ProviderSubscriptionID == "" || sub.UserID == "" {
		return fmt.Errorf("%w: subscription requires provider id and user id", entitle.ErrInvalidRecord)
	}

	args := []interface{}{
		sub.ProviderSubscriptionID,
		score(sub.UpdatedAt),
		s.userIndexPrefix(),
		sub.UserID,
		"user_id", sub.UserID,
		"plan_key", sub.PlanKey,
		"status", sub.Status,
		"updated_at", formatTime(sub.UpdatedAt),
	}
	args = appendOptional(args, "creem_customer_id", sub.ProviderCustomerID)
	args = appendOptional(args, "creem_product_id", sub.ProviderProductID)
	args = appendTime(args, "current_period_start_date", sub.CurrentPeriodStart)
	args = appendTime(args, "current_period_end_date", sub.CurrentPeriodEnd)
	args = appendTime(args, "canceled_at", sub.CanceledAt)
	args = appendOptional(args, "raw", string(sub.Raw))

	keys := []string{s.subscriptionKey(sub.ProviderSubscriptionID), s.userIndexKey(sub.UserID)}
	if err := s.scripts["upsertSubscription"].Run(ctx, s.client, keys, args...).Err(); err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return nil
}

// UpdateSubscription implements entitle.Store
func (s *Storage) UpdateSubscription(ctx context.Context, id string, patch *entitle.SubscriptionPatch) error {
	var scoreArg interface{} = ""
	if !patch.UpdatedAt.IsZero() {
		scoreArg = score(patch.UpdatedAt)
	}

	args := []interface{}{s.userIndexPrefix(), id, scoreArg}
	if patch.Status != nil {
		args = append(args, "status", *patch.Status)
	}
	if patch.ProviderCustomerID != nil {
		args = append(args, "creem_customer_id", *patch.ProviderCustomerID)
	}
	if patch.ProviderProductID != nil {
		args = append(args, "creem_product_id", *patch.ProviderProductID)
	}
	args = appendTime(args, "current_period_start_date", patch.CurrentPeriodStart)
	args = appendTime(args, "current_period_end_date", patch.CurrentPeriodEnd)
	args = appendTime(args, "canceled_at", patch.CanceledAt)
	args = appendOptional(args, "raw", string(patch.Raw))
	if !patch.UpdatedAt.IsZero() {
		args = append(args, "updated_at", formatTime(patch.UpdatedAt))
	}

	ok, err := s.scripts["patchSubscription"].Run(ctx, s.client, []string{s.subscriptionKey(id)}, args...).Int()
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	if ok == 0 {
		return entitle.ErrSubscriptionNotFound
	}
	return nil
}

// ListSubscriptions implements entitle.Store
func (s *Storage) ListSubscriptions(ctx context.Context, userID string, limit int) ([]*entitle.Subscription, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}

	ids, err := s.client.ZRevRange(ctx, s.userIndexKey(userID), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.subscriptionKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load subscriptions: %w", err)
	}

	subs := make([]*entitle.Subscription, 0, len(ids))
	for i, cmd := range cmds {
		h := cmd.Val()
		if len(h) == 0 {
			continue
		}
		sub, err := decodeSubscription(ids[i], h)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// Close closes the underlying client
func (s *Storage) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Storage) checkoutKey(requestID string) string {
	return fmt.Sprintf("%scheckout:%s", s.config.KeyPrefix, requestID)
}

func (s *Storage) customerKey(id string) string {
	return fmt.Sprintf("%scustomer:%s", s.config.KeyPrefix, id)
}

func (s *Storage) subscriptionKey(id string) string {
	return fmt.Sprintf("%ssubscription:%s", s.config.KeyPrefix, id)
}

func (s *Storage) userIndexPrefix() string {
	return s.config.KeyPrefix + "user_subscriptions:"
}

func (s *Storage) userIndexKey(userID string) string {
	return s.userIndexPrefix() + userID
}

func decodeSubscription(id string, h map[string]string) (*entitle.Subscription, error) {
	sub := &entitle.Subscription{
		ProviderSubscriptionID: id,
		UserID:                 h["user_id"],
		PlanKey:                h["plan_key"],
		Status:                 h["status"],
		ProviderCustomerID:     h["creem_customer_id"],
		ProviderProductID:      h["creem_product_id"],
	}
	if raw := h["raw"]; raw != "" {
		sub.Raw = json.RawMessage(raw)
	}

	var err error
	if sub.UpdatedAt, err = parseTime(h["updated_at"]); err != nil {
		return nil, fmt.Errorf("failed to parse subscription %s: %w", id, err)
	}
	for field, dst := range map[string]**time.Time{
		"current_period_start_date": &sub.CurrentPeriodStart,
		"current_period_end_date":   &sub.CurrentPeriodEnd,
		"canceled_at":               &sub.CanceledAt,
	} {
		v := h[field]
		if v == "" {
			continue
		}
		t, err := parseTime(v)
		if err != nil {
			return nil, fmt.Errorf("failed to parse subscription %s: %w", id, err)
		}
		*dst = &t
	}
	return sub, nil
}

func appendOptional(args []interface{}, field, v string) []interface{} {
	if v == "" {
		return args
	}
	return append(args, field, v)
}

func appendTime(args []interface{}, field string, t *time.Time) []interface{} {
	if t == nil {
		return args
	}
	return append(args, field, formatTime(*t))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// score orders the per-user index. Microseconds keep it within float64 precision.
func score(t time.Time) int64 {
	return t.UnixMicro()
}

var _ entitle.Store = (*Storage)(nil)
