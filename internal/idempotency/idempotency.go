package idempotency

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "order-approval:"

// NotifiedKey is marked once the order's notification has been published.
func NotifiedKey(orderID string) string { return "notified:" + orderID }

// NotifyingKey is claimed by the attempt currently publishing the notification.
func NotifyingKey(orderID string) string { return "notifying:" + orderID }

// Keeper holds short-lived claims and durable markers on keys.
type Keeper interface {
	// Claim reports whether the caller now owns key. false means another
	// holder has it and it has not yet expired.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release gives up a claim.
	Release(ctx context.Context, key string) error
	// Mark sets key unconditionally, replacing any claim on it.
	Mark(ctx context.Context, key string, ttl time.Duration) error
	// Marked reports whether key is set and unexpired.
	Marked(ctx context.Context, key string) (bool, error)
}

type Redis struct {
	client *redis.Client
}

// OpenRedis parses a redis:// URL into a client.
func OpenRedis(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opt), nil
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, keyPrefix+key, time.Now().UTC().Format(time.RFC3339Nano), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	return ok, nil
}

func (r *Redis) Release(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Mark(ctx context.Context, key string, ttl time.Duration) error {
	if err := r.client.Set(ctx, keyPrefix+key, time.Now().UTC().Format(time.RFC3339Nano), ttl).Err(); err != nil {
		return fmt.Errorf("mark %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Marked(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, keyPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("lookup %s: %w", key, err)
	}
	return n > 0, nil
}

// Memory keeps claims in process. It only deduplicates within one worker and
// is the fallback when no Redis URL is configured.
type Memory struct {
	mu     sync.Mutex
	claims map[string]time.Time
	now    func() time.Time
}

func NewMemory() *Memory {
	return NewMemoryWithClock(time.Now)
}

// NewMemoryWithClock uses now to decide expiry.
func NewMemoryWithClock(now func() time.Time) *Memory {
	return &Memory{claims: make(map[string]time.Time), now: now}
}

func (m *Memory) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.liveLocked(key) {
		return false, nil
	}
	m.setLocked(key, ttl)
	return true, nil
}

func (m *Memory) Mark(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(key, ttl)
	return nil
}

func (m *Memory) Marked(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.liveLocked(key), nil
}

// A zero expiry never expires.
func (m *Memory) liveLocked(key string) bool {
	exp, ok := m.claims[key]
	return ok && (exp.IsZero() || m.now().Before(exp))
}

func (m *Memory) setLocked(key string, ttl time.Duration) {
	var exp time.Time
	if ttl > 0 {
		exp = m.now().Add(ttl)
	}
	m.claims[key] = exp
}

func (m *Memory) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claims, key)
	return nil
}
