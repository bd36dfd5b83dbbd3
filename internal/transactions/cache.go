package transactions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/paykrypt/paykrypt/internal/metrics"
	"github.com/paykrypt/paykrypt/internal/risk"
)

// ErrCacheMiss is returned by Cache.Get when the key is absent.
var ErrCacheMiss = errors.New("cache miss")

// Cache is the byte-level key/value cache in front of a Store.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// Incr atomically increments the integer at key, treating a missing key as 0.
	Incr(ctx context.Context, key string) (int64, error)
}

// RedisCache adapts a go-redis client to Cache.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache parses a redis:// URL and returns a cache over a new client.
func NewRedisCache(url string) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	return data, err
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	return c.client.Del(ctx, keys...).Err()
}

func (c *RedisCache) Incr(ctx context.Context, key string) (int64, error) {
	return c.client.Incr(ctx, key).Result()
}

// Ping reports whether redis is reachable.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the client's connections.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// CachedStore caches per-sender history in front of another Store.
// Cache failures degrade to the underlying store.
//
// Each sender has a generation counter that Create bumps after the write
// commits. History entries are keyed by generation, so a reader that loaded
// before the write can only refill an entry no later reader will look up.
type CachedStore struct {
	Store
	cache  Cache
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedStore wraps store with a sender-history cache.
func NewCachedStore(store Store, cache Cache, ttl time.Duration, logger *slog.Logger) *CachedStore {
	return &CachedStore{Store: store, cache: cache, ttl: ttl, logger: logger}
}

func generationKey(senderID string) string {
	return "paykrypt:history:gen:" + senderID
}

func historyKey(senderID string, gen int64) string {
	return "paykrypt:history:sender:" + senderID + ":" + strconv.FormatInt(gen, 10)
}

// generation returns the sender's current history generation.
func (s *CachedStore) generation(ctx context.Context, senderID string) (int64, error) {
	data, err := s.cache.Get(ctx, generationKey(senderID))
	if errors.Is(err, ErrCacheMiss) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	gen, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid history generation %q: %w", data, err)
	}
	return gen, nil
}

// ListBySender serves the sender's history from the cache when possible.
func (s *CachedStore) ListBySender(ctx context.Context, senderID string) ([]risk.Transaction, error) {
	gen, err := s.generation(ctx, senderID)
	if err != nil {
		metrics.HistoryCacheRequests.WithLabelValues("error").Inc()
		s.logger.Warn("history cache read failed", "sender_id", senderID, "error", err)
		return s.Store.ListBySender(ctx, senderID)
	}
	key := historyKey(senderID, gen)

	data, err := s.cache.Get(ctx, key)
	switch {
	case err == nil:
		var txs []risk.Transaction
		if jsonErr := json.Unmarshal(data, &txs); jsonErr == nil {
			metrics.HistoryCacheRequests.WithLabelValues("hit").Inc()
			return txs, nil
		}
		metrics.HistoryCacheRequests.WithLabelValues("error").Inc()
	case errors.Is(err, ErrCacheMiss):
		metrics.HistoryCacheRequests.WithLabelValues("miss").Inc()
	default:
		metrics.HistoryCacheRequests.WithLabelValues("error").Inc()
		s.logger.Warn("history cache read failed", "sender_id", senderID, "error", err)
	}

	txs, err := s.Store.ListBySender(ctx, senderID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(txs); err == nil {
		if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
			s.logger.Warn("history cache write failed", "sender_id", senderID, "error", err)
		}
	}
	return txs, nil
}

// Create stores tx and moves the sender to a new history generation.
func (s *CachedStore) Create(ctx context.Context, tx *risk.Transaction) error {
	if err := s.Store.Create(ctx, tx); err != nil {
		return err
	}
	gen, err := s.cache.Incr(ctx, generationKey(tx.SenderID))
	if err != nil {
		s.logger.Warn("history cache invalidation failed", "sender_id", tx.SenderID, "error", err)
		return nil
	}
	if err := s.cache.Delete(ctx, historyKey(tx.SenderID, gen-1)); err != nil {
		s.logger.Warn("history cache cleanup failed", "sender_id", tx.SenderID, "error", err)
	}
	return nil
}
