// Package cache stores downstream responses in the shared store, keyed by
// request fingerprint.
//
// Freshness is enforced only by the store's TTL: an entry that exists is
// served, an expired one no longer exists. Every store failure during a
// lookup degrades to a miss; caching never rejects a request.
//
// Pattern invalidation enumerates matching keys and deletes them in batches.
// It is eventually consistent: an entry written while a sweep is running may
// survive it.
package cache

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"api-gateway/internal/common/errors"
	"api-gateway/internal/common/logging"

	"golang.org/x/time/rate"
)

const (
	defaultTTL          = 5 * time.Minute
	defaultKeyPrefix    = "cache:"
	defaultStatsKey     = "stats:cache"
	defaultMaxEntrySize = 4 << 20

	fieldHits   = "hits"
	fieldMisses = "misses"
	fieldStores = "stores"
)

// Store is the subset of the shared store the cache needs.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) (int64, error)
	DeletePattern(ctx context.Context, pattern string) (int64, error)
	CountPattern(ctx context.Context, pattern string) (int64, error)
	HIncrBy(ctx context.Context, key, field string, incr int64) (int64, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
}

type Config struct {
	Enabled      bool          `json:"enabled"`
	TTL          time.Duration `json:"ttl"`
	KeyPrefix    string        `json:"key_prefix"`
	StatsKey     string        `json:"stats_key"`
	MaxEntrySize int           `json:"max_entry_size"`
}

// Stats summarises the cache partition. Counters are shared by every
// gateway instance.
type Stats struct {
	Enabled    bool    `json:"enabled"`
	Entries    int64   `json:"entries"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	Stores     int64   `json:"stores"`
	HitRate    float64 `json:"hit_rate"`
	TTLSeconds int64   `json:"ttl_seconds"`
}

type Cache struct {
	store  Store
	config *Config
	logger logging.Logger
	now    func() time.Time

	warnLog *rate.Limiter
}

func New(store Store, config *Config, logger logging.Logger) *Cache {
	if config == nil {
		config = &Config{Enabled: true}
	}
	if config.TTL <= 0 {
		config.TTL = defaultTTL
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = defaultKeyPrefix
	}
	if config.StatsKey == "" {
		config.StatsKey = defaultStatsKey
	}
	if config.MaxEntrySize <= 0 {
		config.MaxEntrySize = defaultMaxEntrySize
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &Cache{
		store:   store,
		config:  config,
		logger:  logger.WithFields(logging.String("component", "cache")),
		now:     time.Now,
		warnLog: rate.NewLimiter(rate.Every(10*time.Second), 1),
	}
}

func (c *Cache) Enabled() bool {
	return c.config.Enabled
}

func (c *Cache) TTL() time.Duration {
	return c.config.TTL
}

// Key returns the store key of a fingerprint.
func (c *Cache) Key(fingerprint string) string {
	return c.config.KeyPrefix + fingerprint
}

// Lookup performs a single read for fingerprint. Errors and undecodable
// entries are reported as a miss.
func (c *Cache) Lookup(ctx context.Context, fingerprint string) (*Entry, bool) {
	if !c.config.Enabled {
		return nil, false
	}

	data, found, err := c.store.Get(ctx, c.Key(fingerprint))
	if err != nil {
		c.warn("Cache lookup failed, treating as miss", err, fingerprint)
		return nil, false
	}

	if !found {
		c.count(ctx, fieldMisses)
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.warn("Cache entry is not decodable, treating as miss", err, fingerprint)
		c.count(ctx, fieldMisses)
		return nil, false
	}

	c.count(ctx, fieldHits)
	return &entry, true
}

// Store writes entry for fingerprint with the configured TTL, replacing any
// previous entry. Entries that are not Storable or exceed the size limit are
// skipped without error.
func (c *Cache) Store(ctx context.Context, fingerprint string, entry *Entry) error {
	if !c.config.Enabled || !Storable(entry) {
		return nil
	}
	if len(entry.Body) > c.config.MaxEntrySize {
		c.logger.Debug("Response too large to cache",
			logging.String("fingerprint", fingerprint),
			logging.Int("size", len(entry.Body)))
		return nil
	}

	stored := *entry
	stored.Header = FilterHeader(entry.Header)
	if stored.StoredAt.IsZero() {
		stored.StoredAt = c.now().UTC()
	}

	data, err := json.Marshal(&stored)
	if err != nil {
		return errors.InternalError("failed to encode cache entry", err)
	}

	if err := c.store.Set(ctx, c.Key(fingerprint), data, c.config.TTL); err != nil {
		c.warn("Cache store failed", err, fingerprint)
		return err
	}

	c.count(ctx, fieldStores)
	return nil
}

// Invalidate removes exactly one key and returns the number removed. The
// key may be given with or without the cache prefix and is never read as a
// glob, so fingerprints of paths like "/items[0]" are deleted literally.
// No match is not an error.
func (c *Cache) Invalidate(ctx context.Context, key string) (int64, error) {
	key, err := c.target(key, "cache key")
	if err != nil || key == "" {
		return 0, err
	}

	n, err := c.store.Delete(ctx, key)
	if err != nil {
		return n, err
	}

	c.logger.Info("Cache invalidated",
		logging.String("key", key),
		logging.Int64("deleted", n))
	return n, nil
}

// InvalidatePattern removes every key matching a glob pattern and returns
// the number removed. The pattern is confined to the cache partition.
func (c *Cache) InvalidatePattern(ctx context.Context, pattern string) (int64, error) {
	pattern, err := c.target(pattern, "cache pattern")
	if err != nil || pattern == "" {
		return 0, err
	}

	n, err := c.store.DeletePattern(ctx, pattern)
	if err != nil {
		return n, err
	}

	c.logger.Info("Cache invalidated",
		logging.String("pattern", pattern),
		logging.Int64("deleted", n))
	return n, nil
}

// Clear removes every entry in the cache partition.
func (c *Cache) Clear(ctx context.Context) (int64, error) {
	return c.InvalidatePattern(ctx, "*")
}

// target prefixes s with the partition prefix. An empty result with a nil
// error means the cache is disabled.
func (c *Cache) target(s, what string) (string, error) {
	if !c.config.Enabled {
		return "", nil
	}

	s = strings.TrimSpace(s)
	if s == "" {
		return "", errors.ValidationError(what + " is required")
	}
	if !strings.HasPrefix(s, c.config.KeyPrefix) {
		s = c.config.KeyPrefix + s
	}
	return s, nil
}

// Stats reports the entry count and the shared hit/miss counters. A disabled
// cache reports an empty state.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{
		Enabled:    c.config.Enabled,
		TTLSeconds: int64(c.config.TTL / time.Second),
	}
	if !c.config.Enabled {
		return stats, nil
	}

	entries, err := c.store.CountPattern(ctx, c.config.KeyPrefix+"*")
	if err != nil {
		return stats, err
	}
	stats.Entries = entries

	counters, err := c.store.HGetAll(ctx, c.config.StatsKey)
	if err != nil {
		return stats, err
	}
	stats.Hits = parseCounter(counters[fieldHits])
	stats.Misses = parseCounter(counters[fieldMisses])
	stats.Stores = parseCounter(counters[fieldStores])

	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats, nil
}

func parseCounter(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

// count bumps a shared counter. Counters are best-effort.
func (c *Cache) count(ctx context.Context, field string) {
	if _, err := c.store.HIncrBy(ctx, c.config.StatsKey, field, 1); err != nil {
		c.logger.Debug("Cache counter update failed",
			logging.String("field", field),
			logging.Err(err))
	}
}

func (c *Cache) warn(msg string, err error, fingerprint string) {
	if !c.warnLog.Allow() {
		return
	}
	c.logger.Warn(msg,
		logging.String("fingerprint", fingerprint),
		logging.Err(err))
}
