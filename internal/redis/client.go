// Package redis wraps the shared Redis store used by the rate limiter and the
// response cache. Every operation runs under a bounded timeout that is
// detached from the caller's cancellation, and connection or timeout
// failures come back as store_unavailable AppErrors.
package redis

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
	"time"

	"api-gateway/internal/common/errors"

	"github.com/go-redis/redis/v8"
)

const (
	defaultAddress  = "localhost:6379"
	defaultPoolSize = 10
	defaultTimeout  = 2 * time.Second
	scanBatchSize   = 100
)

// incrWindowScript increments a window counter and guarantees it carries an
// expiry. The PTTL repair covers keys that lost their TTL, e.g. a replica
// promoted before the PEXPIRE propagated.
var incrWindowScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

type Client struct {
	rdb    *redis.Client
	config *Config
}

type Config struct {
	Address  string        `json:"address"`
	Password string        `json:"password"`
	DB       int           `json:"db"`
	PoolSize int           `json:"pool_size"`
	Timeout  time.Duration `json:"timeout"`
}

// NewClient connects to Redis and verifies the connection with a ping.
func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, errors.ConfigError("redis config is required")
	}

	c := Open(config)
	if err := c.Health(context.Background()); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", config.Address, err)
	}

	return c, nil
}

// Open builds a client without contacting the server. Connections are
// established lazily, so an unreachable store surfaces on the first call.
func Open(config *Config) *Client {
	if config.Address == "" {
		config.Address = defaultAddress
	}
	if config.PoolSize == 0 {
		config.PoolSize = defaultPoolSize
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         config.Address,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		DialTimeout:  config.Timeout,
		ReadTimeout:  config.Timeout,
		WriteTimeout: config.Timeout,
	})

	return &Client{
		rdb:    rdb,
		config: config,
	}
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// Timeout returns the per-operation timeout.
func (c *Client) Timeout() time.Duration {
	return c.config.Timeout
}

// opContext derives the context for a single store call. Caller cancellation
// does not abort the call; only the configured timeout does.
func (c *Client) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(context.WithoutCancel(ctx), c.config.Timeout)
}

func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	return errors.StoreUnavailableError(op, err).WithContext("op", op)
}

func (c *Client) Health(ctx context.Context) error {
	opCtx, cancel := c.opContext(ctx)
	defer cancel()
	return storeError("ping", c.rdb.Ping(opCtx).Err())
}

// IncrWindow atomically increments the counter at key and returns the new
// count together with the remaining lifetime of the window. The window
// expiry is set when the key is created.
func (c *Client) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if window < time.Millisecond {
		return 0, 0, errors.ValidationError("window must be at least one millisecond")
	}

	opCtx, cancel := c.opContext(ctx)
	defer cancel()

	res, err := incrWindowScript.Run(opCtx, c.rdb, []string{key}, window.Milliseconds()).Result()
	if err != nil {
		return 0, 0, storeError("incr_window", err)
	}

	values, ok := res.([]interface{})
	if !ok || len(values) != 2 {
		return 0, 0, errors.InternalError(fmt.Sprintf("unexpected incr_window reply %v", res), nil)
	}

	count, ok1 := values[0].(int64)
	ttlMillis, ok2 := values[1].(int64)
	if !ok1 || !ok2 {
		return 0, 0, errors.InternalError(fmt.Sprintf("unexpected incr_window reply %v", res), nil)
	}

	return count, time.Duration(ttlMillis) * time.Millisecond, nil
}

// Set writes value under key with the given expiration (0 means no expiry).
func (c *Client) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	opCtx, cancel := c.opContext(ctx)
	defer cancel()
	return storeError("set", c.rdb.Set(opCtx, key, value, expiration).Err())
}

// Get returns the value at key. A missing key is reported through found,
// never as an error.
func (c *Client) Get(ctx context.Context, key string) (value []byte, found bool, err error) {
	opCtx, cancel := c.opContext(ctx)
	defer cancel()

	data, err := c.rdb.Get(opCtx, key).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storeError("get", err)
	}
	return data, true, nil
}

// GetInt is Get for integer counters; a missing key reads as zero.
func (c *Client) GetInt(ctx context.Context, key string) (int64, error) {
	data, found, err := c.Get(ctx, key)
	if err != nil || !found {
		return 0, err
	}

	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, errors.InternalError(fmt.Sprintf("value at %s is not an integer", key), err)
	}
	return n, nil
}

// TTL returns the remaining lifetime of key, or zero when the key is
// missing or has no expiry.
func (c *Client) TTL(ctx context.Context, key string) (time.Duration, error) {
	opCtx, cancel := c.opContext(ctx)
	defer cancel()

	ttl, err := c.rdb.PTTL(opCtx, key).Result()
	if err != nil {
		return 0, storeError("pttl", err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// Delete removes the given keys and returns how many existed.
func (c *Client) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	opCtx, cancel := c.opContext(ctx)
	defer cancel()

	n, err := c.rdb.Del(opCtx, keys...).Result()
	if err != nil {
		return 0, storeError("del", err)
	}
	return n, nil
}

// scanPages walks every key matching pattern and hands each SCAN page to fn.
// Each page is its own store call with its own timeout.
func (c *Client) scanPages(ctx context.Context, pattern string, fn func(keys []string) error) error {
	var cursor uint64
	for {
		opCtx, cancel := c.opContext(ctx)
		keys, next, err := c.rdb.Scan(opCtx, cursor, pattern, scanBatchSize).Result()
		cancel()
		if err != nil {
			return storeError("scan", err)
		}

		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}

		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Scan returns every key matching the glob pattern. SCAN may report a key
// more than once, so results are deduplicated.
func (c *Client) Scan(ctx context.Context, pattern string) ([]string, error) {
	seen := make(map[string]struct{})
	var result []string
	err := c.scanPages(ctx, pattern, func(keys []string) error {
		for _, k := range keys {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			result = append(result, k)
		}
		return nil
	})
	return result, err
}

// DeletePattern enumerates every key matching the glob pattern, then deletes
// them in batches. The sweep is not atomic: keys written after enumeration
// survive.
func (c *Client) DeletePattern(ctx context.Context, pattern string) (int64, error) {
	keys, err := c.Scan(ctx, pattern)
	if err != nil {
		return 0, err
	}

	var deleted int64
	for start := 0; start < len(keys); start += scanBatchSize {
		end := start + scanBatchSize
		if end > len(keys) {
			end = len(keys)
		}

		n, err := c.Delete(ctx, keys[start:end]...)
		deleted += n
		if err != nil {
			return deleted, err
		}
	}
	return deleted, nil
}

// CountPattern counts keys matching the glob pattern.
func (c *Client) CountPattern(ctx context.Context, pattern string) (int64, error) {
	keys, err := c.Scan(ctx, pattern)
	return int64(len(keys)), err
}

func (c *Client) HIncrBy(ctx context.Context, key, field string, incr int64) (int64, error) {
	opCtx, cancel := c.opContext(ctx)
	defer cancel()

	n, err := c.rdb.HIncrBy(opCtx, key, field, incr).Result()
	if err != nil {
		return 0, storeError("hincrby", err)
	}
	return n, nil
}

func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	opCtx, cancel := c.opContext(ctx)
	defer cancel()

	m, err := c.rdb.HGetAll(opCtx, key).Result()
	if err != nil {
		return nil, storeError("hgetall", err)
	}
	return m, nil
}
