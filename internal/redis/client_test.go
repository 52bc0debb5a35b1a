package redis

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"api-gateway/internal/common/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	client, err := NewClient(&Config{
		Address:  mr.Addr(),
		PoolSize: 10,
		Timeout:  time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, mr
}

func TestNewClient(t *testing.T) {
	t.Run("nil config", func(t *testing.T) {
		_, err := NewClient(nil)
		assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
	})

	t.Run("applies defaults", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := &Config{Address: mr.Addr()}

		client, err := NewClient(cfg)
		require.NoError(t, err)
		defer client.Close()

		assert.Equal(t, defaultPoolSize, cfg.PoolSize)
		assert.Equal(t, defaultTimeout, client.Timeout())
	})

	t.Run("unreachable server", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()

		_, err := NewClient(&Config{Address: addr, Timeout: 200 * time.Millisecond})
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrTypeStoreUnavailable))
	})
}

func TestOpen_Lazy(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	client := Open(&Config{Address: addr, Timeout: 200 * time.Millisecond})
	defer client.Close()

	err := client.Health(context.Background())
	assert.True(t, errors.IsType(err, errors.ErrTypeStoreUnavailable))

	require.NoError(t, mr.Restart())
	assert.NoError(t, client.Health(context.Background()))
}

func TestClient_Health(t *testing.T) {
	client, mr := setupTestRedis(t)

	assert.NoError(t, client.Health(context.Background()))

	mr.Close()
	err := client.Health(context.Background())
	assert.True(t, errors.IsType(err, errors.ErrTypeStoreUnavailable))
}

func TestClient_IncrWindow(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()

	count, ttl, err := client.IncrWindow(ctx, "rate:user:alice", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, time.Minute, ttl)
	assert.Equal(t, time.Minute, mr.TTL("rate:user:alice"))

	mr.FastForward(20 * time.Second)

	count, ttl, err = client.IncrWindow(ctx, "rate:user:alice", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.Equal(t, 40*time.Second, ttl, "later increments must not extend the window")

	mr.FastForward(41 * time.Second)
	assert.False(t, mr.Exists("rate:user:alice"))

	count, _, err = client.IncrWindow(ctx, "rate:user:alice", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestClient_IncrWindow_RepairsMissingExpiry(t *testing.T) {
	client, mr := setupTestRedis(t)

	require.NoError(t, mr.Set("rate:user:bob", "5"))
	assert.Zero(t, mr.TTL("rate:user:bob"))

	count, ttl, err := client.IncrWindow(context.Background(), "rate:user:bob", 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(6), count)
	assert.Equal(t, 30*time.Second, ttl)
	assert.Equal(t, 30*time.Second, mr.TTL("rate:user:bob"))
}

func TestClient_IncrWindow_Concurrent(t *testing.T) {
	client, mr := setupTestRedis(t)

	const callers = 50
	var wg sync.WaitGroup
	counts := make([]int64, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			n, _, err := client.IncrWindow(context.Background(), "rate:shared", time.Minute)
			assert.NoError(t, err)
			counts[i] = n
		}(i)
	}
	wg.Wait()

	sort.Slice(counts, func(i, j int) bool { return counts[i] < counts[j] })
	for i, n := range counts {
		assert.Equal(t, int64(i+1), n, "every increment must observe a distinct count")
	}

	value, err := mr.Get("rate:shared")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprint(callers), value)
	assert.Greater(t, mr.TTL("rate:shared"), time.Duration(0))
}

func TestClient_IncrWindow_InvalidWindow(t *testing.T) {
	client, _ := setupTestRedis(t)

	_, _, err := client.IncrWindow(context.Background(), "rate:x", 0)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}

func TestClient_KeyValue(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()

	t.Run("set and get", func(t *testing.T) {
		require.NoError(t, client.Set(ctx, "cache:GET:/a:1", []byte(`{"status":200}`), time.Minute))

		value, found, err := client.Get(ctx, "cache:GET:/a:1")
		require.NoError(t, err)
		assert.True(t, found)
		assert.JSONEq(t, `{"status":200}`, string(value))

		ttl, err := client.TTL(ctx, "cache:GET:/a:1")
		require.NoError(t, err)
		assert.Equal(t, time.Minute, ttl)
	})

	t.Run("missing key is not an error", func(t *testing.T) {
		value, found, err := client.Get(ctx, "cache:nope")
		require.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, value)

		ttl, err := client.TTL(ctx, "cache:nope")
		require.NoError(t, err)
		assert.Zero(t, ttl)
	})

	t.Run("expiry", func(t *testing.T) {
		require.NoError(t, client.Set(ctx, "short", []byte("v"), time.Second))
		mr.FastForward(2 * time.Second)

		_, found, err := client.Get(ctx, "short")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("get int", func(t *testing.T) {
		require.NoError(t, mr.Set("counter", "42"))
		n, err := client.GetInt(ctx, "counter")
		require.NoError(t, err)
		assert.Equal(t, int64(42), n)

		n, err = client.GetInt(ctx, "counter:missing")
		require.NoError(t, err)
		assert.Zero(t, n)

		require.NoError(t, mr.Set("counter:bad", "x"))
		_, err = client.GetInt(ctx, "counter:bad")
		assert.True(t, errors.IsType(err, errors.ErrTypeInternal))
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, mr.Set("d1", "1"))
		require.NoError(t, mr.Set("d2", "1"))

		n, err := client.Delete(ctx, "d1", "d2", "d3")
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		n, err = client.Delete(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestClient_Patterns(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()

	for i := 0; i < 250; i++ {
		require.NoError(t, mr.Set(fmt.Sprintf("cache:GET:/items:%03d", i), "x"))
	}
	require.NoError(t, mr.Set("cache:GET:/users:1", "x"))
	require.NoError(t, mr.Set("rate:user:alice", "1"))

	count, err := client.CountPattern(ctx, "cache:*")
	require.NoError(t, err)
	assert.Equal(t, int64(251), count)

	keys, err := client.Scan(ctx, "cache:GET:/users:*")
	require.NoError(t, err)
	assert.Equal(t, []string{"cache:GET:/users:1"}, keys)

	deleted, err := client.DeletePattern(ctx, "cache:GET:/items:*")
	require.NoError(t, err)
	assert.Equal(t, int64(250), deleted)

	assert.True(t, mr.Exists("cache:GET:/users:1"))
	assert.True(t, mr.Exists("rate:user:alice"))

	deleted, err = client.DeletePattern(ctx, "cache:GET:/nothing:*")
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestClient_Hash(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	n, err := client.HIncrBy(ctx, "stats:cache", "hits", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = client.HIncrBy(ctx, "stats:cache", "misses", 3)
	require.NoError(t, err)

	m, err := client.HGetAll(ctx, "stats:cache")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"hits": "1", "misses": "3"}, m)
}

func TestClient_DetachedFromCallerCancellation(t *testing.T) {
	client, mr := setupTestRedis(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, client.Set(ctx, "k", []byte("v"), time.Minute))
	assert.True(t, mr.Exists("k"))

	count, _, err := client.IncrWindow(ctx, "rate:cancelled", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestClient_StoreUnavailable(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()
	mr.Close()

	_, _, err := client.IncrWindow(ctx, "rate:x", time.Minute)
	assert.True(t, errors.IsType(err, errors.ErrTypeStoreUnavailable))

	_, _, err = client.Get(ctx, "k")
	assert.True(t, errors.IsType(err, errors.ErrTypeStoreUnavailable))

	err = client.Set(ctx, "k", []byte("v"), time.Minute)
	assert.True(t, errors.IsType(err, errors.ErrTypeStoreUnavailable))

	_, err = client.DeletePattern(ctx, "cache:*")
	assert.True(t, errors.IsType(err, errors.ErrTypeStoreUnavailable))
}
