// Package ratelimit implements a fixed-window request counter shared by every
// gateway instance through the store.
//
// Each identity owns one counter at "rate:{identity}". The store increments
// the counter and sets its expiry in a single server-side script, so a window
// can never be left without a TTL regardless of how callers interleave.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"api-gateway/internal/common/errors"
	"api-gateway/internal/common/logging"

	"golang.org/x/time/rate"
)

const (
	defaultLimit     = 60
	defaultWindow    = time.Minute
	defaultKeyPrefix = "rate:"

	// at most one degraded-mode warning per interval
	degradedLogInterval = 10 * time.Second
)

// Store is the subset of the shared store the limiter needs.
type Store interface {
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	GetInt(ctx context.Context, key string) (int64, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	Delete(ctx context.Context, keys ...string) (int64, error)
}

type Config struct {
	Enabled   bool          `json:"enabled"`
	Limit     int           `json:"limit"`
	Window    time.Duration `json:"window"`
	FailOpen  bool          `json:"fail_open"`
	KeyPrefix string        `json:"key_prefix"`
}

// Result describes one admission attempt.
type Result struct {
	Allowed    bool          `json:"allowed"`
	Limit      int           `json:"limit"`
	Remaining  int           `json:"remaining"`
	Count      int64         `json:"count"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	ResetAt    time.Time     `json:"reset_at"`
	// Degraded is set when the store could not be reached and the request
	// was admitted anyway.
	Degraded bool `json:"degraded,omitempty"`
}

// WriteHeaders sets the X-RateLimit-* headers, and Retry-After on rejection.
func (r Result) WriteHeaders(h http.Header) {
	if r.Limit <= 0 || r.Degraded {
		return
	}

	h.Set("X-RateLimit-Limit", strconv.Itoa(r.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(r.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(r.ResetAt.Unix(), 10))

	if !r.Allowed {
		h.Set("Retry-After", strconv.Itoa(RetryAfterSeconds(r.RetryAfter)))
	}
}

// RetryAfterSeconds rounds d up to whole seconds, never below one.
func RetryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// ExceededError is returned by Admit when the identity has used up its window.
type ExceededError struct {
	Identity   string
	RetryAfter time.Duration
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry after %s", e.Identity, e.RetryAfter)
}

// Unwrap classifies the error as rate_limit for errors.IsType and GetType.
func (e *ExceededError) Unwrap() error {
	return errors.RateLimitError(e.Identity).WithContext("retry_after", e.RetryAfter)
}

// Usage is the current state of one identity's window.
type Usage struct {
	Identity  string        `json:"identity"`
	Count     int64         `json:"count"`
	Limit     int           `json:"limit"`
	Remaining int           `json:"remaining"`
	TTL       time.Duration `json:"ttl"`
	Enabled   bool          `json:"enabled"`
}

type Limiter struct {
	store  Store
	config *Config
	logger logging.Logger
	now    func() time.Time

	degradedLog *rate.Limiter
	suppressed  atomic.Int64
}

func NewLimiter(store Store, config *Config, logger logging.Logger) *Limiter {
	if config == nil {
		config = &Config{
			Enabled:  true,
			Limit:    defaultLimit,
			Window:   defaultWindow,
			FailOpen: true,
		}
	}
	if config.Limit <= 0 {
		config.Limit = defaultLimit
	}
	if config.Window <= 0 {
		config.Window = defaultWindow
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = defaultKeyPrefix
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &Limiter{
		store:       store,
		config:      config,
		logger:      logger.WithFields(logging.String("component", "ratelimit")),
		now:         time.Now,
		degradedLog: rate.NewLimiter(rate.Every(degradedLogInterval), 1),
	}
}

// Enabled reports whether limiting is active.
func (l *Limiter) Enabled() bool {
	return l.config.Enabled
}

func (l *Limiter) key(identity string) string {
	return l.config.KeyPrefix + identity
}

// Admit counts one attempt for identity. A rejected attempt returns the
// populated Result together with an *ExceededError. When the store is
// unreachable the request is admitted with Degraded set if the limiter fails
// open; otherwise the store_unavailable error is returned.
func (l *Limiter) Admit(ctx context.Context, identity string) (Result, error) {
	limit := l.config.Limit
	window := l.config.Window

	if !l.config.Enabled {
		return Result{Allowed: true, Limit: limit, Remaining: limit, ResetAt: l.now().Add(window)}, nil
	}

	count, ttl, err := l.store.IncrWindow(ctx, l.key(identity), window)
	if err != nil {
		return l.storeFailure(identity, err)
	}

	if ttl <= 0 || ttl > window {
		ttl = window
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	result := Result{
		Allowed:   count <= int64(limit),
		Limit:     limit,
		Remaining: remaining,
		Count:     count,
		ResetAt:   l.now().Add(ttl),
	}

	if !result.Allowed {
		result.RetryAfter = ttl
		return result, &ExceededError{Identity: identity, RetryAfter: ttl}
	}

	return result, nil
}

func (l *Limiter) storeFailure(identity string, err error) (Result, error) {
	if !l.config.FailOpen {
		return Result{Limit: l.config.Limit}, err
	}

	if l.degradedLog.Allow() {
		l.logger.Warn("Rate limiter degraded, admitting request without a counter",
			logging.String("identity", identity),
			logging.Int64("suppressed_warnings", l.suppressed.Swap(0)),
			logging.Err(err),
		)
	} else {
		l.suppressed.Add(1)
	}

	return Result{Allowed: true, Limit: l.config.Limit, Degraded: true}, nil
}

// Usage reads the current window of identity without counting an attempt.
func (l *Limiter) Usage(ctx context.Context, identity string) (Usage, error) {
	usage := Usage{
		Identity:  identity,
		Limit:     l.config.Limit,
		Remaining: l.config.Limit,
		Enabled:   l.config.Enabled,
	}

	count, err := l.store.GetInt(ctx, l.key(identity))
	if err != nil {
		return usage, err
	}

	ttl, err := l.store.TTL(ctx, l.key(identity))
	if err != nil {
		return usage, err
	}

	usage.Count = count
	usage.TTL = ttl
	usage.Remaining = l.config.Limit - int(count)
	if usage.Remaining < 0 {
		usage.Remaining = 0
	}
	return usage, nil
}

// Reset drops the current window of identity. It reports whether a window existed.
func (l *Limiter) Reset(ctx context.Context, identity string) (bool, error) {
	n, err := l.store.Delete(ctx, l.key(identity))
	if err != nil {
		return false, err
	}

	if n > 0 {
		l.logger.Info("Rate limit window reset", logging.String("identity", identity))
	}
	return n > 0, nil
}

// IsStoreFailure reports whether err from Admit came from the store rather
// than from an exhausted window.
func IsStoreFailure(err error) bool {
	return errors.IsType(err, errors.ErrTypeStoreUnavailable)
}
