package admission

import (
	"net/http"
	"strconv"
	"time"

	"api-gateway/internal/auth"
	"api-gateway/internal/cache"
	"api-gateway/internal/ratelimit"
)

// Kind is the outcome of admission.
type Kind int

const (
	// Proceed means the request should be forwarded downstream.
	Proceed Kind = iota
	// Rejected means the request must be answered with Status and Reason.
	Rejected
	// CacheHit means Entry should be replayed to the caller.
	CacheHit
)

func (k Kind) String() string {
	switch k {
	case Proceed:
		return "proceed"
	case Rejected:
		return "rejected"
	case CacheHit:
		return "cache_hit"
	default:
		return "unknown"
	}
}

// CacheStatus is reported to callers in the X-Cache header.
type CacheStatus string

const (
	CacheHitStatus      CacheStatus = "HIT"
	CacheMissStatus     CacheStatus = "MISS"
	CacheBypassStatus   CacheStatus = "BYPASS"
	CacheDisabledStatus CacheStatus = "DISABLED"
)

// StatusClientClosedRequest is used when the caller went away before a
// decision was reached. Nothing is written to such a caller.
const StatusClientClosedRequest = 499

// Decision is produced per request and never persisted.
type Decision struct {
	Kind        Kind
	Identity    auth.Identity
	Fingerprint string
	Cacheable   bool
	CacheStatus CacheStatus
	Entry       *cache.Entry

	// Set on rejection.
	Status     int
	Reason     string
	RetryAfter time.Duration
	Err        error

	// Quota is the rate limit state after this request was counted.
	Quota ratelimit.Result
}

func rejected(status int, reason string, err error) Decision {
	return Decision{Kind: Rejected, Status: status, Reason: reason, Err: err}
}

// WriteHeaders sets the rate limit and cache headers for the decision.
func (d Decision) WriteHeaders(h http.Header) {
	d.Quota.WriteHeaders(h)
	if d.Status == http.StatusTooManyRequests && h.Get("Retry-After") == "" {
		h.Set("Retry-After", strconv.Itoa(ratelimit.RetryAfterSeconds(d.RetryAfter)))
	}
	if d.CacheStatus != "" {
		h.Set("X-Cache", string(d.CacheStatus))
	}
}
