// Package admission composes identity resolution, rate limiting and the
// response cache into one ordered decision per request.
//
// The order is fixed: resolve the identity, count the attempt, look up the
// cache. The first rejection ends the sequence, so a request that fails
// authentication never consumes rate limit budget. The pipeline holds no
// per-request state.
package admission

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/url"

	"api-gateway/internal/auth"
	"api-gateway/internal/cache"
	"api-gateway/internal/common/logging"
	"api-gateway/internal/metrics"
	"api-gateway/internal/ratelimit"
)

type IdentityResolver interface {
	Resolve(token, clientAddr string) (auth.Identity, error)
}

type RateLimiter interface {
	Admit(ctx context.Context, identity string) (ratelimit.Result, error)
}

type ResponseCache interface {
	Enabled() bool
	Lookup(ctx context.Context, fingerprint string) (*cache.Entry, bool)
	Store(ctx context.Context, fingerprint string, entry *cache.Entry) error
}

// Request holds the parts of an inbound request admission looks at.
type Request struct {
	Method     string
	Path       string
	Query      url.Values
	Header     http.Header
	Token      string
	ClientAddr string

	// CredentialErr is set when an Authorization header was sent but
	// carries no usable bearer token.
	CredentialErr error
}

// FromHTTP extracts a Request from r.
func FromHTTP(r *http.Request, trustProxy bool) Request {
	token, err := auth.BearerToken(r)
	return Request{
		Method:        r.Method,
		Path:          r.URL.Path,
		Query:         r.URL.Query(),
		Header:        r.Header,
		Token:         token,
		ClientAddr:    auth.ClientAddr(r, trustProxy),
		CredentialErr: err,
	}
}

type Pipeline struct {
	resolver IdentityResolver
	limiter  RateLimiter
	cache    ResponseCache
	metrics  *metrics.Metrics
	logger   logging.Logger
}

func New(resolver IdentityResolver, limiter RateLimiter, responseCache ResponseCache, m *metrics.Metrics, logger logging.Logger) *Pipeline {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Pipeline{
		resolver: resolver,
		limiter:  limiter,
		cache:    responseCache,
		metrics:  m,
		logger:   logger.WithFields(logging.String("component", "admission")),
	}
}

// Admit decides what to do with req. Once resolved, the identity is
// attached to the context handed to the limiter and the cache.
func (p *Pipeline) Admit(ctx context.Context, req Request) Decision {
	if req.CredentialErr != nil {
		return p.authRejected(ctx, req.CredentialErr)
	}

	identity, err := p.resolver.Resolve(req.Token, req.ClientAddr)
	if err != nil {
		return p.authRejected(ctx, err)
	}

	ctx = logging.ContextWithIdentity(ctx, identity.Key)
	logger := p.logger.WithContext(ctx)

	quota, err := p.limiter.Admit(ctx, identity.Key)
	if d, done := p.cancelled(ctx); done {
		return d
	}
	if err != nil {
		var exceeded *ratelimit.ExceededError
		if stderrors.As(err, &exceeded) {
			logger.Debug("Rate limit exceeded", logging.Duration("retry_after", exceeded.RetryAfter))
			p.metrics.Decision(metrics.DecisionRateLimited)

			d := rejected(http.StatusTooManyRequests, "Rate limit exceeded", err)
			d.Identity = identity
			d.RetryAfter = exceeded.RetryAfter
			d.Quota = quota
			return d
		}

		logger.Error("Rate limiter unavailable, rejecting request", err)
		p.metrics.Decision(metrics.DecisionStoreRejected)

		d := rejected(http.StatusServiceUnavailable, "Rate limiting temporarily unavailable", err)
		d.Identity = identity
		return d
	}
	if quota.Degraded {
		p.metrics.Degraded()
	}

	d := Decision{Kind: Proceed, Identity: identity, Quota: quota}

	switch {
	case !p.cache.Enabled():
		d.CacheStatus = CacheDisabledStatus
	case !cache.Cacheable(req.Method, req.Header):
		d.CacheStatus = CacheBypassStatus
	default:
		d.Cacheable = true
		d.Fingerprint = cache.Fingerprint(req.Method, req.Path, req.Query, identity.Key)

		entry, hit := p.cache.Lookup(ctx, d.Fingerprint)
		if cd, done := p.cancelled(ctx); done {
			return cd
		}
		p.metrics.CacheLookup(hit)

		if hit {
			d.Kind = CacheHit
			d.Entry = entry
			d.CacheStatus = CacheHitStatus
			p.metrics.Decision(metrics.DecisionCacheHit)
			return d
		}
		d.CacheStatus = CacheMissStatus
	}

	p.metrics.Decision(metrics.DecisionProceed)
	return d
}

// Complete populates the cache after a successful downstream call. It does
// nothing unless d was a cacheable miss and entry is storable.
func (p *Pipeline) Complete(ctx context.Context, d Decision, entry *cache.Entry) error {
	if d.Kind != Proceed || !d.Cacheable || d.CacheStatus != CacheMissStatus || !cache.Storable(entry) {
		return nil
	}
	return p.cache.Store(ctx, d.Fingerprint, entry)
}

func (p *Pipeline) authRejected(ctx context.Context, err error) Decision {
	reason := "Authentication failed"
	var authErr *auth.Error
	if stderrors.As(err, &authErr) {
		reason = authErr.Detail()
		p.metrics.AuthFailure(string(authErr.Kind))
	}

	p.logger.WithContext(ctx).Debug("Request rejected by identity resolver", logging.Err(err))
	p.metrics.Decision(metrics.DecisionAuthRejected)
	return rejected(http.StatusUnauthorized, reason, err)
}

// cancelled discards the outcome of a store call whose caller has gone away.
func (p *Pipeline) cancelled(ctx context.Context) (Decision, bool) {
	if ctx.Err() == nil {
		return Decision{}, false
	}
	p.metrics.Decision(metrics.DecisionCancelled)
	return rejected(StatusClientClosedRequest, "Client closed request", ctx.Err()), true
}
