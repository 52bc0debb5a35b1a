package admission

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"api-gateway/internal/auth"
	"api-gateway/internal/cache"
	"api-gateway/internal/common/errors"
	"api-gateway/internal/common/logging"
	"api-gateway/internal/metrics"
	"api-gateway/internal/ratelimit"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testSecret = "pipeline-test-secret"

// MockLimiter records every Admit call.
type MockLimiter struct {
	mock.Mock
}

func (m *MockLimiter) Admit(ctx context.Context, identity string) (ratelimit.Result, error) {
	args := m.Called(ctx, identity)
	return args.Get(0).(ratelimit.Result), args.Error(1)
}

// MockCache is a mock response cache.
type MockCache struct {
	mock.Mock
	enabled bool
}

func (m *MockCache) Enabled() bool { return m.enabled }

func (m *MockCache) Lookup(ctx context.Context, fingerprint string) (*cache.Entry, bool) {
	args := m.Called(ctx, fingerprint)
	entry, _ := args.Get(0).(*cache.Entry)
	return entry, args.Bool(1)
}

func (m *MockCache) Store(ctx context.Context, fingerprint string, entry *cache.Entry) error {
	args := m.Called(ctx, fingerprint, entry)
	return args.Error(0)
}

func newResolver(t *testing.T, allowAnonymous bool) *auth.Resolver {
	t.Helper()
	r, err := auth.NewResolver(auth.Config{
		Secret:         testSecret,
		Audience:       "gateway",
		Issuer:         "issuer",
		AllowAnonymous: allowAnonymous,
	})
	require.NoError(t, err)
	return r
}

func token(t *testing.T, aud string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "alice",
		"iss": "issuer",
		"aud": aud,
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

func getRequest(tok string) Request {
	return Request{
		Method:     http.MethodGet,
		Path:       "/items",
		Query:      url.Values{"page": {"1"}},
		Header:     http.Header{},
		Token:      tok,
		ClientAddr: "10.0.0.1",
	}
}

func setup(t *testing.T, cacheEnabled bool) (*Pipeline, *MockLimiter, *MockCache, *metrics.Metrics) {
	t.Helper()
	limiter := &MockLimiter{}
	c := &MockCache{enabled: cacheEnabled}
	m := metrics.New(prometheus.NewRegistry())
	logger := logging.NewLogger(logging.LogConfig{Level: logging.ErrorLevel})
	return New(newResolver(t, false), limiter, c, m, logger), limiter, c, m
}

func allowed() ratelimit.Result {
	return ratelimit.Result{Allowed: true, Limit: 60, Remaining: 59, Count: 1}
}

func TestAdmit_AudienceMismatchNeverReachesLimiter(t *testing.T) {
	p, limiter, c, m := setup(t, true)

	d := p.Admit(context.Background(), getRequest(token(t, "someone-else")))

	assert.Equal(t, Rejected, d.Kind)
	assert.Equal(t, http.StatusUnauthorized, d.Status)
	assert.Equal(t, "Invalid token audience", d.Reason)
	kind, ok := auth.KindOf(d.Err)
	require.True(t, ok)
	assert.Equal(t, auth.AudienceMismatch, kind)
	assert.True(t, errors.IsType(d.Err, errors.ErrTypeAuth))

	limiter.AssertNotCalled(t, "Admit", mock.Anything, mock.Anything)
	c.AssertNotCalled(t, "Lookup", mock.Anything, mock.Anything)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuthFailures.WithLabelValues(string(auth.AudienceMismatch))))
}

func TestAdmit_MissingToken(t *testing.T) {
	p, limiter, _, _ := setup(t, true)

	d := p.Admit(context.Background(), getRequest(""))

	assert.Equal(t, Rejected, d.Kind)
	assert.Equal(t, http.StatusUnauthorized, d.Status)
	assert.Equal(t, "Missing authentication token", d.Reason)
	limiter.AssertNotCalled(t, "Admit", mock.Anything, mock.Anything)
}

func TestAdmit_NonBearerCredential(t *testing.T) {
	limiter := &MockLimiter{}
	c := &MockCache{enabled: true}
	p := New(newResolver(t, true), limiter, c, nil, nil)

	r := httptest.NewRequest(http.MethodGet, "/items", nil)
	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")

	d := p.Admit(context.Background(), FromHTTP(r, false))

	assert.Equal(t, Rejected, d.Kind)
	assert.Equal(t, http.StatusUnauthorized, d.Status)
	assert.Equal(t, "Malformed authentication token", d.Reason)
	assert.Empty(t, d.Identity.Key, "never admitted as an anonymous caller")
	limiter.AssertNotCalled(t, "Admit", mock.Anything, mock.Anything)
}

func TestAdmit_IdentityInContext(t *testing.T) {
	p, limiter, c, _ := setup(t, true)
	req := getRequest(token(t, "gateway"))
	fp := cache.Fingerprint(req.Method, req.Path, req.Query, "user:alice")

	withIdentity := mock.MatchedBy(func(ctx context.Context) bool {
		return logging.IdentityFromContext(ctx) == "user:alice"
	})
	limiter.On("Admit", withIdentity, "user:alice").Return(allowed(), nil)
	c.On("Lookup", withIdentity, fp).Return(nil, false)

	d := p.Admit(context.Background(), req)

	assert.Equal(t, Proceed, d.Kind)
	limiter.AssertExpectations(t)
	c.AssertExpectations(t)
}

func TestAdmit_RateLimited(t *testing.T) {
	p, limiter, c, _ := setup(t, true)

	exceeded := &ratelimit.ExceededError{Identity: "user:alice", RetryAfter: 12 * time.Second}
	limiter.On("Admit", mock.Anything, "user:alice").
		Return(ratelimit.Result{Limit: 60, Count: 61, RetryAfter: 12 * time.Second}, exceeded)

	d := p.Admit(context.Background(), getRequest(token(t, "gateway")))

	assert.Equal(t, Rejected, d.Kind)
	assert.Equal(t, http.StatusTooManyRequests, d.Status)
	assert.Equal(t, 12*time.Second, d.RetryAfter)
	assert.Equal(t, "user:alice", d.Identity.Key)
	assert.True(t, errors.IsType(d.Err, errors.ErrTypeRateLimit))
	c.AssertNotCalled(t, "Lookup", mock.Anything, mock.Anything)

	h := http.Header{}
	d.WriteHeaders(h)
	assert.Equal(t, "12", h.Get("Retry-After"))
	assert.Equal(t, "60", h.Get("X-RateLimit-Limit"))
}

func TestAdmit_StoreFailClosed(t *testing.T) {
	p, limiter, _, _ := setup(t, true)

	limiter.On("Admit", mock.Anything, "user:alice").
		Return(ratelimit.Result{Limit: 60}, errors.StoreUnavailableError("incr_window", stderrors.New("refused")))

	d := p.Admit(context.Background(), getRequest(token(t, "gateway")))

	assert.Equal(t, Rejected, d.Kind)
	assert.Equal(t, http.StatusServiceUnavailable, d.Status)
	assert.True(t, errors.IsType(d.Err, errors.ErrTypeStoreUnavailable))
}

func TestAdmit_CacheHit(t *testing.T) {
	p, limiter, c, m := setup(t, true)
	req := getRequest(token(t, "gateway"))
	entry := cache.NewEntry(http.StatusOK, nil, []byte("cached"))
	fp := cache.Fingerprint(req.Method, req.Path, req.Query, "user:alice")

	limiter.On("Admit", mock.Anything, "user:alice").Return(allowed(), nil)
	c.On("Lookup", mock.Anything, fp).Return(entry, true)

	d := p.Admit(context.Background(), req)

	assert.Equal(t, CacheHit, d.Kind)
	assert.Same(t, entry, d.Entry)
	assert.Equal(t, CacheHitStatus, d.CacheStatus)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("hit")))

	// Hits are never written back.
	require.NoError(t, p.Complete(context.Background(), d, entry))
	c.AssertNotCalled(t, "Store", mock.Anything, mock.Anything, mock.Anything)
}

func TestAdmit_MissThenComplete(t *testing.T) {
	p, limiter, c, _ := setup(t, true)
	req := getRequest(token(t, "gateway"))
	fp := cache.Fingerprint(req.Method, req.Path, req.Query, "user:alice")
	fresh := cache.NewEntry(http.StatusOK, nil, []byte("fresh"))

	limiter.On("Admit", mock.Anything, "user:alice").Return(allowed(), nil)
	c.On("Lookup", mock.Anything, fp).Return(nil, false)
	c.On("Store", mock.Anything, fp, fresh).Return(nil).Once()

	d := p.Admit(context.Background(), req)
	require.Equal(t, Proceed, d.Kind)
	assert.Equal(t, CacheMissStatus, d.CacheStatus)
	assert.True(t, d.Cacheable)
	assert.Equal(t, fp, d.Fingerprint)

	require.NoError(t, p.Complete(context.Background(), d, fresh))

	// A failed downstream call never populates the cache.
	require.NoError(t, p.Complete(context.Background(), d, cache.NewEntry(http.StatusBadGateway, nil, nil)))
	require.NoError(t, p.Complete(context.Background(), d, nil))

	c.AssertNumberOfCalls(t, "Store", 1)
}

func TestAdmit_NonCacheableBypasses(t *testing.T) {
	p, limiter, c, _ := setup(t, true)
	req := getRequest(token(t, "gateway"))
	req.Method = http.MethodPost

	limiter.On("Admit", mock.Anything, "user:alice").Return(allowed(), nil)

	d := p.Admit(context.Background(), req)

	assert.Equal(t, Proceed, d.Kind)
	assert.Equal(t, CacheBypassStatus, d.CacheStatus)
	assert.False(t, d.Cacheable)
	c.AssertNotCalled(t, "Lookup", mock.Anything, mock.Anything)

	require.NoError(t, p.Complete(context.Background(), d, cache.NewEntry(http.StatusOK, nil, nil)))
	c.AssertNotCalled(t, "Store", mock.Anything, mock.Anything, mock.Anything)
}

func TestAdmit_CacheDisabled(t *testing.T) {
	p, limiter, c, _ := setup(t, false)
	limiter.On("Admit", mock.Anything, "user:alice").Return(allowed(), nil)

	d := p.Admit(context.Background(), getRequest(token(t, "gateway")))

	assert.Equal(t, Proceed, d.Kind)
	assert.Equal(t, CacheDisabledStatus, d.CacheStatus)
	c.AssertNotCalled(t, "Lookup", mock.Anything, mock.Anything)
}

func TestAdmit_DegradedIsCounted(t *testing.T) {
	p, limiter, _, m := setup(t, false)
	limiter.On("Admit", mock.Anything, "user:alice").
		Return(ratelimit.Result{Allowed: true, Limit: 60, Degraded: true}, nil)

	d := p.Admit(context.Background(), getRequest(token(t, "gateway")))

	assert.Equal(t, Proceed, d.Kind)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RateLimitDegraded))
}

func TestAdmit_CallerGoneDiscardsResult(t *testing.T) {
	p, limiter, c, _ := setup(t, true)
	ctx, cancel := context.WithCancel(context.Background())

	limiter.On("Admit", mock.Anything, "user:alice").
		Run(func(mock.Arguments) { cancel() }).
		Return(allowed(), nil)

	d := p.Admit(ctx, getRequest(token(t, "gateway")))

	assert.Equal(t, Rejected, d.Kind)
	assert.Equal(t, StatusClientClosedRequest, d.Status)
	assert.ErrorIs(t, d.Err, context.Canceled)
	limiter.AssertNumberOfCalls(t, "Admit", 1)
	c.AssertNotCalled(t, "Lookup", mock.Anything, mock.Anything)
}

func TestAdmit_AnonymousIdentity(t *testing.T) {
	limiter := &MockLimiter{}
	c := &MockCache{enabled: false}
	p := New(newResolver(t, true), limiter, c, nil, nil)

	limiter.On("Admit", mock.Anything, "ip:10.0.0.1").Return(allowed(), nil)

	d := p.Admit(context.Background(), getRequest(""))
	assert.Equal(t, Proceed, d.Kind)
	assert.True(t, d.Identity.Anonymous)
	limiter.AssertExpectations(t)
}

func TestFromHTTP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/items/?b=2&a=1", nil)
	r.Header.Set("Authorization", "Bearer abc")
	r.Header.Set("X-Forwarded-For", "1.2.3.4")
	r.RemoteAddr = "10.0.0.9:1234"

	req := FromHTTP(r, false)
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, "/items/", req.Path)
	assert.Equal(t, "1", req.Query.Get("a"))
	assert.Equal(t, "abc", req.Token)
	assert.NoError(t, req.CredentialErr)
	assert.Equal(t, "10.0.0.9", req.ClientAddr)

	assert.Equal(t, "1.2.3.4", FromHTTP(r, true).ClientAddr)

	r.Header.Set("Authorization", "Token abc")
	req = FromHTTP(r, false)
	assert.Empty(t, req.Token)
	kind, ok := auth.KindOf(req.CredentialErr)
	require.True(t, ok)
	assert.Equal(t, auth.MalformedToken, kind)
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "proceed", Proceed.String())
	assert.Equal(t, "rejected", Rejected.String())
	assert.Equal(t, "cache_hit", CacheHit.String())
	assert.Equal(t, "unknown", Kind(42).String())
}
