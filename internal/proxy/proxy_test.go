package proxy

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"api-gateway/internal/common/errors"
	"api-gateway/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type seen struct {
	method, path, query, host, xff, body, auth string
}

func newUpstream(t *testing.T) (*httptest.Server, *seen) {
	t.Helper()
	s := &seen{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		*s = seen{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.RawQuery,
			host:   r.Host,
			xff:    r.Header.Get("X-Forwarded-For"),
			body:   string(body),
			auth:   r.Header.Get("Authorization"),
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Connection", "close")
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)
	return srv, s
}

func TestNew_InvalidTarget(t *testing.T) {
	for _, target := range []string{"", "backend:8000", "://bad"} {
		_, err := New(Config{Target: target}, nil, nil)
		assert.True(t, errors.IsType(err, errors.ErrTypeConfig), target)
	}
}

func TestProxy_Fetch(t *testing.T) {
	upstream, s := newUpstream(t)
	p, err := New(Config{Target: upstream.URL + "/api", Timeout: time.Second}, nil, nil)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "http://gateway.local/items/7?x=1", nil)
	r.RemoteAddr = "10.0.0.5:4444"
	r.Header.Set("Authorization", "Bearer t")

	entry, err := p.Fetch(r)
	require.NoError(t, err)

	assert.Equal(t, http.StatusCreated, entry.Status)
	assert.JSONEq(t, `{"ok":true}`, string(entry.Body))
	assert.Equal(t, "yes", entry.Header.Get("X-Upstream"))
	assert.Empty(t, entry.Header.Get("Connection"))

	assert.Equal(t, "GET", s.method)
	assert.Equal(t, "/api/items/7", s.path)
	assert.Equal(t, "x=1", s.query)
	assert.Equal(t, strings.TrimPrefix(upstream.URL, "http://"), s.host)
	assert.Equal(t, "10.0.0.5", s.xff)
	assert.Equal(t, "Bearer t", s.auth)
}

func TestProxy_ServeHTTP_Streams(t *testing.T) {
	upstream, s := newUpstream(t)
	p, err := New(Config{Target: upstream.URL}, nil, nil)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodPost, "http://gateway.local/orders?dry=1", strings.NewReader(`{"qty":2}`))
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
	assert.Equal(t, "POST", s.method)
	assert.Equal(t, "/orders", s.path)
	assert.Equal(t, "dry=1", s.query)
	assert.Equal(t, `{"qty":2}`, s.body)
}

func TestProxy_DownstreamUnavailable(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	target := upstream.URL
	upstream.Close()

	m := metrics.New(prometheus.NewRegistry())
	p, err := New(Config{Target: target, Timeout: time.Second}, m, nil)
	require.NoError(t, err)

	t.Run("streamed request gets 502", func(t *testing.T) {
		rec := httptest.NewRecorder()
		p.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/x", nil))

		assert.Equal(t, http.StatusBadGateway, rec.Code)
		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "Bad Gateway", body["detail"])
	})

	t.Run("buffered request returns upstream error", func(t *testing.T) {
		_, err := p.Fetch(httptest.NewRequest(http.MethodGet, "/x", nil))
		assert.True(t, errors.IsType(err, errors.ErrTypeUpstream))
	})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.UpstreamErrors))
}

func TestSingleJoiningSlash(t *testing.T) {
	assert.Equal(t, "/a/b", singleJoiningSlash("/a/", "/b"))
	assert.Equal(t, "/a/b", singleJoiningSlash("/a", "b"))
	assert.Equal(t, "/a/b", singleJoiningSlash("/a", "/b"))
	assert.Equal(t, "/b", singleJoiningSlash("", "/b"))
}

func TestRemoveHopHeaders(t *testing.T) {
	h := http.Header{
		"Connection":        {"X-Custom"},
		"X-Custom":          {"1"},
		"Transfer-Encoding": {"chunked"},
		"Content-Type":      {"text/plain"},
	}
	removeHopHeaders(h)
	assert.Equal(t, http.Header{"Content-Type": {"text/plain"}}, h)
}

func TestProxy_Fetch_DoesNotFollowRedirects(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/old" {
			http.Redirect(w, r, "/new", http.StatusFound)
			return
		}
		t.Errorf("redirect followed to %s", r.URL.Path)
	}))
	defer upstream.Close()

	p, err := New(Config{Target: upstream.URL}, nil, nil)
	require.NoError(t, err)

	entry, err := p.Fetch(httptest.NewRequest(http.MethodGet, "/old", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, entry.Status)
	assert.Equal(t, "/new", entry.Header.Get("Location"))
}

func TestProxy_Fetch_KeepsContentEncoding(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		w.Write([]byte("not-really-gzip"))
	}))
	defer upstream.Close()

	p, err := New(Config{Target: upstream.URL}, nil, nil)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Accept-Encoding", "gzip")
	entry, err := p.Fetch(r)
	require.NoError(t, err)
	assert.Equal(t, "gzip", entry.Header.Get("Content-Encoding"))
	assert.Equal(t, "not-really-gzip", string(entry.Body))
}

func TestClientOptions(t *testing.T) {
	cfg := DefaultClientConfig()
	assert.Equal(t, defaultTimeout, cfg.Timeout)
	assert.Equal(t, 100, cfg.MaxIdleConnsPerHost)

	WithTimeout(5 * time.Second)(&cfg)
	WithTimeout(0)(&cfg)
	WithMaxIdleConns(8)(&cfg)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, 8, cfg.MaxIdleConns)
	assert.Equal(t, 8, cfg.MaxIdleConnsPerHost)

	transport := newTransport(cfg)
	assert.True(t, transport.DisableCompression)
	assert.Equal(t, 8, transport.MaxIdleConnsPerHost)

	p, err := New(Config{Target: "http://backend:8000", Timeout: 3 * time.Second, Options: []ClientOption{WithMaxIdleConns(4)}}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, p.client.Timeout)
	assert.Same(t, p.reverse.Transport, p.client.Transport)
}
