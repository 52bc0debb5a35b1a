package proxy

import (
	"net"
	"net/http"
	"time"
)

// ClientConfig tunes the connection pool shared by the streaming and the
// buffered paths.
type ClientConfig struct {
	Timeout             time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	DialTimeout         time.Duration
}

// DefaultClientConfig returns default pool settings. All idle connections
// may go to the one downstream host.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:             defaultTimeout,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
		DialTimeout:         10 * time.Second,
	}
}

// ClientOption is a function that modifies ClientConfig
type ClientOption func(*ClientConfig)

// WithTimeout sets the timeout of buffered calls
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *ClientConfig) {
		if timeout > 0 {
			c.Timeout = timeout
		}
	}
}

// WithMaxIdleConns sets the maximum number of idle connections
func WithMaxIdleConns(max int) ClientOption {
	return func(c *ClientConfig) {
		c.MaxIdleConns = max
		c.MaxIdleConnsPerHost = max
	}
}

func newTransport(cfg ClientConfig) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		// bodies are relayed and cached exactly as the downstream encoded them
		DisableCompression: true,
	}
}

// newHTTPClient builds the client for buffered calls. Redirects are handed
// back to the caller rather than followed.
func newHTTPClient(transport http.RoundTripper, cfg ClientConfig) *http.Client {
	return &http.Client{
		Timeout:   cfg.Timeout,
		Transport: transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
