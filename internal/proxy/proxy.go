// Package proxy forwards admitted requests to the single downstream service.
package proxy

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"api-gateway/internal/cache"
	"api-gateway/internal/common/errors"
	"api-gateway/internal/common/logging"
	"api-gateway/internal/metrics"
)

const defaultTimeout = 30 * time.Second

var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

type Config struct {
	Target  string
	Timeout time.Duration
	Options []ClientOption
}

type Proxy struct {
	target  *url.URL
	reverse *httputil.ReverseProxy
	client  *http.Client
	metrics *metrics.Metrics
	logger  logging.Logger
}

func New(config Config, m *metrics.Metrics, logger logging.Logger) (*Proxy, error) {
	target, err := url.Parse(config.Target)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, errors.ConfigError(fmt.Sprintf("invalid downstream URL %q", config.Target))
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	clientConfig := DefaultClientConfig()
	for _, opt := range append([]ClientOption{WithTimeout(config.Timeout)}, config.Options...) {
		opt(&clientConfig)
	}
	transport := newTransport(clientConfig)

	p := &Proxy{
		target:  target,
		client:  newHTTPClient(transport, clientConfig),
		metrics: m,
		logger:  logger.WithFields(logging.String("component", "proxy")),
	}

	p.reverse = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
		},
		Transport:    transport,
		ErrorHandler: p.handleError,
	}

	return p, nil
}

// Target returns the downstream base URL.
func (p *Proxy) Target() string {
	return p.target.String()
}

// ServeHTTP streams r to the downstream service and its response back.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.reverse.ServeHTTP(w, r)
}

func (p *Proxy) handleError(w http.ResponseWriter, r *http.Request, err error) {
	if r.Context().Err() != nil {
		return
	}
	p.metrics.UpstreamError()
	p.logger.WithContext(r.Context()).Error("Downstream request failed", err,
		logging.String("method", r.Method),
		logging.String("path", r.URL.Path))
	WriteBadGateway(w)
}

// Fetch performs the downstream call for r and buffers the whole response
// so it can be both returned to the caller and cached.
func (p *Proxy) Fetch(r *http.Request) (*cache.Entry, error) {
	out, err := http.NewRequestWithContext(r.Context(), r.Method, p.outboundURL(r.URL), r.Body)
	if err != nil {
		return nil, errors.InternalError("failed to build downstream request", err)
	}
	out.ContentLength = r.ContentLength

	out.Header = r.Header.Clone()
	removeHopHeaders(out.Header)
	setForwarded(out.Header, r)

	resp, err := p.client.Do(out)
	if err != nil {
		p.metrics.UpstreamError()
		return nil, errors.UpstreamError("downstream request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		p.metrics.UpstreamError()
		return nil, errors.UpstreamError("failed to read downstream response", err)
	}

	header := resp.Header.Clone()
	removeHopHeaders(header)

	return &cache.Entry{Status: resp.StatusCode, Header: header, Body: body}, nil
}

func (p *Proxy) outboundURL(in *url.URL) string {
	u := *p.target
	u.Path, u.RawPath = joinURLPath(p.target, in)
	u.RawQuery = in.RawQuery
	u.Fragment = ""
	return u.String()
}

func joinURLPath(a, b *url.URL) (string, string) {
	if a.RawPath == "" && b.RawPath == "" {
		return singleJoiningSlash(a.Path, b.Path), ""
	}
	apath := a.EscapedPath()
	bpath := b.EscapedPath()
	return singleJoiningSlash(a.Path, b.Path), singleJoiningSlash(apath, bpath)
}

func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}

func removeHopHeaders(h http.Header) {
	for _, v := range h.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

func setForwarded(h http.Header, r *http.Request) {
	if clientIP, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		if prior := h.Values("X-Forwarded-For"); len(prior) > 0 {
			clientIP = strings.Join(prior, ", ") + ", " + clientIP
		}
		h.Set("X-Forwarded-For", clientIP)
	}
	h.Set("X-Forwarded-Host", r.Host)
	if r.TLS != nil {
		h.Set("X-Forwarded-Proto", "https")
	} else {
		h.Set("X-Forwarded-Proto", "http")
	}
}

// WriteBadGateway writes the 502 body used for every downstream failure.
func WriteBadGateway(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadGateway)
	json.NewEncoder(w).Encode(map[string]string{"detail": "Bad Gateway"})
}
