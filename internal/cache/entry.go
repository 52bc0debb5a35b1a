package cache

import (
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

// Entry is a stored downstream response.
type Entry struct {
	Status   int         `json:"status"`
	Header   http.Header `json:"headers"`
	Body     []byte      `json:"body"`
	StoredAt time.Time   `json:"stored_at"`
}

// headers never written into an entry
var excludedHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Proxy-Connection":    {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
	"Content-Length":      {},
	"Date":                {},
	"Set-Cookie":          {},
	"Retry-After":         {},
	"X-Process-Time":      {},
	"X-Request-Id":        {},
}

// excluded header prefixes, canonical form
var excludedPrefixes = []string{"X-Cache", "X-Ratelimit-"}

// NewEntry builds an entry from a downstream response, keeping only the
// headers that are safe to replay to another caller.
func NewEntry(status int, header http.Header, body []byte) *Entry {
	return &Entry{
		Status: status,
		Header: FilterHeader(header),
		Body:   body,
	}
}

// FilterHeader returns a copy of h without hop-by-hop, per-caller and
// gateway-generated headers.
func FilterHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for name, values := range h {
		canonical := textproto.CanonicalMIMEHeaderKey(name)
		if excludedHeader(canonical) {
			continue
		}
		out[canonical] = append([]string(nil), values...)
	}

	// Headers listed in Connection are hop-by-hop too.
	for _, v := range h.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			out.Del(strings.TrimSpace(name))
		}
	}
	return out
}

func excludedHeader(canonical string) bool {
	if _, ok := excludedHeaders[canonical]; ok {
		return true
	}
	for _, prefix := range excludedPrefixes {
		if strings.HasPrefix(canonical, prefix) {
			return true
		}
	}
	return false
}

// Age is how long ago the entry was stored.
func (e *Entry) Age(now time.Time) time.Duration {
	if e.StoredAt.IsZero() {
		return 0
	}
	return now.Sub(e.StoredAt)
}

// WriteTo replays the entry onto w. Extra headers set on w beforehand are kept.
func (e *Entry) WriteTo(w http.ResponseWriter) error {
	for name, values := range e.Header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(e.Status)
	_, err := w.Write(e.Body)
	return err
}
