package cache

import (
	"net/http"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint derives the cache key of a request, without the "cache:"
// partition prefix. The readable method and path keep glob invalidation
// practical; the hash covers the sorted query and the identity scope so
// callers never see each other's responses. Glob metacharacters in the path
// are percent-encoded, so a fingerprint never matches more than itself.
func Fingerprint(method, rawPath string, query url.Values, scope string) string {
	var b strings.Builder
	b.WriteString(canonicalQuery(query))
	b.WriteByte('|')
	b.WriteString(scope)

	sum := xxhash.Sum64String(b.String())
	return strings.ToUpper(method) + ":" + globEscaper.Replace(NormalizePath(rawPath)) + ":" + strconv.FormatUint(sum, 16)
}

var globEscaper = strings.NewReplacer(
	`%`, "%25",
	`*`, "%2A",
	`?`, "%3F",
	`[`, "%5B",
	`]`, "%5D",
	`\`, "%5C",
)

// NormalizePath cleans dot segments, collapses repeated slashes and drops
// any trailing slash.
func NormalizePath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

func canonicalQuery(query url.Values) string {
	if len(query) == 0 {
		return ""
	}

	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		values := append([]string(nil), query[k]...)
		sort.Strings(values)
		for _, v := range values {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

// Cacheable reports whether a request may be answered from, or populate,
// the cache.
func Cacheable(method string, header http.Header) bool {
	if method != http.MethodGet && method != http.MethodHead {
		return false
	}
	return !hasDirective(header, "no-cache", "no-store") &&
		!strings.EqualFold(header.Get("Pragma"), "no-cache")
}

// Storable reports whether a downstream response may be written to the cache.
func Storable(e *Entry) bool {
	if e == nil || e.Status < 200 || e.Status > 299 {
		return false
	}
	if hasDirective(e.Header, "no-store", "no-cache", "private") {
		return false
	}
	return e.Header.Get("Vary") != "*"
}

func hasDirective(header http.Header, directives ...string) bool {
	for _, v := range header.Values("Cache-Control") {
		for _, part := range strings.Split(v, ",") {
			name, _, _ := strings.Cut(strings.TrimSpace(part), "=")
			for _, d := range directives {
				if strings.EqualFold(name, d) {
					return true
				}
			}
		}
	}
	return false
}
