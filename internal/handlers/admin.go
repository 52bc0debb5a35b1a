package handlers

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"api-gateway/internal/common/logging"

	"github.com/gorilla/mux"
)

// AdminKeyHeader carries the administrative API key.
const AdminKeyHeader = "X-Admin-Key"

// RequireAdminKey rejects requests whose X-Admin-Key does not match key.
func RequireAdminKey(key string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(AdminKeyHeader)
			if key == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				sendError(w, http.StatusUnauthorized, "Invalid admin key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetCacheStats returns cache statistics
// @Summary Cache statistics
// @Description Returns the entry count and the shared hit/miss counters
// @Tags admin
// @Produce json
// @Success 200 {object} cache.Stats
// @Failure 503 {object} map[string]string "Store unavailable"
// @Router /admin/cache/stats [get]
func (h *Handlers) GetCacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.cache.Stats(r.Context())
	if err != nil {
		h.sendStoreError(w, r, "cache_stats", err)
		return
	}
	sendJSON(w, http.StatusOK, stats)
}

// ClearCache deletes every cache entry
// @Summary Clear cache
// @Tags admin
// @Produce json
// @Success 200 {object} map[string]int64 "Number of deleted entries"
// @Router /admin/cache [delete]
func (h *Handlers) ClearCache(w http.ResponseWriter, r *http.Request) {
	n, err := h.cache.Clear(r.Context())
	if err != nil {
		h.sendStoreError(w, r, "cache_clear", err)
		return
	}

	h.metrics.Invalidated(n)
	h.logger.WithContext(r.Context()).Info("Cache cleared", logging.Int64("deleted", n))
	sendJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

// InvalidateCache deletes one exact cache key or every key matching a glob
// pattern. Exactly one of key and pattern must be given.
// @Summary Invalidate cache entries
// @Tags admin
// @Produce json
// @Param key query string false "Exact cache key, never read as a glob"
// @Param pattern query string false "Glob pattern"
// @Success 200 {object} map[string]int64 "Number of deleted entries"
// @Failure 400 {object} map[string]string "Missing or ambiguous target"
// @Router /admin/cache/keys [delete]
func (h *Handlers) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	key := strings.TrimSpace(query.Get("key"))
	pattern := strings.TrimSpace(query.Get("pattern"))

	var (
		n   int64
		err error
	)
	switch {
	case key != "" && pattern != "":
		sendError(w, http.StatusBadRequest, "only one of key or pattern may be given")
		return
	case key != "":
		n, err = h.cache.Invalidate(r.Context(), key)
	case pattern != "":
		n, err = h.cache.InvalidatePattern(r.Context(), pattern)
	default:
		sendError(w, http.StatusBadRequest, "key or pattern query parameter is required")
		return
	}
	if err != nil {
		h.sendStoreError(w, r, "cache_invalidate", err)
		return
	}

	h.metrics.Invalidated(n)
	sendJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

// GetRateLimit returns the current window of one identity
// @Summary Rate limit usage
// @Tags admin
// @Produce json
// @Param identity path string true "Identity, e.g. user:alice or ip:10.0.0.1"
// @Success 200 {object} ratelimit.Usage
// @Router /admin/ratelimit/{identity} [get]
func (h *Handlers) GetRateLimit(w http.ResponseWriter, r *http.Request) {
	identity := mux.Vars(r)["identity"]

	usage, err := h.limiter.Usage(r.Context(), identity)
	if err != nil {
		h.sendStoreError(w, r, "ratelimit_usage", err)
		return
	}
	sendJSON(w, http.StatusOK, usage)
}

// ResetRateLimit drops the current window of one identity
// @Summary Reset rate limit
// @Tags admin
// @Produce json
// @Param identity path string true "Identity"
// @Success 200 {object} map[string]int64 "1 when a window existed"
// @Router /admin/ratelimit/{identity} [delete]
func (h *Handlers) ResetRateLimit(w http.ResponseWriter, r *http.Request) {
	identity := mux.Vars(r)["identity"]

	existed, err := h.limiter.Reset(r.Context(), identity)
	if err != nil {
		h.sendStoreError(w, r, "ratelimit_reset", err)
		return
	}

	var n int64
	if existed {
		n = 1
	}
	sendJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}
