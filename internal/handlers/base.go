package handlers

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"time"

	"api-gateway/internal/admission"
	"api-gateway/internal/cache"
	"api-gateway/internal/common/errors"
	"api-gateway/internal/common/logging"
	"api-gateway/internal/metrics"
	"api-gateway/internal/ratelimit"
)

// Upstream is the downstream proxy collaborator.
type Upstream interface {
	http.Handler
	Fetch(r *http.Request) (*cache.Entry, error)
}

type CacheAdmin interface {
	Stats(ctx context.Context) (cache.Stats, error)
	Clear(ctx context.Context) (int64, error)
	Invalidate(ctx context.Context, key string) (int64, error)
	InvalidatePattern(ctx context.Context, pattern string) (int64, error)
}

type RateLimitAdmin interface {
	Enabled() bool
	Usage(ctx context.Context, identity string) (ratelimit.Usage, error)
	Reset(ctx context.Context, identity string) (bool, error)
}

type HealthChecker interface {
	Health(ctx context.Context) error
}

// Options wires the handlers to their collaborators.
type Options struct {
	Pipeline          *admission.Pipeline
	Upstream          Upstream
	Cache             CacheAdmin
	Limiter           RateLimitAdmin
	Store             HealthChecker
	TrustProxyHeaders bool
	FailOpen          bool
	Metrics           *metrics.Metrics
	Logger            logging.Logger
}

type Handlers struct {
	pipeline   *admission.Pipeline
	upstream   Upstream
	cache      CacheAdmin
	limiter    RateLimitAdmin
	store      HealthChecker
	trustProxy bool
	failOpen   bool
	metrics    *metrics.Metrics
	logger     logging.Logger
	now        func() time.Time
}

func New(opts Options) *Handlers {
	logger := opts.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Handlers{
		pipeline:   opts.Pipeline,
		upstream:   opts.Upstream,
		cache:      opts.Cache,
		limiter:    opts.Limiter,
		store:      opts.Store,
		trustProxy: opts.TrustProxyHeaders,
		failOpen:   opts.FailOpen,
		metrics:    opts.Metrics,
		logger:     logger.WithFields(logging.String("component", "handlers")),
		now:        time.Now,
	}
}

func sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sendError writes the {"detail": ...} error body.
func sendError(w http.ResponseWriter, status int, detail string) {
	sendJSON(w, status, map[string]string{"detail": detail})
}

// sendStoreError maps an error from an administrative store call to a response.
func (h *Handlers) sendStoreError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch errors.GetType(err) {
	case errors.ErrTypeValidation:
		detail := err.Error()
		var appErr *errors.AppError
		if stderrors.As(err, &appErr) {
			detail = appErr.Message
		}
		sendError(w, http.StatusBadRequest, detail)
	case errors.ErrTypeStoreUnavailable:
		h.logger.WithContext(r.Context()).Warn("Store unavailable during admin operation",
			logging.String("operation", op), logging.Err(err))
		sendError(w, http.StatusServiceUnavailable, "Store unavailable")
	default:
		h.logger.WithContext(r.Context()).Error("Admin operation failed", err,
			logging.String("operation", op))
		sendError(w, http.StatusInternalServerError, "Internal server error")
	}
}
