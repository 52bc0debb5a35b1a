package handlers

import (
	"net/http"
	"strconv"

	"api-gateway/internal/admission"
	"api-gateway/internal/common/logging"
	"api-gateway/internal/proxy"
)

// Gateway admits every non-administrative request and forwards it
// downstream. Cacheable misses are buffered so the response can be stored;
// everything else is streamed.
func (h *Handlers) Gateway(w http.ResponseWriter, r *http.Request) {
	start := h.now()
	d := h.pipeline.Admit(r.Context(), admission.FromHTTP(r, h.trustProxy))
	if d.Identity.Key != "" {
		r = r.WithContext(logging.ContextWithIdentity(r.Context(), d.Identity.Key))
	}

	switch d.Kind {
	case admission.Rejected:
		if d.Status == admission.StatusClientClosedRequest {
			return
		}
		d.WriteHeaders(w.Header())
		if d.Status == http.StatusUnauthorized {
			w.Header().Set("WWW-Authenticate", "Bearer")
		}
		sendError(w, d.Status, d.Reason)

	case admission.CacheHit:
		d.WriteHeaders(w.Header())
		w.Header().Set("Age", strconv.Itoa(int(d.Entry.Age(h.now()).Seconds())))
		if err := d.Entry.WriteTo(w); err != nil {
			h.logger.WithContext(r.Context()).Debug("Client went away during cached response", logging.Err(err))
		}

	default:
		d.WriteHeaders(w.Header())
		if !d.Cacheable {
			h.upstream.ServeHTTP(w, r)
			return
		}

		entry, err := h.upstream.Fetch(r)
		if err != nil {
			if r.Context().Err() != nil {
				return
			}
			h.logger.WithContext(r.Context()).Error("Downstream request failed", err,
				logging.String("path", r.URL.Path))
			proxy.WriteBadGateway(w)
			return
		}

		if err := h.pipeline.Complete(r.Context(), d, entry); err != nil {
			h.logger.WithContext(r.Context()).Warn("Response not cached", logging.Err(err))
		}

		w.Header().Set("X-Process-Time", strconv.FormatFloat(h.now().Sub(start).Seconds(), 'f', 4, 64))
		entry.WriteTo(w)
	}
}
