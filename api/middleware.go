package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/usit-gd/nivlheim/errors"
	"github.com/usit-gd/nivlheim/log"
)

// handlerFunc is the shape every endpoint handler implements: return an
// error and let instrument translate it into a status code and body,
// or write directly to w and return nil.
type handlerFunc func(w http.ResponseWriter, r *http.Request) error

// instrument wraps h with request logging, panic recovery, and the
// error-kind-to-status translation every endpoint shares (spec §7).
// Grounded on wfe2.HandleFunc's "generic per-request functionality"
// wrapper, trimmed to what a header-driven (no ACME nonce/CORS) front
// end needs.
func instrument(name string, counter *endpointCounters, h handlerFunc) http.HandlerFunc {
	base := log.Get()
	return func(w http.ResponseWriter, r *http.Request) {
		logger := base
		if ip, err := peerIP(r); err == nil {
			logger = logger.With("peer_ip", ip.String())
		}

		start := time.Now()
		defer func() {
			if rec := recover(); rec != nil {
				logger.AuditErr(fmt.Errorf("panic in %s: %v", name, rec))
				counter.observe(http.StatusInternalServerError, time.Since(start))
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
		}()

		err := h(w, r)
		if err == nil {
			counter.observe(http.StatusOK, time.Since(start))
			return
		}

		status := errors.StatusOf(err)
		counter.observe(status, time.Since(start))
		logger.WarningErr(fmt.Errorf("%s: %w", name, err))

		msg := "internal error"
		if ne, ok := err.(*errors.NivlError); ok {
			msg = ne.Detail
		}
		http.Error(w, msg, status)
	}
}
