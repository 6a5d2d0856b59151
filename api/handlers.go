// Package api wires the five endpoints of spec §6 onto net/http,
// translating the front server's header-based peer-identity handoff
// into calls against Enroller, SessionGuard, and Ingestor.
package api

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/usit-gd/nivlheim/core"
	"github.com/usit-gd/nivlheim/errors"
)

// Server bundles the domain components behind the HTTP surface.
type Server struct {
	Enroller core.Enroller
	Guard    core.SessionGuard
	Ingestor core.Ingestor
	QueueDir string
}

// PublicMux returns the handler for the reqcert and secure/* endpoints,
// meant to be served behind the mTLS-terminating front server.
func (s *Server) PublicMux(reg prometheus.Registerer) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/reqcert", instrument("reqcert", newEndpointCounters(reg, "reqcert"), s.handleReqCert))
	mux.HandleFunc("/secure/renewcert", instrument("renewcert", newEndpointCounters(reg, "renewcert"), s.handleRenewCert))
	mux.HandleFunc("/secure/ping", instrument("ping", newEndpointCounters(reg, "ping"), s.handlePing))
	mux.HandleFunc("/secure/post", instrument("post", newEndpointCounters(reg, "post"), s.handlePost))
	return mux
}

// LoopbackMux returns the handler for the ingest worker endpoint and
// the Prometheus exposition endpoint, both restricted to direct
// loopback callers, never routed through the front server.
func (s *Server) LoopbackMux(reg prometheus.Registerer) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ingest", instrument("ingest", newEndpointCounters(reg, "ingest"), s.handleIngestWorker))
	if gatherer, ok := reg.(prometheus.Gatherer); ok {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

func (s *Server) handleReqCert(w http.ResponseWriter, r *http.Request) error {
	ip, err := peerIP(r)
	if err != nil {
		return errors.BadRequestError("cannot determine peer ip: %s", err)
	}
	hostname := r.URL.Query().Get("hostname")

	result, err := s.Enroller.RequestCertificate(r.Context(), ip, hostname)
	if err != nil {
		return err
	}
	if result.Issued != nil {
		writeBundle(w, *result.Issued)
		return nil
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, result.Message)
	return nil
}

func (s *Server) handleRenewCert(w http.ResponseWriter, r *http.Request) error {
	der, _, err := peerCert(r)
	if err != nil {
		return errors.ForbiddenError("no client certificate presented: %s", err)
	}

	bundle, err := s.Enroller.RenewCertificate(r.Context(), der)
	if err != nil {
		return err
	}
	writeBundle(w, bundle)
	return nil
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) error {
	der, notAfter, err := peerCert(r)
	if err != nil {
		return errors.ForbiddenError("no client certificate presented: %s", err)
	}

	verdict, message, err := s.Guard.Ping(r.Context(), der, notAfter)
	if err != nil {
		return err
	}
	if verdict != core.VerdictOK {
		return errors.ForbiddenError("%s", message)
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, message)
	return nil
}
