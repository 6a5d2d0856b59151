// Package enroll implements the reqcert and renewcert state machines
// (spec §4.3): issuing client certificates either through immediate
// IP-range approval or a manual waiting list, and renewing an existing
// certificate while preserving its chain identity.
package enroll

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/jmhodges/clock"

	"github.com/usit-gd/nivlheim/certstore"
	"github.com/usit-gd/nivlheim/core"
	nivlerrors "github.com/usit-gd/nivlheim/errors"
	"github.com/usit-gd/nivlheim/log"
)

// Enroller implements core.Enroller.
type Enroller struct {
	store core.CertStore
	ca    core.CAIssuer
	dns   *resolver
	clk   clock.Clock
	log   log.Logger
}

// Config configures DNS resolution for forward-confirmed reverse DNS.
type Config struct {
	DNSServers []string
	DNSTimeout time.Duration
}

// New builds an Enroller on top of a CertStore and CAIssuer.
func New(store core.CertStore, ca core.CAIssuer, cfg Config, clk clock.Clock) *Enroller {
	if clk == nil {
		clk = clock.Default()
	}
	return &Enroller{
		store: store,
		ca:    ca,
		dns:   newResolver(cfg.DNSServers, cfg.DNSTimeout),
		clk:   clk,
		log:   log.Get(),
	}
}

// RequestCertificate implements reqcert (spec §4.3).
func (e *Enroller) RequestCertificate(ctx context.Context, peerIP net.IP, hostname string) (core.EnrollResult, error) {
	autoApproved, err := e.store.IPRangeContains(ctx, peerIP)
	if err != nil {
		return core.EnrollResult{}, fmt.Errorf("checking ip range: %w", err)
	}

	if autoApproved {
		h := e.dns.fcrdns(ctx, peerIP)
		if h == "" {
			h = hostname
		}
		bundle, err := e.issue(ctx, h)
		if err != nil {
			return core.EnrollResult{}, err
		}
		return core.EnrollResult{Issued: &bundle}, nil
	}

	entry, err := e.store.WaitingLookup(ctx, peerIP.String())
	if err != nil {
		if err != certstore.ErrNotFound {
			return core.EnrollResult{}, fmt.Errorf("looking up waiting entry: %w", err)
		}
		if hostname == "" {
			return core.EnrollResult{}, nivlerrors.BadRequestError("hostname is required for a new enrollment request")
		}
		h := e.dns.fcrdns(ctx, peerIP)
		if h == "" {
			h = hostname
		}
		newEntry := core.WaitingEntry{
			IPAddr:   peerIP.String(),
			Hostname: h,
			Received: e.clk.Now(),
			Approved: false,
		}
		if err := e.store.WaitingInsert(ctx, newEntry); err != nil {
			return core.EnrollResult{}, fmt.Errorf("inserting waiting entry: %w", err)
		}
		e.log.With("hostname", h).With("peer_ip", peerIP.String()).Info("added to waiting list")
		return core.EnrollResult{Message: "added to waiting list"}, nil
	}

	if !entry.Approved {
		return core.EnrollResult{Message: "be patient"}, nil
	}

	bundle, err := e.issue(ctx, entry.Hostname)
	if err != nil {
		return core.EnrollResult{}, err
	}
	if err := e.store.WaitingDelete(ctx, peerIP.String()); err != nil {
		e.log.With("peer_ip", peerIP.String()).WarningErr(fmt.Errorf("removing waiting entry: %w", err))
	}
	return core.EnrollResult{Issued: &bundle}, nil
}

// RenewCertificate implements renewcert (spec §4.3). The caller is
// responsible for mTLS-authenticating peerCertDER before calling this.
func (e *Enroller) RenewCertificate(ctx context.Context, peerCertDER []byte) (core.IssuedBundle, error) {
	fp := core.FingerprintDER(peerCertDER)

	cert, err := e.store.LookupByFingerprint(ctx, fp)
	if err != nil {
		if err == certstore.ErrNotFound {
			return core.IssuedBundle{}, nivlerrors.ForbiddenError("unknown certificate")
		}
		return core.IssuedBundle{}, fmt.Errorf("looking up certificate: %w", err)
	}
	if cert.Revoked {
		return core.IssuedBundle{}, nivlerrors.ForbiddenError("revoked")
	}

	hostname := cert.CommonName
	if info, err := e.store.HostInfoByFingerprint(ctx, fp); err == nil && info.OSHostname != "" {
		hostname = info.OSHostname
	} else if err != nil && err != certstore.ErrNotFound {
		return core.IssuedBundle{}, fmt.Errorf("looking up host info: %w", err)
	}
	if hostname == "" {
		return core.IssuedBundle{}, nivlerrors.InternalError("unable to determine hostname")
	}

	keyPEM, certPEM, _, err := e.ca.IssueCertificate(ctx, hostname)
	if err != nil {
		return core.IssuedBundle{}, err
	}
	newFP := core.FingerprintDER(certDERFromPEM(certPEM))

	_, err = e.store.InsertIssued(ctx, core.InsertIssuedParams{
		Fingerprint: newFP,
		CommonName:  hostname,
		Previous:    cert.CertID,
		First:       cert.First,
		CertPEM:     certPEM,
	})
	if err != nil {
		return core.IssuedBundle{}, fmt.Errorf("recording renewed certificate: %w", err)
	}

	if err := e.store.HostInfoUpsertAfterEnroll(ctx, fp, newFP); err != nil {
		return core.IssuedBundle{}, fmt.Errorf("rewriting certfp references: %w", err)
	}

	return buildBundle(certPEM, keyPEM)
}

// issue runs the CAIssuer -> CertStore.InsertIssued -> bundle sequence
// shared by the auto-approved and waiting-list-approved reqcert paths.
func (e *Enroller) issue(ctx context.Context, hostname string) (core.IssuedBundle, error) {
	keyPEM, certPEM, _, err := e.ca.IssueCertificate(ctx, hostname)
	if err != nil {
		return core.IssuedBundle{}, err
	}

	fp := core.FingerprintDER(certDERFromPEM(certPEM))
	_, err = e.store.InsertIssued(ctx, core.InsertIssuedParams{
		Fingerprint: fp,
		CommonName:  hostname,
		CertPEM:     certPEM,
	})
	if err != nil {
		return core.IssuedBundle{}, fmt.Errorf("recording issued certificate: %w", err)
	}

	return buildBundle(certPEM, keyPEM)
}
