// Package session implements the ping-time policy check (spec §4.4):
// an ordered sequence of expiry, revocation, and hostname-drift checks,
// the first failure short-circuiting the rest.
package session

import (
	"context"
	"crypto/x509"
	"time"

	"github.com/jmhodges/clock"

	"github.com/usit-gd/nivlheim/certstore"
	"github.com/usit-gd/nivlheim/core"
)

// renewalWindow is how far ahead of expiry a client is told to renew.
const renewalWindow = 30 * 24 * time.Hour

// Guard implements core.SessionGuard.
type Guard struct {
	store core.CertStore
	clk   clock.Clock
}

// New builds a Guard on top of a CertStore.
func New(store core.CertStore, clk clock.Clock) *Guard {
	if clk == nil {
		clk = clock.Default()
	}
	return &Guard{store: store, clk: clk}
}

// Ping evaluates the ordered policy: expiry window, then revocation,
// then hostname drift (spec §4.4).
func (g *Guard) Ping(ctx context.Context, peerCertDER []byte, notAfter time.Time) (core.SessionVerdict, string, error) {
	if notAfter.Sub(g.clk.Now()) < renewalWindow {
		return core.VerdictMustRenew, "cert about to expire, please renew", nil
	}

	fp := core.FingerprintDER(peerCertDER)
	cert, err := g.store.LookupByFingerprint(ctx, fp)
	if err != nil {
		if err == certstore.ErrNotFound {
			return core.VerdictRejected, "unknown certificate", nil
		}
		return 0, "", err
	}
	if cert.Revoked {
		return core.VerdictRejected, "revoked", nil
	}

	peerCert, err := x509.ParseCertificate(peerCertDER)
	if err != nil {
		return 0, "", err
	}

	info, err := g.store.HostInfoByFingerprint(ctx, fp)
	if err != nil && err != certstore.ErrNotFound {
		return 0, "", err
	}
	if err == nil && info.OSHostname != "" && info.OSHostname != peerCert.Subject.CommonName {
		return core.VerdictRejected, "please renew your certificate", nil
	}

	return core.VerdictOK, "pong", nil
}
