package api

import (
	"encoding/pem"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"
)

// Peer headers are set by the front server after it terminates TLS and
// validates the client certificate (spec §6, "The front server
// terminates TLS and passes to the endpoint: peer IP, peer certificate
// PEM, peer certificate notAfter"). This process never sees raw TLS.
const (
	headerPeerIP       = "X-Nivlheim-Peer-Ip"
	headerPeerCert     = "X-Nivlheim-Peer-Cert"
	headerPeerNotAfter = "X-Nivlheim-Peer-Not-After"
)

// peerIP extracts the original client IP, preferring the front server's
// header over RemoteAddr (which would otherwise be the proxy itself).
func peerIP(r *http.Request) (net.IP, error) {
	raw := r.Header.Get(headerPeerIP)
	if raw == "" {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		raw = host
	}
	ip := net.ParseIP(raw)
	if ip == nil {
		return nil, fmt.Errorf("unparseable peer ip %q", raw)
	}
	return ip, nil
}

// peerCert extracts the DER bytes and notAfter timestamp of the
// mTLS-presented client certificate from the front server's headers.
// Returns an error if either header is missing or malformed.
func peerCert(r *http.Request) (der []byte, notAfter time.Time, err error) {
	encoded := r.Header.Get(headerPeerCert)
	if encoded == "" {
		return nil, time.Time{}, fmt.Errorf("missing %s header", headerPeerCert)
	}
	certPEM, err := url.QueryUnescape(encoded)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("decoding %s: %w", headerPeerCert, err)
	}
	block, _ := pem.Decode([]byte(certPEM))
	if block == nil {
		return nil, time.Time{}, fmt.Errorf("%s is not PEM", headerPeerCert)
	}

	naRaw := r.Header.Get(headerPeerNotAfter)
	if naRaw == "" {
		return nil, time.Time{}, fmt.Errorf("missing %s header", headerPeerNotAfter)
	}
	notAfter, err = time.Parse(time.RFC3339, naRaw)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("parsing %s: %w", headerPeerNotAfter, err)
	}

	return block.Bytes, notAfter, nil
}

// isLoopback reports whether the request's transport-level peer is
// loopback, for the ingest worker endpoint (spec §6, "loopback only").
// Unlike peerIP this deliberately ignores X-Nivlheim-Peer-Ip: the
// ingest worker is only ever reached directly, never through the
// mTLS-terminating front server.
func isLoopback(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
