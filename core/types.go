// Package core holds the domain types shared by every component of the
// enrollment, ingestion, and certificate-lifecycle subsystem. Types here
// carry `db` tags for the ORM layer in package db/certstore and are
// otherwise free of any storage- or transport-specific behavior.
package core

import "time"

// Certificate is one row of the append-only certificates table. Rows are
// never mutated except for Revoked.
type Certificate struct {
	CertID      int64     `db:"certid"`
	Fingerprint string    `db:"fingerprint"`
	CommonName  string    `db:"commonname"`
	Issued      time.Time `db:"issued"`
	Revoked     bool      `db:"revoked"`

	// Previous is the certid of the cert used to authenticate a renewal.
	// Zero means this certificate was issued by a fresh enrollment.
	Previous int64 `db:"previous"`

	// First is the certid of the original certificate in this renewal
	// chain. Equals CertID for a root enrollment.
	First int64 `db:"first"`

	CertPEM []byte `db:"certpem"`
}

// HasPrevious reports whether this certificate was issued by renewing an
// earlier one, as opposed to a fresh enrollment.
func (c Certificate) HasPrevious() bool {
	return c.Previous != 0
}

// WaitingEntry is an unapproved (or recently approved, not-yet-consumed)
// enrollment request. Primary key is IPAddr.
type WaitingEntry struct {
	IPAddr   string    `db:"ipaddr"`
	Hostname string    `db:"hostname"`
	Received time.Time `db:"received"`
	Approved bool      `db:"approved"`
}

// IPRange gates auto-approval of enrollment requests.
type IPRange struct {
	ID      int64  `db:"id"`
	IPRange string `db:"iprange"`
}

// HostInfo is the current-identity projection of a host: which
// fingerprint currently authenticates it, and what the agent last
// reported about itself.
type HostInfo struct {
	CertFP        string    `db:"certfp"`
	IPAddr        string    `db:"ipaddr"`
	OSHostname    string    `db:"os_hostname"`
	LastSeen      time.Time `db:"lastseen"`
	ClientVersion string    `db:"clientversion"`
	DNSTTL        *int64    `db:"dnsttl"`
}

// FileRecord is one version of one file (or command output) collected
// from a host. Rows are append-only; Current toggles are the only
// mutation, and at most one row per (CertFP, Filename) may have
// Current == true.
type FileRecord struct {
	ID             int64     `db:"id"`
	CertFP         string    `db:"certfp"`
	Filename       string    `db:"filename"`
	Received       time.Time `db:"received"`
	Mtime          time.Time `db:"mtime"`
	Content        string    `db:"content"`
	CRC32          int32     `db:"crc32"`
	IsCommand      bool      `db:"is_command"`
	ClientVersion  string    `db:"clientversion"`
	IPAddr         string    `db:"ipaddr"`
	OSHostname     string    `db:"os_hostname"`
	CertCN         string    `db:"certcn"`
	OriginalCertID int64     `db:"originalcertid"`
	Current        bool      `db:"current"`
}

// IssuedBundle is the material returned to an agent after a successful
// reqcert or renewcert: the signed certificate, its private key, and a
// PKCS#12 container of both, all PEM/base64-framed per spec §6.
type IssuedBundle struct {
	CertPEM []byte
	KeyPEM  []byte
	P12DER  []byte
}

// SessionVerdict is the result of a SessionGuard.Ping policy evaluation.
type SessionVerdict int

const (
	// VerdictOK means the session is valid; respond "pong".
	VerdictOK SessionVerdict = iota
	// VerdictMustRenew means the certificate is nearing expiry.
	VerdictMustRenew
	// VerdictRejected means the certificate is revoked, unknown to
	// CertStore, or the hostname has drifted from what CertStore has on
	// file.
	VerdictRejected
)
