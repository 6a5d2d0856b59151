package core

import (
	"context"
	"net"
	"time"
)

// CertStore is the persistence abstraction over the certificates,
// hostinfo, files, waiting_for_approval, and ipranges tables. All write
// operations are transactional; lookups never create rows as a side
// effect.
type CertStore interface {
	LookupByFingerprint(ctx context.Context, fingerprint string) (Certificate, error)
	InsertIssued(ctx context.Context, in InsertIssuedParams) (certID int64, err error)
	SetRevoked(ctx context.Context, fingerprint string) error

	WaitingLookup(ctx context.Context, ip string) (WaitingEntry, error)
	WaitingInsert(ctx context.Context, entry WaitingEntry) error
	WaitingDelete(ctx context.Context, ip string) error
	WaitingList(ctx context.Context) ([]WaitingEntry, error)

	IPRangeContains(ctx context.Context, ip net.IP) (bool, error)
	IPRangeList(ctx context.Context) ([]IPRange, error)
	IPRangeAdd(ctx context.Context, cidr string) error
	IPRangeDelete(ctx context.Context, id int64) error

	HostInfoUpsertAfterEnroll(ctx context.Context, oldFP, newFP string) error
	HostInfoByFingerprint(ctx context.Context, fingerprint string) (HostInfo, error)

	GetLatestCRC(ctx context.Context, certFP, filename string) (crc int32, found bool, err error)
	InsertFileRecord(ctx context.Context, rec FileRecord) error
	MarkAllNonCurrent(ctx context.Context, certFP string) error
	TouchHostInfo(ctx context.Context, in TouchHostInfoParams) error

	// CommitIngestBatch runs one archive's worth of file writes (the
	// mark-non-current, the per-file inserts, and the host touch) inside
	// a single transaction, so a failure partway through rolls back the
	// entire archive (spec §4.5 phase 3, "all-or-nothing per archive").
	CommitIngestBatch(ctx context.Context, batch IngestBatch) error

	// Chain returns the full previous-linked history of a certificate,
	// root first, given any fingerprint in the chain.
	Chain(ctx context.Context, fingerprint string) ([]Certificate, error)
}

// InsertIssuedParams is the argument struct for CertStore.InsertIssued.
// Previous == 0 means a fresh enrollment, in which case First is set to
// the newly assigned CertID within the same transaction.
type InsertIssuedParams struct {
	Fingerprint string
	CommonName  string
	Previous    int64
	First       int64
	CertPEM     []byte
}

// TouchHostInfoParams is the argument struct for CertStore.TouchHostInfo.
type TouchHostInfoParams struct {
	CertFP        string
	IPAddr        string
	OSHostname    string
	ClientVersion string
	Received      time.Time
}

// IngestBatch is one archive's worth of file writes, committed as a
// single transaction by CertStore.CommitIngestBatch. Records holds only
// the files whose content changed; an archive where every file was
// duplicate-suppressed has an empty Records but a non-empty Touch.
type IngestBatch struct {
	CertFP  string
	Records []FileRecord
	Touch   TouchHostInfoParams
}

// CAIssuer wraps the CA signing oracle: an external primitive that is
// not safe to invoke concurrently. IssueCertificate performs the whole
// GenerateKey -> CSR -> Sign -> read-serial sequence (spec §4.2, §9)
// under a single process-wide mutual-exclusion token, returning a Busy
// error immediately if that token is already held rather than queueing.
type CAIssuer interface {
	IssueCertificate(ctx context.Context, commonName string) (keyPEM, certPEM []byte, serial int64, err error)
}

// Enroller implements reqcert and renewcert.
type Enroller interface {
	RequestCertificate(ctx context.Context, peerIP net.IP, hostname string) (EnrollResult, error)
	RenewCertificate(ctx context.Context, peerCertDER []byte) (IssuedBundle, error)
}

// EnrollResult is the outcome of RequestCertificate: either an issued
// bundle, or a waiting-list status message that must not be confused
// with a failure.
type EnrollResult struct {
	Issued  *IssuedBundle
	Message string
}

// SessionGuard is the ping-time policy.
type SessionGuard interface {
	Ping(ctx context.Context, peerCertDER []byte, notAfter time.Time) (SessionVerdict, string, error)
}

// Ingestor is the archive upload endpoint.
type Ingestor interface {
	IngestArchive(ctx context.Context, archivePath string, meta ArchiveMeta) error
}

// ArchiveMeta is the parsed content of an archive's <name>.meta sidecar
// file (spec §6 "Metadata file format").
type ArchiveMeta struct {
	Received      time.Time
	CertFP        string
	IPAddr        string
	OSHostname    string
	CertCN        string
	ClientVersion string
}
