// Package certstore implements core.CertStore: the persistence
// abstraction over the certificates, hostinfo, files,
// waiting_for_approval, and ipranges tables (spec §4.1). It enforces
// the one-writer-per-cert invariant via transactions, following the
// teacher's tx := dbMap.Begin() / explicit Rollback-on-every-error-path
// / single Commit idiom (sa/storage-authority.go).
package certstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"

	"github.com/jmhodges/clock"

	"github.com/usit-gd/nivlheim/core"
	"github.com/usit-gd/nivlheim/db"
	"github.com/usit-gd/nivlheim/log"
)

// ErrNotFound is returned by lookup operations when no row matches.
// CertStore never silently creates rows on lookup (spec §4.1).
var ErrNotFound = errors.New("certstore: not found")

// Store is the SQL-backed implementation of core.CertStore.
type Store struct {
	dbMap db.DatabaseMap
	clk   clock.Clock
	log   log.Logger
}

// New constructs a Store around an already-connected DbMap.
func New(dbMap db.DatabaseMap, clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.Default()
	}
	return &Store{dbMap: dbMap, clk: clk, log: log.Get()}
}

func (s *Store) LookupByFingerprint(ctx context.Context, fingerprint string) (core.Certificate, error) {
	var cert core.Certificate
	err := s.dbMap.SelectOne(&cert,
		`SELECT certid, fingerprint, commonname, issued, revoked, previous, first, certpem
		 FROM certificates WHERE fingerprint = $1`, fingerprint)
	if err != nil {
		if isNoRows(err) {
			return core.Certificate{}, ErrNotFound
		}
		return core.Certificate{}, fmt.Errorf("looking up certificate %s: %w", fingerprint, err)
	}
	return cert, nil
}

// InsertIssued inserts a newly-issued certificate. When in.Previous is
// zero this is a fresh enrollment: First is backfilled to the new
// CertID inside the same transaction (spec §4.1, §4.3 step 3, §9
// "Cert chain across renewals").
func (s *Store) InsertIssued(ctx context.Context, in core.InsertIssuedParams) (int64, error) {
	tx, err := s.dbMap.Begin()
	if err != nil {
		return 0, fmt.Errorf("beginning insert-issued transaction: %w", err)
	}

	now := s.clk.Now()
	cert := &core.Certificate{
		Fingerprint: in.Fingerprint,
		CommonName:  in.CommonName,
		Issued:      now,
		Revoked:     false,
		Previous:    in.Previous,
		First:       in.First,
		CertPEM:     in.CertPEM,
	}

	if err := tx.Insert(cert); err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("inserting certificate: %w", err)
	}

	first := in.First
	if in.Previous == 0 {
		first = cert.CertID
		_, err = tx.Exec(`UPDATE certificates SET first = $1 WHERE certid = $2`, first, cert.CertID)
		if err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("backfilling first: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing insert-issued: %w", err)
	}

	s.log.With("certfp", in.Fingerprint).With("hostname", in.CommonName).
		Audit(fmt.Sprintf("issued certificate certid=%d first=%d", cert.CertID, first))
	return cert.CertID, nil
}

func (s *Store) SetRevoked(ctx context.Context, fingerprint string) error {
	tx, err := s.dbMap.Begin()
	if err != nil {
		return fmt.Errorf("beginning revoke transaction: %w", err)
	}
	res, err := tx.Exec(`UPDATE certificates SET revoked = true WHERE fingerprint = $1`, fingerprint)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("revoking certificate: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		tx.Rollback()
		return ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing revoke: %w", err)
	}
	s.log.With("certfp", fingerprint).Audit("revoked certificate")
	return nil
}

func (s *Store) WaitingLookup(ctx context.Context, ip string) (core.WaitingEntry, error) {
	var entry core.WaitingEntry
	err := s.dbMap.SelectOne(&entry,
		`SELECT ipaddr, hostname, received, approved FROM waiting_for_approval WHERE ipaddr = $1`, ip)
	if err != nil {
		if isNoRows(err) {
			return core.WaitingEntry{}, ErrNotFound
		}
		return core.WaitingEntry{}, fmt.Errorf("looking up waiting entry %s: %w", ip, err)
	}
	return entry, nil
}

func (s *Store) WaitingInsert(ctx context.Context, entry core.WaitingEntry) error {
	if err := s.dbMap.Insert(&entry); err != nil {
		return fmt.Errorf("inserting waiting entry: %w", err)
	}
	return nil
}

func (s *Store) WaitingDelete(ctx context.Context, ip string) error {
	_, err := s.dbMap.Exec(`DELETE FROM waiting_for_approval WHERE ipaddr = $1`, ip)
	if err != nil {
		return fmt.Errorf("deleting waiting entry: %w", err)
	}
	return nil
}

func (s *Store) WaitingList(ctx context.Context) ([]core.WaitingEntry, error) {
	rows, err := s.dbMap.Select(&core.WaitingEntry{},
		`SELECT ipaddr, hostname, received, approved FROM waiting_for_approval ORDER BY received`)
	if err != nil {
		return nil, fmt.Errorf("listing waiting entries: %w", err)
	}
	out := make([]core.WaitingEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, *(r.(*core.WaitingEntry)))
	}
	return out, nil
}

func (s *Store) IPRangeContains(ctx context.Context, ip net.IP) (bool, error) {
	ranges, err := s.IPRangeList(ctx)
	if err != nil {
		return false, err
	}
	for _, r := range ranges {
		_, ipNet, err := net.ParseCIDR(r.IPRange)
		if err != nil {
			s.log.WarningErr(fmt.Errorf("ignoring malformed iprange %q: %w", r.IPRange, err))
			continue
		}
		if ipNet.Contains(ip) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) IPRangeList(ctx context.Context) ([]core.IPRange, error) {
	rows, err := s.dbMap.Select(&core.IPRange{}, `SELECT id, iprange FROM ipranges`)
	if err != nil {
		return nil, fmt.Errorf("listing ipranges: %w", err)
	}
	out := make([]core.IPRange, 0, len(rows))
	for _, r := range rows {
		out = append(out, *(r.(*core.IPRange)))
	}
	return out, nil
}

func (s *Store) IPRangeAdd(ctx context.Context, cidr string) error {
	if _, _, err := net.ParseCIDR(cidr); err != nil {
		return fmt.Errorf("invalid CIDR %q: %w", cidr, err)
	}
	return s.dbMap.Insert(&core.IPRange{IPRange: cidr})
}

func (s *Store) IPRangeDelete(ctx context.Context, id int64) error {
	_, err := s.dbMap.Exec(`DELETE FROM ipranges WHERE id = $1`, id)
	return err
}

// HostInfoUpsertAfterEnroll is the single commit that rewrites
// hostinfo.certfp and every files.certfp row previously equal to oldFP
// to newFP (spec §4.1, §4.3 step 6, §9 "Cyclic current pointer").
func (s *Store) HostInfoUpsertAfterEnroll(ctx context.Context, oldFP, newFP string) error {
	tx, err := s.dbMap.Begin()
	if err != nil {
		return fmt.Errorf("beginning certfp-rewrite transaction: %w", err)
	}
	if _, err := tx.Exec(`UPDATE hostinfo SET certfp = $1 WHERE certfp = $2`, newFP, oldFP); err != nil {
		tx.Rollback()
		return fmt.Errorf("rewriting hostinfo.certfp: %w", err)
	}
	if _, err := tx.Exec(`UPDATE files SET certfp = $1 WHERE certfp = $2`, newFP, oldFP); err != nil {
		tx.Rollback()
		return fmt.Errorf("rewriting files.certfp: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing certfp rewrite: %w", err)
	}
	return nil
}

func (s *Store) HostInfoByFingerprint(ctx context.Context, fingerprint string) (core.HostInfo, error) {
	var h core.HostInfo
	err := s.dbMap.SelectOne(&h,
		`SELECT certfp, ipaddr, os_hostname, lastseen, clientversion, dnsttl
		 FROM hostinfo WHERE certfp = $1`, fingerprint)
	if err != nil {
		if isNoRows(err) {
			return core.HostInfo{}, ErrNotFound
		}
		return core.HostInfo{}, fmt.Errorf("looking up hostinfo %s: %w", fingerprint, err)
	}
	return h, nil
}

func (s *Store) GetLatestCRC(ctx context.Context, certFP, filename string) (int32, bool, error) {
	var crc int32
	err := s.dbMap.SelectOne(&crc,
		`SELECT crc32 FROM files WHERE certfp = $1 AND filename = $2 AND current = true`,
		certFP, filename)
	if err != nil {
		if isNoRows(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("fetching latest crc for %s/%s: %w", certFP, filename, err)
	}
	return crc, true, nil
}

// InsertFileRecord inserts one file version. Callers are responsible
// for having called MarkAllNonCurrent once per archive beforehand
// (spec §4.5 step 6); this keeps the "mark-all-non-current then insert"
// atomicity scoped to the caller's single per-archive transaction.
func (s *Store) InsertFileRecord(ctx context.Context, rec core.FileRecord) error {
	var certID sql.NullInt64
	err := s.dbMap.SelectOne(&certID, `SELECT certid FROM certificates WHERE fingerprint = $1`, rec.CertFP)
	if err != nil && !isNoRows(err) {
		return fmt.Errorf("resolving originalcertid: %w", err)
	}
	if certID.Valid {
		rec.OriginalCertID = certID.Int64
	}
	rec.Current = true
	if err := s.dbMap.Insert(&rec); err != nil {
		return fmt.Errorf("inserting file record %s: %w", rec.Filename, err)
	}
	return nil
}

func (s *Store) MarkAllNonCurrent(ctx context.Context, certFP string) error {
	_, err := s.dbMap.Exec(`UPDATE files SET current = false WHERE certfp = $1 AND current = true`, certFP)
	if err != nil {
		return fmt.Errorf("marking files non-current for %s: %w", certFP, err)
	}
	return nil
}

// TouchHostInfo performs the two monotonic/identity-drift updates from
// spec §4.5 step 7. Both run unconditionally; the WHERE clauses make
// each a no-op when it doesn't apply.
func (s *Store) TouchHostInfo(ctx context.Context, in core.TouchHostInfoParams) error {
	_, err := s.dbMap.Exec(
		`UPDATE hostinfo SET lastseen = $1, clientversion = $2 WHERE certfp = $3 AND lastseen < $1`,
		in.Received, in.ClientVersion, in.CertFP)
	if err != nil {
		return fmt.Errorf("touching hostinfo.lastseen: %w", err)
	}

	_, err = s.dbMap.Exec(
		`UPDATE hostinfo SET ipaddr = $1, os_hostname = $2, dnsttl = NULL
		 WHERE (ipaddr != $1 OR os_hostname != $2) AND certfp = $3`,
		in.IPAddr, in.OSHostname, in.CertFP)
	if err != nil {
		return fmt.Errorf("invalidating dns cache on identity drift: %w", err)
	}
	return nil
}

// CommitIngestBatch runs the mark-non-current, per-file inserts, and
// host touch for one archive inside a single transaction (spec §4.5
// phase 3). Any failure rolls back every write in the batch.
func (s *Store) CommitIngestBatch(ctx context.Context, batch core.IngestBatch) error {
	tx, err := s.dbMap.Begin()
	if err != nil {
		return fmt.Errorf("beginning ingest-batch transaction: %w", err)
	}

	if len(batch.Records) > 0 {
		if _, err := tx.Exec(`UPDATE files SET current = false WHERE certfp = $1 AND current = true`, batch.CertFP); err != nil {
			tx.Rollback()
			return fmt.Errorf("marking files non-current for %s: %w", batch.CertFP, err)
		}

		for i := range batch.Records {
			rec := batch.Records[i]

			var certID sql.NullInt64
			if err := tx.SelectOne(&certID, `SELECT certid FROM certificates WHERE fingerprint = $1`, rec.CertFP); err != nil && !isNoRows(err) {
				tx.Rollback()
				return fmt.Errorf("resolving originalcertid for %s: %w", rec.Filename, err)
			}
			if certID.Valid {
				rec.OriginalCertID = certID.Int64
			}
			rec.Current = true

			if err := tx.Insert(&rec); err != nil {
				tx.Rollback()
				return fmt.Errorf("inserting file record %s: %w", rec.Filename, err)
			}
		}
	}

	if _, err := tx.Exec(
		`UPDATE hostinfo SET lastseen = $1, clientversion = $2 WHERE certfp = $3 AND lastseen < $1`,
		batch.Touch.Received, batch.Touch.ClientVersion, batch.Touch.CertFP); err != nil {
		tx.Rollback()
		return fmt.Errorf("touching hostinfo.lastseen: %w", err)
	}
	if _, err := tx.Exec(
		`UPDATE hostinfo SET ipaddr = $1, os_hostname = $2, dnsttl = NULL
		 WHERE (ipaddr != $1 OR os_hostname != $2) AND certfp = $3`,
		batch.Touch.IPAddr, batch.Touch.OSHostname, batch.Touch.CertFP); err != nil {
		tx.Rollback()
		return fmt.Errorf("invalidating dns cache on identity drift: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing ingest batch: %w", err)
	}
	return nil
}

// Chain returns the full previous-linked history of a certificate, root
// first, given any fingerprint in the chain (SPEC_FULL.md §C.4).
func (s *Store) Chain(ctx context.Context, fingerprint string) ([]core.Certificate, error) {
	cert, err := s.LookupByFingerprint(ctx, fingerprint)
	if err != nil {
		return nil, err
	}

	var chain []core.Certificate
	current := cert
	for {
		chain = append([]core.Certificate{current}, chain...)
		if current.CertID == current.First || current.Previous == 0 {
			break
		}
		var prev core.Certificate
		err := s.dbMap.SelectOne(&prev,
			`SELECT certid, fingerprint, commonname, issued, revoked, previous, first, certpem
			 FROM certificates WHERE certid = $1`, current.Previous)
		if err != nil {
			if isNoRows(err) {
				break
			}
			return nil, fmt.Errorf("walking chain at certid=%d: %w", current.Previous, err)
		}
		current = prev
	}
	return chain, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
