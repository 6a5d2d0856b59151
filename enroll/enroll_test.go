package enroll

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/jmhodges/clock"

	"github.com/usit-gd/nivlheim/certstore"
	"github.com/usit-gd/nivlheim/core"
	nivlerrors "github.com/usit-gd/nivlheim/errors"
)

// fakeStore is a minimal in-memory core.CertStore double, enough to
// drive the reqcert/renewcert state machines without a database.
type fakeStore struct {
	certsByFP    map[string]core.Certificate
	waiting      map[string]core.WaitingEntry
	ranges       []string
	hostInfo     map[string]core.HostInfo
	nextCertID   int64
	deletedWait  []string
	rewriteCalls [][2]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		certsByFP: map[string]core.Certificate{},
		waiting:   map[string]core.WaitingEntry{},
		hostInfo:  map[string]core.HostInfo{},
	}
}

func (f *fakeStore) LookupByFingerprint(ctx context.Context, fp string) (core.Certificate, error) {
	c, ok := f.certsByFP[fp]
	if !ok {
		return core.Certificate{}, certstore.ErrNotFound
	}
	return c, nil
}

func (f *fakeStore) InsertIssued(ctx context.Context, in core.InsertIssuedParams) (int64, error) {
	f.nextCertID++
	first := in.First
	if in.Previous == 0 {
		first = f.nextCertID
	}
	f.certsByFP[in.Fingerprint] = core.Certificate{
		CertID:      f.nextCertID,
		Fingerprint: in.Fingerprint,
		CommonName:  in.CommonName,
		Previous:    in.Previous,
		First:       first,
		CertPEM:     in.CertPEM,
	}
	return f.nextCertID, nil
}

func (f *fakeStore) SetRevoked(ctx context.Context, fp string) error {
	c, ok := f.certsByFP[fp]
	if !ok {
		return certstore.ErrNotFound
	}
	c.Revoked = true
	f.certsByFP[fp] = c
	return nil
}

func (f *fakeStore) WaitingLookup(ctx context.Context, ip string) (core.WaitingEntry, error) {
	e, ok := f.waiting[ip]
	if !ok {
		return core.WaitingEntry{}, certstore.ErrNotFound
	}
	return e, nil
}

func (f *fakeStore) WaitingInsert(ctx context.Context, entry core.WaitingEntry) error {
	f.waiting[entry.IPAddr] = entry
	return nil
}

func (f *fakeStore) WaitingDelete(ctx context.Context, ip string) error {
	f.deletedWait = append(f.deletedWait, ip)
	delete(f.waiting, ip)
	return nil
}

func (f *fakeStore) WaitingList(ctx context.Context) ([]core.WaitingEntry, error) {
	var out []core.WaitingEntry
	for _, e := range f.waiting {
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeStore) IPRangeContains(ctx context.Context, ip net.IP) (bool, error) {
	for _, cidr := range f.ranges {
		_, n, err := net.ParseCIDR(cidr)
		if err != nil {
			continue
		}
		if n.Contains(ip) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) IPRangeList(ctx context.Context) ([]core.IPRange, error) { return nil, nil }
func (f *fakeStore) IPRangeAdd(ctx context.Context, cidr string) error {
	f.ranges = append(f.ranges, cidr)
	return nil
}
func (f *fakeStore) IPRangeDelete(ctx context.Context, id int64) error { return nil }

func (f *fakeStore) HostInfoUpsertAfterEnroll(ctx context.Context, oldFP, newFP string) error {
	f.rewriteCalls = append(f.rewriteCalls, [2]string{oldFP, newFP})
	if info, ok := f.hostInfo[oldFP]; ok {
		delete(f.hostInfo, oldFP)
		f.hostInfo[newFP] = info
	}
	return nil
}

func (f *fakeStore) HostInfoByFingerprint(ctx context.Context, fp string) (core.HostInfo, error) {
	h, ok := f.hostInfo[fp]
	if !ok {
		return core.HostInfo{}, certstore.ErrNotFound
	}
	return h, nil
}

func (f *fakeStore) GetLatestCRC(ctx context.Context, certFP, filename string) (int32, bool, error) {
	return 0, false, nil
}
func (f *fakeStore) InsertFileRecord(ctx context.Context, rec core.FileRecord) error { return nil }
func (f *fakeStore) MarkAllNonCurrent(ctx context.Context, certFP string) error      { return nil }
func (f *fakeStore) TouchHostInfo(ctx context.Context, in core.TouchHostInfoParams) error {
	return nil
}
func (f *fakeStore) CommitIngestBatch(ctx context.Context, batch core.IngestBatch) error {
	return nil
}
func (f *fakeStore) Chain(ctx context.Context, fp string) ([]core.Certificate, error) {
	return nil, nil
}

// fakeCA is a core.CAIssuer double that hands out self-signed, unique
// certificates without touching the real signing lock.
type fakeCA struct {
	serial int64
}

func (f *fakeCA) IssueCertificate(ctx context.Context, commonName string) ([]byte, []byte, int64, error) {
	f.serial++
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		return nil, nil, 0, err
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(f.serial),
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, 0, err
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	return keyPEM, certPEM, f.serial, nil
}

func newTestEnroller(store *fakeStore) *Enroller {
	return New(store, &fakeCA{}, Config{}, clock.NewFake())
}

func TestRequestCertificateAutoApproved(t *testing.T) {
	store := newFakeStore()
	store.ranges = []string{"10.0.0.0/8"}
	e := newTestEnroller(store)

	result, err := e.RequestCertificate(context.Background(), net.ParseIP("10.1.2.3"), "myhost.example.org")
	if err != nil {
		t.Fatalf("RequestCertificate: %s", err)
	}
	if result.Issued == nil {
		t.Fatal("expected an issued bundle for auto-approved range")
	}
	if len(store.certsByFP) != 1 {
		t.Fatalf("expected one certificate recorded, got %d", len(store.certsByFP))
	}
}

func TestRequestCertificateAddsToWaitingList(t *testing.T) {
	store := newFakeStore()
	e := newTestEnroller(store)

	result, err := e.RequestCertificate(context.Background(), net.ParseIP("192.0.2.1"), "newhost.example.org")
	if err != nil {
		t.Fatalf("RequestCertificate: %s", err)
	}
	if result.Issued != nil {
		t.Fatal("expected no bundle for a fresh unapproved request")
	}
	if _, ok := store.waiting["192.0.2.1"]; !ok {
		t.Fatal("expected a waiting-list entry to be created")
	}
}

func TestRequestCertificateRequiresHostnameOnFirstRequest(t *testing.T) {
	store := newFakeStore()
	e := newTestEnroller(store)

	_, err := e.RequestCertificate(context.Background(), net.ParseIP("192.0.2.2"), "")
	if !nivlerrors.Is(err, nivlerrors.BadRequest) {
		t.Fatalf("expected a BadRequest error for missing hostname, got %v", err)
	}
}

func TestRequestCertificateWaitingUnapproved(t *testing.T) {
	store := newFakeStore()
	store.waiting["192.0.2.3"] = core.WaitingEntry{IPAddr: "192.0.2.3", Hostname: "pending.example.org"}
	e := newTestEnroller(store)

	result, err := e.RequestCertificate(context.Background(), net.ParseIP("192.0.2.3"), "")
	if err != nil {
		t.Fatalf("RequestCertificate: %s", err)
	}
	if result.Issued != nil || result.Message != "be patient" {
		t.Fatalf("expected a be-patient message, got %+v", result)
	}
}

func TestRequestCertificateWaitingApprovedConsumesEntry(t *testing.T) {
	store := newFakeStore()
	store.waiting["192.0.2.4"] = core.WaitingEntry{IPAddr: "192.0.2.4", Hostname: "approved.example.org", Approved: true}
	e := newTestEnroller(store)

	result, err := e.RequestCertificate(context.Background(), net.ParseIP("192.0.2.4"), "")
	if err != nil {
		t.Fatalf("RequestCertificate: %s", err)
	}
	if result.Issued == nil {
		t.Fatal("expected an issued bundle for an approved waiting entry")
	}
	if _, stillWaiting := store.waiting["192.0.2.4"]; stillWaiting {
		t.Fatal("expected the waiting entry to be consumed")
	}
}

func TestRenewCertificateUnknownCertificate(t *testing.T) {
	store := newFakeStore()
	e := newTestEnroller(store)

	_, err := e.RenewCertificate(context.Background(), []byte{0x01, 0x02, 0x03})
	if !nivlerrors.Is(err, nivlerrors.Forbidden) {
		t.Fatalf("expected Forbidden for unknown certificate, got %v", err)
	}
}

func TestRenewCertificatePreservesChain(t *testing.T) {
	store := newFakeStore()
	e := newTestEnroller(store)

	first, err := e.issue(context.Background(), "chained.example.org")
	if err != nil {
		t.Fatalf("seeding initial issuance: %s", err)
	}
	origBlock, _ := pem.Decode(first.CertPEM)
	origFP := core.FingerprintDER(origBlock.Bytes)
	origCert := store.certsByFP[origFP]

	renewed, err := e.RenewCertificate(context.Background(), origBlock.Bytes)
	if err != nil {
		t.Fatalf("RenewCertificate: %s", err)
	}
	renewBlock, _ := pem.Decode(renewed.CertPEM)
	newFP := core.FingerprintDER(renewBlock.Bytes)
	newCert := store.certsByFP[newFP]

	if newCert.Previous != origCert.CertID {
		t.Errorf("Previous = %d, want %d", newCert.Previous, origCert.CertID)
	}
	if newCert.First != origCert.First {
		t.Errorf("First = %d, want %d (chain identity preserved)", newCert.First, origCert.First)
	}
	if len(store.rewriteCalls) != 1 || store.rewriteCalls[0][0] != origFP || store.rewriteCalls[0][1] != newFP {
		t.Errorf("expected one HostInfoUpsertAfterEnroll(%s, %s) call, got %v", origFP, newFP, store.rewriteCalls)
	}
}

func TestRenewCertificateRevoked(t *testing.T) {
	store := newFakeStore()
	e := newTestEnroller(store)

	bundle, err := e.issue(context.Background(), "revoked.example.org")
	if err != nil {
		t.Fatalf("seeding issuance: %s", err)
	}
	block, _ := pem.Decode(bundle.CertPEM)
	fp := core.FingerprintDER(block.Bytes)
	store.SetRevoked(context.Background(), fp)

	_, err = e.RenewCertificate(context.Background(), block.Bytes)
	if !nivlerrors.Is(err, nivlerrors.Forbidden) {
		t.Fatalf("expected Forbidden for a revoked certificate, got %v", err)
	}
}
