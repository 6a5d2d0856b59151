package ca

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	nivlerrors "github.com/usit-gd/nivlheim/errors"
)

func writeTestCA(t *testing.T) (certPath, keyPath string) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating CA key: %s", err)
	}
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "test root"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("creating CA cert: %s", err)
	}

	dir := t.TempDir()
	certPath = filepath.Join(dir, "ca.pem")
	keyPath = filepath.Join(dir, "ca.key")

	if err := os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600); err != nil {
		t.Fatalf("writing CA cert: %s", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		t.Fatalf("writing CA key: %s", err)
	}
	return certPath, keyPath
}

func newTestCA(t *testing.T) *CA {
	t.Helper()
	certPath, keyPath := writeTestCA(t)
	c, err := New(Config{
		CACertPath:     certPath,
		CAKeyPath:      keyPath,
		SerialDBPath:   filepath.Join(t.TempDir(), "serial.db"),
		ValidityPeriod: time.Hour,
	})
	if err != nil {
		t.Fatalf("New: %s", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestIssueCertificate(t *testing.T) {
	c := newTestCA(t)

	keyPEM, certPEM, serial, err := c.IssueCertificate(context.Background(), "host1.example.org")
	if err != nil {
		t.Fatalf("IssueCertificate: %s", err)
	}
	if serial != 1 {
		t.Errorf("first serial = %d, want 1", serial)
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil || keyBlock.Type != "RSA PRIVATE KEY" {
		t.Fatalf("key is not a PEM RSA PRIVATE KEY block")
	}
	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		t.Fatalf("cert is not PEM")
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		t.Fatalf("parsing issued cert: %s", err)
	}
	if cert.Subject.CommonName != "host1.example.org" {
		t.Errorf("CommonName = %q, want host1.example.org", cert.Subject.CommonName)
	}
	if cert.ExtKeyUsage[0] != x509.ExtKeyUsageClientAuth {
		t.Errorf("ExtKeyUsage = %v, want [ClientAuth]", cert.ExtKeyUsage)
	}

	_, _, serial2, err := c.IssueCertificate(context.Background(), "host2.example.org")
	if err != nil {
		t.Fatalf("second IssueCertificate: %s", err)
	}
	if serial2 != 2 {
		t.Errorf("second serial = %d, want 2 (monotonic)", serial2)
	}
}

// TestIssueCertificateSerializesConcurrentCallers exercises the
// process-wide signing lock: a caller that loses the race gets a Busy
// error rather than corrupting the serial sequence, and every serial
// that is handed out is unique.
func TestIssueCertificateSerializesConcurrentCallers(t *testing.T) {
	c := newTestCA(t)

	const n = 8
	var wg sync.WaitGroup
	serials := make(chan int64, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				_, _, serial, err := c.IssueCertificate(context.Background(), "concurrent.example.org")
				if err == nil {
					serials <- serial
					return
				}
				if nivlerrors.Is(err, nivlerrors.Busy) {
					continue
				}
				t.Errorf("unexpected error under concurrent issuance: %s", err)
				return
			}
		}()
	}
	wg.Wait()
	close(serials)

	seen := map[int64]bool{}
	for s := range serials {
		if seen[s] {
			t.Fatalf("duplicate serial %d issued under concurrency", s)
		}
		seen[s] = true
	}
	if len(seen) != n {
		t.Fatalf("got %d successful issuances, want %d", len(seen), n)
	}
}
