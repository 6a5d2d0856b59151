package api

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// testPeerCertHeader builds a self-signed certificate PEM, query-escaped
// the way the front server's header handoff expects (spec §6).
func testPeerCertHeader(t *testing.T) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatalf("generating key: %s", err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "peer.example.org"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("creating certificate: %s", err)
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	return url.QueryEscape(string(certPEM))
}

func mustWriteQueueFiles(t *testing.T, queueDir, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(queueDir, name), []byte("fake archive content"), 0o640); err != nil {
		t.Fatalf("writing archive: %s", err)
	}
	metaContent := "received = 1700000000\ncertfp = ABCDEF\nip = 192.0.2.1\nos_hostname = host.example.org\ncertcn = host.example.org\nclientversion = 1.0\n"
	if err := os.WriteFile(filepath.Join(queueDir, name+".meta"), []byte(metaContent), 0o640); err != nil {
		t.Fatalf("writing meta sidecar: %s", err)
	}
}
