package ingest

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseMeta(t *testing.T) {
	content := "received = 1700000000\ncertfp = ABCDEF0123\nip = 192.0.2.5\nos_hostname = host.example.org\ncertcn = host.example.org\nclientversion = 3.2\n"
	path := filepath.Join(t.TempDir(), "archive.tgz.meta")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing meta file: %s", err)
	}

	meta, err := ParseMeta(path)
	if err != nil {
		t.Fatalf("ParseMeta: %s", err)
	}
	if meta.CertFP != "ABCDEF0123" {
		t.Errorf("CertFP = %q", meta.CertFP)
	}
	if meta.IPAddr != "192.0.2.5" {
		t.Errorf("IPAddr = %q", meta.IPAddr)
	}
	if meta.OSHostname != "host.example.org" {
		t.Errorf("OSHostname = %q", meta.OSHostname)
	}
	if meta.ClientVersion != "3.2" {
		t.Errorf("ClientVersion = %q", meta.ClientVersion)
	}
	if meta.Received.Unix() != 1700000000 {
		t.Errorf("Received = %v, want unix 1700000000", meta.Received)
	}
}

func TestParseMetaMissingFile(t *testing.T) {
	_, err := ParseMeta(filepath.Join(t.TempDir(), "does-not-exist.meta"))
	if err == nil {
		t.Fatal("expected an error for a missing meta file")
	}
}

func TestParseMetaIgnoresMalformedLines(t *testing.T) {
	content := "certfp = ABCDEF\nthis line has no equals sign\nip=10.0.0.1\n"
	path := filepath.Join(t.TempDir(), "archive.tgz.meta")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing meta file: %s", err)
	}

	meta, err := ParseMeta(path)
	if err != nil {
		t.Fatalf("ParseMeta: %s", err)
	}
	if meta.CertFP != "ABCDEF" || meta.IPAddr != "10.0.0.1" {
		t.Errorf("meta = %+v", meta)
	}
}
