package api

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/usit-gd/nivlheim/core"
	"github.com/usit-gd/nivlheim/errors"
)

// maxArchiveBytes bounds the multipart body this endpoint will buffer
// in memory before spilling to disk (spec §6, "secure/post").
const maxArchiveBytes = 64 << 20

// handlePost accepts an uploaded archive over the mTLS-authenticated
// secure/post endpoint, verifies the detached signature against the
// presenting certificate's public key, and enqueues the archive plus
// its metadata sidecar for the ingest worker to pick up (spec §6,
// "archive upload"). It never calls Ingestor directly: only the
// loopback worker does that, per the queue split spec §4.5 assumes.
func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) error {
	der, _, err := peerCert(r)
	if err != nil {
		return errors.ForbiddenError("no client certificate presented: %s", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return errors.ForbiddenError("cannot parse client certificate: %s", err)
	}

	if err := r.ParseMultipartForm(maxArchiveBytes); err != nil {
		return errors.BadRequestError("parsing multipart form: %s", err)
	}

	archiveBytes, archiveName, err := readFormFile(r, "archive")
	if err != nil {
		return errors.BadRequestError("reading archive field: %s", err)
	}
	signature, _, err := readFormFile(r, "signature")
	if err != nil {
		return errors.BadRequestError("reading signature field: %s", err)
	}
	if err := verifySignature(cert, archiveBytes, signature); err != nil {
		return errors.ForbiddenError("signature verification failed: %s", err)
	}

	peerIP, err := peerIP(r)
	if err != nil {
		return errors.BadRequestError("cannot determine peer ip: %s", err)
	}

	meta := core.ArchiveMeta{
		Received:      time.Now().UTC(),
		CertFP:        core.FingerprintDER(der),
		IPAddr:        peerIP.String(),
		OSHostname:    r.FormValue("hostname"),
		CertCN:        cert.Subject.CommonName,
		ClientVersion: r.FormValue("version"),
	}

	if err := enqueueArchive(s.QueueDir, archiveName, archiveBytes, meta); err != nil {
		return errors.InternalError("enqueueing archive: %s", err)
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "OK")
	if nonce := r.FormValue("nonce"); nonce != "" {
		n, err := strconv.ParseInt(nonce, 10, 64)
		if err == nil {
			fmt.Fprintf(w, "nonce=%d\n", n+1)
		}
	}
	return nil
}

func readFormFile(r *http.Request, field string) ([]byte, string, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, "", err
	}
	defer file.Close()
	content, err := io.ReadAll(file)
	if err != nil {
		return nil, "", err
	}
	return content, header.Filename, nil
}

// verifySignature checks a detached SHA-256/PKCS1v15 signature over the
// archive bytes against the enrolled certificate's RSA public key,
// matching the RSA keys ca.CA issues (spec §4.2).
func verifySignature(cert *x509.Certificate, content, signature []byte) error {
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("certificate does not carry an RSA public key")
	}
	digest := sha256.Sum256(content)
	return rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], signature)
}

// enqueueArchive writes the archive and its <name>.meta sidecar into
// the queue directory the ingest worker scans (spec §6, "Metadata file
// format"). The name is a fresh UUID so concurrent uploads, even from
// the same host retrying, never collide, but the uploaded filename's
// extension is preserved so extractArchive can still dispatch on it
// (spec §6 accepts both tgz and zip archives).
func enqueueArchive(queueDir, uploadedName string, archive []byte, meta core.ArchiveMeta) error {
	ext := filepath.Ext(uploadedName)
	if ext != ".zip" {
		ext = ".tgz"
	}
	name := uuid.NewString() + ext
	archivePath := filepath.Join(queueDir, name)
	metaPath := archivePath + ".meta"

	if err := os.WriteFile(archivePath, archive, 0o640); err != nil {
		return fmt.Errorf("writing archive: %w", err)
	}

	// os_hostname and clientversion come straight from client-supplied
	// form values. The sidecar format is line-based and the last
	// occurrence of a key wins (ingest.ParseMeta), so a newline smuggled
	// into either field would let a client inject its own certfp/ip
	// lines. Strip line breaks rather than reject the upload outright.
	metaContent := fmt.Sprintf(
		"received = %d\ncertfp = %s\nip = %s\nos_hostname = %s\ncertcn = %s\nclientversion = %s\n",
		meta.Received.Unix(), meta.CertFP, meta.IPAddr, stripNewlines(meta.OSHostname), meta.CertCN, stripNewlines(meta.ClientVersion),
	)
	if err := os.WriteFile(metaPath, []byte(metaContent), 0o640); err != nil {
		os.Remove(archivePath)
		return fmt.Errorf("writing meta sidecar: %w", err)
	}
	return nil
}

// stripNewlines collapses CR/LF out of a client-supplied value before it
// goes into the line-based meta sidecar, so it can never be read back as
// a separate "key = value" line.
func stripNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	return strings.ReplaceAll(s, "\n", "")
}
