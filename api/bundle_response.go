package api

import (
	"bytes"
	"encoding/base64"
	"net/http"

	"github.com/usit-gd/nivlheim/core"
)

// p12LineWidth is the base64 line length the client's marker-regex
// parser expects (spec §6, "base64 with 60-char lines").
const p12LineWidth = 60

// writeBundle emits the PEM cert, PEM key, and a P12-marker-framed
// base64 blob in the order spec §6 defines for reqcert/renewcert
// responses.
func writeBundle(w http.ResponseWriter, bundle core.IssuedBundle) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	w.Write(bundle.CertPEM)
	if len(bundle.CertPEM) > 0 && bundle.CertPEM[len(bundle.CertPEM)-1] != '\n' {
		w.Write([]byte("\n"))
	}
	w.Write(bundle.KeyPEM)
	if len(bundle.KeyPEM) > 0 && bundle.KeyPEM[len(bundle.KeyPEM)-1] != '\n' {
		w.Write([]byte("\n"))
	}

	w.Write([]byte("-----BEGIN P12-----\n"))
	w.Write(wrapBase64(bundle.P12DER, p12LineWidth))
	w.Write([]byte("-----END P12-----\n"))
}

func wrapBase64(der []byte, width int) []byte {
	encoded := base64.StdEncoding.EncodeToString(der)
	var out bytes.Buffer
	for len(encoded) > width {
		out.WriteString(encoded[:width])
		out.WriteByte('\n')
		encoded = encoded[width:]
	}
	if len(encoded) > 0 {
		out.WriteString(encoded)
		out.WriteByte('\n')
	}
	return out.Bytes()
}
