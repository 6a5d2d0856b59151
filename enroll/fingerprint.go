package enroll

import "encoding/pem"

// certDERFromPEM extracts the DER bytes from a PEM-encoded certificate
// produced by CAIssuer.IssueCertificate in this same process, so a
// decode failure here indicates a bug rather than untrusted input.
func certDERFromPEM(certPEM []byte) []byte {
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil
	}
	return block.Bytes
}
