package enroll

import (
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"software.sslmate.com/src/go-pkcs12"

	"github.com/usit-gd/nivlheim/core"
)

// bundlePassword is the fixed passphrase on issued PKCS#12 bundles.
// Nivlheim clients consume the bundle unattended (spec §6 response
// framing gives no place to prompt for one), so an empty password is
// the only usable choice; the PEM files carry the real protection.
const bundlePassword = ""

// buildBundle assembles the PEM certificate and key plus a PKCS#12
// container carrying both, as the reqcert/renewcert response bodies
// require (spec §6).
func buildBundle(certPEM, keyPEM []byte) (core.IssuedBundle, error) {
	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return core.IssuedBundle{}, fmt.Errorf("bundling: certificate is not PEM")
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return core.IssuedBundle{}, fmt.Errorf("bundling: parsing certificate: %w", err)
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return core.IssuedBundle{}, fmt.Errorf("bundling: key is not PEM")
	}
	key, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
	if err != nil {
		return core.IssuedBundle{}, fmt.Errorf("bundling: parsing key: %w", err)
	}

	p12DER, err := pkcs12.Encode(rand.Reader, key, cert, nil, bundlePassword)
	if err != nil {
		return core.IssuedBundle{}, fmt.Errorf("encoding PKCS#12 bundle: %w", err)
	}

	return core.IssuedBundle{
		CertPEM: certPEM,
		KeyPEM:  keyPEM,
		P12DER:  p12DER,
	}, nil
}
