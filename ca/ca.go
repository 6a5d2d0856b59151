// Package ca wraps the CA signing oracle referenced throughout spec §4.2:
// given a common name it generates a key and CSR, returns the key and a
// signed certificate, and guarantees serialized access, since the signing primitive — and the
// serial log behind it — is not safe to call concurrently (spec §9).
package ca

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"time"

	"golang.org/x/sync/semaphore"

	nivlerrors "github.com/usit-gd/nivlheim/errors"
	"github.com/usit-gd/nivlheim/log"
)

// keyBits is the RSA key size generated for every issued identity
// (spec §4.2).
const keyBits = 4096

// CA implements core.CAIssuer. Signing is mutually exclusive
// process-wide: only one GenerateKey -> CSR -> trial-sign ->
// read-serial -> sign sequence may be in flight (spec §4.2, §5).
type CA struct {
	issuerCert *x509.Certificate
	issuerKey  *rsa.PrivateKey
	serials    *serialLog
	validity   time.Duration
	sem        *semaphore.Weighted
	log        log.Logger
}

// Config is the material needed to construct a CA.
type Config struct {
	CACertPath     string
	CAKeyPath      string
	SerialDBPath   string
	ValidityPeriod time.Duration
}

// New loads the CA certificate and key from disk and opens the serial
// log. The CA key is never held anywhere but in this process's memory
// (spec §6, "<confdir>/CA/... read by CAIssuer only").
func New(cfg Config) (*CA, error) {
	certPEM, err := os.ReadFile(cfg.CACertPath)
	if err != nil {
		return nil, fmt.Errorf("reading CA cert: %w", err)
	}
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, fmt.Errorf("CA cert file %s is not PEM", cfg.CACertPath)
	}
	issuerCert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing CA cert: %w", err)
	}

	keyPEM, err := os.ReadFile(cfg.CAKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading CA key: %w", err)
	}
	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, fmt.Errorf("CA key file %s is not PEM", cfg.CAKeyPath)
	}
	issuerKey, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing CA key: %w", err)
	}

	serials, err := openSerialLog(cfg.SerialDBPath)
	if err != nil {
		return nil, err
	}

	validity := cfg.ValidityPeriod
	if validity <= 0 {
		validity = 365 * 24 * time.Hour
	}

	return &CA{
		issuerCert: issuerCert,
		issuerKey:  issuerKey,
		serials:    serials,
		validity:   validity,
		sem:        semaphore.NewWeighted(1),
		log:        log.Get(),
	}, nil
}

// Close releases the serial log.
func (c *CA) Close() error {
	return c.serials.Close()
}

// IssueCertificate runs the whole GenerateKey -> CSR -> trial-sign ->
// read-serial -> sign sequence under the process-wide signing lock
// (spec §4.2, §5, §9). A trial signature with a placeholder serial
// surfaces signing failures before the serial counter advances, so a
// sign that fails at the trial step never consumes a serial; a failure
// of the final sign, after the serial was read, does. If the lock is
// already held it returns a Busy error immediately rather than
// queueing the caller.
func (c *CA) IssueCertificate(ctx context.Context, commonName string) ([]byte, []byte, int64, error) {
	if !c.sem.TryAcquire(1) {
		return nil, nil, 0, nivlerrors.BusyError("signing operation already in progress, try again")
	}
	defer c.sem.Release(1)

	keyPEM, csrDER, _, err := generateKeyAndCSR(commonName)
	if err != nil {
		return nil, nil, 0, err
	}
	csr, err := x509.ParseCertificateRequest(csrDER)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("parsing CSR: %w", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             now.Add(-5 * time.Minute),
		NotAfter:              now.Add(c.validity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
	}

	// Trial-sign with a placeholder serial first: the serial number is
	// embedded in what gets signed, so it can't be read after signing in
	// the literal sense. Instead every failure mode of CreateCertificate
	// (bad issuer key, malformed CSR public key, ...) surfaces here,
	// against a serial nothing will ever see, before the counter moves.
	reqLog := c.log.With("hostname", commonName)
	if _, err := x509.CreateCertificate(rand.Reader, template, c.issuerCert, csr.PublicKey, c.issuerKey); err != nil {
		reqLog.AuditErr(fmt.Errorf("signing failed: %w", err))
		return nil, nil, 0, fmt.Errorf("signing certificate: %w", err)
	}

	serial, err := c.serials.next()
	if err != nil {
		return nil, nil, 0, err
	}
	template.SerialNumber = big.NewInt(serial)

	serialLog := reqLog.With("serial", fmt.Sprintf("%d", serial))
	certDER, err := x509.CreateCertificate(rand.Reader, template, c.issuerCert, csr.PublicKey, c.issuerKey)
	if err != nil {
		serialLog.AuditErr(fmt.Errorf("signing failed: %w", err))
		return nil, nil, 0, fmt.Errorf("signing certificate: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	serialLog.Audit("signed certificate")
	return keyPEM, certPEM, serial, nil
}

// generateKeyAndCSR produces a fresh 4096-bit RSA key and the DER CSR
// built from it (spec §4.2).
func generateKeyAndCSR(commonName string) (keyPEM []byte, csrDER []byte, key *rsa.PrivateKey, err error) {
	key, err = rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("generating key: %w", err)
	}

	template := x509.CertificateRequest{
		Subject:            pkix.Name{CommonName: commonName},
		SignatureAlgorithm: x509.SHA256WithRSA,
	}
	csrDER, err = x509.CreateCertificateRequest(rand.Reader, &template, key)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("creating CSR: %w", err)
	}

	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	return keyPEM, csrDER, key, nil
}
