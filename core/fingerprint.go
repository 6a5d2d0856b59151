package core

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
)

// FingerprintDER computes the certfp used throughout the schema: SHA-1
// of the DER certificate, uppercase hex, no separators.
func FingerprintDER(der []byte) string {
	sum := sha1.Sum(der)
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}
