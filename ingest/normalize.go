package ingest

import (
	"hash/crc32"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// normalizeContent implements spec §4.5 phase 2 steps 2-3: decode as
// UTF-8, falling back to Latin-1 on failure, then scrub control
// characters.
func normalizeContent(raw []byte) (string, error) {
	var text string
	if utf8.Valid(raw) {
		text = string(raw)
	} else {
		decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
		if err != nil {
			return "", err
		}
		text = string(decoded)
	}
	return scrubControlChars(text), nil
}

// scrubControlChars replaces bytes in [0x00-0x08] ∪ [0x0B-0x0C] ∪
// [0x0E-0x1F] with ASCII space, preserving TAB/LF/CR (spec §4.5 step 3).
func scrubControlChars(s string) string {
	b := []byte(s)
	for i, c := range b {
		if isScrubbed(c) {
			b[i] = ' '
		}
	}
	return string(b)
}

func isScrubbed(c byte) bool {
	switch {
	case c <= 0x08:
		return true
	case c == 0x0B || c == 0x0C:
		return true
	case c >= 0x0E && c <= 0x1F:
		return true
	default:
		return false
	}
}

// signedCRC32 computes CRC-32/IEEE and reinterprets the result as a
// signed 32-bit integer per the schema contract (spec §4.5 step 4).
func signedCRC32(content []byte) int32 {
	return int32(crc32.ChecksumIEEE(content))
}
