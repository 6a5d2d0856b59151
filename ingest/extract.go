package ingest

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/encoding/unicode"
)

// sensitiveGlobs are removed from the scratch tree unconditionally
// after extraction (spec §4.5, "Sensitive files are unconditionally
// removed").
var sensitiveFiles = []string{
	"files/etc/ssh/ssh_host_rsa_key",
	"files/etc/ssh/ssh_host_dsa_key",
	"files/etc/ssh/ssh_host_ecdsa_key",
}

const sensitiveLogPrefix = "files/var/log/"

// extractArchive extracts archivePath into destDir, dispatching on
// extension. Every entry's path is canonicalized to forward slashes and
// verified to stay within destDir before being written — the
// path-traversal protection the original implementation lacked.
func extractArchive(archivePath, destDir string) error {
	switch {
	case strings.HasSuffix(archivePath, ".tgz"):
		return extractTar(archivePath, destDir)
	case strings.HasSuffix(archivePath, ".zip"):
		return extractZip(archivePath, destDir)
	default:
		return fmt.Errorf("unrecognized archive extension: %s", archivePath)
	}
}

func extractTar(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("opening gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading tar entry: %w", err)
		}

		target, err := safeJoin(destDir, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			out.Close()
		}
	}
}

func extractZip(archivePath, destDir string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("opening zip: %w", err)
	}
	defer zr.Close()

	for _, entry := range zr.File {
		name := strings.ReplaceAll(entry.Name, "\\", "/")
		target, err := safeJoin(destDir, name)
		if err != nil {
			return err
		}

		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}

		rc, err := entry.Open()
		if err != nil {
			return fmt.Errorf("opening zip entry %s: %w", entry.Name, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return fmt.Errorf("reading zip entry %s: %w", entry.Name, err)
		}

		content, err = transcodeUTF16LE(content)
		if err != nil {
			return fmt.Errorf("transcoding zip entry %s: %w", entry.Name, err)
		}

		if err := os.WriteFile(target, content, 0644); err != nil {
			return err
		}
	}
	return nil
}

// safeJoin resolves name against base and rejects any result that
// escapes base, closing the path-traversal gap an unchecked
// filepath.Join(base, entry.Name) leaves open for archive entries such
// as "../../etc/passwd".
func safeJoin(base, name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	cleaned := filepath.Clean("/" + name)
	target := filepath.Join(base, cleaned)

	baseWithSep := base
	if !strings.HasSuffix(baseWithSep, string(os.PathSeparator)) {
		baseWithSep += string(os.PathSeparator)
	}
	if target != base && !strings.HasPrefix(target, baseWithSep) {
		return "", fmt.Errorf("archive entry %q escapes extraction root", name)
	}
	return target, nil
}

// transcodeUTF16LE rewrites content to UTF-8 if it begins with a UTF-16
// LE byte-order mark (spec §4.5, "Encoding normalization for zip
// archives"). Any other content is returned unchanged.
func transcodeUTF16LE(content []byte) ([]byte, error) {
	if len(content) < 2 || content[0] != 0xFF || content[1] != 0xFE {
		return content, nil
	}
	decoder := unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder()
	decoded, err := decoder.Bytes(content)
	if err != nil {
		return nil, err
	}
	return decoded, nil
}

// removeSensitiveFiles deletes the fixed sensitive-file set plus
// everything under files/var/log/ from the scratch tree (spec §4.5).
func removeSensitiveFiles(root string) error {
	for _, rel := range sensitiveFiles {
		if err := os.Remove(filepath.Join(root, rel)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}

	logDir := filepath.Join(root, filepath.FromSlash(sensitiveLogPrefix))
	if err := os.RemoveAll(logDir); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
