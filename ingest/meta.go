package ingest

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/usit-gd/nivlheim/core"
)

// ParseMeta reads an <archive>.meta sidecar file: one "key = value" per
// line, whitespace around "=" trimmed, trailing CR/LF stripped
// (spec §6, "Metadata file format"). Shared by Scanner's poll loop and
// the loopback ingest-worker endpoint.
func ParseMeta(path string) (core.ArchiveMeta, error) {
	f, err := os.Open(path)
	if err != nil {
		return core.ArchiveMeta{}, err
	}
	defer f.Close()

	raw := map[string]string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		raw[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	if err := scanner.Err(); err != nil {
		return core.ArchiveMeta{}, err
	}

	var meta core.ArchiveMeta
	if v, ok := raw["received"]; ok {
		secs, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return core.ArchiveMeta{}, fmt.Errorf("parsing received=%q: %w", v, err)
		}
		meta.Received = time.Unix(secs, 0).UTC()
	}
	meta.CertFP = raw["certfp"]
	meta.IPAddr = raw["ip"]
	meta.OSHostname = raw["os_hostname"]
	meta.CertCN = raw["certcn"]
	meta.ClientVersion = raw["clientversion"]
	return meta, nil
}
