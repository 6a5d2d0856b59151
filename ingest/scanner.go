package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/usit-gd/nivlheim/core"
	"github.com/usit-gd/nivlheim/log"
)

// Scanner polls a queue directory for <archive>.meta sidecar files,
// matches the sibling archive, and drives one IngestArchive call per
// match. Spec §6 says "the ingest worker pulls from that queue" but
// leaves the pull loop unspecified (SPEC_FULL.md §C.3).
type Scanner struct {
	ingestor core.Ingestor
	queueDir string
	interval time.Duration
	log      log.Logger
}

// NewScanner builds a Scanner over queueDir, polling every interval.
func NewScanner(ingestor core.Ingestor, queueDir string, interval time.Duration) *Scanner {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Scanner{ingestor: ingestor, queueDir: queueDir, interval: interval, log: log.Get()}
}

// Run polls until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.scanOnce(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Scanner) scanOnce(ctx context.Context) {
	entries, err := os.ReadDir(s.queueDir)
	if err != nil {
		s.log.WarningErr(fmt.Errorf("reading queue directory %s: %w", s.queueDir, err))
		return
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".meta") {
			continue
		}

		metaPath := filepath.Join(s.queueDir, entry.Name())
		archiveName := strings.TrimSuffix(entry.Name(), ".meta")
		archivePath := filepath.Join(s.queueDir, archiveName)

		if _, err := os.Stat(archivePath); err != nil {
			continue
		}

		meta, err := ParseMeta(metaPath)
		if err != nil {
			s.log.WarningErr(fmt.Errorf("parsing metadata for %s: %w", archiveName, err))
			continue
		}

		if err := s.ingestor.IngestArchive(ctx, archivePath, meta); err != nil {
			s.log.WarningErr(fmt.Errorf("ingesting %s: %w", archiveName, err))
			continue
		}

		if err := os.Remove(archivePath); err != nil {
			s.log.WarningErr(fmt.Errorf("removing %s: %w", archivePath, err))
		}
		if err := os.Remove(metaPath); err != nil {
			s.log.WarningErr(fmt.Errorf("removing %s: %w", metaPath, err))
		}
	}
}
