// Package ingest implements the archive upload pipeline (spec §4.5):
// safe extraction, per-file normalization, duplicate suppression, and a
// single all-or-nothing transaction per archive.
package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/usit-gd/nivlheim/core"
	"github.com/usit-gd/nivlheim/log"
)

// Reporter observes ingestion outcomes (suppressed, inserted, skipped,
// failed) for metrics (SPEC_FULL.md §C.5). Optional: New defaults to a
// no-op.
type Reporter interface {
	Observe(outcome string, n int)
}

type noopReporter struct{}

func (noopReporter) Observe(string, int) {}

// Ingestor implements core.Ingestor.
type Ingestor struct {
	store      core.CertStore
	scratchDir string
	reporter   Reporter
	log        log.Logger
}

// Config configures where scratch extraction happens and how outcomes
// are reported.
type Config struct {
	ScratchDir string
	Reporter   Reporter
}

// New builds an Ingestor on top of a CertStore.
func New(store core.CertStore, cfg Config) *Ingestor {
	reporter := cfg.Reporter
	if reporter == nil {
		reporter = noopReporter{}
	}
	return &Ingestor{
		store:      store,
		scratchDir: cfg.ScratchDir,
		reporter:   reporter,
		log:        log.Get(),
	}
}

// IngestArchive runs phases 1-3 of spec §4.5 against one archive file.
func (in *Ingestor) IngestArchive(ctx context.Context, archivePath string, meta core.ArchiveMeta) error {
	scratch, err := os.MkdirTemp(in.scratchDir, "nivlheim-ingest-*")
	if err != nil {
		return fmt.Errorf("creating scratch directory: %w", err)
	}
	defer os.RemoveAll(scratch)

	if err := extractArchive(archivePath, scratch); err != nil {
		in.reporter.Observe("failed", 1)
		return fmt.Errorf("extracting %s: %w", archivePath, err)
	}
	if err := removeSensitiveFiles(scratch); err != nil {
		in.reporter.Observe("failed", 1)
		return fmt.Errorf("removing sensitive files: %w", err)
	}

	records, err := in.collectFileRecords(scratch, meta)
	if err != nil {
		in.reporter.Observe("failed", 1)
		return err
	}

	changed, err := in.suppressDuplicates(ctx, meta.CertFP, records)
	if err != nil {
		in.reporter.Observe("failed", 1)
		return err
	}
	in.reporter.Observe("suppressed", len(records)-len(changed))
	in.reporter.Observe("inserted", len(changed))

	batch := core.IngestBatch{
		CertFP:  meta.CertFP,
		Records: changed,
		Touch: core.TouchHostInfoParams{
			CertFP:        meta.CertFP,
			IPAddr:        meta.IPAddr,
			OSHostname:    meta.OSHostname,
			ClientVersion: meta.ClientVersion,
			Received:      meta.Received,
		},
	}
	if err := in.store.CommitIngestBatch(ctx, batch); err != nil {
		in.reporter.Observe("failed", 1)
		return fmt.Errorf("committing ingest batch for %s: %w", archivePath, err)
	}

	in.log.With("certfp", meta.CertFP).With("hostname", meta.OSHostname).
		Info(fmt.Sprintf("ingested %s: %d changed, %d suppressed", archivePath, len(changed), len(records)-len(changed)))
	return nil
}

// collectFileRecords walks the scratch tree and turns every file under a
// /files/ or /commands/ segment into a core.FileRecord (spec §4.5
// phase 2). Directories and anything outside those two segments are
// skipped.
func (in *Ingestor) collectFileRecords(root string, meta core.ArchiveMeta) ([]core.FileRecord, error) {
	var records []core.FileRecord
	reqLog := in.log.With("certfp", meta.CertFP)

	err := filepath.Walk(root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		isCommand, originalName, ok := classify(rel)
		if !ok {
			return nil
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			reqLog.WarningErr(fmt.Errorf("skipping %s: reading file: %w", path, err))
			in.reporter.Observe("skipped", 1)
			return nil
		}

		content := string(raw)
		if isCommand {
			idx := strings.IndexByte(content, '\n')
			if idx >= 0 {
				originalName = strings.TrimRight(content[:idx], "\r")
				content = content[idx+1:]
			} else {
				originalName = strings.TrimRight(content, "\r\n")
				content = ""
			}
		}

		normalized, err := normalizeContent([]byte(content))
		if err != nil {
			reqLog.WarningErr(fmt.Errorf("skipping %s: normalizing content: %w", path, err))
			in.reporter.Observe("skipped", 1)
			return nil
		}

		records = append(records, core.FileRecord{
			CertFP:        meta.CertFP,
			Filename:      originalName,
			Received:      meta.Received,
			Mtime:         fi.ModTime().UTC(),
			Content:       normalized,
			CRC32:         signedCRC32([]byte(normalized)),
			IsCommand:     isCommand,
			ClientVersion: meta.ClientVersion,
			IPAddr:        meta.IPAddr,
			OSHostname:    meta.OSHostname,
			CertCN:        meta.CertCN,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking scratch tree: %w", err)
	}
	return records, nil
}

// classify implements spec §4.5 phase 2's commands/files split. ok is
// false for anything not under a /files/ or /commands/ segment.
func classify(relPath string) (isCommand bool, originalName string, ok bool) {
	if idx := strings.Index(relPath, "files/"); idx >= 0 && (idx == 0 || relPath[idx-1] == '/') {
		return false, relPath[idx+len("files"):], true
	}
	if idx := strings.Index(relPath, "commands/"); idx >= 0 && (idx == 0 || relPath[idx-1] == '/') {
		return true, "", true
	}
	return false, "", false
}

// suppressDuplicates drops any record whose content CRC matches the
// currently-current row for that (certfp, filename) pair (spec §4.5
// step 5), returning only the records that need to be written.
func (in *Ingestor) suppressDuplicates(ctx context.Context, certFP string, records []core.FileRecord) ([]core.FileRecord, error) {
	changed := make([]core.FileRecord, 0, len(records))
	for _, rec := range records {
		latest, found, err := in.store.GetLatestCRC(ctx, certFP, rec.Filename)
		if err != nil {
			return nil, fmt.Errorf("checking latest crc for %s: %w", rec.Filename, err)
		}
		if found && latest == rec.CRC32 {
			continue
		}
		changed = append(changed, rec)
	}
	return changed, nil
}
