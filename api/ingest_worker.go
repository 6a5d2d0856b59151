package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/usit-gd/nivlheim/errors"
	"github.com/usit-gd/nivlheim/ingest"
)

// handleIngestWorker drives one queued archive through the Ingestor on
// demand. It is reachable only from loopback (spec §6, "the ingest
// worker endpoint is never exposed through the front server"): the
// front server enqueues uploads via secure/post, and a local cron or
// daemon polls this endpoint, or ingest.Scanner does the same work
// without HTTP at all.
func (s *Server) handleIngestWorker(w http.ResponseWriter, r *http.Request) error {
	if !isLoopback(r) {
		return errors.ForbiddenError("ingest worker endpoint is loopback-only")
	}

	name := r.URL.Query().Get("file")
	if name == "" {
		return errors.BadRequestError("missing file parameter")
	}
	if strings.ContainsAny(name, "/\\") || name == ".." {
		return errors.ForbiddenError("file parameter must not contain path separators")
	}

	archivePath := filepath.Join(s.QueueDir, name)
	metaPath := archivePath + ".meta"

	if _, err := os.Stat(archivePath); os.IsNotExist(err) {
		return errors.GoneError("no such queued archive: %s", name)
	}
	meta, err := ingest.ParseMeta(metaPath)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.GoneError("no metadata for queued archive: %s", name)
		}
		return errors.InternalError("reading metadata for %s: %s", name, err)
	}

	if err := s.Ingestor.IngestArchive(r.Context(), archivePath, meta); err != nil {
		return err
	}

	os.Remove(archivePath)
	os.Remove(metaPath)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("OK\n"))
	return nil
}
