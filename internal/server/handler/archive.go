package handler

import (
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/stakeregistry/internal/domain"
)

const archivePrefix = "archive/"

// ArchiveHandler browses exported history in object storage. Admin only.
type ArchiveHandler struct {
	blobs  domain.BlobReader
	logger *slog.Logger
}

func NewArchiveHandler(blobs domain.BlobReader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{blobs: blobs, logger: logger}
}

// ListArchives lists archive objects, optionally of one kind.
// GET /api/archive?kind=challenges
func (h *ArchiveHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	prefix := archivePrefix
	if kind := r.URL.Query().Get("kind"); kind != "" {
		if strings.ContainsAny(kind, "/.") {
			writeError(w, http.StatusBadRequest, "invalid kind")
			return
		}
		prefix += kind + "/"
	}
	infos, err := h.blobs.List(r.Context(), prefix)
	if err != nil {
		writeRegistryError(w, r, h.logger, "list archives", err)
		return
	}
	if infos == nil {
		infos = []domain.BlobInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"archives": infos})
}

// GetArchive streams one JSONL archive.
// GET /api/archive/{path...}
func (h *ArchiveHandler) GetArchive(w http.ResponseWriter, r *http.Request) {
	rel := r.PathValue("path")
	if rel == "" || strings.Contains(rel, "..") {
		writeError(w, http.StatusBadRequest, "invalid archive path")
		return
	}
	body, err := h.blobs.Get(r.Context(), archivePrefix+rel)
	if err != nil {
		writeRegistryError(w, r, h.logger, "get archive", err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "archive stream interrupted", slog.String("error", err.Error()))
	}
}
