package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/stakeregistry/internal/domain"
)

// HistoryHandler serves the committed event trail of a listing from the
// audit log.
type HistoryHandler struct {
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewHistoryHandler creates a HistoryHandler.
func NewHistoryHandler(audit domain.AuditStore, logger *slog.Logger) *HistoryHandler {
	return &HistoryHandler{audit: audit, logger: logger}
}

// ListingHistory returns a listing's events, newest first. The trail
// outlives the listing, so removed listings still answer.
// GET /api/listings/{id}/history?limit=&offset=
func (h *HistoryHandler) ListingHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := listingID(w, r)
	if !ok {
		return
	}
	limit, offset := parsePage(r)
	entries, err := h.audit.List(r.Context(), domain.ListOpts{
		Limit:   limit,
		Offset:  offset,
		Listing: &id,
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list listing history",
			slog.String("listing", id.Hex()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"listing_id": id.Hex(),
		"events":     entries,
		"limit":      limit,
		"offset":     offset,
	})
}
