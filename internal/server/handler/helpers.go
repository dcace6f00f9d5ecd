package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/stakeregistry/internal/crypto"
	"github.com/alanyoungcy/stakeregistry/internal/domain"
	"github.com/alanyoungcy/stakeregistry/internal/server/middleware"
)

const maxBodyBytes = 1 << 20

// writeJSON marshals v with the given status. Marshal failures become a
// plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// errorBody is the JSON body of a rejected registry operation.
type errorBody struct {
	Error    string `json:"error"`
	Category string `json:"category,omitempty"`
}

// statusFor maps a registry error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrNotListed),
		errors.Is(err, domain.ErrPollNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInsufficientDeposit),
		errors.Is(err, domain.ErrInvalidListing),
		errors.Is(err, domain.ErrCommitMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrPrecondition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrAuthorization):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrTiming):
		return http.StatusTooEarly
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrLockHeld):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeRegistryError reports err to the client. Rule violations carry their
// message; anything else is logged and hidden.
func writeRegistryError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "handler: "+op+" failed", slog.String("error", err.Error()))
		writeError(w, status, op+" failed")
		return
	}
	body := errorBody{Error: err.Error()}
	if cat := domain.Category(err); cat != nil {
		body.Category = cat.Error()
	}
	if errors.Is(err, domain.ErrLockHeld) {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, body)
}

// decodeBody decodes a JSON request body into v. An empty body leaves v
// untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// listingID resolves the {id} path value, a 0x hash or a plain name.
func listingID(w http.ResponseWriter, r *http.Request) (common.Hash, bool) {
	id, err := crypto.ParseListingRef(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return common.Hash{}, false
	}
	return id, true
}

func pollID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

// caller returns the authenticated caller or rejects the request.
func caller(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	addr, ok := middleware.CallerFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing "+middleware.HeaderAddress)
		return common.Address{}, false
	}
	return addr, true
}

// parsePage reads limit and offset. Defaults: limit=50 (max 500), offset=0.
func parsePage(r *http.Request) (limit, offset int) {
	q := r.URL.Query()
	limit = 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
