package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/stakeregistry/internal/domain"
	"github.com/alanyoungcy/stakeregistry/internal/registry"
)

// Registry is the registry surface the listing routes need.
type Registry interface {
	Apply(ctx context.Context, app registry.Application) (domain.Listing, error)
	Deposit(ctx context.Context, id common.Hash, amount uint64, caller common.Address) error
	Withdraw(ctx context.Context, id common.Hash, amount uint64, caller common.Address) error
	Challenge(ctx context.Context, id common.Hash, challenger common.Address) (uint64, error)
	FinalizeApplication(ctx context.Context, id common.Hash) error
	ResolveChallenge(ctx context.Context, id common.Hash) error
	UpdateStatus(ctx context.Context, id common.Hash) error
	RequestExit(ctx context.Context, id common.Hash, caller common.Address) error
	FinalizeExit(ctx context.Context, id common.Hash, caller common.Address) error

	StatusOf(ctx context.Context, id common.Hash) (domain.Listing, error)
	IsListed(ctx context.Context, id common.Hash) (bool, error)
	List(ctx context.Context, f domain.ListingFilter) ([]domain.Listing, error)
	ChallengesFor(ctx context.Context, id common.Hash) ([]domain.Challenge, error)
}

// ListingHandler serves the listing lifecycle routes.
type ListingHandler struct {
	reg    Registry
	logger *slog.Logger
}

func NewListingHandler(reg Registry, logger *slog.Logger) *ListingHandler {
	return &ListingHandler{reg: reg, logger: logger}
}

type applyRequest struct {
	Name    string      `json:"name"`
	ID      common.Hash `json:"id"`
	Data    string      `json:"data"`
	Deposit uint64      `json:"deposit"`
}

type amountRequest struct {
	Amount uint64 `json:"amount"`
}

type listingsResponse struct {
	Listings []domain.Listing `json:"listings"`
}

// ListListings returns listings, optionally filtered.
// GET /api/listings?status=whitelisted&challenged=true&owner=0x..&limit=50&offset=0
func (h *ListingHandler) ListListings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := domain.ListingFilter{Status: domain.ListingStatus(q.Get("status"))}
	if f.Status != "" && !f.Status.Valid() {
		writeError(w, http.StatusBadRequest, "unknown status "+q.Get("status"))
		return
	}
	switch q.Get("challenged") {
	case "":
	case "true":
		v := true
		f.Challenged = &v
	case "false":
		v := false
		f.Challenged = &v
	default:
		writeError(w, http.StatusBadRequest, "challenged must be true or false")
		return
	}
	if o := q.Get("owner"); o != "" {
		if !common.IsHexAddress(o) {
			writeError(w, http.StatusBadRequest, "invalid owner address")
			return
		}
		addr := common.HexToAddress(o)
		f.Owner = &addr
	}
	f.Limit, f.Offset = parsePage(r)

	listings, err := h.reg.List(r.Context(), f)
	if err != nil {
		writeRegistryError(w, r, h.logger, "list listings", err)
		return
	}
	if listings == nil {
		listings = []domain.Listing{}
	}
	writeJSON(w, http.StatusOK, listingsResponse{Listings: listings})
}

// Apply submits an application on behalf of the caller.
// POST /api/listings
func (h *ListingHandler) Apply(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req applyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	l, err := h.reg.Apply(r.Context(), registry.Application{
		ID:        req.ID,
		Name:      req.Name,
		Data:      req.Data,
		Deposit:   req.Deposit,
		Applicant: who,
	})
	if err != nil {
		writeRegistryError(w, r, h.logger, "apply", err)
		return
	}
	writeJSON(w, http.StatusCreated, l)
}

// GetListing returns the listing record; absent listings read as unlisted.
// GET /api/listings/{id}
func (h *ListingHandler) GetListing(w http.ResponseWriter, r *http.Request) {
	id, ok := listingID(w, r)
	if !ok {
		return
	}
	l, err := h.reg.StatusOf(r.Context(), id)
	if err != nil {
		writeRegistryError(w, r, h.logger, "get listing", err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// IsListed reports whether the listing is whitelisted.
// GET /api/listings/{id}/listed
func (h *ListingHandler) IsListed(w http.ResponseWriter, r *http.Request) {
	id, ok := listingID(w, r)
	if !ok {
		return
	}
	listed, err := h.reg.IsListed(r.Context(), id)
	if err != nil {
		writeRegistryError(w, r, h.logger, "is listed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "listed": listed})
}

// ListChallenges returns the challenge history of a listing.
// GET /api/listings/{id}/challenges
func (h *ListingHandler) ListChallenges(w http.ResponseWriter, r *http.Request) {
	id, ok := listingID(w, r)
	if !ok {
		return
	}
	cs, err := h.reg.ChallengesFor(r.Context(), id)
	if err != nil {
		writeRegistryError(w, r, h.logger, "list challenges", err)
		return
	}
	if cs == nil {
		cs = []domain.Challenge{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"challenges": cs})
}

// Deposit adds to the caller's listing deposit.
// POST /api/listings/{id}/deposit
func (h *ListingHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.ownerAmount(w, r, "deposit", h.reg.Deposit)
}

// Withdraw returns unlocked deposit to the caller.
// POST /api/listings/{id}/withdraw
func (h *ListingHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.ownerAmount(w, r, "withdraw", h.reg.Withdraw)
}

func (h *ListingHandler) ownerAmount(w http.ResponseWriter, r *http.Request, op string,
	fn func(context.Context, common.Hash, uint64, common.Address) error) {
	id, ok := listingID(w, r)
	if !ok {
		return
	}
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := fn(r.Context(), id, req.Amount, who); err != nil {
		writeRegistryError(w, r, h.logger, op, err)
		return
	}
	h.respondListing(w, r, id)
}

// Challenge stakes the caller's tokens against the listing.
// POST /api/listings/{id}/challenge
func (h *ListingHandler) Challenge(w http.ResponseWriter, r *http.Request) {
	id, ok := listingID(w, r)
	if !ok {
		return
	}
	who, ok := caller(w, r)
	if !ok {
		return
	}
	challengeID, err := h.reg.Challenge(r.Context(), id, who)
	if err != nil {
		writeRegistryError(w, r, h.logger, "challenge", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"challenge_id": challengeID, "poll_id": challengeID})
}

// FinalizeApplication whitelists an expired, unchallenged application.
// POST /api/listings/{id}/finalize
func (h *ListingHandler) FinalizeApplication(w http.ResponseWriter, r *http.Request) {
	h.permissionless(w, r, "finalize application", h.reg.FinalizeApplication)
}

// ResolveChallenge settles the listing's open challenge.
// POST /api/listings/{id}/resolve
func (h *ListingHandler) ResolveChallenge(w http.ResponseWriter, r *http.Request) {
	h.permissionless(w, r, "resolve challenge", h.reg.ResolveChallenge)
}

// UpdateStatus runs whichever transition is due.
// POST /api/listings/{id}/update
func (h *ListingHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	h.permissionless(w, r, "update status", h.reg.UpdateStatus)
}

func (h *ListingHandler) permissionless(w http.ResponseWriter, r *http.Request, op string,
	fn func(context.Context, common.Hash) error) {
	id, ok := listingID(w, r)
	if !ok {
		return
	}
	if err := fn(r.Context(), id); err != nil {
		writeRegistryError(w, r, h.logger, op, err)
		return
	}
	h.respondListing(w, r, id)
}

// RequestExit starts the caller's exit delay.
// POST /api/listings/{id}/exit
func (h *ListingHandler) RequestExit(w http.ResponseWriter, r *http.Request) {
	h.owner(w, r, "request exit", h.reg.RequestExit)
}

// FinalizeExit removes the caller's listing and refunds its deposit.
// POST /api/listings/{id}/exit/finalize
func (h *ListingHandler) FinalizeExit(w http.ResponseWriter, r *http.Request) {
	h.owner(w, r, "finalize exit", h.reg.FinalizeExit)
}

func (h *ListingHandler) owner(w http.ResponseWriter, r *http.Request, op string,
	fn func(context.Context, common.Hash, common.Address) error) {
	id, ok := listingID(w, r)
	if !ok {
		return
	}
	who, ok := caller(w, r)
	if !ok {
		return
	}
	if err := fn(r.Context(), id, who); err != nil {
		writeRegistryError(w, r, h.logger, op, err)
		return
	}
	h.respondListing(w, r, id)
}

// respondListing writes the listing's post-operation state.
func (h *ListingHandler) respondListing(w http.ResponseWriter, r *http.Request, id common.Hash) {
	l, err := h.reg.StatusOf(r.Context(), id)
	if err != nil {
		writeRegistryError(w, r, h.logger, "get listing", err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}
