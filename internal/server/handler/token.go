package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/stakeregistry/internal/crypto"
	"github.com/alanyoungcy/stakeregistry/internal/domain"
)

// Tokens is the token-ledger surface the token routes need.
type Tokens interface {
	BalanceOf(ctx context.Context, who common.Address) (uint64, error)
	Allowance(ctx context.Context, owner, spender common.Address) (uint64, error)
	Approve(ctx context.Context, owner, spender common.Address, amount uint64) error
	Mint(ctx context.Context, to common.Address, amount uint64) error
	Transfer(ctx context.Context, from, to common.Address, amount uint64) error
}

// TokenHandler serves balances, transfers, escrow approvals and admin
// minting.
type TokenHandler struct {
	tokens Tokens
	escrow common.Address
	logger *slog.Logger
}

func NewTokenHandler(tokens Tokens, escrow common.Address, logger *slog.Logger) *TokenHandler {
	return &TokenHandler{tokens: tokens, escrow: escrow, logger: logger}
}

type mintRequest struct {
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

type transferRequest struct {
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

type balanceResponse struct {
	Address         common.Address `json:"address"`
	Balance         uint64         `json:"balance"`
	EscrowAllowance uint64         `json:"escrow_allowance"`
}

// GetBalance returns a balance and its allowance to the escrow.
// GET /api/tokens/{address}
func (h *TokenHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	who, err := crypto.ParseAddress(r.PathValue("address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.writeBalance(w, r, who)
}

func (h *TokenHandler) writeBalance(w http.ResponseWriter, r *http.Request, who common.Address) {
	bal, err := h.tokens.BalanceOf(r.Context(), who)
	if err != nil {
		writeRegistryError(w, r, h.logger, "get balance", err)
		return
	}
	allowance, err := h.tokens.Allowance(r.Context(), who, h.escrow)
	if err != nil {
		writeRegistryError(w, r, h.logger, "get allowance", err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Address: who, Balance: bal, EscrowAllowance: allowance})
}

// Approve sets the caller's allowance to the escrow.
// POST /api/tokens/approve
func (h *TokenHandler) Approve(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.tokens.Approve(r.Context(), who, h.escrow, req.Amount); err != nil {
		writeRegistryError(w, r, h.logger, "approve", err)
		return
	}
	h.writeBalance(w, r, who)
}

// Transfer moves the caller's tokens to another account. Escrowed stakes
// only move through registry operations, so the escrow is refused on
// either side.
// POST /api/tokens/transfer
func (h *TokenHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req transferRequest
	if !decodeBody(w, r, &req) {
		return
	}
	to, err := crypto.ParseAddress(req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if who == h.escrow || to == h.escrow {
		writeRegistryError(w, r, h.logger, "transfer", domain.ErrInvalidParty)
		return
	}
	if err := h.tokens.Transfer(r.Context(), who, to, req.Amount); err != nil {
		writeRegistryError(w, r, h.logger, "transfer", err)
		return
	}
	h.writeBalance(w, r, who)
}

// Mint credits new tokens. Admin only.
// POST /api/tokens/mint
func (h *TokenHandler) Mint(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if !decodeBody(w, r, &req) {
		return
	}
	to, err := crypto.ParseAddress(req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.tokens.Mint(r.Context(), to, req.Amount); err != nil {
		writeRegistryError(w, r, h.logger, "mint", err)
		return
	}
	h.logger.InfoContext(r.Context(), "tokens minted",
		slog.String("to", to.Hex()),
		slog.Uint64("amount", req.Amount),
	)
	h.writeBalance(w, r, to)
}
