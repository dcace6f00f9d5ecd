package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/stakeregistry/internal/domain"
)

// Voting is the registry surface the challenge and poll routes need.
type Voting interface {
	ChallengeByID(ctx context.Context, id uint64) (domain.Challenge, error)
	Poll(ctx context.Context, id uint64) (domain.Poll, error)
	CommitVote(ctx context.Context, pollID uint64, voter common.Address, commitment common.Hash, numTokens uint64) error
	RevealVote(ctx context.Context, pollID uint64, voter common.Address, choice domain.VoteChoice, salt uint64) error
}

// PollHandler serves challenge records and the commit-reveal ballot.
type PollHandler struct {
	voting Voting
	logger *slog.Logger
}

func NewPollHandler(voting Voting, logger *slog.Logger) *PollHandler {
	return &PollHandler{voting: voting, logger: logger}
}

type commitRequest struct {
	Commitment common.Hash `json:"commitment"`
	NumTokens  uint64      `json:"num_tokens"`
}

type revealRequest struct {
	Choice *uint8 `json:"choice"`
	Salt   uint64 `json:"salt"`
}

// GetChallenge returns a challenge record.
// GET /api/challenges/{id}
func (h *PollHandler) GetChallenge(w http.ResponseWriter, r *http.Request) {
	id, ok := pollID(w, r)
	if !ok {
		return
	}
	c, err := h.voting.ChallengeByID(r.Context(), id)
	if err != nil {
		writeRegistryError(w, r, h.logger, "get challenge", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// GetPoll returns a poll and its tallies.
// GET /api/polls/{id}
func (h *PollHandler) GetPoll(w http.ResponseWriter, r *http.Request) {
	id, ok := pollID(w, r)
	if !ok {
		return
	}
	p, err := h.voting.Poll(r.Context(), id)
	if err != nil {
		writeRegistryError(w, r, h.logger, "get poll", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Commit records the caller's sealed vote.
// POST /api/polls/{id}/commit
func (h *PollHandler) Commit(w http.ResponseWriter, r *http.Request) {
	id, ok := pollID(w, r)
	if !ok {
		return
	}
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req commitRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Commitment == (common.Hash{}) {
		writeError(w, http.StatusBadRequest, "commitment is required")
		return
	}
	if err := h.voting.CommitVote(r.Context(), id, who, req.Commitment, req.NumTokens); err != nil {
		writeRegistryError(w, r, h.logger, "commit vote", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"poll_id": id, "voter": who})
}

// Reveal opens the caller's committed vote.
// POST /api/polls/{id}/reveal
func (h *PollHandler) Reveal(w http.ResponseWriter, r *http.Request) {
	id, ok := pollID(w, r)
	if !ok {
		return
	}
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req revealRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Choice == nil || *req.Choice > uint8(domain.VoteKeep) {
		writeError(w, http.StatusBadRequest, "choice must be 0 (remove) or 1 (keep)")
		return
	}
	if err := h.voting.RevealVote(r.Context(), id, who, domain.VoteChoice(*req.Choice), req.Salt); err != nil {
		writeRegistryError(w, r, h.logger, "reveal vote", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"poll_id": id, "voter": who})
}
