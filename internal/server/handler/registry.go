package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/stakeregistry/internal/domain"
)

// RegistryInfo exposes parameters and escrow accounting.
type RegistryInfo interface {
	Params() domain.Params
	Escrow(ctx context.Context) (balance, deposits uint64, err error)
}

// RegistryHandler serves registry-wide state.
type RegistryHandler struct {
	info   RegistryInfo
	logger *slog.Logger
}

func NewRegistryHandler(info RegistryInfo, logger *slog.Logger) *RegistryHandler {
	return &RegistryHandler{info: info, logger: logger}
}

type paramsView struct {
	MinDeposit       uint64 `json:"min_deposit"`
	ApplyStageSecs   int64  `json:"apply_stage_len"`
	ExitDelaySecs    int64  `json:"exit_time_delay"`
	DispensationPct  uint64 `json:"dispensation_pct"`
	CommitStageSecs  int64  `json:"commit_stage_len"`
	RevealStageSecs  int64  `json:"reveal_stage_len"`
	VoteQuorum       uint64 `json:"vote_quorum"`
	Escrow           string `json:"escrow_address"`
	Treasury         string `json:"treasury_address"`
	EscrowBalance    uint64 `json:"escrow_balance"`
	TotalDeposits    uint64 `json:"total_deposits"`
	EscrowConsistent bool   `json:"escrow_consistent"`
}

// GetRegistry returns parameters (durations in seconds) and escrow totals.
// GET /api/registry
func (h *RegistryHandler) GetRegistry(w http.ResponseWriter, r *http.Request) {
	bal, deposits, err := h.info.Escrow(r.Context())
	if err != nil {
		writeRegistryError(w, r, h.logger, "escrow", err)
		return
	}
	p := h.info.Params()
	writeJSON(w, http.StatusOK, paramsView{
		MinDeposit:       p.MinDeposit,
		ApplyStageSecs:   int64(p.ApplyStageLen.Seconds()),
		ExitDelaySecs:    int64(p.ExitTimeDelay.Seconds()),
		DispensationPct:  p.DispensationPct,
		CommitStageSecs:  int64(p.CommitStageLen.Seconds()),
		RevealStageSecs:  int64(p.RevealStageLen.Seconds()),
		VoteQuorum:       p.VoteQuorum,
		Escrow:           p.Escrow.Hex(),
		Treasury:         p.Treasury.Hex(),
		EscrowBalance:    bal,
		TotalDeposits:    deposits,
		EscrowConsistent: bal == deposits,
	})
}
