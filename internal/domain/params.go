package domain

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Params are the registry parameters. They are set by configuration; the
// registry never changes them.
type Params struct {
	MinDeposit      uint64
	ApplyStageLen   time.Duration
	ExitTimeDelay   time.Duration
	DispensationPct uint64 // percent of a forfeited stake kept as protocol fee
	CommitStageLen  time.Duration
	RevealStageLen  time.Duration
	VoteQuorum      uint64 // percent of revealed weight needed to remove a listing
	Escrow          common.Address
	Treasury        common.Address
}

// Validate checks the parameter ranges.
func (p Params) Validate() error {
	switch {
	case p.MinDeposit == 0:
		return fmt.Errorf("params: min deposit must be positive")
	case p.DispensationPct > 100:
		return fmt.Errorf("params: dispensation pct must be 0-100, got %d", p.DispensationPct)
	case p.VoteQuorum > 100:
		return fmt.Errorf("params: vote quorum must be 0-100, got %d", p.VoteQuorum)
	case p.ApplyStageLen < 0 || p.ExitTimeDelay < 0:
		return fmt.Errorf("params: stage lengths must not be negative")
	case p.CommitStageLen <= 0 || p.RevealStageLen <= 0:
		return fmt.Errorf("params: commit and reveal stage lengths must be positive")
	case p.Escrow == (common.Address{}):
		return fmt.Errorf("params: escrow address must be set")
	case p.Treasury == (common.Address{}):
		return fmt.Errorf("params: treasury address must be set")
	case p.Escrow == p.Treasury:
		return fmt.Errorf("params: escrow and treasury must differ")
	}
	return nil
}
