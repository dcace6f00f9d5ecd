package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Challenge is a dispute against a listing. Its ID is the id of the poll
// that adjudicates it.
type Challenge struct {
	ID         uint64         `json:"id"`
	ListingID  common.Hash    `json:"listing_id"`
	Challenger common.Address `json:"challenger"`
	Stake      uint64         `json:"stake"`
	RewardPool uint64         `json:"reward_pool"`
	Fee        uint64         `json:"fee"`
	Payout     uint64         `json:"payout"`
	Passed     bool           `json:"passed"` // listing kept; only meaningful once resolved
	Resolved   bool           `json:"resolved"`
	CreatedAt  time.Time      `json:"created_at"`
	ResolvedAt *time.Time     `json:"resolved_at,omitempty"`
}

// Winner returns the party paid out when the challenge resolved.
func (c Challenge) Winner(owner common.Address) common.Address {
	if c.Passed {
		return owner
	}
	return c.Challenger
}

// Poll is a commit-reveal vote deciding whether a challenged listing stays.
type Poll struct {
	ID          uint64    `json:"id"`
	Stake       uint64    `json:"stake"`
	VoteQuorum  uint64    `json:"vote_quorum"` // percent of revealed weight needed to remove
	CommitEnd   time.Time `json:"commit_end"`
	RevealEnd   time.Time `json:"reveal_end"`
	VotesKeep   uint64    `json:"votes_keep"`
	VotesRemove uint64    `json:"votes_remove"`
	CreatedAt   time.Time `json:"created_at"`
}

// VoteChoice is a revealed ballot option.
type VoteChoice uint8

const (
	VoteRemove VoteChoice = 0
	VoteKeep   VoteChoice = 1
)

// Vote is one voter's commitment, and after reveal, their choice.
type Vote struct {
	PollID      uint64         `json:"poll_id"`
	Voter       common.Address `json:"voter"`
	Commitment  common.Hash    `json:"commitment"`
	NumTokens   uint64         `json:"num_tokens"`
	Revealed    bool           `json:"revealed"`
	Choice      VoteChoice     `json:"choice"`
	CommittedAt time.Time      `json:"committed_at"`
}
