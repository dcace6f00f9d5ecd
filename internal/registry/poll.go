package registry

import (
	"context"

	"github.com/alanyoungcy/stakeregistry/internal/domain"
)

// pollAdapter opens and reads the poll that adjudicates a challenge.
type pollAdapter struct {
	voting domain.Voting
	params domain.Params
}

// Open starts a poll for a challenge staking stake.
func (p pollAdapter) Open(ctx context.Context, stake uint64) (uint64, error) {
	return p.voting.StartPoll(ctx, stake, p.params.VoteQuorum, p.params.CommitStageLen, p.params.RevealStageLen)
}

// IsExpired reports whether the poll has ended.
func (p pollAdapter) IsExpired(ctx context.Context, pollID uint64) (bool, error) {
	return p.voting.IsExpired(ctx, pollID)
}

// DidPass reports whether the listing survived. Only meaningful once expired.
func (p pollAdapter) DidPass(ctx context.Context, pollID uint64) (bool, error) {
	return p.voting.IsPassed(ctx, pollID)
}
