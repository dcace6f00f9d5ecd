package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
	// Listing restricts audit queries to entries about one listing.
	Listing *common.Hash
}

// Store runs units of work against the registry state. InTx commits the
// mutations made through tx only if fn returns nil; View gives read access
// and must not be used to mutate.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	View(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx exposes the repositories bound to one unit of work.
type Tx interface {
	Listings() ListingRepo
	Challenges() ChallengeRepo
	Polls() PollRepo
	Tokens() TokenRepo
}

// ListingRepo is the listing store. Get returns ErrNotFound for absent
// listings.
type ListingRepo interface {
	Get(ctx context.Context, id common.Hash) (Listing, error)
	Put(ctx context.Context, l Listing) error
	Delete(ctx context.Context, id common.Hash) error
	List(ctx context.Context, f ListingFilter) ([]Listing, error)
	TotalDeposits(ctx context.Context) (uint64, error)
}

// ChallengeRepo persists challenges, open and resolved.
type ChallengeRepo interface {
	Get(ctx context.Context, id uint64) (Challenge, error)
	Put(ctx context.Context, c Challenge) error
	ListByListing(ctx context.Context, listingID common.Hash) ([]Challenge, error)
	ListResolvedBefore(ctx context.Context, before time.Time) ([]Challenge, error)
}

// PollRepo persists polls and votes. Create assigns the poll id.
type PollRepo interface {
	Create(ctx context.Context, p Poll) (uint64, error)
	Get(ctx context.Context, id uint64) (Poll, error)
	Update(ctx context.Context, p Poll) error
	GetVote(ctx context.Context, pollID uint64, voter common.Address) (Vote, error)
	PutVote(ctx context.Context, v Vote) error
}

// TokenRepo holds raw token balances and allowances. Missing rows read as 0.
type TokenRepo interface {
	Balance(ctx context.Context, who common.Address) (uint64, error)
	SetBalance(ctx context.Context, who common.Address, amount uint64) error
	Allowance(ctx context.Context, owner, spender common.Address) (uint64, error)
	SetAllowance(ctx context.Context, owner, spender common.Address, amount uint64) error
}

// TokenLedger is the fungible-token capability the registry consumes.
type TokenLedger interface {
	BalanceOf(ctx context.Context, who common.Address) (uint64, error)
	Transfer(ctx context.Context, from, to common.Address, amount uint64) error
	TransferFrom(ctx context.Context, spender, from, to common.Address, amount uint64) error
}

// Voting is the poll capability the registry consumes. IsPassed reports
// whether the listing should stay and is only meaningful once expired.
type Voting interface {
	StartPoll(ctx context.Context, stake, quorum uint64, commitLen, revealLen time.Duration) (uint64, error)
	IsExpired(ctx context.Context, pollID uint64) (bool, error)
	IsPassed(ctx context.Context, pollID uint64) (bool, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
