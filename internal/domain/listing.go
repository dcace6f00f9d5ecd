package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListingStatus is the lifecycle state of a registry listing.
type ListingStatus string

const (
	ListingUnlisted      ListingStatus = "unlisted"
	ListingApplied       ListingStatus = "applied"
	ListingWhitelisted   ListingStatus = "whitelisted"
	ListingExitInitiated ListingStatus = "exit_initiated"
)

// Valid reports whether s is a known listing status.
func (s ListingStatus) Valid() bool {
	switch s {
	case ListingUnlisted, ListingApplied, ListingWhitelisted, ListingExitInitiated:
		return true
	default:
		return false
	}
}

// Listing is a registry entry keyed by the keccak256 hash of its name. The
// zero value (status unlisted, no owner) represents an absent listing.
type Listing struct {
	ID                common.Hash    `json:"id"`
	Name              string         `json:"name,omitempty"`
	Data              string         `json:"data,omitempty"`
	Owner             common.Address `json:"owner"`
	Deposit           uint64         `json:"deposit"`
	Status            ListingStatus  `json:"status"`
	ChallengeID       uint64         `json:"challenge_id"` // 0 when unchallenged
	ExitTime          *time.Time     `json:"exit_time,omitempty"`
	ApplicationExpiry time.Time      `json:"application_expiry"`
	AppliedAt         time.Time      `json:"applied_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// Challenged reports whether the listing has an open challenge.
func (l Listing) Challenged() bool {
	return l.ChallengeID != 0
}

// Listed reports whether the listing is visible on the registry. A listing
// that has requested exit stays listed until the exit finalizes.
func (l Listing) Listed() bool {
	return l.Status == ListingWhitelisted || l.Status == ListingExitInitiated
}

// Clone returns a copy that shares no pointers with l.
func (l Listing) Clone() Listing {
	if l.ExitTime != nil {
		t := *l.ExitTime
		l.ExitTime = &t
	}
	return l
}

// Unlisted returns the logically-absent record for id.
func Unlisted(id common.Hash) Listing {
	return Listing{ID: id, Status: ListingUnlisted}
}

// ListingFilter narrows listing queries.
type ListingFilter struct {
	Status     ListingStatus // empty matches every status
	Challenged *bool
	Owner      *common.Address
	Limit      int
	Offset     int
}

// Match reports whether l satisfies the filter predicates (pagination is
// applied by the caller).
func (f ListingFilter) Match(l Listing) bool {
	if f.Status != "" && l.Status != f.Status {
		return false
	}
	if f.Challenged != nil && l.Challenged() != *f.Challenged {
		return false
	}
	if f.Owner != nil && l.Owner != *f.Owner {
		return false
	}
	return true
}
