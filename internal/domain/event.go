package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventType names a committed registry transition.
type EventType string

const (
	EventApplication         EventType = "application"
	EventDeposit             EventType = "deposit"
	EventWithdrawal          EventType = "withdrawal"
	EventChallenge           EventType = "challenge"
	EventApplicationAccepted EventType = "application_whitelisted"
	EventChallengePassed     EventType = "challenge_passed"
	EventChallengeFailed     EventType = "challenge_failed"
	EventListingRemoved      EventType = "listing_removed"
	EventExitRequested       EventType = "exit_requested"
	EventExitFinalized       EventType = "exit_finalized"
	EventVoteCommitted       EventType = "vote_committed"
	EventVoteRevealed        EventType = "vote_revealed"
)

// Channels and streams used for registry events on the event bus.
const (
	EventsChannel = "registry:events"
	EventsStream  = "registry:events:stream"
)

// Event is emitted after a registry transaction commits.
type Event struct {
	ID          string         `json:"id"`
	Type        EventType      `json:"type"`
	ListingID   common.Hash    `json:"listing_id"`
	Actor       common.Address `json:"actor"`
	Amount      uint64         `json:"amount,omitempty"`
	ChallengeID uint64         `json:"challenge_id,omitempty"`
	Status      ListingStatus  `json:"status,omitempty"`
	At          time.Time      `json:"at"`
}
