// Package memory is the in-process backend: a copy-on-write registry store,
// an audit log, a lock manager and an event bus. A single registryd replica
// with store.backend = "memory" runs entirely on it; tests use it everywhere.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/stakeregistry/internal/domain"
)

var errReadOnly = errors.New("memory: write in read-only view")

type voteKey struct {
	poll  uint64
	voter common.Address
}

type allowanceKey struct {
	owner   common.Address
	spender common.Address
}

// state is one immutable snapshot. Transactions work on a clone and swap it
// in on commit.
type state struct {
	listings   map[common.Hash]domain.Listing
	challenges map[uint64]domain.Challenge
	polls      map[uint64]domain.Poll
	votes      map[voteKey]domain.Vote
	balances   map[common.Address]uint64
	allowances map[allowanceKey]uint64
	nextPollID uint64
}

func newState() *state {
	return &state{
		listings:   make(map[common.Hash]domain.Listing),
		challenges: make(map[uint64]domain.Challenge),
		polls:      make(map[uint64]domain.Poll),
		votes:      make(map[voteKey]domain.Vote),
		balances:   make(map[common.Address]uint64),
		allowances: make(map[allowanceKey]uint64),
		nextPollID: 1,
	}
}

func (s *state) clone() *state {
	c := &state{
		listings:   make(map[common.Hash]domain.Listing, len(s.listings)),
		challenges: make(map[uint64]domain.Challenge, len(s.challenges)),
		polls:      make(map[uint64]domain.Poll, len(s.polls)),
		votes:      make(map[voteKey]domain.Vote, len(s.votes)),
		balances:   make(map[common.Address]uint64, len(s.balances)),
		allowances: make(map[allowanceKey]uint64, len(s.allowances)),
		nextPollID: s.nextPollID,
	}
	for k, v := range s.listings {
		c.listings[k] = v.Clone()
	}
	for k, v := range s.challenges {
		c.challenges[k] = v
	}
	for k, v := range s.polls {
		c.polls[k] = v
	}
	for k, v := range s.votes {
		c.votes[k] = v
	}
	for k, v := range s.balances {
		c.balances[k] = v
	}
	for k, v := range s.allowances {
		c.allowances[k] = v
	}
	return c
}

// Store implements domain.Store. Writers are serialized; readers see the
// last committed snapshot.
type Store struct {
	writeMu sync.Mutex
	mu      sync.RWMutex
	cur     *state
}

var _ domain.Store = (*Store)(nil)

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{cur: newState()}
}

// InTx runs fn against a private copy of the state and publishes the copy
// only when fn returns nil.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	work := s.cur.clone()
	s.mu.RUnlock()

	if err := fn(ctx, &tx{st: work}); err != nil {
		return err
	}

	s.mu.Lock()
	s.cur = work
	s.mu.Unlock()
	return nil
}

// View runs fn against the committed snapshot. Writes fail.
func (s *Store) View(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	s.mu.RLock()
	snap := s.cur
	s.mu.RUnlock()
	return fn(ctx, &tx{st: snap, readOnly: true})
}

type tx struct {
	st       *state
	readOnly bool
}

func (t *tx) Listings() domain.ListingRepo     { return listingRepo{t} }
func (t *tx) Challenges() domain.ChallengeRepo { return challengeRepo{t} }
func (t *tx) Polls() domain.PollRepo           { return pollRepo{t} }
func (t *tx) Tokens() domain.TokenRepo         { return tokenRepo{t} }

func (t *tx) writable() error {
	if t.readOnly {
		return errReadOnly
	}
	return nil
}
