// Package registry implements the listing lifecycle: applications,
// challenges, challenge resolution and exits, with every stake held in an
// escrow account on the token ledger.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	safemath "github.com/luxfi/math"

	"github.com/alanyoungcy/stakeregistry/internal/clock"
	"github.com/alanyoungcy/stakeregistry/internal/crypto"
	"github.com/alanyoungcy/stakeregistry/internal/domain"
	"github.com/alanyoungcy/stakeregistry/internal/token"
	"github.com/alanyoungcy/stakeregistry/internal/voting"
)

const (
	lockKey         = "registry"
	defaultLockWait = 5 * time.Second
	defaultLockTTL  = 30 * time.Second
)

// Observer receives operation outcomes. The metrics package implements it.
type Observer interface {
	ObserveOperation(op string, err error, elapsed time.Duration)
	SetEscrow(total uint64)
}

// Emitter delivers events after their transaction commits.
type Emitter interface {
	Emit(ctx context.Context, events []domain.Event)
}

// LedgerFactory binds a token ledger to a store transaction.
type LedgerFactory func(tx domain.Tx) domain.TokenLedger

// VotingFactory binds a poll subsystem to a store transaction.
type VotingFactory func(tx domain.Tx, ledger domain.TokenLedger, clk clock.Clock) domain.Voting

// ballotBox is implemented by voting backends that take ballots through the
// registry API.
type ballotBox interface {
	Get(ctx context.Context, pollID uint64) (domain.Poll, error)
	Commit(ctx context.Context, pollID uint64, voter common.Address, commitment common.Hash, numTokens uint64) error
	Reveal(ctx context.Context, pollID uint64, voter common.Address, choice domain.VoteChoice, salt uint64) (domain.Vote, error)
}

// Option configures an Engine.
type Option func(*Engine)

// WithEmitter sets where committed events go.
func WithEmitter(em Emitter) Option { return func(e *Engine) { e.emitter = em } }

// WithObserver sets the operation observer.
func WithObserver(o Observer) Option { return func(e *Engine) { e.observer = o } }

// WithLockTiming sets how long an operation waits for the registry lock and
// how long a held lock lives.
func WithLockTiming(wait, ttl time.Duration) Option {
	return func(e *Engine) {
		if wait > 0 {
			e.lockWait = wait
		}
		if ttl > 0 {
			e.lockTTL = ttl
		}
	}
}

// WithLedger replaces the reference token ledger.
func WithLedger(f LedgerFactory) Option { return func(e *Engine) { e.ledgerFor = f } }

// WithVoting replaces the reference poll subsystem.
func WithVoting(f VotingFactory) Option { return func(e *Engine) { e.votingFor = f } }

// Engine runs registry operations. Each operation holds the registry lock
// and runs in one store transaction, so operations are serialized and a
// failed operation leaves no trace.
type Engine struct {
	params    domain.Params
	store     domain.Store
	locks     domain.LockManager
	clk       clock.Clock
	emitter   Emitter
	observer  Observer
	ledgerFor LedgerFactory
	votingFor VotingFactory
	lockWait  time.Duration
	lockTTL   time.Duration
	logger    *slog.Logger
}

// New creates an Engine.
func New(params domain.Params, store domain.Store, locks domain.LockManager, clk clock.Clock, logger *slog.Logger, opts ...Option) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		params:   params,
		store:    store,
		locks:    locks,
		clk:      clk,
		lockWait: defaultLockWait,
		lockTTL:  defaultLockTTL,
		ledgerFor: func(tx domain.Tx) domain.TokenLedger {
			return token.NewLedger(tx.Tokens())
		},
		votingFor: func(tx domain.Tx, ledger domain.TokenLedger, clk clock.Clock) domain.Voting {
			return voting.New(tx.Polls(), ledger, clk)
		},
		logger: logger.With(slog.String("component", "registry")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Params returns the registry parameters.
func (e *Engine) Params() domain.Params {
	return e.params
}

// work is the state of one operation inside its transaction.
type work struct {
	tx       domain.Tx
	now      time.Time
	deposits depositLedger
	polls    pollAdapter
	voting   domain.Voting
	events   []domain.Event
}

func (w *work) emit(ev domain.Event) {
	ev.ID = uuid.NewString()
	ev.At = w.now
	w.events = append(w.events, ev)
}

func (w *work) listing(ctx context.Context, id common.Hash) (domain.Listing, bool, error) {
	l, err := w.tx.Listings().Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Unlisted(id), false, nil
	}
	if err != nil {
		return domain.Listing{}, false, fmt.Errorf("registry: get listing %s: %w", id.Hex(), err)
	}
	return l, true, nil
}

func (w *work) put(ctx context.Context, l domain.Listing) error {
	l.UpdatedAt = w.now
	if err := w.tx.Listings().Put(ctx, l); err != nil {
		return fmt.Errorf("registry: save listing %s: %w", l.ID.Hex(), err)
	}
	return nil
}

// transact runs fn under the registry lock in one store transaction and
// emits the collected events once it commits.
func (e *Engine) transact(ctx context.Context, op string, fn func(ctx context.Context, w *work) error) error {
	start := time.Now()

	unlock, err := e.acquire(ctx)
	if err != nil {
		e.observe(op, err, start)
		return err
	}
	defer unlock()

	var (
		committed *work
		escrow    uint64
	)
	err = e.store.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		ledger := e.ledgerFor(tx)
		v := e.votingFor(tx, ledger, e.clk)
		w := &work{
			tx:       tx,
			now:      e.clk.Now(),
			deposits: depositLedger{token: ledger, escrow: e.params.Escrow},
			polls:    pollAdapter{voting: v, params: e.params},
			voting:   v,
		}
		if err := fn(ctx, w); err != nil {
			return err
		}
		total, err := tx.Listings().TotalDeposits(ctx)
		if err != nil {
			return fmt.Errorf("registry: total deposits: %w", err)
		}
		committed, escrow = w, total
		return nil
	})
	e.observe(op, err, start)
	if err != nil {
		if domain.Category(err) == nil {
			e.logger.ErrorContext(ctx, "registry operation failed",
				slog.String("op", op),
				slog.String("error", err.Error()),
			)
		}
		return err
	}

	if e.observer != nil {
		e.observer.SetEscrow(escrow)
	}
	for _, ev := range committed.events {
		e.logger.InfoContext(ctx, "registry event",
			slog.String("type", string(ev.Type)),
			slog.String("listing", ev.ListingID.Hex()),
			slog.String("actor", ev.Actor.Hex()),
			slog.Uint64("amount", ev.Amount),
			slog.Uint64("challenge", ev.ChallengeID),
		)
	}
	if e.emitter != nil && len(committed.events) > 0 {
		e.emitter.Emit(context.WithoutCancel(ctx), committed.events)
	}
	return nil
}

// acquire takes the registry lock, retrying with backoff until lockWait.
func (e *Engine) acquire(ctx context.Context) (func(), error) {
	deadline := time.Now().Add(e.lockWait)
	backoff := 5 * time.Millisecond
	for {
		unlock, err := e.locks.Acquire(ctx, lockKey, e.lockTTL)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, fmt.Errorf("registry: acquire lock: %w", err)
		}
		if time.Now().Add(backoff).After(deadline) {
			return nil, fmt.Errorf("registry: lock busy after %s: %w", e.lockWait, err)
		}
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		if backoff < 200*time.Millisecond {
			backoff *= 2
		}
	}
}

func (e *Engine) observe(op string, err error, start time.Time) {
	if e.observer != nil {
		e.observer.ObserveOperation(op, err, time.Since(start))
	}
}

// Application is a request to add a listing. ID defaults to keccak256(Name).
type Application struct {
	ID        common.Hash
	Name      string
	Data      string
	Deposit   uint64
	Applicant common.Address
}

// Apply escrows the deposit and creates the listing in the application
// stage.
func (e *Engine) Apply(ctx context.Context, app Application) (domain.Listing, error) {
	id := app.ID
	if id == (common.Hash{}) {
		if app.Name == "" {
			return domain.Listing{}, domain.ErrInvalidListing
		}
		id = crypto.ListingID(app.Name)
	}

	if err := e.party(app.Applicant); err != nil {
		return domain.Listing{}, err
	}

	var out domain.Listing
	err := e.transact(ctx, "apply", func(ctx context.Context, w *work) error {
		_, exists, err := w.listing(ctx, id)
		if err != nil {
			return err
		}
		if exists {
			return domain.ErrAlreadyExists
		}
		if app.Deposit < e.params.MinDeposit {
			return domain.ErrInsufficientDeposit
		}
		if err := w.deposits.TransferIn(ctx, app.Applicant, app.Deposit); err != nil {
			return err
		}
		out = domain.Listing{
			ID:                id,
			Name:              app.Name,
			Data:              app.Data,
			Owner:             app.Applicant,
			Deposit:           app.Deposit,
			Status:            domain.ListingApplied,
			ApplicationExpiry: w.now.Add(e.params.ApplyStageLen),
			AppliedAt:         w.now,
		}
		if err := w.put(ctx, out); err != nil {
			return err
		}
		out.UpdatedAt = w.now
		w.emit(domain.Event{Type: domain.EventApplication, ListingID: id, Actor: app.Applicant, Amount: app.Deposit, Status: out.Status})
		return nil
	})
	return out, err
}

// Deposit adds amount to the owner's stake on an unchallenged listing.
func (e *Engine) Deposit(ctx context.Context, id common.Hash, amount uint64, caller common.Address) error {
	if err := e.party(caller); err != nil {
		return err
	}
	return e.transact(ctx, "deposit", func(ctx context.Context, w *work) error {
		l, err := e.ownedMutable(ctx, w, id, caller, amount)
		if err != nil {
			return err
		}
		if err := w.deposits.TransferIn(ctx, caller, amount); err != nil {
			return err
		}
		if l.Deposit, err = safemath.Add64(l.Deposit, amount); err != nil {
			return domain.ErrAmountOverflow
		}
		if err := w.put(ctx, l); err != nil {
			return err
		}
		w.emit(domain.Event{Type: domain.EventDeposit, ListingID: id, Actor: caller, Amount: amount, Status: l.Status})
		return nil
	})
}

// Withdraw returns amount of the owner's stake, keeping at least the
// minimum deposit escrowed.
func (e *Engine) Withdraw(ctx context.Context, id common.Hash, amount uint64, caller common.Address) error {
	return e.transact(ctx, "withdraw", func(ctx context.Context, w *work) error {
		l, err := e.ownedMutable(ctx, w, id, caller, amount)
		if err != nil {
			return err
		}
		if amount > l.Deposit || l.Deposit-amount < e.params.MinDeposit {
			return domain.ErrInsufficientDeposit
		}
		if err := w.deposits.TransferOut(ctx, caller, amount); err != nil {
			return err
		}
		l.Deposit -= amount
		if err := w.put(ctx, l); err != nil {
			return err
		}
		w.emit(domain.Event{Type: domain.EventWithdrawal, ListingID: id, Actor: caller, Amount: amount, Status: l.Status})
		return nil
	})
}

// party rejects the escrow account as an actor. Its balance is the sum of
// every listing's stake.
func (e *Engine) party(who common.Address) error {
	if who == e.params.Escrow {
		return domain.ErrInvalidParty
	}
	return nil
}

func (e *Engine) ownedMutable(ctx context.Context, w *work, id common.Hash, caller common.Address, amount uint64) (domain.Listing, error) {
	l, exists, err := w.listing(ctx, id)
	switch {
	case err != nil:
		return l, err
	case !exists:
		return l, domain.ErrNotListed
	case l.Owner != caller:
		return l, domain.ErrNotOwner
	case amount == 0:
		return l, domain.ErrInvalidAmount
	case l.Status != domain.ListingApplied && l.Status != domain.ListingWhitelisted:
		return l, domain.ErrNotWhitelisted
	case l.Challenged():
		return l, domain.ErrChallengeExists
	}
	return l, nil
}

// Challenge stakes an amount equal to the listing's deposit against it and
// opens the poll that decides it. It returns the challenge id.
func (e *Engine) Challenge(ctx context.Context, id common.Hash, challenger common.Address) (uint64, error) {
	if err := e.party(challenger); err != nil {
		return 0, err
	}

	var challengeID uint64
	err := e.transact(ctx, "challenge", func(ctx context.Context, w *work) error {
		l, exists, err := w.listing(ctx, id)
		switch {
		case err != nil:
			return err
		case !exists:
			return domain.ErrNotListed
		case l.Status != domain.ListingApplied && l.Status != domain.ListingWhitelisted && l.Status != domain.ListingExitInitiated:
			return domain.ErrNotWhitelisted
		case l.Challenged():
			return domain.ErrChallengeExists
		case l.Owner == challenger:
			return domain.ErrSelfChallenge
		}

		stake := l.Deposit
		if err := w.deposits.TransferIn(ctx, challenger, stake); err != nil {
			return err
		}
		pollID, err := w.polls.Open(ctx, stake)
		if err != nil {
			return fmt.Errorf("registry: open poll: %w", err)
		}
		if l.Deposit, err = safemath.Add64(l.Deposit, stake); err != nil {
			return domain.ErrAmountOverflow
		}
		l.ChallengeID = pollID

		if err := w.tx.Challenges().Put(ctx, domain.Challenge{
			ID:         pollID,
			ListingID:  id,
			Challenger: challenger,
			Stake:      stake,
			CreatedAt:  w.now,
		}); err != nil {
			return fmt.Errorf("registry: save challenge %d: %w", pollID, err)
		}
		if err := w.put(ctx, l); err != nil {
			return err
		}
		challengeID = pollID
		w.emit(domain.Event{Type: domain.EventChallenge, ListingID: id, Actor: challenger, Amount: stake, ChallengeID: pollID, Status: l.Status})
		return nil
	})
	return challengeID, err
}

// FinalizeApplication whitelists an unchallenged application whose
// application stage has ended. Anyone may call it.
func (e *Engine) FinalizeApplication(ctx context.Context, id common.Hash) error {
	return e.transact(ctx, "finalize_application", func(ctx context.Context, w *work) error {
		l, _, err := w.listing(ctx, id)
		if err != nil {
			return err
		}
		return e.finalizeApplication(ctx, w, l)
	})
}

func (e *Engine) finalizeApplication(ctx context.Context, w *work, l domain.Listing) error {
	switch {
	case l.Status != domain.ListingApplied:
		return domain.ErrNotInApplicationStage
	case l.Challenged():
		return domain.ErrChallengeExists
	case w.now.Before(l.ApplicationExpiry):
		return domain.ErrTooEarly
	}
	l.Status = domain.ListingWhitelisted
	if err := w.put(ctx, l); err != nil {
		return err
	}
	w.emit(domain.Event{Type: domain.EventApplicationAccepted, ListingID: l.ID, Actor: l.Owner, Amount: l.Deposit, Status: l.Status})
	return nil
}

// ResolveChallenge settles the open challenge on a listing once its poll has
// ended. Anyone may call it.
func (e *Engine) ResolveChallenge(ctx context.Context, id common.Hash) error {
	return e.transact(ctx, "resolve_challenge", func(ctx context.Context, w *work) error {
		l, exists, err := w.listing(ctx, id)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrNotListed
		}
		return e.resolveOpen(ctx, w, l)
	})
}

func (e *Engine) resolveOpen(ctx context.Context, w *work, l domain.Listing) error {
	if !l.Challenged() {
		return domain.ErrNoChallenge
	}
	expired, err := w.polls.IsExpired(ctx, l.ChallengeID)
	if err != nil {
		return fmt.Errorf("registry: poll %d: %w", l.ChallengeID, err)
	}
	if !expired {
		return domain.ErrPollNotEnded
	}
	passed, err := w.polls.DidPass(ctx, l.ChallengeID)
	if err != nil {
		return fmt.Errorf("registry: poll %d: %w", l.ChallengeID, err)
	}
	c, err := w.tx.Challenges().Get(ctx, l.ChallengeID)
	if err != nil {
		return fmt.Errorf("registry: get challenge %d: %w", l.ChallengeID, err)
	}
	return e.resolve(ctx, w, l, c, passed)
}

// UpdateStatus advances a listing by whichever permissionless transition is
// due: finalizing its application or resolving its challenge.
func (e *Engine) UpdateStatus(ctx context.Context, id common.Hash) error {
	return e.transact(ctx, "update_status", func(ctx context.Context, w *work) error {
		l, exists, err := w.listing(ctx, id)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrNotListed
		}
		if l.Status == domain.ListingApplied && !l.Challenged() && !w.now.Before(l.ApplicationExpiry) {
			return e.finalizeApplication(ctx, w, l)
		}
		if l.Challenged() {
			expired, err := w.polls.IsExpired(ctx, l.ChallengeID)
			if err != nil {
				return fmt.Errorf("registry: poll %d: %w", l.ChallengeID, err)
			}
			if expired {
				return e.resolveOpen(ctx, w, l)
			}
		}
		return domain.ErrNothingToUpdate
	})
}

// RequestExit starts the exit delay of an unchallenged whitelisted listing.
func (e *Engine) RequestExit(ctx context.Context, id common.Hash, caller common.Address) error {
	return e.transact(ctx, "request_exit", func(ctx context.Context, w *work) error {
		l, exists, err := w.listing(ctx, id)
		switch {
		case err != nil:
			return err
		case !exists:
			return domain.ErrNotListed
		case l.Owner != caller:
			return domain.ErrNotOwner
		case l.Status != domain.ListingWhitelisted:
			return domain.ErrNotWhitelisted
		case l.Challenged():
			return domain.ErrChallengeExists
		}
		exitAt := w.now.Add(e.params.ExitTimeDelay)
		l.Status = domain.ListingExitInitiated
		l.ExitTime = &exitAt
		if err := w.put(ctx, l); err != nil {
			return err
		}
		w.emit(domain.Event{Type: domain.EventExitRequested, ListingID: id, Actor: caller, Status: l.Status})
		return nil
	})
}

// FinalizeExit refunds the deposit of a listing whose exit delay has passed
// and removes it. An open challenge blocks it regardless of the exit time.
func (e *Engine) FinalizeExit(ctx context.Context, id common.Hash, caller common.Address) error {
	return e.transact(ctx, "finalize_exit", func(ctx context.Context, w *work) error {
		l, exists, err := w.listing(ctx, id)
		switch {
		case err != nil:
			return err
		case !exists:
			return domain.ErrNotListed
		case l.Owner != caller:
			return domain.ErrNotOwner
		case l.Status != domain.ListingExitInitiated || l.ExitTime == nil:
			return domain.ErrExitNotInitiated
		case l.Challenged():
			return domain.ErrChallengeExists
		case w.now.Before(*l.ExitTime):
			return domain.ErrTooEarly
		}
		if err := w.deposits.TransferOut(ctx, l.Owner, l.Deposit); err != nil {
			return fmt.Errorf("registry: refund deposit: %w", err)
		}
		if err := w.tx.Listings().Delete(ctx, id); err != nil {
			return fmt.Errorf("registry: remove listing %s: %w", id.Hex(), err)
		}
		w.emit(domain.Event{Type: domain.EventExitFinalized, ListingID: id, Actor: caller, Amount: l.Deposit, Status: domain.ListingUnlisted})
		return nil
	})
}

// CommitVote records a sealed vote on the poll deciding a challenge.
func (e *Engine) CommitVote(ctx context.Context, pollID uint64, voter common.Address, commitment common.Hash, numTokens uint64) error {
	if err := e.party(voter); err != nil {
		return err
	}
	return e.transact(ctx, "commit_vote", func(ctx context.Context, w *work) error {
		box, err := ballots(w.voting)
		if err != nil {
			return err
		}
		c, err := e.challengeIn(ctx, w.tx, pollID)
		if err != nil {
			return err
		}
		if err := box.Commit(ctx, pollID, voter, commitment, numTokens); err != nil {
			return err
		}
		w.emit(domain.Event{Type: domain.EventVoteCommitted, ListingID: c.ListingID, Actor: voter, Amount: numTokens, ChallengeID: pollID})
		return nil
	})
}

// RevealVote opens a committed vote.
func (e *Engine) RevealVote(ctx context.Context, pollID uint64, voter common.Address, choice domain.VoteChoice, salt uint64) error {
	return e.transact(ctx, "reveal_vote", func(ctx context.Context, w *work) error {
		box, err := ballots(w.voting)
		if err != nil {
			return err
		}
		c, err := e.challengeIn(ctx, w.tx, pollID)
		if err != nil {
			return err
		}
		vote, err := box.Reveal(ctx, pollID, voter, choice, salt)
		if err != nil {
			return err
		}
		w.emit(domain.Event{Type: domain.EventVoteRevealed, ListingID: c.ListingID, Actor: voter, Amount: vote.NumTokens, ChallengeID: pollID})
		return nil
	})
}

func ballots(v domain.Voting) (ballotBox, error) {
	box, ok := v.(ballotBox)
	if !ok {
		return nil, fmt.Errorf("registry: voting backend does not accept ballots")
	}
	return box, nil
}

func (e *Engine) challengeIn(ctx context.Context, tx domain.Tx, id uint64) (domain.Challenge, error) {
	c, err := tx.Challenges().Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Challenge{}, domain.ErrPollNotFound
	}
	if err != nil {
		return domain.Challenge{}, fmt.Errorf("registry: get challenge %d: %w", id, err)
	}
	return c, nil
}
