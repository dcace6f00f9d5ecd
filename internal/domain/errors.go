package domain

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrLockHeld     = errors.New("lock already held")
)

// Violation categories. Every rule failure returned by the registry unwraps
// to exactly one of these.
var (
	ErrPrecondition  = errors.New("precondition violation")
	ErrAuthorization = errors.New("authorization violation")
	ErrTiming        = errors.New("timing violation")
	ErrConflict      = errors.New("conflict violation")
	ErrFunds         = errors.New("funds violation")
)

// Violation is a rule failure with a stable message and a category.
type Violation struct {
	kind error
	msg  string
}

func newViolation(kind error, msg string) *Violation {
	return &Violation{kind: kind, msg: msg}
}

func (v *Violation) Error() string { return v.msg }

// Unwrap exposes the category so errors.Is(err, ErrTiming) works.
func (v *Violation) Unwrap() error { return v.kind }

// Kind returns the violation category.
func (v *Violation) Kind() error { return v.kind }

var (
	ErrAlreadyExists         = newViolation(ErrPrecondition, "listing already exists")
	ErrNotListed             = newViolation(ErrPrecondition, "listing does not exist")
	ErrNotWhitelisted        = newViolation(ErrPrecondition, "listing is not in a challengeable or exitable state")
	ErrNotInApplicationStage = newViolation(ErrPrecondition, "listing is not in the application stage")
	ErrExitNotInitiated      = newViolation(ErrPrecondition, "exit was not requested")
	ErrNoChallenge           = newViolation(ErrPrecondition, "listing has no open challenge")
	ErrNothingToUpdate       = newViolation(ErrPrecondition, "listing has no pending transition")
	ErrInvalidAmount         = newViolation(ErrPrecondition, "amount must be positive")
	ErrInsufficientDeposit   = newViolation(ErrPrecondition, "deposit below minimum")
	ErrPollNotFound          = newViolation(ErrPrecondition, "poll does not exist")
	ErrCommitMismatch        = newViolation(ErrPrecondition, "reveal does not match commitment")
	ErrNoCommit              = newViolation(ErrPrecondition, "no vote committed")
	ErrAlreadyRevealed       = newViolation(ErrPrecondition, "vote already revealed")
	ErrInvalidListing        = newViolation(ErrPrecondition, "listing name or id required")
	ErrInvalidParty          = newViolation(ErrPrecondition, "escrow account cannot act as a party")
	ErrSelfChallenge         = newViolation(ErrPrecondition, "owner cannot challenge their own listing")

	ErrNotOwner = newViolation(ErrAuthorization, "caller is not the listing owner")

	ErrTooEarly        = newViolation(ErrTiming, "too early")
	ErrPollNotEnded    = newViolation(ErrTiming, "poll has not ended")
	ErrCommitEnded     = newViolation(ErrTiming, "commit period has ended")
	ErrRevealNotActive = newViolation(ErrTiming, "reveal period is not active")

	ErrChallengeExists = newViolation(ErrConflict, "listing has an open challenge")

	ErrInsufficientBalance   = newViolation(ErrFunds, "insufficient balance")
	ErrInsufficientAllowance = newViolation(ErrFunds, "insufficient allowance")
	ErrAmountOverflow        = newViolation(ErrFunds, "amount overflow")
)

// Category returns the violation category of err, or nil when err is not a
// registry rule failure.
func Category(err error) error {
	var v *Violation
	if errors.As(err, &v) {
		return v.kind
	}
	return nil
}
