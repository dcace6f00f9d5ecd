// Package notify delivers selected registry events to operator channels
// (Telegram, Discord). Each Sender gets every event the Notifier lets
// through; the Notifier filters by event type.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/stakeregistry/internal/domain"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches notifications to its senders for allowed event types.
// An empty allow list lets every event through.
type Notifier struct {
	senders []Sender
	events  map[domain.EventType]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier for the given senders and event types.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventType]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[domain.EventType(e)] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// NotifyEvent formats ev and sends it if its type is allowed.
func (n *Notifier) NotifyEvent(ctx context.Context, ev domain.Event) error {
	if len(n.events) > 0 && !n.events[ev.Type] {
		return nil
	}
	title, message := FormatEvent(ev)
	return n.dispatch(ctx, title, message)
}

// NotifyAll sends a free-form notification regardless of filters.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// dispatch tries every sender; one failing sender does not stop the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

var eventTitles = map[domain.EventType]string{
	domain.EventApplication:         "New application",
	domain.EventDeposit:             "Deposit increased",
	domain.EventWithdrawal:          "Deposit withdrawn",
	domain.EventChallenge:           "Listing challenged",
	domain.EventApplicationAccepted: "Listing whitelisted",
	domain.EventChallengePassed:     "Challenge rejected",
	domain.EventChallengeFailed:     "Challenge upheld",
	domain.EventListingRemoved:      "Listing removed",
	domain.EventExitRequested:       "Exit requested",
	domain.EventExitFinalized:       "Exit finalized",
	domain.EventVoteCommitted:       "Vote committed",
	domain.EventVoteRevealed:        "Vote revealed",
}

// FormatEvent renders the title and body of an event notification.
func FormatEvent(ev domain.Event) (title, message string) {
	title, ok := eventTitles[ev.Type]
	if !ok {
		title = string(ev.Type)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "listing: %s\n", ev.ListingID.Hex())
	fmt.Fprintf(&b, "by: %s", ev.Actor.Hex())
	if ev.Amount != 0 {
		fmt.Fprintf(&b, "\namount: %d", ev.Amount)
	}
	if ev.ChallengeID != 0 {
		fmt.Fprintf(&b, "\nchallenge: %d", ev.ChallengeID)
	}
	if ev.Status != "" {
		fmt.Fprintf(&b, "\nstatus: %s", ev.Status)
	}
	return title, b.String()
}
