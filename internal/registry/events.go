package registry

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/alanyoungcy/stakeregistry/internal/domain"
)

// EventNotifier forwards selected events to operators.
type EventNotifier interface {
	NotifyEvent(ctx context.Context, ev domain.Event) error
}

// Dispatcher fans committed events out to the event bus, the audit log,
// message-broker mirrors and notifiers. Delivery failures are logged; the
// registry state they describe is already committed.
type Dispatcher struct {
	bus      domain.EventBus
	audit    domain.AuditStore
	notifier EventNotifier
	mirrors  []domain.Publisher
	logger   *slog.Logger
}

var _ Emitter = (*Dispatcher)(nil)

// NewDispatcher creates a Dispatcher. Any dependency may be nil. Mirrors
// receive each event on a channel named after its type.
func NewDispatcher(bus domain.EventBus, audit domain.AuditStore, notifier EventNotifier, logger *slog.Logger, mirrors ...domain.Publisher) *Dispatcher {
	return &Dispatcher{
		bus:      bus,
		audit:    audit,
		notifier: notifier,
		mirrors:  mirrors,
		logger:   logger.With(slog.String("component", "dispatcher")),
	}
}

// Emit delivers events in order.
func (d *Dispatcher) Emit(ctx context.Context, events []domain.Event) {
	for _, ev := range events {
		d.emit(ctx, ev)
	}
}

func (d *Dispatcher) emit(ctx context.Context, ev domain.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		d.fail(ctx, "marshal", ev, err)
		return
	}

	if d.bus != nil {
		if err := d.bus.Publish(ctx, domain.EventsChannel, payload); err != nil {
			d.fail(ctx, "publish", ev, err)
		}
		if err := d.bus.StreamAppend(ctx, domain.EventsStream, payload); err != nil {
			d.fail(ctx, "stream", ev, err)
		}
	}
	for _, m := range d.mirrors {
		if err := m.Publish(ctx, string(ev.Type), payload); err != nil {
			d.fail(ctx, "mirror", ev, err)
		}
	}
	if d.audit != nil {
		if err := d.audit.Log(ctx, string(ev.Type), auditDetail(ev)); err != nil {
			d.fail(ctx, "audit", ev, err)
		}
	}
	if d.notifier != nil {
		if err := d.notifier.NotifyEvent(ctx, ev); err != nil {
			d.fail(ctx, "notify", ev, err)
		}
	}
}

func (d *Dispatcher) fail(ctx context.Context, stage string, ev domain.Event, err error) {
	d.logger.WarnContext(ctx, "event delivery failed",
		slog.String("stage", stage),
		slog.String("event_id", ev.ID),
		slog.String("type", string(ev.Type)),
		slog.String("error", err.Error()),
	)
}

func auditDetail(ev domain.Event) map[string]any {
	detail := map[string]any{
		"event_id": ev.ID,
		"listing":  ev.ListingID.Hex(),
		"actor":    ev.Actor.Hex(),
	}
	if ev.Amount != 0 {
		detail["amount"] = ev.Amount
	}
	if ev.ChallengeID != 0 {
		detail["challenge_id"] = ev.ChallengeID
	}
	if ev.Status != "" {
		detail["status"] = string(ev.Status)
	}
	return detail
}
