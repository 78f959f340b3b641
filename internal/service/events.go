package service

import (
	"context"

	"github.com/perparb/fundarb/internal/domain"
)

// EventSink receives lifecycle events for the notification fan-out. Delivery
// is fire-and-forget: a sink must never return control flow into the caller,
// and a failed delivery never rolls back the state transition that produced
// the event.
type EventSink interface {
	Publish(ctx context.Context, ev domain.Event)
}

// NopSink discards events.
type NopSink struct{}

func (NopSink) Publish(context.Context, domain.Event) {}

var _ EventSink = NopSink{}
