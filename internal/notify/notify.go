// Package notify publishes the pipeline's outbound events.
//
// Four events are observable: request-sent when a call has been prepared,
// response-received when it was decoded, response-failed when it ended in
// failure, and response-ready once the drain worker created its domain
// objects. Notifications are informational; a delivery failure is logged by
// the caller and never changes the outcome of a call.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackfruitco/simworks-sub000/internal/identity"
)

// Kind names an event.
type Kind string

const (
	KindRequestSent      Kind = "request.sent"
	KindResponseReceived Kind = "response.received"
	KindResponseReady    Kind = "response.ready"
	KindResponseFailed   Kind = "response.failed"
)

// Event is one notification.
type Event struct {
	Kind          Kind              `json:"kind"`
	Service       identity.Identity `json:"service"`
	Namespace     string            `json:"namespace"`
	CorrelationID string            `json:"correlation_id"`
	OwnerRef      string            `json:"owner_ref,omitempty"`

	// Payload is a JSON snapshot: the request input for request.sent and
	// response.failed, the canonical result for response.received and
	// response.ready.
	Payload json.RawMessage `json:"payload,omitempty"`

	// DomainRef is set on response.ready ("table:id").
	DomainRef string `json:"domain_ref,omitempty"`

	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Notifier delivers events.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, ev Event) error

func (f Func) Notify(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Nop discards events.
var Nop Notifier = Func(func(context.Context, Event) error { return nil })

// Encode renders ev as compact JSON for wire sinks.
func Encode(ev Event) ([]byte, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", ev.Kind, err)
	}
	return b, nil
}

// Log writes every event to a structured logger.
type Log struct {
	Logger *slog.Logger
	Level  slog.Level
}

func (l Log) Notify(ctx context.Context, ev Event) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{
		"event", string(ev.Kind),
		"service", ev.Service.String(),
		"correlation_id", ev.CorrelationID,
	}
	if ev.DomainRef != "" {
		attrs = append(attrs, "domain_ref", ev.DomainRef)
	}
	if ev.Error != "" {
		attrs = append(attrs, "error", ev.Error)
	}
	logger.Log(ctx, l.Level, "notification", attrs...)
	return nil
}

// Multi fans an event out to every notifier. All notifiers are attempted;
// the joined error reports each failure.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
