package event

import (
	"context"
	"fmt"
	"log/slog"
)

// Publisher publishes typed events by logical topic name. Implementations
// must be safe for concurrent use.
type Publisher interface {
	// Publish serialises payload to JSON and forwards it to the broker
	// topic bound to t. Returns an error when the broker rejects or the
	// payload cannot be serialised.
	Publish(ctx context.Context, t Topic, payload any) error
}

// LogPublisher is a Publisher that records nothing and only logs each
// publish. Used when no broker project is configured, so local runs
// still show the event flow without external delivery.
type LogPublisher struct{}

// Publish implements [Publisher] by logging the topic and payload type.
func (LogPublisher) Publish(_ context.Context, t Topic, payload any) error {
	slog.Info("event published (no broker)",
		"topic", string(t), "payload_type", fmt.Sprintf("%T", payload))
	return nil
}

// BestEffort publishes payload and logs a warning on failure instead of
// returning it. Emitters in the pipeline treat publication as
// fire-and-forget: broker redelivery of the triggering event is the only
// retry mechanism, so a failed publish must never abort the caller.
func BestEffort(ctx context.Context, p Publisher, t Topic, payload any) {
	if err := p.Publish(ctx, t, payload); err != nil {
		slog.Warn("event publish failed", "topic", string(t), "err", err)
	}
}
