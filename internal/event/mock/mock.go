// Package mock provides an in-memory mock implementation of
// [event.Publisher] for use in unit tests.
//
// The mock records every publish and allows tests to inject failures via
// exported fields. It is safe for concurrent use.
package mock

import (
	"context"
	"sync"

	"github.com/speakscore/speakscore/internal/event"
)

// Compile-time interface assertion.
var _ event.Publisher = (*Publisher)(nil)

// PublishCall records the arguments of a single [Publisher.Publish] call.
type PublishCall struct {
	// Topic is the logical topic the payload was published on.
	Topic event.Topic
	// Payload is the value passed to Publish, unserialised.
	Payload any
}

// Publisher is a mock implementation of [event.Publisher].
type Publisher struct {
	mu sync.Mutex

	// PublishError is returned by every Publish call when non-nil.
	PublishError error

	// calls accumulates invocation records.
	calls []PublishCall
}

// Publish implements [event.Publisher] by recording the call.
func (p *Publisher) Publish(_ context.Context, t event.Topic, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, PublishCall{Topic: t, Payload: payload})
	return p.PublishError
}

// Calls returns a copy of all recorded publish calls.
func (p *Publisher) Calls() []PublishCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PublishCall, len(p.calls))
	copy(out, p.calls)
	return out
}

// CallsOn returns the recorded publishes for a single topic.
func (p *Publisher) CallsOn(t event.Topic) []PublishCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []PublishCall
	for _, c := range p.calls {
		if c.Topic == t {
			out = append(out, c)
		}
	}
	return out
}

// Reset discards all recorded calls.
func (p *Publisher) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = nil
}
