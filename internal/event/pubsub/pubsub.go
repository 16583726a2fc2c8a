// Package pubsub provides a Google Cloud Pub/Sub-backed implementation
// of [event.Publisher].
//
// Credentials are resolved the standard way (GOOGLE_APPLICATION_CREDENTIALS
// or ambient service-account identity). Topic handles are created once at
// construction for every logical topic and flushed on Close.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	gcppubsub "cloud.google.com/go/pubsub"

	"github.com/speakscore/speakscore/internal/event"
	"github.com/speakscore/speakscore/internal/observe"
)

// Compile-time assertion that Client satisfies event.Publisher.
var _ event.Publisher = (*Client)(nil)

// Client publishes pipeline events to Google Cloud Pub/Sub. It is safe
// for concurrent use.
type Client struct {
	client  *gcppubsub.Client
	binding event.Binding
	metrics *observe.Metrics

	mu     sync.Mutex
	topics map[event.Topic]*gcppubsub.Topic
	closed bool
}

// New connects to the Pub/Sub service for projectID and prepares topic
// handles for every logical topic in binding. The caller must Close the
// client to flush pending publishes.
func New(ctx context.Context, projectID string, binding event.Binding, metrics *observe.Metrics) (*Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("pubsub: project ID must not be empty")
	}
	if binding == nil {
		binding = event.DefaultBinding()
	}

	client, err := gcppubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub: create client: %w", err)
	}

	topics := make(map[event.Topic]*gcppubsub.Topic, len(event.AllTopics))
	for _, t := range event.AllTopics {
		topics[t] = client.Topic(binding.Resolve(t))
	}

	return &Client{
		client:  client,
		binding: binding,
		metrics: metrics,
		topics:  topics,
	}, nil
}

// Publish implements [event.Publisher]. The payload is serialised to
// JSON and the publish result is awaited so failures surface to the
// caller; callers that want fire-and-forget semantics wrap Publish in
// [event.BestEffort].
func (c *Client) Publish(ctx context.Context, t event.Topic, payload any) error {
	if !t.IsValid() {
		return fmt.Errorf("pubsub: unknown topic %q", t)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("pubsub: client is closed")
	}
	topic := c.topics[t]
	c.mu.Unlock()

	data, err := json.Marshal(payload)
	if err != nil {
		c.recordPublish(ctx, t, "marshal_error")
		return fmt.Errorf("pubsub: marshal payload for %s: %w", t, err)
	}

	res := topic.Publish(ctx, &gcppubsub.Message{Data: data})
	id, err := res.Get(ctx)
	if err != nil {
		c.recordPublish(ctx, t, "error")
		return fmt.Errorf("pubsub: publish to %s: %w", t, err)
	}

	c.recordPublish(ctx, t, "ok")
	slog.Debug("event published", "topic", string(t), "message_id", id)
	return nil
}

// Close stops all topic publish goroutines, flushing buffered messages,
// and releases the underlying client connection.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	topics := c.topics
	c.mu.Unlock()

	for _, topic := range topics {
		topic.Stop()
	}
	return c.client.Close()
}

func (c *Client) recordPublish(ctx context.Context, t event.Topic, status string) {
	if c.metrics == nil {
		return
	}
	c.metrics.RecordPublish(ctx, string(t), status)
}
