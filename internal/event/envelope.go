package event

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedEnvelope indicates a request body that is not valid JSON,
// or a push envelope whose data field is missing, not valid base64, or
// does not decode to JSON. Webhook handlers respond 400 so the broker
// does not redeliver.
var ErrMalformedEnvelope = errors.New("malformed message envelope")

// ErrMissingField indicates a decoded payload lacking a field required
// for its event type.
var ErrMissingField = errors.New("missing required field")

// PushMessage is the broker's wrapper around an application payload in a
// push delivery.
type PushMessage struct {
	Data        string            `json:"data"`
	MessageID   string            `json:"messageId,omitempty"`
	PublishTime string            `json:"publishTime,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// PushEnvelope is the top-level body of a push delivery.
type PushEnvelope struct {
	Message      *PushMessage `json:"message"`
	Subscription string       `json:"subscription,omitempty"`
}

// Inbound is a decoded webhook request body: the application payload
// plus envelope metadata when the invocation came via push delivery.
type Inbound struct {
	// Payload is the raw JSON application payload, ready to unmarshal
	// into the event's typed struct.
	Payload json.RawMessage

	// MessageID is the broker's message ID, empty for direct invocations.
	MessageID string

	// PublishTime is the broker's publish timestamp string, empty for
	// direct invocations.
	PublishTime string

	// Attributes are the envelope attributes, nil for direct invocations.
	Attributes map[string]string

	// Push reports whether the body was a push envelope rather than a
	// direct payload.
	Push bool
}

// DecodeBody decodes a webhook request body that may be either a direct
// JSON payload or a push envelope. Envelopes are recognised by the
// presence of a "message" field; when present, message.data must hold
// base64 of a JSON payload. Decoding never mutates state.
func DecodeBody(body []byte) (Inbound, error) {
	if !json.Valid(body) {
		return Inbound{}, fmt.Errorf("%w: body is not valid JSON", ErrMalformedEnvelope)
	}

	var env PushEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		// Valid JSON that is not an object (e.g. an array) cannot be
		// either invocation shape.
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	if env.Message == nil {
		// Direct invocation: the body itself is the payload.
		return Inbound{Payload: json.RawMessage(body)}, nil
	}

	if env.Message.Data == "" {
		return Inbound{}, fmt.Errorf("%w: envelope message has no data field", ErrMalformedEnvelope)
	}
	decoded, err := base64.StdEncoding.DecodeString(env.Message.Data)
	if err != nil {
		return Inbound{}, fmt.Errorf("%w: data is not valid base64: %v", ErrMalformedEnvelope, err)
	}
	if !json.Valid(decoded) {
		return Inbound{}, fmt.Errorf("%w: decoded data is not valid JSON", ErrMalformedEnvelope)
	}

	return Inbound{
		Payload:     json.RawMessage(decoded),
		MessageID:   env.Message.MessageID,
		PublishTime: env.Message.PublishTime,
		Attributes:  env.Message.Attributes,
		Push:        true,
	}, nil
}

// EncodePush wraps payload in a push envelope as the broker would,
// marshalling it to JSON and base64-encoding the bytes. Used by the
// publisher's local-delivery mode and by tests.
func EncodePush(payload any, messageID string) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("event: marshal push payload: %w", err)
	}
	env := PushEnvelope{
		Message: &PushMessage{
			Data:      base64.StdEncoding.EncodeToString(data),
			MessageID: messageID,
		},
	}
	return json.Marshal(env)
}
