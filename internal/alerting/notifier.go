package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"tradeguard/internal/notify"
)

// Notifier delivers an admitted notification to an external channel.
type Notifier interface {
	Notify(ctx context.Context, note notify.Notification) error
}

// Payload is the JSON document published on the Redis and Kafka channels.
type Payload struct {
	notify.Notification
	SeverityPercent string `json:"severity_percent"`
}

// EncodePayload serialises note for message-oriented channels.
func EncodePayload(note notify.Notification) ([]byte, error) {
	data, err := json.Marshal(Payload{Notification: note, SeverityPercent: note.SeverityPercent()})
	if err != nil {
		return nil, fmt.Errorf("encode notification payload: %w", err)
	}
	return data, nil
}

// Multi fans a notification out to every channel. All channels are attempted;
// failures are joined.
type Multi struct {
	notifiers []Notifier
}

// NewMulti wraps notifiers into a single Notifier.
func NewMulti(notifiers ...Notifier) *Multi {
	return &Multi{notifiers: notifiers}
}

// Len returns the number of wrapped channels.
func (m *Multi) Len() int {
	return len(m.notifiers)
}

// Notify delivers note to every channel.
func (m *Multi) Notify(ctx context.Context, note notify.Notification) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, note); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close releases channels that hold connections.
func (m *Multi) Close() error {
	var errs []error
	for _, n := range m.notifiers {
		if c, ok := n.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

var _ Notifier = (*Multi)(nil)
