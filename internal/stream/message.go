package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

const controlTypeConnection = "connection"

// ErrEmptyFrame is returned for frames carrying no event object.
var ErrEmptyFrame = errors.New("stream: empty frame")

// Message is one disruption event pushed by the upstream event source.
// Values are never mutated after parsing; a newer Message supersedes an older one.
type Message struct {
	Type           string          `json:"type,omitempty"`
	ID             int64           `json:"id"`
	Title          string          `json:"title"`
	Summary        string          `json:"summary"`
	Severity       decimal.Decimal `json:"severity"`
	Port           string          `json:"port"`
	Commodity      string          `json:"commodity"`
	Timestamp      string          `json:"timestamp"`
	Region         string          `json:"region,omitempty"`
	Source         string          `json:"source,omitempty"`
	SentimentScore *float64        `json:"sentiment_score,omitempty"`
	Tags           []string        `json:"tags,omitempty"`
}

// IsControl reports whether the frame is the upstream greeting rather than an event.
func (m Message) IsControl() bool {
	return m.Type == controlTypeConnection
}

// ParseMessage decodes one JSON text frame.
func ParseMessage(payload []byte) (Message, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Message{}, ErrEmptyFrame
	}

	var msg Message
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return Message{}, fmt.Errorf("decode stream message: %w", err)
	}
	return msg, nil
}
