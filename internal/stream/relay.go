package stream

import (
	"context"
	"sync"
)

// Relay is a single-slot "latest wins" hand-off between the client and one subscriber.
// Publishing never blocks; a subscriber that reads slower than the source publishes
// only ever observes the most recent message, intermediate ones are lost.
type Relay struct {
	mu      sync.Mutex
	latest  Message
	seq     uint64
	changed chan struct{}
}

// NewRelay returns an empty relay.
func NewRelay() *Relay {
	return &Relay{changed: make(chan struct{})}
}

// Publish replaces the latest message and wakes waiting subscribers.
// It returns the sequence number assigned to msg, starting at 1.
func (r *Relay) Publish(msg Message) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.latest = msg
	r.seq++
	close(r.changed)
	r.changed = make(chan struct{})
	return r.seq
}

// Latest returns the most recent message and its sequence, if any was published.
func (r *Relay) Latest() (Message, uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latest, r.seq, r.seq > 0
}

// Next blocks until a message newer than after is available and returns it with its sequence.
// A returned sequence greater than after+1 means messages were superseded unseen.
func (r *Relay) Next(ctx context.Context, after uint64) (Message, uint64, error) {
	for {
		r.mu.Lock()
		if r.seq > after {
			msg, seq := r.latest, r.seq
			r.mu.Unlock()
			return msg, seq, nil
		}
		changed := r.changed
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return Message{}, after, ctx.Err()
		case <-changed:
		}
	}
}
