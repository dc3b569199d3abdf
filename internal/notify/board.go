package notify

import (
	"strconv"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"tradeguard/internal/stream"
)

const (
	// DefaultCapacity bounds the visible notification list.
	DefaultCapacity = 5
	// DefaultDedupeWindow is how many event ids are remembered when de-duplication is on.
	DefaultDedupeWindow = 256
)

// DefaultThreshold is the severity a message must strictly exceed to be admitted.
var DefaultThreshold = decimal.RequireFromString("0.7")

// Outcome classifies what Admit did with a message.
type Outcome int

const (
	// Admitted means the message became the new head of the board.
	Admitted Outcome = iota
	// BelowThreshold means the severity did not exceed the threshold.
	BelowThreshold
	// Duplicate means the event id was already admitted recently.
	Duplicate
)

func (o Outcome) String() string {
	switch o {
	case Admitted:
		return "admitted"
	case BelowThreshold:
		return "below_threshold"
	case Duplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Result reports the effect of one Admit call.
type Result struct {
	Outcome      Outcome
	Notification Notification
	Evicted      []Notification
}

// Admitted reports whether the message was added to the board.
func (r Result) Admitted() bool {
	return r.Outcome == Admitted
}

// Options tune admission and retention.
type Options struct {
	Threshold       decimal.Decimal
	Capacity        int
	DedupeByEventID bool
	DedupeWindow    int
	Clock           clockwork.Clock
}

// Board holds the most-recent-first list of admitted notifications.
// It is safe for concurrent use.
type Board struct {
	opts  Options
	clock clockwork.Clock

	mu       sync.RWMutex
	items    []Notification
	lastID   int64
	seen     map[int64]struct{}
	seenRing []int64
	seenNext int
}

// NewBoard constructs an empty board.
func NewBoard(opts Options) *Board {
	if opts.Threshold.IsZero() {
		opts.Threshold = DefaultThreshold
	}
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.DedupeWindow <= 0 {
		opts.DedupeWindow = DefaultDedupeWindow
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	b := &Board{
		opts:  opts,
		clock: opts.Clock,
		items: make([]Notification, 0, opts.Capacity),
	}
	if opts.DedupeByEventID {
		b.seen = make(map[int64]struct{}, opts.DedupeWindow)
		b.seenRing = make([]int64, 0, opts.DedupeWindow)
	}
	return b
}

// Threshold returns the admission threshold in use.
func (b *Board) Threshold() decimal.Decimal {
	return b.opts.Threshold
}

// Capacity returns the maximum number of visible notifications.
func (b *Board) Capacity() int {
	return b.opts.Capacity
}

// Admit applies the severity filter to msg and, when it passes, prepends a new
// notification and evicts from the tail beyond capacity.
func (b *Board) Admit(msg stream.Message) Result {
	if !msg.Severity.GreaterThan(b.opts.Threshold) {
		return Result{Outcome: BelowThreshold}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.seen != nil {
		if _, dup := b.seen[msg.ID]; dup {
			return Result{Outcome: Duplicate}
		}
		b.remember(msg.ID)
	}

	now := b.clock.Now()
	n := fromMessage(b.nextID(now.UnixMilli()), msg, now)

	next := make([]Notification, 0, b.opts.Capacity+1)
	next = append(next, n)
	next = append(next, b.items...)

	var evicted []Notification
	if len(next) > b.opts.Capacity {
		evicted = append(evicted, next[b.opts.Capacity:]...)
		next = next[:b.opts.Capacity]
	}
	b.items = next

	return Result{Outcome: Admitted, Notification: n, Evicted: evicted}
}

// Dismiss removes the notification with id. Unknown ids are ignored.
func (b *Board) Dismiss(id string) (Notification, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, n := range b.items {
		if n.ID != id {
			continue
		}
		next := make([]Notification, 0, len(b.items)-1)
		next = append(next, b.items[:i]...)
		next = append(next, b.items[i+1:]...)
		b.items = next
		return n, true
	}
	return Notification{}, false
}

// Count returns how many notifications are visible.
func (b *Board) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.items)
}

// Snapshot returns a copy of the visible notifications, most recent first.
func (b *Board) Snapshot() []Notification {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Notification, len(b.items))
	copy(out, b.items)
	return out
}

// nextID derives an id from the admission time in milliseconds, bumping it
// when two admissions land in the same millisecond.
func (b *Board) nextID(millis int64) string {
	if millis <= b.lastID {
		millis = b.lastID + 1
	}
	b.lastID = millis
	return strconv.FormatInt(millis, 10)
}

func (b *Board) remember(eventID int64) {
	if len(b.seenRing) < b.opts.DedupeWindow {
		b.seenRing = append(b.seenRing, eventID)
	} else {
		delete(b.seen, b.seenRing[b.seenNext])
		b.seenRing[b.seenNext] = eventID
		b.seenNext = (b.seenNext + 1) % b.opts.DedupeWindow
	}
	b.seen[eventID] = struct{}{}
}
