package notify

import (
	"time"

	"github.com/shopspring/decimal"

	"tradeguard/internal/stream"
)

// Notification is a stream message that passed admission and is visible to users.
type Notification struct {
	ID         string          `json:"id"`
	EventID    int64           `json:"event_id"`
	Title      string          `json:"title"`
	Summary    string          `json:"summary,omitempty"`
	Severity   decimal.Decimal `json:"severity"`
	Port       string          `json:"port,omitempty"`
	Commodity  string          `json:"commodity,omitempty"`
	EventTime  string          `json:"event_timestamp,omitempty"`
	AdmittedAt time.Time       `json:"admitted_at"`
}

// SeverityPercent renders severity as a whole percentage, e.g. "85%".
func (n Notification) SeverityPercent() string {
	return FormatSeverity(n.Severity)
}

// FormatSeverity renders a [0,1] severity as a whole percentage.
func FormatSeverity(severity decimal.Decimal) string {
	return severity.Mul(decimal.NewFromInt(100)).StringFixed(0) + "%"
}

func fromMessage(id string, msg stream.Message, at time.Time) Notification {
	return Notification{
		ID:         id,
		EventID:    msg.ID,
		Title:      msg.Title,
		Summary:    msg.Summary,
		Severity:   msg.Severity,
		Port:       msg.Port,
		Commodity:  msg.Commodity,
		EventTime:  msg.Timestamp,
		AdmittedAt: at,
	}
}
