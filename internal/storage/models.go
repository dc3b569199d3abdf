package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// NotificationRecord is one admitted notification in the journal. IDs are
// unique per instance only.
type NotificationRecord struct {
	InstanceID  string
	ID          string
	EventID     int64
	Title       string
	Summary     string
	Severity    decimal.Decimal
	Port        string
	Commodity   string
	EventTime   string
	AdmittedAt  time.Time
	DismissedAt *time.Time
	CreatedAt   time.Time
}
