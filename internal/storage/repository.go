package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

//go:embed schema.sql
var schemaSQL string

const (
	insertNotificationSQL = `INSERT INTO notifications (
        instance_id,
        id,
        event_id,
        title,
        summary,
        severity,
        port,
        commodity,
        event_time,
        admitted_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
    )
    ON CONFLICT (instance_id, id) DO NOTHING;`

	markDismissedSQL = `UPDATE notifications
    SET dismissed_at = $3
    WHERE instance_id = $1 AND id = $2 AND dismissed_at IS NULL;`

	listRecentNotificationsSQL = `SELECT
        instance_id,
        id,
        event_id,
        title,
        summary,
        severity,
        port,
        commodity,
        event_time,
        admitted_at,
        dismissed_at,
        created_at
    FROM notifications
    ORDER BY admitted_at DESC, instance_id
    LIMIT $1;`

	countNotificationsSQL = `SELECT COUNT(*) FROM notifications;`

	deleteNotificationsBeforeSQL = `DELETE FROM notifications WHERE admitted_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// NotificationStore defines the journal operations.
type NotificationStore interface {
	InsertNotification(ctx context.Context, rec NotificationRecord) error
	MarkDismissed(ctx context.Context, id string, at time.Time) error
	ListRecentNotifications(ctx context.Context, limit int) ([]NotificationRecord, error)
	CountNotifications(ctx context.Context) (int64, error)
	DeleteNotificationsBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store is the PostgreSQL-backed notification journal. Several replicas may
// share one journal; each writes and dismisses only rows of its own instance.
type Store struct {
	pool     *pgxpool.Pool
	instance string
}

// NewStore wires a pgx pool into a Store writing as instance.
func NewStore(pool *pgxpool.Pool, instance string) *Store {
	return &Store{pool: pool, instance: instance}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// EnsureSchema creates the journal table and indexes when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// Best effort: the session lock is dropped with the connection anyway.
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertNotification journals an admitted notification under the store's
// instance. Re-inserting an id of the same instance is a no-op.
func (s *Store) InsertNotification(ctx context.Context, rec NotificationRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, insertNotificationSQL,
		s.instance,
		rec.ID,
		rec.EventID,
		rec.Title,
		rec.Summary,
		rec.Severity.String(),
		rec.Port,
		rec.Commodity,
		rec.EventTime,
		rec.AdmittedAt,
	)
	if execErr != nil {
		return fmt.Errorf("insert notification: %w", execErr)
	}
	return nil
}

// MarkDismissed stamps dismissed_at on this instance's row. It returns
// pgx.ErrNoRows when the id is unknown or was already dismissed.
func (s *Store) MarkDismissed(ctx context.Context, id string, at time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, markDismissedSQL, s.instance, id, at)
	if execErr != nil {
		return fmt.Errorf("mark notification dismissed: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ListRecentNotifications lists the most recent rows ordered by descending admission time.
func (s *Store) ListRecentNotifications(ctx context.Context, limit int) ([]NotificationRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentNotificationsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent notifications: %w", queryErr)
	}
	defer rows.Close()

	records := make([]NotificationRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanNotification(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// CountNotifications counts journal rows.
func (s *Store) CountNotifications(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countNotificationsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count notifications: %w", scanErr)
	}
	return count, nil
}

// DeleteNotificationsBefore deletes rows admitted before olderThan and reports how many went.
func (s *Store) DeleteNotificationsBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	cmdTag, execErr := pool.Exec(ctx, deleteNotificationsBeforeSQL, olderThan)
	if execErr != nil {
		return 0, fmt.Errorf("delete notifications before: %w", execErr)
	}
	return cmdTag.RowsAffected(), nil
}

func scanNotification(rows pgx.Rows) (NotificationRecord, error) {
	var (
		rec         NotificationRecord
		severityStr string
	)

	if err := rows.Scan(
		&rec.InstanceID,
		&rec.ID,
		&rec.EventID,
		&rec.Title,
		&rec.Summary,
		&severityStr,
		&rec.Port,
		&rec.Commodity,
		&rec.EventTime,
		&rec.AdmittedAt,
		&rec.DismissedAt,
		&rec.CreatedAt,
	); err != nil {
		return NotificationRecord{}, err
	}

	severity, err := decimal.NewFromString(severityStr)
	if err != nil {
		return NotificationRecord{}, fmt.Errorf("parse severity: %w", err)
	}
	rec.Severity = severity
	return rec, nil
}

var (
	_ NotificationStore = (*Store)(nil)
	_ AdvisoryLocker    = (*Store)(nil)
)
