//go:build integration

package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"tradeguard/internal/config"
	"tradeguard/internal/storage"
)

// startPostgres runs a throwaway Postgres and returns a pool config pointing at it.
func startPostgres(ctx context.Context, t *testing.T) config.DatabaseConfig {
	t.Helper()
	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("tradeguard"),
		postgres.WithUsername("tradeguard"),
		postgres.WithPassword("tradeguard"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err, "start postgres container")

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return config.DatabaseConfig{DSN: dsn, MaxOpenConns: 4}
}

func openStore(ctx context.Context, t *testing.T, cfg config.DatabaseConfig, instance string) *storage.Store {
	t.Helper()
	pool, err := storage.NewPool(ctx, cfg)
	require.NoError(t, err)
	store := storage.NewStore(pool, instance)
	t.Cleanup(store.Close)
	require.NoError(t, store.EnsureSchema(ctx))
	return store
}

func record(id string, severity string, admitted time.Time) storage.NotificationRecord {
	return storage.NotificationRecord{
		ID:         id,
		EventID:    7,
		Title:      "Typhoon closes Kaohsiung",
		Summary:    "Port operations halted",
		Severity:   decimal.RequireFromString(severity),
		Port:       "Kaohsiung",
		Commodity:  "Semiconductors",
		EventTime:  "2024-05-02T08:00:00Z",
		AdmittedAt: admitted,
	}
}

func TestJournalAgainstPostgres(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	cfg := startPostgres(ctx, t)
	replicaA := openStore(ctx, t, cfg, "replica-a")
	replicaB := openStore(ctx, t, cfg, "replica-b")

	base := time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)

	t.Run("same id from two replicas keeps both rows", func(t *testing.T) {
		require.NoError(t, replicaA.InsertNotification(ctx, record("1717243200000", "0.91", base)))
		require.NoError(t, replicaB.InsertNotification(ctx, record("1717243200000", "0.85", base)))
		require.NoError(t, replicaA.InsertNotification(ctx, record("1717243200000", "0.91", base)))

		count, err := replicaA.CountNotifications(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)
	})

	t.Run("dismissal stamps only the own replica", func(t *testing.T) {
		at := base.Add(time.Minute)
		require.NoError(t, replicaA.MarkDismissed(ctx, "1717243200000", at))
		assert.ErrorIs(t, replicaA.MarkDismissed(ctx, "1717243200000", at), pgx.ErrNoRows)
		assert.ErrorIs(t, replicaA.MarkDismissed(ctx, "unknown", at), pgx.ErrNoRows)

		rows, err := replicaA.ListRecentNotifications(ctx, 10)
		require.NoError(t, err)
		require.Len(t, rows, 2)
		for _, row := range rows {
			if row.InstanceID == "replica-a" {
				require.NotNil(t, row.DismissedAt)
				assert.True(t, row.DismissedAt.Equal(at))
			} else {
				assert.Nil(t, row.DismissedAt)
			}
		}
	})

	t.Run("severity outside the unit range round-trips", func(t *testing.T) {
		require.NoError(t, replicaA.InsertNotification(ctx, record("later", "12.5", base.Add(time.Hour))))

		rows, err := replicaA.ListRecentNotifications(ctx, 1)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "later", rows[0].ID)
		assert.True(t, rows[0].Severity.Equal(decimal.RequireFromString("12.5")))
		assert.Equal(t, "Kaohsiung", rows[0].Port)
	})

	t.Run("delete before cutoff reports removed rows", func(t *testing.T) {
		deleted, err := replicaA.DeleteNotificationsBefore(ctx, base.Add(30*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, int64(2), deleted)

		count, err := replicaB.CountNotifications(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})

	t.Run("advisory lock is exclusive across replicas", func(t *testing.T) {
		const key = int64(0x74726764)

		unlock, acquired, err := replicaA.TryAdvisoryLock(ctx, key)
		require.NoError(t, err)
		require.True(t, acquired)

		_, acquired, err = replicaB.TryAdvisoryLock(ctx, key)
		require.NoError(t, err)
		assert.False(t, acquired)

		unlock()

		unlockB, acquired, err := replicaB.TryAdvisoryLock(ctx, key)
		require.NoError(t, err)
		assert.True(t, acquired)
		unlockB()
	})
}
