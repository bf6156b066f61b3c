//go:build integration

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// newTestPostgresAdapter spins up a throwaway postgres container, grounded
// on codeready-toolchain-tarsy's pkg/database test setup: container per
// test, terminated on cleanup, adapter migrated against it the same way
// NewPostgresAdapter migrates in production.
func newTestPostgresAdapter(t *testing.T) *PostgresAdapter {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("cortexd_test"),
		tcpostgres.WithUsername("cortexd"),
		tcpostgres.WithPassword("cortexd"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	mappedPort, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	adapter, err := NewPostgresAdapter(ctx, PostgresConfig{
		Host:            host,
		Port:            mappedPort.Int(),
		User:            "cortexd",
		Password:        "cortexd",
		Database:        "cortexd_test",
		SSLMode:         "disable",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(func() { adapter.Close() })
	return adapter
}

func TestPostgresAdapterStoreAndGet(t *testing.T) {
	adapter := newTestPostgresAdapter(t)
	ctx := context.Background()

	rec := sampleRecord("pg-rec-1")
	require.NoError(t, adapter.Store(ctx, rec))

	got, err := adapter.Get(ctx, "pg-rec-1")
	require.NoError(t, err)
	assert.Equal(t, rec.AgentID, got.AgentID)
	assert.Equal(t, rec.Kind, got.Kind)
	assert.InDelta(t, 0.6, got.Embedding[0], 1e-6)
}

func TestPostgresAdapterUpdateOptimisticConcurrency(t *testing.T) {
	adapter := newTestPostgresAdapter(t)
	ctx := context.Background()

	rec := sampleRecord("pg-rec-2")
	require.NoError(t, adapter.Store(ctx, rec))

	rec.Importance = 0.9
	require.NoError(t, adapter.Update(ctx, rec, 1))

	stale := sampleRecord("pg-rec-2")
	stale.Importance = 0.1
	err := adapter.Update(ctx, stale, 1)
	assert.Error(t, err)
}

func TestPostgresAdapterStats(t *testing.T) {
	adapter := newTestPostgresAdapter(t)
	ctx := context.Background()

	require.NoError(t, adapter.Store(ctx, sampleRecord("pg-rec-3")))
	require.NoError(t, adapter.Store(ctx, sampleRecord("pg-rec-4")))

	stats, err := adapter.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
}
