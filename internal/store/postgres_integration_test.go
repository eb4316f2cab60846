//go:build integration

package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"
)

func postgresDSN(host string, port nat.Port) string {
	return fmt.Sprintf("postgres://postgres:postgres@%s:%s/psyclass?sslmode=disable", host, port.Port())
}

// startPostgres runs a throwaway PostgreSQL and returns a schema-ready DB
func startPostgres(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_PASSWORD": "postgres",
			"POSTGRES_USER":     "postgres",
			"POSTGRES_DB":       "psyclass",
		},
		WaitingFor: wait.ForSQL("5432/tcp", "postgres", postgresDSN).WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		termCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = container.Terminate(termCtx)
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	db, err := Open(ctx, "postgres", postgresDSN(host, port), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.EnsureSchema(ctx, testResults))
	require.NoError(t, db.EnsureUpstream(ctx, testUpstream))
	return db
}

func TestPostgres_RoundTrip(t *testing.T) {
	ctx := context.Background()
	db := startPostgres(t)

	up, err := NewUpstream(db, testUpstream)
	require.NoError(t, err)
	require.NoError(t, up.Insert(ctx, testRecord(2), testRecord(1)))

	recs, err := up.FetchAfter(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, int64(1), recs[0].ID)

	sink, err := NewSink(db, DefaultSinkConfig(testResults), zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, sink.Persist(ctx, testRows(1, 10)))
	require.Equal(t, 10, countResults(t, db))

	err = sink.Persist(ctx, testRows(1, 1))
	require.True(t, IsDuplicate(err))
	require.False(t, IsTransient(err))

	w, err := NewWatermarkStore(db, "weibo")
	require.NoError(t, err)
	require.NoError(t, w.Save(ctx, 1))
	require.NoError(t, w.Save(ctx, 2))
	v, err := w.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), v)
}
