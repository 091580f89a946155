//go:build integration
// +build integration

package repo_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	appconfig "arena-api/internal/config"
	"arena-api/internal/svc"
	"arena-api/pkg/engine"
)

// These tests exercise the real Postgres and Redis backends and only run
// under the integration build tag, against the config in etc/arena.yaml.

func newIntegrationServiceContext(t *testing.T) *svc.ServiceContext {
	t.Helper()
	cfg := appconfig.MustLoad("../../etc/arena.yaml")
	return svc.NewServiceContext(*cfg)
}

func TestPostgresConnectivity(t *testing.T) {
	sc := newIntegrationServiceContext(t)
	db := requirePostgres(t, sc)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var one int
	err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
	require.NoError(t, err, "postgres connectivity check failed")
	require.Equal(t, 1, one)
}

func TestSessionGetUnknownID(t *testing.T) {
	sc := newIntegrationServiceContext(t)
	requirePostgres(t, sc)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	_, err := sc.Repos.Sessions.Get(ctx, "integration-no-such-session")
	require.ErrorIs(t, err, engine.ErrSessionNotFound)
}

func TestTickLockRoundTrip(t *testing.T) {
	sc := newIntegrationServiceContext(t)
	if sc.Locker == nil {
		t.Skip("redis not configured (Locker nil)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sessionID := fmt.Sprintf("integration-%d", time.Now().UnixNano())

	ok, err := sc.Locker.AcquireTickLock(ctx, sessionID, 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok, "first acquire should win the lock")

	ok, err = sc.Locker.AcquireTickLock(ctx, sessionID, 10*time.Second)
	require.NoError(t, err)
	require.False(t, ok, "second acquire should lose while the lock is held")

	require.NoError(t, sc.Locker.ReleaseTickLock(ctx, sessionID))

	ok, err = sc.Locker.AcquireTickLock(ctx, sessionID, 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok, "acquire should succeed again after release")
	require.NoError(t, sc.Locker.ReleaseTickLock(ctx, sessionID))
}

func requirePostgres(t *testing.T, sc *svc.ServiceContext) *sql.DB {
	t.Helper()
	if sc.DBConn == nil {
		t.Skip("postgres not configured (DBConn nil)")
	}
	raw, err := sc.DBConn.RawDB()
	if err != nil {
		t.Fatalf("failed to obtain postgres handle: %v", err)
	}
	if err := raw.Ping(); err != nil && errors.Is(err, context.DeadlineExceeded) {
		t.Skipf("postgres unreachable: %v", err)
	}
	return raw
}
