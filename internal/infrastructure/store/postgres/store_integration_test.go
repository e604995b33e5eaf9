//go:build integration

package postgres_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/duragraph/duragraph/internal/domain/stitchgraph"
	"github.com/duragraph/duragraph/internal/domain/stitchrun"
	"github.com/duragraph/duragraph/internal/infrastructure/store"
	storepg "github.com/duragraph/duragraph/internal/infrastructure/store/postgres"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// setupStore starts a real postgres:16-alpine container, applies
// migrations/000001_init.up.sql against it, and returns a Store backed by a
// pgxpool connected to that container.
func setupStore(t *testing.T) *storepg.Store {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("stitch_test"),
		postgres.WithUsername("stitch"),
		postgres.WithPassword("stitch"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	m, err := migrate.New("file://"+migrationsPath(t), dsn)
	require.NoError(t, err)
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		require.NoError(t, err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return storepg.New(pool)
}

func migrationsPath(t *testing.T) string {
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	path, err := filepath.Abs(filepath.Join(filepath.Dir(file), "..", "..", "..", "..", "migrations"))
	require.NoError(t, err)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("migrations directory not found at %s: %v", path, err)
	}
	return path
}

func TestStore_CreateAndGetRun(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	graph := &stitchgraph.ExecutionGraph{
		Nodes: map[string]stitchgraph.Node{
			"a": {ID: "a", Kind: stitchgraph.KindWorker, Worker: &stitchgraph.WorkerConfig{WorkerType: "echo"}},
		},
		AdjOut: map[string][]string{}, AdjIn: map[string][]string{},
		EdgeData: map[stitchgraph.EdgeKey]map[string]string{},
		Entry:    []string{"a"}, Terminal: []string{"a"},
	}
	versionID, err := s.CreateVersion(ctx, "flow-1", "hash-1", stitchgraph.VisualGraph{}, graph)
	require.NoError(t, err)

	got, err := s.GetFlowVersion(ctx, versionID)
	require.NoError(t, err)
	require.Len(t, got.Nodes, 1)

	run, err := s.CreateRun(ctx, versionID, stitchrun.Trigger{Type: "manual"}, "entity-1", graph.Entry)
	require.NoError(t, err)
	require.NotEmpty(t, run.ID)

	fetched, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, run.ID, fetched.ID)
	require.Equal(t, stitchrun.NodeStatusPending, fetched.NodeStates["a"].Status)
}

func TestStore_UpdateNodeState_CASMismatch(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	graph := &stitchgraph.ExecutionGraph{
		Nodes:    map[string]stitchgraph.Node{"a": {ID: "a", Kind: stitchgraph.KindWorker}},
		AdjOut:   map[string][]string{},
		AdjIn:    map[string][]string{},
		EdgeData: map[stitchgraph.EdgeKey]map[string]string{},
		Entry:    []string{"a"}, Terminal: []string{"a"},
	}
	versionID, err := s.CreateVersion(ctx, "flow-2", "hash-2", stitchgraph.VisualGraph{}, graph)
	require.NoError(t, err)
	run, err := s.CreateRun(ctx, versionID, stitchrun.Trigger{Type: "manual"}, "entity-2", graph.Entry)
	require.NoError(t, err)

	pending := stitchrun.NodeStatusPending
	err = s.UpdateNodeState(ctx, run.ID, "a", stitchrun.NodeState{Status: stitchrun.NodeStatusRunning}, &pending)
	require.NoError(t, err)

	err = s.UpdateNodeState(ctx, run.ID, "a", stitchrun.NodeState{Status: stitchrun.NodeStatusRunning}, &pending)
	require.ErrorIs(t, err, store.ErrCASMismatch)
}

func TestStore_ListWaitingSince(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	graph := &stitchgraph.ExecutionGraph{
		Nodes:    map[string]stitchgraph.Node{"a": {ID: "a", Kind: stitchgraph.KindUX}},
		AdjOut:   map[string][]string{},
		AdjIn:    map[string][]string{},
		EdgeData: map[stitchgraph.EdgeKey]map[string]string{},
		Entry:    []string{"a"}, Terminal: []string{"a"},
	}
	versionID, err := s.CreateVersion(ctx, "flow-3", "hash-3", stitchgraph.VisualGraph{}, graph)
	require.NoError(t, err)
	run, err := s.CreateRun(ctx, versionID, stitchrun.Trigger{Type: "manual"}, "entity-3", graph.Entry)
	require.NoError(t, err)

	stale := stitchrun.NodeState{Status: stitchrun.NodeStatusWaitingForUser, UpdatedAt: time.Now().Add(-2 * time.Hour)}
	require.NoError(t, s.UpdateNodeState(ctx, run.ID, "a", stale, nil))

	waiting, err := s.ListWaitingSince(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, waiting, 1)
	require.Equal(t, run.ID, waiting[0].RunID)
	require.Equal(t, "a", waiting[0].NodeID)
}
