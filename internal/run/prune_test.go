package run

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/metalagman/jeeves/internal/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPruneRuns(t *testing.T) {
	ctx := context.Background()
	stateDir := t.TempDir()
	conn, err := db.OpenInDir(stateDir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	store := db.NewStore(conn)

	now := time.Now().UTC()
	mk := func(id string, age time.Duration, status string) string {
		dir := filepath.Join(stateDir, "runs", id)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, store.CreateRun(ctx, db.RunRecord{
			RunID:        id,
			CreatedAt:    now.Add(-age).Format(time.RFC3339),
			Issue:        "acme/widgets#1",
			Workflow:     "default",
			Status:       status,
			CurrentPhase: "design_draft",
			StateDir:     dir,
		}))
		return dir
	}
	newest := mk("newest", time.Hour, db.RunCompleted)
	old := mk("old", 72*time.Hour, db.RunStalled)
	active := mk("active", 96*time.Hour, db.RunRunning)

	res, err := PruneRuns(ctx, store, RetentionPolicy{KeepLast: 1}, true)
	require.NoError(t, err)
	assert.Equal(t, PruneResult{Considered: 3, Kept: 2, Deleted: 1}, res)
	assert.DirExists(t, old)

	res, err = PruneRuns(ctx, store, RetentionPolicy{KeepLast: 1}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)
	assert.NoDirExists(t, old)
	assert.DirExists(t, newest)
	assert.DirExists(t, active)

	runs, err := store.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestPruneRunsKeepDays(t *testing.T) {
	ctx := context.Background()
	conn, err := db.OpenInDir(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	store := db.NewStore(conn)

	require.NoError(t, store.CreateRun(ctx, db.RunRecord{RunID: "fresh", Issue: "i", Workflow: "w", Status: db.RunCompleted, CurrentPhase: "p"}))
	require.NoError(t, store.CreateRun(ctx, db.RunRecord{
		RunID: "stale", CreatedAt: time.Now().UTC().Add(-10 * 24 * time.Hour).Format(time.RFC3339),
		Issue: "i", Workflow: "w", Status: db.RunCompleted, CurrentPhase: "p",
	}))

	res, err := PruneRuns(ctx, store, RetentionPolicy{KeepDays: 7}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Kept)
	assert.Equal(t, 1, res.Deleted)
}

func TestPruneRunsNoPolicy(t *testing.T) {
	res, err := PruneRuns(context.Background(), nil, RetentionPolicy{}, false)
	require.NoError(t, err)
	assert.Zero(t, res)
}

func TestRetentionPolicyRetained(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	at := func(d time.Duration) string { return now.Add(-d).Format(time.RFC3339) }
	policy := RetentionPolicy{KeepLast: 1, KeepDays: 2}

	assert.True(t, policy.retained(0, db.RunRecord{Status: db.RunCompleted, CreatedAt: at(100 * time.Hour)}, now))
	assert.True(t, policy.retained(5, db.RunRecord{Status: db.RunRunning, CreatedAt: at(100 * time.Hour)}, now))
	assert.True(t, policy.retained(5, db.RunRecord{Status: db.RunCompleted, CreatedAt: at(time.Hour)}, now))
	assert.True(t, policy.retained(5, db.RunRecord{Status: db.RunCompleted, CreatedAt: "yesterday"}, now))
	assert.False(t, policy.retained(5, db.RunRecord{Status: db.RunFailed, CreatedAt: at(72 * time.Hour)}, now))

	assert.False(t, RetentionPolicy{}.Enabled())
	assert.True(t, RetentionPolicy{KeepDays: 1}.Enabled())
}
