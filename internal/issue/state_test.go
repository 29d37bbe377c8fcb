package issue

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/metalagman/jeeves/internal/facts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidates(t *testing.T) {
	_, err := New(Params{Repo: "noslash", Issue: Ref{Number: 1}})
	assert.Error(t, err)

	_, err = New(Params{Repo: "o/r"})
	assert.Error(t, err)
}

func TestNewSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".jeeves", FileName)
	f, err := New(Params{
		Repo:     "acme/widgets",
		Issue:    Ref{Number: 12, Title: "Add widgets"},
		Workflow: "default",
		Phase:    "design_draft",
	})
	require.NoError(t, err)
	require.NoError(t, Save(path, f))

	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "design_draft", Phase(loaded))
	assert.Equal(t, "default", Workflow(loaded))
	assert.Equal(t, "issue/12", loaded[KeyBranch])
	assert.Equal(t, float64(12), loaded.Lookup("issue.number"))
	assert.Equal(t, "acme/widgets", loaded.Lookup("issue.repo"))
	assert.Equal(t, "Add widgets", loaded.Lookup("issue.title"))
	assert.Equal(t, float64(SchemaVersion), loaded[KeySchemaVersion])
	assert.Equal(t, map[string]any{}, loaded[facts.StatusKey])
	assert.Equal(t, "acme/widgets#12", Label(loaded))
}

func TestLoadKeepsFreeFormKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte(`{"phase":"x","status":{"ciPassed":true},"pr":{"number":5}}`), 0o644))

	f, err := Load(path)
	require.NoError(t, err)
	SetPhase(f, "y")
	require.NoError(t, Save(path, f))

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "y", Phase(again))
	assert.Equal(t, true, again.Lookup("status.ciPassed"))
	assert.Equal(t, float64(5), again.Lookup("pr.number"))
}

func TestLoadRejectsNonObject(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte(`null`), 0o644))
	_, err := Load(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`[1]`), 0o644))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestWatcherSeesSaveBeforeWait(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	require.NoError(t, Save(path, facts.Facts{"phase": "a"}))

	w, err := Watch(path)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.json"), []byte("{}"), 0o644))
	require.NoError(t, Save(path, facts.Facts{"phase": "b"}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, w.Wait(ctx))
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	require.NoError(t, Save(path, facts.Facts{"phase": "a"}))

	w, err := Watch(path)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.json"), []byte("{}"), 0o644))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, w.Wait(ctx), context.DeadlineExceeded)
}

func TestWatcherWaitCancelled(t *testing.T) {
	w, err := Watch(filepath.Join(t.TempDir(), FileName))
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, w.Wait(ctx), context.Canceled)
}

func TestWatchMissingDir(t *testing.T) {
	_, err := Watch(filepath.Join(t.TempDir(), "missing", FileName))
	assert.Error(t, err)
}
