package run

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryAcquireRunLock(t *testing.T) {
	dir := t.TempDir()

	first, err := TryAcquireRunLock(dir)
	require.NoError(t, err)

	_, err = TryAcquireRunLock(dir)
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, first.Release())

	again, err := AcquireRunLock(dir)
	require.NoError(t, err)
	assert.NoError(t, again.Release())
	assert.NoError(t, (*RunLock)(nil).Release())
}
