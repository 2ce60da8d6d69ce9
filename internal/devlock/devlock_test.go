package devlock

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestAcquireRelease(t *testing.T) {
	mgr := NewManager(t.TempDir(), zaptest.NewLogger(t))

	lock, err := mgr.Acquire(context.Background(), "serial-1", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "serial-1", lock.Serial())
	assert.Equal(t, "device-lock-serial-1", filepath.Base(lock.Path()))

	require.NoError(t, lock.Release())
	require.NoError(t, lock.Release(), "repeat release must be a no-op")
}

func TestMutualExclusion(t *testing.T) {
	dir := t.TempDir()
	mgr := NewManager(dir, zaptest.NewLogger(t))

	held, err := mgr.Acquire(context.Background(), "serial-1", time.Second)
	require.NoError(t, err)

	_, err = mgr.Acquire(context.Background(), "serial-1", 50*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)

	require.NoError(t, held.Release())

	reacquired, err := mgr.Acquire(context.Background(), "serial-1", time.Second)
	require.NoError(t, err)
	require.NoError(t, reacquired.Release())
}

func TestDistinctSerialsDoNotContend(t *testing.T) {
	mgr := NewManager(t.TempDir(), zaptest.NewLogger(t))

	first, err := mgr.Acquire(context.Background(), "serial-1", time.Second)
	require.NoError(t, err)
	defer first.Release()

	second, err := mgr.Acquire(context.Background(), "serial-2", 50*time.Millisecond)
	require.NoError(t, err)
	defer second.Release()
}

func TestAcquireCancelled(t *testing.T) {
	mgr := NewManager(t.TempDir(), zaptest.NewLogger(t))

	held, err := mgr.Acquire(context.Background(), "serial-1", time.Second)
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err = mgr.Acquire(ctx, "serial-1", time.Minute)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrTimeout)
}
