package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireAndRelease(t *testing.T) {
	ctx := context.Background()
	manager := NewManager(NewMemoryStore())

	res, err := manager.Acquire(ctx, "store-1", "sync:full", time.Minute)
	require.NoError(t, err)
	require.True(t, res.Granted)
	require.NotEmpty(t, res.Token)

	held, err := manager.IsHeld(ctx, "store-1")
	require.NoError(t, err)
	assert.True(t, held)

	released, err := manager.Release(ctx, "store-1", res.Token)
	require.NoError(t, err)
	assert.True(t, released)

	held, err = manager.IsHeld(ctx, "store-1")
	require.NoError(t, err)
	assert.False(t, held)
}

func TestAcquireConflictReportsHolder(t *testing.T) {
	ctx := context.Background()
	manager := NewManager(NewMemoryStore())

	first, err := manager.Acquire(ctx, "store-1", "sync:full", time.Minute)
	require.NoError(t, err)
	require.True(t, first.Granted)

	second, err := manager.Acquire(ctx, "store-1", "sync:incremental", time.Minute)
	require.NoError(t, err)
	assert.False(t, second.Granted)
	assert.Empty(t, second.Token)
	assert.Equal(t, "sync:full", second.HolderPurpose)
	assert.GreaterOrEqual(t, second.HolderAge, time.Duration(0))
}

func TestStaleLockReclaimed(t *testing.T) {
	ctx := context.Background()
	manager := NewManager(NewMemoryStore())

	old, err := manager.Acquire(ctx, "store-1", "sync:full", 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, old.Granted)

	time.Sleep(20 * time.Millisecond)

	// 过期的锁被新的加锁方透明回收
	fresh, err := manager.Acquire(ctx, "store-1", "sync:full", time.Minute)
	require.NoError(t, err)
	assert.True(t, fresh.Granted)
	assert.True(t, fresh.Reclaimed)

	// 旧 token 的迟到释放不能删掉新持有者的锁
	released, err := manager.Release(ctx, "store-1", old.Token)
	require.NoError(t, err)
	assert.False(t, released)

	held, err := manager.IsHeld(ctx, "store-1")
	require.NoError(t, err)
	assert.True(t, held)
}

func TestReleaseWrongToken(t *testing.T) {
	ctx := context.Background()
	manager := NewManager(NewMemoryStore())

	res, err := manager.Acquire(ctx, "store-1", "sync:full", time.Minute)
	require.NoError(t, err)
	require.True(t, res.Granted)

	released, err := manager.Release(ctx, "store-1", "not-the-token")
	require.NoError(t, err)
	assert.False(t, released)

	held, err := manager.IsHeld(ctx, "store-1")
	require.NoError(t, err)
	assert.True(t, held)
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()
	manager := NewManager(NewMemoryStore())

	res, err := manager.Acquire(ctx, "store-1", "sync:full", 50*time.Millisecond)
	require.NoError(t, err)
	require.True(t, res.Granted)

	refreshed, err := manager.Refresh(ctx, "store-1", res.Token, time.Minute)
	require.NoError(t, err)
	assert.True(t, refreshed)

	refreshed, err = manager.Refresh(ctx, "store-1", "not-the-token", time.Minute)
	require.NoError(t, err)
	assert.False(t, refreshed)
}

func TestIndependentResources(t *testing.T) {
	ctx := context.Background()
	manager := NewManager(NewMemoryStore())

	a, err := manager.Acquire(ctx, "store-1", "sync:full", time.Minute)
	require.NoError(t, err)
	b, err := manager.Acquire(ctx, "store-2", "sync:full", time.Minute)
	require.NoError(t, err)
	assert.True(t, a.Granted)
	assert.True(t, b.Granted)
}
