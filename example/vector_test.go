package example

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finikit/storesync/adapter"
)

func testSnapshot() *adapter.Snapshot {
	return &adapter.Snapshot{
		ResourceID: "store-7",
		Profile: map[string]interface{}{
			"name":     "Demo Store",
			"currency": "ARS",
		},
		Orders: map[string]interface{}{
			"total_revenue": 99.5,
		},
	}
}

func TestMemoryVectorIndexReindex(t *testing.T) {
	ctx := context.Background()
	index := NewMemoryVectorIndex()

	written, err := index.Reindex(ctx, "store-7", testSnapshot())
	require.NoError(t, err)
	assert.Equal(t, 3, written)

	meta, err := index.Describe(ctx, "store-7")
	require.NoError(t, err)
	assert.Equal(t, 3, meta["documents"])
	assert.Equal(t, "Demo Store", meta["profile.name"])
	assert.Equal(t, 99.5, meta["orders.total_revenue"])
}

func TestMemoryVectorIndexReindexReplaces(t *testing.T) {
	ctx := context.Background()
	index := NewMemoryVectorIndex()

	_, err := index.Reindex(ctx, "store-7", testSnapshot())
	require.NoError(t, err)

	// 重建以新快照为准，旧板块整体消失
	_, err = index.Reindex(ctx, "store-7", &adapter.Snapshot{
		ResourceID: "store-7",
		Profile:    map[string]interface{}{"name": "Renamed"},
	})
	require.NoError(t, err)

	meta, err := index.Describe(ctx, "store-7")
	require.NoError(t, err)
	assert.Equal(t, 1, meta["documents"])
	assert.Equal(t, "Renamed", meta["profile.name"])
	assert.NotContains(t, meta, "orders.total_revenue")
}

func TestMemoryVectorIndexNilSnapshotClears(t *testing.T) {
	ctx := context.Background()
	index := NewMemoryVectorIndex()

	_, err := index.Reindex(ctx, "store-7", testSnapshot())
	require.NoError(t, err)

	written, err := index.Reindex(ctx, "store-7", nil)
	require.NoError(t, err)
	assert.Zero(t, written)

	meta, err := index.Describe(ctx, "store-7")
	require.NoError(t, err)
	assert.Empty(t, meta)
}

func TestMemoryVectorIndexDeleteAll(t *testing.T) {
	ctx := context.Background()
	index := NewMemoryVectorIndex()

	_, err := index.Reindex(ctx, "store-7", testSnapshot())
	require.NoError(t, err)
	require.NoError(t, index.DeleteAll(ctx, "store-7"))

	meta, err := index.Describe(ctx, "store-7")
	require.NoError(t, err)
	assert.Empty(t, meta)
}

func TestStaticPlatformErrors(t *testing.T) {
	ctx := context.Background()
	platform := NewStaticPlatform()
	platform.SetSnapshot("store-7", testSnapshot())
	creds := adapter.Credentials{AccessToken: "token"}

	// 空凭证
	_, err := platform.FetchSnapshot(ctx, "store-7", adapter.Credentials{})
	assert.Error(t, err)

	// 未预置的资源
	_, err = platform.FetchSnapshot(ctx, "store-404", creds)
	assert.Error(t, err)

	// 注入两次瞬时失败后恢复
	platform.FailNext("store-7", 2)
	_, err = platform.FetchSnapshot(ctx, "store-7", creds)
	assert.Error(t, err)
	_, err = platform.FetchSnapshot(ctx, "store-7", creds)
	assert.Error(t, err)

	snap, err := platform.FetchSnapshot(ctx, "store-7", creds)
	require.NoError(t, err)
	assert.Equal(t, "Demo Store", snap.Profile["name"])
	assert.False(t, snap.FetchedAt.IsZero())
}
