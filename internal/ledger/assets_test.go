package ledger

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carbon-ledger/registry-backend/pkg/safemath"
)

func TestMemoryAssetLedgerMintBurnTransfer(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryAssetLedger()

	require.NoError(t, l.CreateAsset(ctx, 1000, "admin", true, 1))
	assert.ErrorIs(t, l.CreateAsset(ctx, 1000, "admin", true, 1), ErrAssetExists)

	require.NoError(t, l.Mint(ctx, 1000, "alice", 100))
	assert.Equal(t, uint64(100), l.Balance(ctx, 1000, "alice"))

	require.NoError(t, l.Transfer(ctx, 1000, "alice", "bob", 40))
	assert.Equal(t, uint64(60), l.Balance(ctx, 1000, "alice"))
	assert.Equal(t, uint64(40), l.Balance(ctx, 1000, "bob"))

	assert.ErrorIs(t, l.BurnFrom(ctx, 1000, "bob", 41), ErrBalanceLow)
	require.NoError(t, l.BurnFrom(ctx, 1000, "bob", 40))
	assert.Equal(t, uint64(0), l.Balance(ctx, 1000, "bob"))

	assert.ErrorIs(t, l.Mint(ctx, 9999, "alice", 1), ErrAssetNotFound)
}

func TestMemoryAssetLedgerRefusesBalanceWrap(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryAssetLedger()
	require.NoError(t, l.CreateAsset(ctx, 1000, "admin", true, 1))

	require.NoError(t, l.Mint(ctx, 1000, "alice", math.MaxUint64))
	assert.ErrorIs(t, l.Mint(ctx, 1000, "alice", 1), safemath.ErrOverflow)
	assert.Equal(t, uint64(math.MaxUint64), l.Balance(ctx, 1000, "alice"))

	require.NoError(t, l.Mint(ctx, 1000, "bob", 1))
	assert.ErrorIs(t, l.Transfer(ctx, 1000, "bob", "alice", 1), safemath.ErrOverflow)
	assert.Equal(t, uint64(1), l.Balance(ctx, 1000, "bob"))
}

func TestMemoryAssetLedgerSnapshotRestore(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryAssetLedger()
	require.NoError(t, l.CreateAsset(ctx, 1, "admin", true, 1))
	require.NoError(t, l.Mint(ctx, 1, "alice", 10))

	snap := l.Snapshot()

	require.NoError(t, l.Mint(ctx, 1, "alice", 90))
	require.NoError(t, l.CreateAsset(ctx, 2, "admin", true, 1))
	assert.Equal(t, uint64(100), l.Balance(ctx, 1, "alice"))

	l.Restore(snap)
	assert.Equal(t, uint64(10), l.Balance(ctx, 1, "alice"))
	assert.False(t, l.HasAsset(2))
}

func TestMemoryNFTHandler(t *testing.T) {
	ctx := context.Background()
	h := NewMemoryNFTHandler()

	assert.ErrorIs(t, h.MintItem(ctx, 1, 0, "alice"), ErrCollectionNotFound)

	require.NoError(t, h.CreateCollection(ctx, 1, "owner", "owner"))
	assert.ErrorIs(t, h.CreateCollection(ctx, 1, "owner", "owner"), ErrCollectionExists)

	require.NoError(t, h.MintItem(ctx, 1, 0, "alice"))
	assert.ErrorIs(t, h.MintItem(ctx, 1, 0, "bob"), ErrItemExists)

	owner, ok := h.ItemOwner(1, 0)
	assert.True(t, ok)
	assert.Equal(t, AccountID("alice"), owner)
	assert.Equal(t, 1, h.ItemCount(1))
}
