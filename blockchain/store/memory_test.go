package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"powledger/blockchain"
)

func nextBlock(t *testing.T, prev *blockchain.Block) *blockchain.Block {
	t.Helper()
	b := blockchain.NewBlock(blockchain.BlockCreationParams{
		PreviousHash: prev.Hash,
		Timestamp:    prev.Timestamp + 1,
		Difficulty:   1,
	})
	require.NoError(t, blockchain.MineBlock(context.Background(), b))
	return b
}

func TestMemoryChainStore(t *testing.T) {
	store := NewMemoryChainStore()

	t.Run("initial state", func(t *testing.T) {
		assert.Equal(t, 1, store.GetChainHeight())
		assert.True(t, blockchain.IsGenesis(store.GetHeadBlock()))
	})

	a := nextBlock(t, store.GetHeadBlock())
	b := nextBlock(t, a)

	t.Run("add blocks", func(t *testing.T) {
		require.NoError(t, store.AddBlock(a))
		require.NoError(t, store.AddBlock(b))
		assert.Equal(t, 3, store.GetChainHeight())
		assert.Equal(t, b, store.GetHeadBlock())
	})

	t.Run("reject unlinked block", func(t *testing.T) {
		err := store.AddBlock(a)
		assert.ErrorIs(t, err, ErrNotLinked)
		assert.Equal(t, 3, store.GetChainHeight())
	})

	t.Run("lookups", func(t *testing.T) {
		got, ok := store.GetBlockByHash(a.Hash)
		require.True(t, ok)
		assert.Equal(t, a, got)

		i, ok := store.GetBlockIndex(b.Hash)
		require.True(t, ok)
		assert.Equal(t, 2, i)

		_, ok = store.GetBlockByHash("ffff")
		assert.False(t, ok)
	})

	t.Run("snapshot is a copy", func(t *testing.T) {
		blocks := store.GetBlocks()
		blocks[1] = nil
		got, _ := store.GetBlockByHash(a.Hash)
		assert.NotNil(t, got)
	})
}

func TestMemoryChainStoreReplace(t *testing.T) {
	store := NewMemoryChainStore()
	genesis := store.GetHeadBlock()
	a := nextBlock(t, genesis)
	require.NoError(t, store.AddBlock(a))

	x := nextBlock(t, genesis)
	y := nextBlock(t, x)
	require.NoError(t, store.ReplaceChain([]*blockchain.Block{genesis, x, y}))

	assert.Equal(t, 3, store.GetChainHeight())
	_, ok := store.GetBlockByHash(a.Hash)
	assert.False(t, ok, "displaced block is no longer indexed")
	i, ok := store.GetBlockIndex(y.Hash)
	require.True(t, ok)
	assert.Equal(t, 2, i)

	assert.ErrorIs(t, store.ReplaceChain(nil), ErrEmptyChain)
	assert.ErrorIs(t, store.ReplaceChain([]*blockchain.Block{x}), ErrNotGenesis)
	assert.Equal(t, 3, store.GetChainHeight())
}
