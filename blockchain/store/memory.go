package store

import (
	"errors"
	"fmt"
	"sync"

	"powledger/blockchain"
)

var (
	ErrEmptyChain = errors.New("chain is empty")
	ErrNotGenesis = errors.New("first block is not genesis")
	ErrNotLinked  = errors.New("block does not link to head")
)

type MemoryChainStore struct {
	blocks []*blockchain.Block
	index  map[string]int
	mu     sync.RWMutex
}

// NewMemoryChainStore returns a store holding only the genesis block.
func NewMemoryChainStore() *MemoryChainStore {
	genesis := blockchain.Genesis()
	return &MemoryChainStore{
		blocks: []*blockchain.Block{genesis},
		index:  map[string]int{genesis.Hash: 0},
	}
}

// AddBlock appends block to the head. It only checks the hash link.
func (m *MemoryChainStore) AddBlock(block *blockchain.Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	head := m.blocks[len(m.blocks)-1]
	if block.PreviousHash != head.Hash {
		return fmt.Errorf("%w: %s", ErrNotLinked, blockchain.Short(block.Hash))
	}

	m.index[block.Hash] = len(m.blocks)
	m.blocks = append(m.blocks, block)
	return nil
}

// ReplaceChain atomically replaces the entire chain - used after validation on copy
func (m *MemoryChainStore) ReplaceChain(blocks []*blockchain.Block) error {
	if len(blocks) == 0 {
		return ErrEmptyChain
	}
	if !blockchain.IsGenesis(blocks[0]) {
		return ErrNotGenesis
	}

	index := make(map[string]int, len(blocks))
	for i, b := range blocks {
		index[b.Hash] = i
	}
	replacement := make([]*blockchain.Block, len(blocks))
	copy(replacement, blocks)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.blocks = replacement
	m.index = index
	return nil
}

func (m *MemoryChainStore) GetBlockByHash(hash string) (*blockchain.Block, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	i, ok := m.index[hash]
	if !ok {
		return nil, false
	}
	return m.blocks[i], true
}

// GetBlockIndex returns the position of hash in the chain, genesis being 0.
func (m *MemoryChainStore) GetBlockIndex(hash string) (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	i, ok := m.index[hash]
	return i, ok
}

func (m *MemoryChainStore) GetHeadBlock() *blockchain.Block {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.blocks[len(m.blocks)-1]
}

// GetChainHeight is the number of blocks including genesis.
func (m *MemoryChainStore) GetChainHeight() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blocks)
}

// GetBlocks returns a copy of the block list. The blocks themselves are shared.
func (m *MemoryChainStore) GetBlocks() []*blockchain.Block {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*blockchain.Block, len(m.blocks))
	copy(out, m.blocks)
	return out
}
