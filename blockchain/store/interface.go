package store

import (
	"powledger/blockchain"
)

// ChainStore holds the active chain, genesis first. Validation is the
// caller's job; a store only keeps blocks in order.
type ChainStore interface {

	// Update/Add/Put
	AddBlock(block *blockchain.Block) error
	ReplaceChain(blocks []*blockchain.Block) error

	// Getters
	GetBlockByHash(hash string) (*blockchain.Block, bool)
	GetBlockIndex(hash string) (int, bool)
	GetHeadBlock() *blockchain.Block
	GetChainHeight() int
	GetBlocks() []*blockchain.Block
}
