package blockchain

import (
	"context"
)

// GenesisBlock is block 0 of every chain. It has the fixed parent hash "0",
// no transactions and timestamp 0; its nonce is mined once at startup so
// the block satisfies its own difficulty like any other block.
var GenesisBlock *Block

func init() {
	GenesisBlock = NewBlock(BlockCreationParams{
		PreviousHash: GenesisPreviousHash,
		Transactions: []Transaction{},
		Timestamp:    0,
		Difficulty:   1,
	})
	// NewBlock treats 0 as "now"
	GenesisBlock.Timestamp = 0

	if err := MineBlock(context.Background(), GenesisBlock); err != nil {
		panic("mine genesis block: " + err.Error())
	}
}

// Genesis returns a private copy of the genesis block.
func Genesis() *Block {
	b := *GenesisBlock
	b.Transactions = []Transaction{}
	return &b
}

// IsGenesis reports whether block is the genesis block.
func IsGenesis(block *Block) bool {
	return block.Hash == GenesisBlock.Hash
}
