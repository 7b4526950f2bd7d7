package blockchain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

type BlockCreationParams struct {
	PreviousHash string
	Transactions []Transaction
	Timestamp    int64 // unix ms, zero means now
	Difficulty   int
}

// NewBlock creates an unmined candidate block. The hash is stamped for
// nonce 0; MineBlock advances the nonce until the hash meets difficulty.
func NewBlock(params BlockCreationParams) *Block {
	ts := params.Timestamp
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}

	difficulty := params.Difficulty
	if difficulty < 1 {
		difficulty = 1
	}

	txs := params.Transactions
	if txs == nil {
		txs = []Transaction{}
	}

	block := &Block{
		PreviousHash: params.PreviousHash,
		Timestamp:    ts,
		Transactions: txs,
		Difficulty:   difficulty,
		Nonce:        0,
	}
	block.Hash = block.ComputeHash()
	return block
}

// ComputeHash hashes previousHash, timestamp, the canonical transaction
// list, nonce and difficulty, in that order.
func (b *Block) ComputeHash() string {
	return b.hashWithPrefix(b.hashPrefix())
}

// hashPrefix is the nonce-independent head of the hash preimage.
func (b *Block) hashPrefix() string {
	return b.PreviousHash + strconv.FormatInt(b.Timestamp, 10) + canonicalTransactions(b.Transactions)
}

func (b *Block) hashWithPrefix(prefix string) string {
	return Hash(prefix + strconv.FormatUint(b.Nonce, 10) + strconv.Itoa(b.Difficulty))
}

// canonicalTransactions is the compact JSON of the list; nil and empty
// lists hash the same.
func canonicalTransactions(txs []Transaction) string {
	if len(txs) == 0 {
		return "[]"
	}
	data, err := json.Marshal(txs)
	if err != nil {
		// Transaction holds only strings, ints and byte slices.
		panic(fmt.Sprintf("canonical transactions: %v", err))
	}
	return string(data)
}

// ContainsTransaction reports whether a transaction with id is in the block.
func (b *Block) ContainsTransaction(id string) bool {
	for i := range b.Transactions {
		if b.Transactions[i].ID == id {
			return true
		}
	}
	return false
}

func SerializeBlock(block *Block) ([]byte, error) {
	return json.Marshal(block)
}

func DeserializeBlock(data []byte) (*Block, error) {
	var block Block
	if err := json.Unmarshal(data, &block); err != nil {
		return nil, fmt.Errorf("decode block: %w", err)
	}
	return &block, nil
}
