package mocks

import (
	"sync"

	"powledger/blockchain"
)

// Ledger is an in-memory stand-in for the node's gossip-facing state. It
// stores whatever it has not seen before and validates nothing beyond the
// block hash, unless Reject is set.
type Ledger struct {
	mu     sync.Mutex
	blocks []*blockchain.Block
	txs    []*blockchain.Transaction
	seen   map[string]struct{}

	// Reject, when set, is returned for every incoming block or transaction.
	Reject error
}

// NewLedger returns a ledger holding genesis plus blocks.
func NewLedger(blocks ...*blockchain.Block) *Ledger {
	l := &Ledger{seen: make(map[string]struct{})}
	l.add(blockchain.Genesis())
	for _, b := range blocks {
		l.add(b)
	}
	return l
}

func (l *Ledger) add(b *blockchain.Block) {
	l.blocks = append(l.blocks, b)
	l.seen[b.Hash] = struct{}{}
}

func (l *Ledger) OnNewBlock(block *blockchain.Block) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.Reject != nil {
		return false, l.Reject
	}
	if _, ok := l.seen[block.Hash]; ok {
		return false, nil
	}
	if err := blockchain.ValidateBlock(block); err != nil {
		return false, err
	}
	l.add(block)
	return true, nil
}

func (l *Ledger) OnNewTransaction(tx *blockchain.Transaction) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.Reject != nil {
		return false, l.Reject
	}
	if _, ok := l.seen[tx.ID]; ok {
		return false, nil
	}
	l.seen[tx.ID] = struct{}{}
	l.txs = append(l.txs, tx)
	return true, nil
}

func (l *Ledger) AddTransaction(tx *blockchain.Transaction) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen[tx.ID] = struct{}{}
	l.txs = append(l.txs, tx)
}

func (l *Ledger) ChainSnapshot() []*blockchain.Block {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*blockchain.Block(nil), l.blocks...)
}

func (l *Ledger) MempoolSnapshot() []*blockchain.Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*blockchain.Transaction(nil), l.txs...)
}

// Has reports whether a block or transaction hash has been stored.
func (l *Ledger) Has(hash string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.seen[hash]
	return ok
}
