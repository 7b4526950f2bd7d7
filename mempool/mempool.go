package mempool

import (
	"errors"
	"sync"

	"powledger/blockchain"
)

var ErrDuplicate = errors.New("transaction already pooled")

// Mempool holds pending transactions in arrival order. Nothing is
// persisted; the pool starts empty on every run.
type Mempool struct {
	mu  sync.RWMutex
	txs []*blockchain.Transaction
	ids map[string]struct{}
}

func New() *Mempool {
	return &Mempool{ids: make(map[string]struct{})}
}

// Add appends tx. Validation is the caller's job.
func (m *Mempool) Add(tx *blockchain.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.ids[tx.ID]; ok {
		return ErrDuplicate
	}
	m.ids[tx.ID] = struct{}{}
	m.txs = append(m.txs, tx)
	return nil
}

// All returns a snapshot, oldest first.
func (m *Mempool) All() []*blockchain.Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*blockchain.Transaction, len(m.txs))
	copy(out, m.txs)
	return out
}

func (m *Mempool) Has(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.ids[id]
	return ok
}

func (m *Mempool) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.txs)
}

// RemoveBlock drops every pooled transaction included in block and returns
// how many were dropped.
func (m *Mempool) RemoveBlock(block *blockchain.Block) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	included := make(map[string]struct{}, len(block.Transactions))
	for i := range block.Transactions {
		included[block.Transactions[i].ID] = struct{}{}
	}
	return m.filter(func(tx *blockchain.Transaction) bool {
		_, ok := included[tx.ID]
		return !ok
	})
}

// PopFront removes and returns the oldest transaction.
func (m *Mempool) PopFront() (*blockchain.Transaction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.txs) == 0 {
		return nil, false
	}
	tx := m.txs[0]
	m.txs[0] = nil
	m.txs = m.txs[1:]
	delete(m.ids, tx.ID)
	return tx, true
}

// Drop removes the transaction with id, wherever it sits.
func (m *Mempool) Drop(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.ids[id]; !ok {
		return false
	}
	m.filter(func(tx *blockchain.Transaction) bool { return tx.ID != id })
	return true
}

// filter keeps the transactions for which keep returns true. Caller holds mu.
func (m *Mempool) filter(keep func(*blockchain.Transaction) bool) int {
	kept := m.txs[:0]
	removed := 0
	for _, tx := range m.txs {
		if keep(tx) {
			kept = append(kept, tx)
			continue
		}
		delete(m.ids, tx.ID)
		removed++
	}
	for i := len(kept); i < len(m.txs); i++ {
		m.txs[i] = nil
	}
	m.txs = kept
	return removed
}
