package processing

import (
	"time"

	"powledger/blockchain"
)

type orphan struct {
	block      *blockchain.Block
	insertedAt time.Time
}

// OrphanPool buffers blocks that do not extend the chain tip, keyed by the
// parent hash they expect. It is not safe for concurrent use; the
// BlockProcessor that owns it serialises access.
type OrphanPool struct {
	byParent map[string][]*orphan
	byHash   map[string]*orphan
}

func NewOrphanPool() *OrphanPool {
	return &OrphanPool{
		byParent: make(map[string][]*orphan),
		byHash:   make(map[string]*orphan),
	}
}

// Add buffers block under its previous hash. It returns false if the block
// is already buffered.
func (p *OrphanPool) Add(block *blockchain.Block, now time.Time) bool {
	if _, ok := p.byHash[block.Hash]; ok {
		return false
	}
	o := &orphan{block: block, insertedAt: now}
	p.byHash[block.Hash] = o
	p.byParent[block.PreviousHash] = append(p.byParent[block.PreviousHash], o)
	return true
}

func (p *OrphanPool) Has(hash string) bool {
	_, ok := p.byHash[hash]
	return ok
}

func (p *OrphanPool) Get(hash string) (*blockchain.Block, bool) {
	o, ok := p.byHash[hash]
	if !ok {
		return nil, false
	}
	return o.block, true
}

// Len is the number of buffered blocks.
func (p *OrphanPool) Len() int {
	return len(p.byHash)
}

// Children returns the blocks buffered under parent in arrival order.
func (p *OrphanPool) Children(parent string) []*blockchain.Block {
	entries := p.byParent[parent]
	out := make([]*blockchain.Block, len(entries))
	for i, o := range entries {
		out[i] = o.block
	}
	return out
}

// Anchor follows previous hashes up through buffered blocks and returns the
// first hash that is not itself buffered.
func (p *OrphanPool) Anchor(hash string) string {
	for {
		o, ok := p.byHash[hash]
		if !ok {
			return hash
		}
		hash = o.block.PreviousHash
	}
}

// LongestPath returns the longest chain of buffered blocks hanging off
// parent, parent excluded. Among equally long paths the earliest buffered
// one wins.
func (p *OrphanPool) LongestPath(parent string) []*blockchain.Block {
	var best []*blockchain.Block
	for _, o := range p.byParent[parent] {
		path := append([]*blockchain.Block{o.block}, p.LongestPath(o.block.Hash)...)
		if len(path) > len(best) {
			best = path
		}
	}
	return best
}

// Remove drops a single block, leaving its descendants buffered.
func (p *OrphanPool) Remove(hash string) bool {
	o, ok := p.byHash[hash]
	if !ok {
		return false
	}
	delete(p.byHash, hash)

	parent := o.block.PreviousHash
	siblings := p.byParent[parent]
	for i, s := range siblings {
		if s == o {
			siblings = append(siblings[:i:i], siblings[i+1:]...)
			break
		}
	}
	if len(siblings) == 0 {
		delete(p.byParent, parent)
	} else {
		p.byParent[parent] = siblings
	}
	return true
}

// RemoveSubtree drops hash and every buffered descendant of it. It returns
// the number of blocks removed.
func (p *OrphanPool) RemoveSubtree(hash string) int {
	removed := 0
	for _, child := range p.Children(hash) {
		removed += p.RemoveSubtree(child.Hash)
	}
	if p.Remove(hash) {
		removed++
	}
	return removed
}

// Expire drops every block buffered for longer than ttl.
func (p *OrphanPool) Expire(now time.Time, ttl time.Duration) int {
	var stale []string
	for hash, o := range p.byHash {
		if now.Sub(o.insertedAt) > ttl {
			stale = append(stale, hash)
		}
	}
	for _, hash := range stale {
		p.Remove(hash)
	}
	return len(stale)
}
