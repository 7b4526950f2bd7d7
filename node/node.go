package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"powledger/blockchain"
	"powledger/blockchain/processing"
	"powledger/blockchain/store"
	"powledger/logger"
	"powledger/mempool"
	"powledger/p2p"
	"powledger/wallet"
)

var ErrBlockNotFound = errors.New("block not found")

// Config holds all configuration for a full node
type Config struct {
	P2P   p2p.Config
	Chain processing.Config

	// Orphan cleanup runs at a random interval in this window.
	OrphanCleanupMin time.Duration
	OrphanCleanupMax time.Duration
}

func DefaultConfig() Config {
	return Config{
		P2P:              p2p.DefaultConfig(),
		Chain:            processing.DefaultConfig(),
		OrphanCleanupMin: 30 * time.Second,
		OrphanCleanupMax: 60 * time.Second,
	}
}

// FullNode ties the chain engine and the mempool to the gossip server.
// The server's event loop is the only goroutine that mutates either; the
// driver methods below reach it through Server.Do.
type FullNode struct {
	config    Config
	store     store.ChainStore
	processor *processing.BlockProcessor
	pool      *mempool.Mempool
	server    *p2p.Server
	log       *slog.Logger

	mu             sync.RWMutex
	blockObservers []func(*blockchain.Block)
	txObservers    []func(*blockchain.Transaction)
}

// NewFullNode creates a node with a fresh in-memory chain holding genesis.
func NewFullNode(config Config) *FullNode {
	def := DefaultConfig()
	if config.OrphanCleanupMin <= 0 {
		config.OrphanCleanupMin = def.OrphanCleanupMin
	}
	if config.OrphanCleanupMax < config.OrphanCleanupMin {
		config.OrphanCleanupMax = config.OrphanCleanupMin
	}

	chainStore := store.NewMemoryChainStore()
	n := &FullNode{
		config:    config,
		store:     chainStore,
		processor: processing.NewBlockProcessor(chainStore, config.Chain),
		pool:      mempool.New(),
		log:       logger.With("node", config.P2P.Name),
	}
	n.server = p2p.NewServer(config.P2P, n)
	n.server.AddTimer("orphans", config.OrphanCleanupMin, config.OrphanCleanupMax, func() {
		n.processor.Cleanup()
	})
	return n
}

// Start binds the P2P listener so Addr is known before Run.
func (n *FullNode) Start() error {
	return n.server.Start()
}

// Run serves the node until ctx is cancelled.
func (n *FullNode) Run(ctx context.Context) error {
	n.log.Info("Full node starting", "height", n.processor.Height(), "difficulty", n.processor.Difficulty())
	return n.server.Run(ctx)
}

func (n *FullNode) Name() string { return n.config.P2P.Name }

// Addr is the P2P address announced to other nodes.
func (n *FullNode) Addr() string { return n.server.Addr() }

// OnBlockAccepted registers fn for every block that joins the active chain,
// including blocks connected by a reorganization. fn runs on the event loop
// and must not block.
func (n *FullNode) OnBlockAccepted(fn func(*blockchain.Block)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.blockObservers = append(n.blockObservers, fn)
}

// OnTransactionAccepted registers fn for every transaction added to the
// mempool. fn runs on the event loop and must not block.
func (n *FullNode) OnTransactionAccepted(fn func(*blockchain.Transaction)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.txObservers = append(n.txObservers, fn)
}

func (n *FullNode) notifyBlock(block *blockchain.Block) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, fn := range n.blockObservers {
		fn(block)
	}
}

func (n *FullNode) notifyTransaction(tx *blockchain.Transaction) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, fn := range n.txObservers {
		fn(tx)
	}
}

// OnNewBlock feeds a block from the network into the chain engine.
func (n *FullNode) OnNewBlock(block *blockchain.Block) (bool, error) {
	result, err := n.processor.ProcessBlock(block)
	if err != nil {
		return false, err
	}
	n.apply(result)
	return result.Stored(), nil
}

// apply keeps the mempool in step with a chain change: transactions of
// connected blocks leave the pool, and those of disconnected blocks come
// back if they are still valid on the new chain.
func (n *FullNode) apply(result processing.Result) {
	for _, block := range result.Connected {
		if removed := n.pool.RemoveBlock(block); removed > 0 {
			n.log.Debug("Purged mined transactions", "hash", blockchain.Short(block.Hash), "removed", removed)
		}
	}
	for _, block := range result.Disconnected {
		for i := range block.Transactions {
			tx := &block.Transactions[i]
			if tx.IsCoinbase() || n.pool.Has(tx.ID) {
				continue
			}
			if err := n.processor.ValidateTransaction(tx); err != nil {
				continue
			}
			if err := n.pool.Add(tx); err == nil {
				n.log.Debug("Returned transaction to mempool", "tx", blockchain.Short(tx.ID))
			}
		}
	}
	for _, block := range result.Connected {
		n.notifyBlock(block)
	}
}

// OnNewTransaction validates a transaction against the active chain and
// pools it.
func (n *FullNode) OnNewTransaction(tx *blockchain.Transaction) (bool, error) {
	if n.pool.Has(tx.ID) {
		return false, nil
	}
	if tx.IsCoinbase() {
		return false, &blockchain.ValidationError{Kind: blockchain.ErrMisplacedCoinbase, TxID: tx.ID}
	}
	if err := n.processor.ValidateTransaction(tx); err != nil {
		return false, err
	}
	if err := n.pool.Add(tx); err != nil {
		return false, nil
	}
	n.log.Debug("Transaction pooled", "tx", blockchain.Short(tx.ID), "pending", n.pool.Len())
	n.notifyTransaction(tx)
	return true, nil
}

func (n *FullNode) ChainSnapshot() []*blockchain.Block {
	return n.processor.Blocks()
}

func (n *FullNode) MempoolSnapshot() []*blockchain.Transaction {
	return n.pool.All()
}

// SubmitBlock processes a block as if it arrived from a neighbor and
// floods it if it was stored.
func (n *FullNode) SubmitBlock(ctx context.Context, block *blockchain.Block) (processing.Outcome, error) {
	var (
		outcome processing.Outcome
		err     error
	)
	if derr := n.server.Do(ctx, func() { outcome, err = n.acceptLocalBlock(block) }); derr != nil {
		return 0, derr
	}
	return outcome, err
}

func (n *FullNode) acceptLocalBlock(block *blockchain.Block) (processing.Outcome, error) {
	result, err := n.processor.ProcessBlock(block)
	if err != nil {
		return 0, err
	}
	n.apply(result)
	if result.Stored() {
		n.server.BroadcastBlock(block, nil)
	}
	return result.Outcome, nil
}

// SubmitTransaction validates tx, pools it and floods it. A transaction
// that is already pooled yields mempool.ErrDuplicate.
func (n *FullNode) SubmitTransaction(ctx context.Context, tx *blockchain.Transaction) error {
	var (
		stored bool
		err    error
	)
	derr := n.server.Do(ctx, func() {
		stored, err = n.OnNewTransaction(tx)
		if stored {
			n.server.BroadcastTransaction(tx, nil)
		}
	})
	if derr != nil {
		return derr
	}
	if err != nil {
		return err
	}
	if !stored {
		return mempool.ErrDuplicate
	}
	return nil
}

// Mine assembles a block from the mempool, searches for a nonce off the
// event loop and submits the result. Pooled transactions that no longer
// validate are dropped. The block may end up buffered rather than on the
// tip if the chain moved while mining; the returned outcome says which.
func (n *FullNode) Mine(ctx context.Context, rewardAddress string) (*blockchain.Block, processing.Outcome, error) {
	var block *blockchain.Block
	err := n.server.Do(ctx, func() {
		var rejected []*blockchain.Transaction
		block, rejected = n.processor.Template(n.pool.All(), rewardAddress)
		for _, tx := range rejected {
			n.pool.Drop(tx.ID)
		}
		if len(rejected) > 0 {
			n.log.Info("Dropped invalid pooled transactions", "dropped", len(rejected))
		}
	})
	if err != nil {
		return nil, 0, err
	}

	started := time.Now()
	if err := blockchain.MineBlock(ctx, block); err != nil {
		return nil, 0, err
	}
	n.log.Info("Mined block",
		"hash", blockchain.Short(block.Hash),
		"difficulty", block.Difficulty,
		"nonce", block.Nonce,
		"transactions", len(block.Transactions),
		"took", time.Since(started).Round(time.Millisecond),
	)

	outcome, err := n.SubmitBlock(ctx, block)
	if err != nil {
		return nil, 0, fmt.Errorf("mined block rejected: %w", err)
	}
	return block, outcome, nil
}

// StartMining mines back to back until ctx is cancelled, pausing between
// blocks. Failures are logged and mining continues.
func (n *FullNode) StartMining(ctx context.Context, rewardAddress string, pause time.Duration) {
	for {
		if _, _, err := n.Mine(ctx, rewardAddress); err != nil {
			if ctx.Err() != nil || errors.Is(err, p2p.ErrServerClosed) {
				return
			}
			n.log.Warn("Mining failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(pause):
		}
	}
}

// Send builds, signs and submits a payment of amount from signer to the
// address to, spending signer's outputs on the active chain.
func (n *FullNode) Send(ctx context.Context, signer blockchain.Signer, to string, amount uint64) (*blockchain.Transaction, error) {
	balance, err := n.Balance(ctx, signer.Address())
	if err != nil {
		return nil, err
	}
	tx, err := wallet.BuildTransaction(signer, n.unpooledUTXOs(ctx, balance.UTXOs), to, amount)
	if err != nil {
		return nil, err
	}
	if err := n.SubmitTransaction(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// unpooledUTXOs filters out outputs already spent by a pending transaction
// so back-to-back sends do not conflict.
func (n *FullNode) unpooledUTXOs(ctx context.Context, utxos []blockchain.UTXO) []blockchain.UTXO {
	pending, err := n.PendingTransactions(ctx)
	if err != nil || len(pending) == 0 {
		return utxos
	}
	type outpoint struct {
		id    string
		index int
	}
	spent := make(map[outpoint]struct{})
	for _, tx := range pending {
		for _, in := range tx.TxIns {
			spent[outpoint{in.TxOutID, in.TxOutIndex}] = struct{}{}
		}
	}
	out := utxos[:0:0]
	for _, u := range utxos {
		if _, ok := spent[outpoint{u.TxOutID, u.TxOutIndex}]; !ok {
			out = append(out, u)
		}
	}
	return out
}

func (n *FullNode) Balance(ctx context.Context, address string) (blockchain.Balance, error) {
	var balance blockchain.Balance
	err := n.server.Do(ctx, func() { balance = n.processor.Balance(address) })
	return balance, err
}

// Blocks returns the active chain, genesis first.
func (n *FullNode) Blocks(ctx context.Context) ([]*blockchain.Block, error) {
	var blocks []*blockchain.Block
	err := n.server.Do(ctx, func() { blocks = n.processor.Blocks() })
	return blocks, err
}

// Block looks a block up on the active chain by hash.
func (n *FullNode) Block(ctx context.Context, hash string) (*blockchain.Block, error) {
	var (
		block *blockchain.Block
		ok    bool
	)
	if err := n.server.Do(ctx, func() { block, ok = n.processor.Block(hash) }); err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBlockNotFound, hash)
	}
	return block, nil
}

func (n *FullNode) PendingTransactions(ctx context.Context) ([]*blockchain.Transaction, error) {
	var txs []*blockchain.Transaction
	err := n.server.Do(ctx, func() { txs = n.pool.All() })
	return txs, err
}

func (n *FullNode) Peers(ctx context.Context) ([]p2p.PeerInfo, error) {
	return n.server.Neighbors(ctx)
}

// Connect dials a neighbor. The dial completes asynchronously.
func (n *FullNode) Connect(ctx context.Context, address string) error {
	return n.server.Connect(ctx, address)
}

// Status is a point-in-time summary of the node.
type Status struct {
	Name       string `json:"name"`
	Address    string `json:"address"`
	Height     int    `json:"height"`
	Tip        string `json:"tip"`
	Difficulty int    `json:"difficulty"`
	Orphans    int    `json:"orphans"`
	Pending    int    `json:"pending"`
	Neighbors  int    `json:"neighbors"`
}

func (n *FullNode) Status(ctx context.Context) (Status, error) {
	var s Status
	err := n.server.Do(ctx, func() {
		s = Status{
			Name:       n.Name(),
			Address:    n.Addr(),
			Height:     n.processor.Height(),
			Tip:        n.processor.Tip().Hash,
			Difficulty: n.processor.Difficulty(),
			Orphans:    n.processor.OrphanCount(),
			Pending:    n.pool.Len(),
			Neighbors:  len(n.server.Peers()),
		}
	})
	return s, err
}
