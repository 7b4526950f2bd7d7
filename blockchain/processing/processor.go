package processing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"powledger/blockchain"
	"powledger/blockchain/store"
	"powledger/logger"
)

type Outcome int

const (
	// Known means the block is already in the chain or the orphan pool.
	Known Outcome = iota
	// Extended means the block was appended to the tip.
	Extended
	// Reorganized means the block completed a branch longer than the
	// active chain and the chain switched to it.
	Reorganized
	// Orphaned means the block was buffered without changing the chain.
	Orphaned
)

func (o Outcome) String() string {
	switch o {
	case Known:
		return "known"
	case Extended:
		return "extended"
	case Reorganized:
		return "reorganized"
	case Orphaned:
		return "orphaned"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result describes what a processed block did to the chain. Connected
// lists every block appended in chain order, cascaded orphans included.
// Disconnected lists the blocks a reorganization removed.
type Result struct {
	Outcome      Outcome
	Connected    []*blockchain.Block
	Disconnected []*blockchain.Block
}

// Stored reports whether the block was kept, in the chain or the pool.
func (r Result) Stored() bool {
	return r.Outcome != Known
}

type Config struct {
	MiningReward      uint64
	MinBlockInterval  time.Duration
	OrphanTTL         time.Duration
	InitialDifficulty int
	Clock             func() time.Time // default time.Now
}

func DefaultConfig() Config {
	return Config{
		MiningReward:      50,
		MinBlockInterval:  10 * time.Second,
		OrphanTTL:         10 * time.Minute,
		InitialDifficulty: 1,
	}
}

// BlockProcessor handles block processing, validation, and orphan management.
// It exclusively owns the chain store, the orphan pool and the difficulty.
type BlockProcessor struct {
	mu           sync.Mutex
	cfg          Config
	store        store.ChainStore
	orphans      *OrphanPool
	difficulty   int
	lastAccepted time.Time
	log          *slog.Logger
}

// NewBlockProcessor creates a new block processor
func NewBlockProcessor(chainStore store.ChainStore, cfg Config) *BlockProcessor {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.InitialDifficulty < 1 {
		cfg.InitialDifficulty = 1
	}
	return &BlockProcessor{
		cfg:          cfg,
		store:        chainStore,
		orphans:      NewOrphanPool(),
		difficulty:   cfg.InitialDifficulty,
		lastAccepted: cfg.Clock(),
		log:          logger.With("component", "processor"),
	}
}

// ProcessBlock attempts to add a block to the main chain, handling orphans
// and competing branches. A returned error means the block was rejected and
// nothing changed.
func (bp *BlockProcessor) ProcessBlock(block *blockchain.Block) (Result, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return bp.processBlock(block)
}

func (bp *BlockProcessor) processBlock(block *blockchain.Block) (Result, error) {
	// 1. Idempotence
	if _, ok := bp.store.GetBlockByHash(block.Hash); ok || bp.orphans.Has(block.Hash) {
		return Result{Outcome: Known}, nil
	}

	// 2. Self-consistency
	if err := blockchain.ValidateBlock(block); err != nil {
		return Result{}, err
	}

	// 3. Direct extension
	tip := bp.store.GetHeadBlock()
	if block.PreviousHash == tip.Hash {
		if err := bp.connect(block); err != nil {
			return Result{}, err
		}
		connected := append([]*blockchain.Block{block}, bp.cascade()...)
		bp.log.Info("Block added to main chain",
			"hash", blockchain.Short(block.Hash),
			"height", bp.store.GetChainHeight(),
			"cascaded", len(connected)-1,
		)
		return Result{Outcome: Extended, Connected: connected}, nil
	}

	// 4. Fork off an earlier chain block, possibly through buffered blocks
	anchor := bp.orphans.Anchor(block.PreviousHash)
	k, anchored := bp.store.GetBlockIndex(anchor)

	bp.orphans.Add(block, bp.cfg.Clock())
	if !anchored {
		// 5. Unknown parent
		bp.log.Info("Block is orphan, missing parent",
			"hash", blockchain.Short(block.Hash),
			"parent", blockchain.Short(block.PreviousHash),
			"orphans", bp.orphans.Len(),
		)
		return Result{Outcome: Orphaned}, nil
	}

	branch := bp.orphans.LongestPath(anchor)
	possibleLength := k + 1 + len(branch)
	if possibleLength <= bp.store.GetChainHeight() {
		bp.log.Debug("Buffered fork block",
			"hash", blockchain.Short(block.Hash),
			"fork_point", k,
			"possible_length", possibleLength,
			"chain_length", bp.store.GetChainHeight(),
		)
		return Result{Outcome: Orphaned}, nil
	}

	result, err := bp.reorganize(k, branch)
	if err != nil {
		return Result{}, err
	}
	return result, nil
}

// connect validates block against the current tip and appends it.
func (bp *BlockProcessor) connect(block *blockchain.Block) error {
	if err := blockchain.ValidateLink(bp.store.GetHeadBlock(), block); err != nil {
		return err
	}
	if err := blockchain.ValidateBlockTransactions(bp.store.GetBlocks(), block, bp.cfg.MiningReward); err != nil {
		return err
	}
	if err := bp.store.AddBlock(block); err != nil {
		return fmt.Errorf("failed to persist block to store: %w", err)
	}
	bp.retarget()
	return nil
}

// cascade splices buffered descendants of the tip into the chain, longest
// path first, until no buffered block extends the tip. Blocks that fail
// validation are discarded together with their descendants.
func (bp *BlockProcessor) cascade() []*blockchain.Block {
	var connected []*blockchain.Block
	for {
		path := bp.orphans.LongestPath(bp.store.GetHeadBlock().Hash)
		if len(path) == 0 {
			return connected
		}
		for _, b := range path {
			if err := bp.connect(b); err != nil {
				dropped := bp.orphans.RemoveSubtree(b.Hash)
				bp.log.Warn("Discarded invalid orphan branch",
					"hash", blockchain.Short(b.Hash),
					"dropped", dropped,
					"error", err,
				)
				break
			}
			bp.orphans.Remove(b.Hash)
			connected = append(connected, b)
		}
	}
}

// reorganize switches the chain to chain[:k+1] followed by branch. Every
// branch block is validated on a candidate copy first, so a failure leaves
// the active chain untouched.
func (bp *BlockProcessor) reorganize(k int, branch []*blockchain.Block) (Result, error) {
	current := bp.store.GetBlocks()

	candidate := make([]*blockchain.Block, k+1, k+1+len(branch))
	copy(candidate, current[:k+1])
	for _, b := range branch {
		prev := candidate[len(candidate)-1]
		err := blockchain.ValidateLink(prev, b)
		if err == nil {
			err = blockchain.ValidateBlockTransactions(candidate, b, bp.cfg.MiningReward)
		}
		if err != nil {
			dropped := bp.orphans.RemoveSubtree(b.Hash)
			bp.log.Warn("Rejected competing branch",
				"hash", blockchain.Short(b.Hash),
				"dropped", dropped,
				"error", err,
			)
			return Result{}, err
		}
		candidate = append(candidate, b)
	}

	if err := bp.store.ReplaceChain(candidate); err != nil {
		return Result{}, fmt.Errorf("failed to replace chain: %w", err)
	}

	now := bp.cfg.Clock()
	for _, b := range branch {
		bp.orphans.Remove(b.Hash)
		bp.retarget()
	}
	// displaced blocks stay buffered so their branch can win back later
	displaced := current[k+1:]
	for _, b := range displaced {
		bp.orphans.Add(b, now)
	}

	connected := append(append([]*blockchain.Block{}, branch...), bp.cascade()...)
	bp.log.Info("Chain reorganized",
		"fork_point", k,
		"disconnected", len(displaced),
		"connected", len(connected),
		"height", bp.store.GetChainHeight(),
	)
	outcome := Reorganized
	if len(displaced) == 0 {
		outcome = Extended
	}
	return Result{Outcome: outcome, Connected: connected, Disconnected: displaced}, nil
}

// retarget runs the single-sample difficulty adjustment for one accepted block.
func (bp *BlockProcessor) retarget() {
	now := bp.cfg.Clock()
	elapsed := now.Sub(bp.lastAccepted)
	bp.lastAccepted = now

	next := blockchain.Retarget(bp.difficulty, elapsed, bp.cfg.MinBlockInterval)
	if next != bp.difficulty {
		bp.log.Debug("Difficulty adjusted", "from", bp.difficulty, "to", next, "elapsed", elapsed)
	}
	bp.difficulty = next
}

// Cleanup drops orphans buffered for longer than the configured TTL.
func (bp *BlockProcessor) Cleanup() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	removed := bp.orphans.Expire(bp.cfg.Clock(), bp.cfg.OrphanTTL)
	if removed > 0 {
		bp.log.Info("Expired orphan blocks", "removed", removed, "remaining", bp.orphans.Len())
	}
	return removed
}

// CreateCoinbaseTransaction pays the mining reward to address. The
// sentinel input records the current chain length.
func (bp *BlockProcessor) CreateCoinbaseTransaction(address string) *blockchain.Transaction {
	return blockchain.NewCoinbaseTransaction(address, bp.cfg.MiningReward, bp.store.GetChainHeight())
}

// Template builds an unmined block on the tip: a coinbase to rewardAddress
// followed by every transaction of txs that validates in sequence. The
// transactions that did not validate are returned alongside.
func (bp *BlockProcessor) Template(txs []*blockchain.Transaction, rewardAddress string) (*blockchain.Block, []*blockchain.Transaction) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	chain := bp.store.GetBlocks()
	tip := chain[len(chain)-1]

	pending := &blockchain.Block{Transactions: []blockchain.Transaction{*bp.CreateCoinbaseTransaction(rewardAddress)}}
	view := append(chain, pending)

	var rejected []*blockchain.Transaction
	for _, tx := range txs {
		err := blockchain.ValidateTransaction(view, tx, bp.cfg.MiningReward)
		if err == nil && tx.IsCoinbase() {
			err = &blockchain.ValidationError{Kind: blockchain.ErrMisplacedCoinbase, TxID: tx.ID}
		}
		if err != nil {
			bp.log.Debug("Skipping transaction for block", "tx", blockchain.Short(tx.ID), "error", err)
			rejected = append(rejected, tx)
			continue
		}
		pending.Transactions = append(pending.Transactions, *tx)
	}

	ts := bp.cfg.Clock().UnixMilli()
	if ts < tip.Timestamp {
		ts = tip.Timestamp
	}
	block := blockchain.NewBlock(blockchain.BlockCreationParams{
		PreviousHash: tip.Hash,
		Transactions: pending.Transactions,
		Timestamp:    ts,
		Difficulty:   bp.difficulty,
	})
	return block, rejected
}

// Mine builds a template, searches for a nonce and submits the result. The
// nonce search runs without holding the processor lock.
func (bp *BlockProcessor) Mine(ctx context.Context, txs []*blockchain.Transaction, rewardAddress string) (*blockchain.Block, Result, error) {
	block, _ := bp.Template(txs, rewardAddress)
	if err := blockchain.MineBlock(ctx, block); err != nil {
		return nil, Result{}, err
	}
	result, err := bp.ProcessBlock(block)
	if err != nil {
		return nil, Result{}, fmt.Errorf("mined block rejected: %w", err)
	}
	return block, result, nil
}

// ValidateTransaction checks tx against the active chain.
func (bp *BlockProcessor) ValidateTransaction(tx *blockchain.Transaction) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return blockchain.ValidateTransaction(bp.store.GetBlocks(), tx, bp.cfg.MiningReward)
}

func (bp *BlockProcessor) Balance(address string) blockchain.Balance {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return blockchain.ComputeBalance(bp.store.GetBlocks(), address)
}

// Blocks returns the active chain, genesis first.
func (bp *BlockProcessor) Blocks() []*blockchain.Block {
	return bp.store.GetBlocks()
}

func (bp *BlockProcessor) Tip() *blockchain.Block {
	return bp.store.GetHeadBlock()
}

// Height is the number of blocks in the active chain, genesis included.
func (bp *BlockProcessor) Height() int {
	return bp.store.GetChainHeight()
}

func (bp *BlockProcessor) Block(hash string) (*blockchain.Block, bool) {
	return bp.store.GetBlockByHash(hash)
}

func (bp *BlockProcessor) HasBlock(hash string) bool {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	_, ok := bp.store.GetBlockByHash(hash)
	return ok || bp.orphans.Has(hash)
}

func (bp *BlockProcessor) Difficulty() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return bp.difficulty
}

// OrphanCount returns the number of orphan blocks waiting for parents
func (bp *BlockProcessor) OrphanCount() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return bp.orphans.Len()
}
