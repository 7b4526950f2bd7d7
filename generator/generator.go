// Package generator builds signed, mined chains for load scripts, the bot
// and tests. Every chain it returns starts at genesis and is accepted by a
// fresh node with the same mining reward.
package generator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"powledger/blockchain"
	"powledger/wallet"
)

// ChainOptions controls the shape of a generated chain.
type ChainOptions struct {
	Blocks     int
	Accounts   int
	TxPerBlock int
	Reward     uint64
	Seed       uint64
	// Spacing is added to the parent timestamp for each block.
	Spacing time.Duration
}

func DefaultChainOptions() ChainOptions {
	return ChainOptions{
		Blocks:     5,
		Accounts:   3,
		TxPerBlock: 2,
		Reward:     50,
		Seed:       1,
		Spacing:    time.Minute,
	}
}

// Chain is a generated chain and the accounts that own its outputs.
type Chain struct {
	Blocks   []*blockchain.Block
	Accounts []*blockchain.KeySigner
}

// Tip returns the last block.
func (c *Chain) Tip() *blockchain.Block { return c.Blocks[len(c.Blocks)-1] }

// GenerateAccounts creates count fresh key pairs.
func GenerateAccounts(count int) ([]*blockchain.KeySigner, error) {
	accounts := make([]*blockchain.KeySigner, count)
	for i := range accounts {
		signer, err := blockchain.GenerateKeySigner()
		if err != nil {
			return nil, fmt.Errorf("generate account %d: %w", i, err)
		}
		accounts[i] = signer
	}
	return accounts, nil
}

// GenerateChain mines opts.Blocks blocks on top of genesis. Miners rotate
// through the accounts. Each block also carries up to opts.TxPerBlock
// payments between accounts, at most one per sender, funded from outputs
// confirmed in earlier blocks.
func GenerateChain(opts ChainOptions) (*Chain, error) {
	if opts.Accounts < 2 {
		return nil, errors.New("generator: need at least 2 accounts")
	}
	if opts.Reward == 0 {
		return nil, errors.New("generator: reward must be positive")
	}
	accounts, err := GenerateAccounts(opts.Accounts)
	if err != nil {
		return nil, err
	}

	c := &Chain{Blocks: []*blockchain.Block{blockchain.Genesis()}, Accounts: accounts}
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))

	for i := range opts.Blocks {
		txs, err := c.payments(rng, opts.TxPerBlock)
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", i+1, err)
		}
		miner := accounts[i%len(accounts)]
		block, err := c.Mine(miner.Address(), opts.Reward, opts.Spacing, txs...)
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", i+1, err)
		}
		c.Blocks = append(c.Blocks, block)
	}
	return c, nil
}

func (c *Chain) payments(rng *rand.Rand, limit int) ([]blockchain.Transaction, error) {
	var txs []blockchain.Transaction
	for _, idx := range rng.Perm(len(c.Accounts)) {
		if len(txs) >= limit {
			break
		}
		sender := c.Accounts[idx]
		balance := blockchain.ComputeBalance(c.Blocks, sender.Address())
		if balance.Balance == 0 {
			continue
		}
		receiver := c.Accounts[(idx+1+rng.IntN(len(c.Accounts)-1))%len(c.Accounts)]
		amount := 1 + rng.Uint64N(balance.Balance)

		tx, err := wallet.BuildTransaction(sender, balance.UTXOs, receiver.Address(), amount)
		if err != nil {
			return nil, err
		}
		txs = append(txs, *tx)
	}
	return txs, nil
}

// Mine builds and mines a difficulty 1 block on the current tip paying
// reward to miner. The block is returned, not appended.
func (c *Chain) Mine(miner string, reward uint64, spacing time.Duration, txs ...blockchain.Transaction) (*blockchain.Block, error) {
	tip := c.Tip()
	coinbase := blockchain.NewCoinbaseTransaction(miner, reward, len(c.Blocks))
	ts := tip.Timestamp + spacing.Milliseconds()
	if ts == 0 {
		// NewBlock stamps the wall clock over a zero timestamp
		ts = 1
	}
	block := blockchain.NewBlock(blockchain.BlockCreationParams{
		PreviousHash: tip.Hash,
		Transactions: append([]blockchain.Transaction{*coinbase}, txs...),
		Timestamp:    ts,
		Difficulty:   1,
	})
	if err := blockchain.MineBlock(context.Background(), block); err != nil {
		return nil, err
	}
	return block, nil
}

// InvalidTransactions returns transactions from sender to receiver that a
// node must reject, keyed by the reason. sender needs a confirmed balance
// of at least 2 on the chain.
func (c *Chain) InvalidTransactions(sender, receiver *blockchain.KeySigner) (map[string]*blockchain.Transaction, error) {
	balance := blockchain.ComputeBalance(c.Blocks, sender.Address())
	if balance.Balance < 2 {
		return nil, fmt.Errorf("%w: sender has %d", wallet.ErrInsufficientFunds, balance.Balance)
	}
	build := func() (*blockchain.Transaction, error) {
		return wallet.BuildTransaction(sender, balance.UTXOs, receiver.Address(), 1)
	}
	invalid := make(map[string]*blockchain.Transaction)

	tx, err := build()
	if err != nil {
		return nil, err
	}
	tx.ID = blockchain.Hash("tampered")
	invalid["malformed_id"] = tx

	tx, err = build()
	if err != nil {
		return nil, err
	}
	if tx.TxIns[0].Signature, err = sender.Sign("not-this-input"); err != nil {
		return nil, err
	}
	tx.ID = tx.ComputeID()
	invalid["bad_signature"] = tx

	tx, err = build()
	if err != nil {
		return nil, err
	}
	tx.TxOuts[0].Amount += balance.Balance
	tx.ID = tx.ComputeID()
	invalid["unbalanced"] = tx

	tx, err = build()
	if err != nil {
		return nil, err
	}
	tx.TxIns[0].TxOutID = blockchain.Hash("nowhere")
	if err := tx.SignInput(0, sender); err != nil {
		return nil, err
	}
	invalid["missing_utxo"] = tx

	// the output sum wraps around to the input total
	tx, err = build()
	if err != nil {
		return nil, err
	}
	tx.TxOuts = []blockchain.TxOut{
		{Address: receiver.Address(), Amount: math.MaxUint64},
		{Address: sender.Address(), Amount: balance.UTXOs[0].Amount + 1},
	}
	tx.ID = tx.ComputeID()
	invalid["overflow"] = tx

	tx = blockchain.NewCoinbaseTransaction(receiver.Address(), 1, len(c.Blocks))
	invalid["coinbase"] = tx

	return invalid, nil
}
