package node

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"powledger/blockchain"
	"powledger/mocks"
)

func testConfig(name string) Config {
	cfg := DefaultConfig()
	cfg.P2P.Name = name
	cfg.P2P.TimerMin = 50 * time.Millisecond
	cfg.P2P.TimerMax = 100 * time.Millisecond
	cfg.P2P.HeartbeatTimeout = 2 * time.Second
	cfg.P2P.DialTimeout = time.Second
	// keep difficulty at its floor however fast blocks arrive
	cfg.Chain.MinBlockInterval = time.Nanosecond
	cfg.OrphanCleanupMin = 100 * time.Millisecond
	cfg.OrphanCleanupMax = 200 * time.Millisecond
	return cfg
}

func extend(chain []*blockchain.Block, miner string, txs ...blockchain.Transaction) []*blockchain.Block {
	return append(chain[:len(chain):len(chain)], mocks.GenerateValidMinedBlock(chain, miner, txs))
}

func TestOnNewTransaction(t *testing.T) {
	n := NewFullNode(testConfig("ledger"))
	alice, bob := mocks.GenerateSigner(), mocks.GenerateSigner()

	chain := extend([]*blockchain.Block{blockchain.Genesis()}, alice.Address())
	stored, err := n.OnNewBlock(chain[1])
	require.NoError(t, err)
	require.True(t, stored)

	tx, err := mocks.GenerateValidTransaction(chain, alice, bob.Address(), 20)
	require.NoError(t, err)

	var seen []string
	n.OnTransactionAccepted(func(tx *blockchain.Transaction) { seen = append(seen, tx.ID) })

	stored, err = n.OnNewTransaction(tx)
	require.NoError(t, err)
	assert.True(t, stored)
	assert.Equal(t, []string{tx.ID}, seen)

	stored, err = n.OnNewTransaction(tx)
	require.NoError(t, err)
	assert.False(t, stored, "duplicate must not be stored twice")

	coinbase := blockchain.NewCoinbaseTransaction(bob.Address(), mocks.MiningReward, 5)
	_, err = n.OnNewTransaction(coinbase)
	assert.ErrorIs(t, err, blockchain.ErrMisplacedCoinbase)

	bogus := *tx
	bogus.TxOuts = []blockchain.TxOut{{Address: bob.Address(), Amount: 1000}}
	bogus.ID = bogus.ComputeID()
	_, err = n.OnNewTransaction(&bogus)
	assert.ErrorIs(t, err, blockchain.ErrUnbalanced)

	assert.Len(t, n.MempoolSnapshot(), 1)
	assert.Equal(t, []string{tx.ID}, seen)
}

func TestOnNewBlockPurgesMempool(t *testing.T) {
	n := NewFullNode(testConfig("ledger"))
	alice, bob := mocks.GenerateSigner(), mocks.GenerateSigner()

	chain := extend([]*blockchain.Block{blockchain.Genesis()}, alice.Address())
	_, err := n.OnNewBlock(chain[1])
	require.NoError(t, err)

	tx, err := mocks.GenerateValidTransaction(chain, alice, bob.Address(), 20)
	require.NoError(t, err)
	_, err = n.OnNewTransaction(tx)
	require.NoError(t, err)

	var accepted []string
	n.OnBlockAccepted(func(b *blockchain.Block) { accepted = append(accepted, b.Hash) })

	chain = extend(chain, alice.Address(), *tx)
	stored, err := n.OnNewBlock(chain[2])
	require.NoError(t, err)
	assert.True(t, stored)
	assert.Empty(t, n.MempoolSnapshot())
	assert.Equal(t, []string{chain[2].Hash}, accepted)
	assert.Len(t, n.ChainSnapshot(), 3)
}

func TestReorgReturnsTransactionsToMempool(t *testing.T) {
	n := NewFullNode(testConfig("ledger"))
	alice, bob, carol := mocks.GenerateSigner(), mocks.GenerateSigner(), mocks.GenerateSigner()

	base := extend([]*blockchain.Block{blockchain.Genesis()}, alice.Address())
	_, err := n.OnNewBlock(base[1])
	require.NoError(t, err)

	pay, err := mocks.GenerateValidTransaction(base, alice, bob.Address(), 10)
	require.NoError(t, err)
	active := extend(base, alice.Address(), *pay)
	_, err = n.OnNewBlock(active[2])
	require.NoError(t, err)

	fork := extend(base, carol.Address())
	fork = extend(fork, carol.Address())

	stored, err := n.OnNewBlock(fork[2])
	require.NoError(t, err)
	assert.True(t, stored)
	assert.Equal(t, active[2].Hash, n.ChainSnapshot()[2].Hash, "equal length fork does not switch")

	stored, err = n.OnNewBlock(fork[3])
	require.NoError(t, err)
	assert.True(t, stored)

	chain := n.ChainSnapshot()
	require.Len(t, chain, 4)
	assert.Equal(t, fork[3].Hash, chain[3].Hash)

	pending := n.MempoolSnapshot()
	require.Len(t, pending, 1)
	assert.Equal(t, pay.ID, pending[0].ID)
}

func TestOnNewBlockRejectsTampered(t *testing.T) {
	n := NewFullNode(testConfig("ledger"))
	bad := mocks.GenerateInvalidBlock(n.ChainSnapshot())

	stored, err := n.OnNewBlock(bad)
	assert.False(t, stored)
	assert.ErrorIs(t, err, blockchain.ErrHashMismatch)
	assert.Len(t, n.ChainSnapshot(), 1)
}

func TestDriverCallsFailWhenStopped(t *testing.T) {
	n := NewFullNode(testConfig("stopped"))
	require.NoError(t, n.Start())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()
	cancel()
	require.NoError(t, <-done)

	_, err := n.Balance(context.Background(), "x")
	assert.Error(t, err)
}
