package generator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"powledger/blockchain"
	"powledger/node"
)

func TestGenerateChainValidates(t *testing.T) {
	opts := DefaultChainOptions()
	opts.Blocks = 6
	c, err := GenerateChain(opts)
	require.NoError(t, err)
	require.Len(t, c.Blocks, 7)
	assert.True(t, blockchain.IsGenesis(c.Blocks[0]))

	payments := 0
	for i := 1; i < len(c.Blocks); i++ {
		block := c.Blocks[i]
		require.NoError(t, blockchain.ValidateBlock(block))
		require.NoError(t, blockchain.ValidateLink(c.Blocks[i-1], block))
		require.NoError(t, blockchain.ValidateBlockTransactions(c.Blocks[:i], block, opts.Reward))
		payments += len(block.Transactions) - 1
	}
	assert.Positive(t, payments)

	var total uint64
	for _, acct := range c.Accounts {
		total += blockchain.ComputeBalance(c.Blocks, acct.Address()).Balance
	}
	assert.Equal(t, uint64(opts.Blocks)*opts.Reward, total)
}

func TestGenerateChainAcceptedByNode(t *testing.T) {
	c, err := GenerateChain(DefaultChainOptions())
	require.NoError(t, err)

	n := node.NewFullNode(node.DefaultConfig())
	for _, block := range c.Blocks[1:] {
		stored, err := n.OnNewBlock(block)
		require.NoError(t, err)
		require.True(t, stored)
	}
	snapshot := n.ChainSnapshot()
	require.Len(t, snapshot, len(c.Blocks))
	assert.Equal(t, c.Tip().Hash, snapshot[len(snapshot)-1].Hash)
}

func TestGenerateChainRejectsBadOptions(t *testing.T) {
	opts := DefaultChainOptions()
	opts.Accounts = 1
	_, err := GenerateChain(opts)
	assert.Error(t, err)

	opts = DefaultChainOptions()
	opts.Reward = 0
	_, err = GenerateChain(opts)
	assert.Error(t, err)
}

func TestInvalidTransactions(t *testing.T) {
	opts := DefaultChainOptions()
	opts.TxPerBlock = 0
	c, err := GenerateChain(opts)
	require.NoError(t, err)

	sender, receiver := c.Accounts[0], c.Accounts[1]
	invalid, err := c.InvalidTransactions(sender, receiver)
	require.NoError(t, err)

	expected := map[string]error{
		"malformed_id":  blockchain.ErrMalformedID,
		"bad_signature": blockchain.ErrBadSignature,
		"unbalanced":    blockchain.ErrUnbalanced,
		"missing_utxo":  blockchain.ErrMissingUTXO,
		"overflow":      blockchain.ErrUnbalanced,
		"coinbase":      blockchain.ErrUnbalanced,
	}
	require.Len(t, invalid, len(expected))
	for name, kind := range expected {
		t.Run(name, func(t *testing.T) {
			err := blockchain.ValidateTransaction(c.Blocks, invalid[name], opts.Reward)
			assert.ErrorIs(t, err, kind)
		})
	}
}

func TestInvalidTransactionsNeedFunds(t *testing.T) {
	opts := DefaultChainOptions()
	opts.Blocks = 0
	c, err := GenerateChain(opts)
	require.NoError(t, err)

	_, err = c.InvalidTransactions(c.Accounts[0], c.Accounts[1])
	assert.Error(t, err)
}
