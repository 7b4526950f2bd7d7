package blockchain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

const testReward = 50

func newSigner(t *testing.T) *KeySigner {
	t.Helper()
	s, err := GenerateKeySigner()
	require.NoError(t, err)
	return s
}

// mineOn mines a difficulty-1 block on prev.
func mineOn(t *testing.T, prev *Block, txs ...Transaction) *Block {
	t.Helper()
	block := NewBlock(BlockCreationParams{
		PreviousHash: prev.Hash,
		Transactions: txs,
		Timestamp:    prev.Timestamp + 1000,
		Difficulty:   1,
	})
	require.NoError(t, MineBlock(context.Background(), block))
	return block
}

// rewardChain returns genesis followed by n blocks paying the reward to address.
func rewardChain(t *testing.T, address string, n int) []*Block {
	t.Helper()
	chain := []*Block{Genesis()}
	for i := 0; i < n; i++ {
		cb := NewCoinbaseTransaction(address, testReward, len(chain))
		chain = append(chain, mineOn(t, chain[len(chain)-1], *cb))
	}
	return chain
}

// spend builds a signed transaction spending the given outpoints of from.
func spend(t *testing.T, from Signer, utxos []UTXO, outs ...TxOut) *Transaction {
	t.Helper()
	ins := make([]TxIn, len(utxos))
	for i, u := range utxos {
		ins[i] = TxIn{TxOutID: u.TxOutID, TxOutIndex: u.TxOutIndex}
	}
	tx := NewTransaction(ins, outs)
	for i := range ins {
		require.NoError(t, tx.SignInput(i, from))
	}
	return tx
}
