package mocks

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"powledger/blockchain"
)

// MiningReward matches the default processor configuration.
const MiningReward = 50

// GenerateSigner creates a signer for a fresh key and panics on failure.
func GenerateSigner() *blockchain.KeySigner {
	s, err := blockchain.GenerateKeySigner()
	if err != nil {
		panic("generate signer: " + err.Error())
	}
	return s
}

// GenerateValidTransaction creates a valid transaction from sender to receiver
// If amount is -1, generates a random valid amount (between 1 and sender's balance)
func GenerateValidTransaction(chain []*blockchain.Block, sender blockchain.Signer, receiver string, amount int64) (*blockchain.Transaction, error) {
	balance := blockchain.ComputeBalance(chain, sender.Address())
	if balance.Balance == 0 {
		return nil, errors.New("insufficient balance")
	}

	var finalAmount uint64
	switch {
	case amount == -1:
		finalAmount = rand.Uint64N(balance.Balance) + 1
	case amount <= 0:
		return nil, errors.New("invalid amount: must be positive or -1 for random")
	default:
		finalAmount = uint64(amount)
	}
	if balance.Balance < finalAmount {
		return nil, errors.New("insufficient balance")
	}

	// first fit, change back to the sender
	var (
		ins   []blockchain.TxIn
		total uint64
	)
	for _, u := range balance.UTXOs {
		ins = append(ins, blockchain.TxIn{TxOutID: u.TxOutID, TxOutIndex: u.TxOutIndex})
		total += u.Amount
		if total >= finalAmount {
			break
		}
	}
	outs := []blockchain.TxOut{{Address: receiver, Amount: finalAmount}}
	if change := total - finalAmount; change > 0 {
		outs = append(outs, blockchain.TxOut{Address: sender.Address(), Amount: change})
	}

	tx := blockchain.NewTransaction(ins, outs)
	for i := range tx.TxIns {
		if err := tx.SignInput(i, sender); err != nil {
			return nil, err
		}
	}
	return tx, nil
}

// GenerateValidMinedBlock creates a new valid mined block with coinbase on
// top of chain, at difficulty 1.
func GenerateValidMinedBlock(chain []*blockchain.Block, minerAddress string, transactions []blockchain.Transaction) *blockchain.Block {
	tip := chain[len(chain)-1]
	coinbase := blockchain.NewCoinbaseTransaction(minerAddress, MiningReward, len(chain))

	ts := time.Now().UnixMilli()
	if ts < tip.Timestamp {
		ts = tip.Timestamp
	}
	block := blockchain.NewBlock(blockchain.BlockCreationParams{
		PreviousHash: tip.Hash,
		Transactions: append([]blockchain.Transaction{*coinbase}, transactions...),
		Timestamp:    ts,
		Difficulty:   1,
	})
	if err := blockchain.MineBlock(context.Background(), block); err != nil {
		panic("mine block: " + err.Error())
	}
	return block
}

// GenerateInvalidBlock creates a block with invalid properties (for testing rejection)
func GenerateInvalidBlock(chain []*blockchain.Block) *blockchain.Block {
	block := GenerateValidMinedBlock(chain, "nobody", nil)
	block.Hash = "0" + blockchain.Hash(block.Hash)[1:]
	return block
}
