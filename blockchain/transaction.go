package blockchain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// NewTransaction builds a transaction and stamps its id.
func NewTransaction(ins []TxIn, outs []TxOut) *Transaction {
	tx := &Transaction{TxIns: ins, TxOuts: outs}
	tx.ID = tx.ComputeID()
	return tx
}

// NewCoinbaseTransaction pays reward to address. The sentinel input carries
// height in its signature field so coinbases at different heights get
// different ids.
func NewCoinbaseTransaction(address string, reward uint64, height int) *Transaction {
	in := TxIn{
		TxOutID:    CoinbaseTxOutID,
		TxOutIndex: CoinbaseTxOutIndex,
		Signature:  strconv.Itoa(height),
	}
	return NewTransaction([]TxIn{in}, []TxOut{{Address: address, Amount: reward}})
}

// ComputeID hashes inputs (outpoint and signature) and outputs in order.
func (tx *Transaction) ComputeID() string {
	ins := make([]string, len(tx.TxIns))
	for i, in := range tx.TxIns {
		ins[i] = fmt.Sprintf("%s-%d-%s", in.TxOutID, in.TxOutIndex, in.Signature)
	}
	outs := make([]string, len(tx.TxOuts))
	for i, out := range tx.TxOuts {
		outs[i] = fmt.Sprintf("%s-%d", out.Address, out.Amount)
	}
	return Hash(strings.Join(ins, ";") + "|" + strings.Join(outs, ";"))
}

// IsCoinbase reports whether tx is a reward transaction: exactly one input,
// and that input is the sentinel.
func (tx *Transaction) IsCoinbase() bool {
	return len(tx.TxIns) == 1 && tx.TxIns[0].IsCoinbase()
}

// AddOutput appends an output and refreshes the id.
func (tx *Transaction) AddOutput(address string, amount uint64) {
	tx.TxOuts = append(tx.TxOuts, TxOut{Address: address, Amount: amount})
	tx.ID = tx.ComputeID()
}

// SigningMessage is the exact string an input signature covers.
func (in *TxIn) SigningMessage() string {
	return fmt.Sprintf("%s-%d", in.TxOutID, in.TxOutIndex)
}

// SignInput signs input i with signer, sets its public key and refreshes the id.
func (tx *Transaction) SignInput(i int, signer Signer) error {
	if i < 0 || i >= len(tx.TxIns) {
		return fmt.Errorf("input index %d out of range", i)
	}
	in := &tx.TxIns[i]
	sig, err := signer.Sign(in.SigningMessage())
	if err != nil {
		return fmt.Errorf("sign input %d: %w", i, err)
	}
	in.PublicKey = signer.PublicKey()
	in.Signature = sig
	tx.ID = tx.ComputeID()
	return nil
}

// OutputTotal sums every output amount. It fails with ErrAmountOverflow
// when the sum does not fit in a uint64.
func (tx *Transaction) OutputTotal() (uint64, error) {
	var total uint64
	for i, out := range tx.TxOuts {
		var err error
		if total, err = AddU64(total, out.Amount); err != nil {
			return 0, fmt.Errorf("output %d: %w", i, err)
		}
	}
	return total, nil
}

// AddU64 returns a+b or ErrAmountOverflow.
func AddU64(a, b uint64) (uint64, error) {
	if a > math.MaxUint64-b {
		return 0, ErrAmountOverflow
	}
	return a + b, nil
}

func SerializeTransaction(tx *Transaction) ([]byte, error) {
	return json.Marshal(tx)
}

func DeserializeTransaction(data []byte) (*Transaction, error) {
	var tx Transaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	return &tx, nil
}
