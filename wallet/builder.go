package wallet

import (
	"fmt"

	"powledger/blockchain"
)

// BuildTransaction pays amount to the address to from utxos, which must
// belong to signer. Outputs are picked first-fit in the given order and
// any surplus returns to signer as change. Every input is signed.
func BuildTransaction(signer blockchain.Signer, utxos []blockchain.UTXO, to string, amount uint64) (*blockchain.Transaction, error) {
	if amount == 0 {
		return nil, ErrInvalidAmount
	}
	if err := blockchain.ValidateAddress(to); err != nil {
		return nil, fmt.Errorf("wallet: recipient: %w", err)
	}

	var (
		ins   []blockchain.TxIn
		total uint64
	)
	for _, u := range utxos {
		if total >= amount {
			break
		}
		sum, err := blockchain.AddU64(total, u.Amount)
		if err != nil {
			return nil, fmt.Errorf("wallet: %w", err)
		}
		ins = append(ins, blockchain.TxIn{TxOutID: u.TxOutID, TxOutIndex: u.TxOutIndex})
		total = sum
	}
	if total < amount {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, total, amount)
	}

	outs := []blockchain.TxOut{{Address: to, Amount: amount}}
	if change := total - amount; change > 0 {
		outs = append(outs, blockchain.TxOut{Address: signer.Address(), Amount: change})
	}

	tx := blockchain.NewTransaction(ins, outs)
	for i := range tx.TxIns {
		if err := tx.SignInput(i, signer); err != nil {
			return nil, err
		}
	}
	return tx, nil
}
