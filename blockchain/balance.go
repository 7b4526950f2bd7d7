package blockchain

import "math"

// ComputeBalance scans the whole chain and returns the outputs paid to
// address that no input references. Cost is linear in the number of
// transactions; there is no UTXO index. The total saturates at MaxUint64,
// which a validated chain never reaches.
func ComputeBalance(chain []*Block, address string) Balance {
	txByID := indexTransactions(chain)
	candidates := make(map[outpoint]UTXO)
	var order []outpoint

	for _, block := range chain {
		for i := range block.Transactions {
			tx := &block.Transactions[i]
			for j, out := range tx.TxOuts {
				if out.Address != address {
					continue
				}
				op := outpoint{tx.ID, j}
				if _, ok := candidates[op]; !ok {
					order = append(order, op)
				}
				candidates[op] = UTXO{TxOutID: tx.ID, TxOutIndex: j, Amount: out.Amount}
			}
		}
	}

	for _, block := range chain {
		for i := range block.Transactions {
			for _, in := range block.Transactions[i].TxIns {
				if in.IsCoinbase() {
					continue
				}
				ref, ok := txByID[in.TxOutID]
				if !ok || in.TxOutIndex < 0 || in.TxOutIndex >= len(ref.TxOuts) {
					continue
				}
				if ref.TxOuts[in.TxOutIndex].Address != address {
					continue
				}
				delete(candidates, outpoint{in.TxOutID, in.TxOutIndex})
			}
		}
	}

	result := Balance{UTXOs: []UTXO{}}
	for _, op := range order {
		utxo, ok := candidates[op]
		if !ok {
			continue
		}
		result.UTXOs = append(result.UTXOs, utxo)
		sum, err := AddU64(result.Balance, utxo.Amount)
		if err != nil {
			sum = math.MaxUint64
		}
		result.Balance = sum
	}
	return result
}
