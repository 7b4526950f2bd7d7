package blockchain

import (
	"fmt"
)

// ValidateTransaction checks tx against every block of chain. Checks run in
// a fixed order and the first failure is returned as a *ValidationError.
//
// The referenced output's address is never compared with the input's public
// key: any key whose signature verifies against itself is accepted. This is
// a known gap and callers must not rely on ownership being enforced here.
func ValidateTransaction(chain []*Block, tx *Transaction, miningReward uint64) error {
	if tx == nil {
		return &ValidationError{Kind: ErrMalformedID, Detail: "nil transaction"}
	}

	// 1. Identity
	if fresh := tx.ComputeID(); fresh != tx.ID {
		return invalidTx(ErrMalformedID, tx, "expected %s", Short(fresh))
	}

	// 2. Shape
	if len(tx.TxIns) == 0 {
		return &ValidationError{Kind: ErrEmptyInputs, TxID: tx.ID}
	}

	// 3. Coinbase pays a fixed amount and needs no lookup
	if tx.IsCoinbase() {
		total, err := tx.OutputTotal()
		if err != nil {
			return invalidTx(ErrUnbalanced, tx, "%v", err)
		}
		if total != miningReward {
			return invalidTx(ErrUnbalanced, tx, "coinbase pays %d, reward is %d", total, miningReward)
		}
		return nil
	}

	outputs := indexTransactions(chain)
	spent := spentOutpoints(chain)
	seen := make(map[outpoint]struct{}, len(tx.TxIns))

	// 4. Inputs
	var inputTotal uint64
	for i := range tx.TxIns {
		in := &tx.TxIns[i]
		ref, ok := outputs[in.TxOutID]
		if !ok || in.TxOutIndex < 0 || in.TxOutIndex >= len(ref.TxOuts) {
			return invalidTx(ErrMissingUTXO, tx, "input %d references %s:%d", i, Short(in.TxOutID), in.TxOutIndex)
		}
		if !Verify(in.SigningMessage(), in.Signature, in.PublicKey) {
			return invalidTx(ErrBadSignature, tx, "input %d", i)
		}
		op := outpoint{in.TxOutID, in.TxOutIndex}
		if _, dup := spent[op]; dup {
			return invalidTx(ErrDoubleSpend, tx, "input %d spends %s:%d", i, Short(in.TxOutID), in.TxOutIndex)
		}
		if _, dup := seen[op]; dup {
			return invalidTx(ErrDoubleSpend, tx, "input %d repeats %s:%d", i, Short(in.TxOutID), in.TxOutIndex)
		}
		seen[op] = struct{}{}
		var err error
		if inputTotal, err = AddU64(inputTotal, ref.TxOuts[in.TxOutIndex].Amount); err != nil {
			return invalidTx(ErrUnbalanced, tx, "input %d: %v", i, err)
		}
	}

	// 5. Balance
	outTotal, err := tx.OutputTotal()
	if err != nil {
		return invalidTx(ErrUnbalanced, tx, "%v", err)
	}
	if inputTotal != outTotal {
		return invalidTx(ErrUnbalanced, tx, "inputs %d, outputs %d", inputTotal, outTotal)
	}
	return nil
}

// ValidateBlock checks the block on its own: the stored hash must match a
// fresh recomputation and satisfy the stated difficulty.
func ValidateBlock(block *Block) error {
	if block == nil {
		return &ChainIntegrityError{Kind: ErrHashMismatch, Detail: "nil block"}
	}
	if fresh := block.ComputeHash(); fresh != block.Hash {
		return badBlock(ErrHashMismatch, block, "expected %s", Short(fresh))
	}
	if !BlockHashMeetsDifficulty(block.Hash, block.Difficulty) {
		return badBlock(ErrProofOfWork, block, "difficulty %d", block.Difficulty)
	}
	return nil
}

// ValidateLink checks that block extends prev. Equal timestamps are allowed.
func ValidateLink(prev, block *Block) error {
	if block.PreviousHash != prev.Hash {
		return badBlock(ErrBrokenLink, block, "parent %s, tip %s", Short(block.PreviousHash), Short(prev.Hash))
	}
	if block.Timestamp < prev.Timestamp {
		return badBlock(ErrTimestamp, block, "%d before parent %d", block.Timestamp, prev.Timestamp)
	}
	return nil
}

// ValidateBlockTransactions validates every transaction of block in order.
// Each one sees chain plus the transactions that precede it in the block,
// so a block may spend outputs it creates itself but cannot spend one
// output twice. Only the first transaction may be a coinbase.
func ValidateBlockTransactions(chain []*Block, block *Block, miningReward uint64) error {
	view := make([]*Block, len(chain), len(chain)+1)
	copy(view, chain)
	pending := &Block{Transactions: make([]Transaction, 0, len(block.Transactions))}
	view = append(view, pending)

	for i := range block.Transactions {
		tx := &block.Transactions[i]
		if tx.IsCoinbase() && i != 0 {
			return fmt.Errorf("block %s: %w", Short(block.Hash), invalidTx(ErrMisplacedCoinbase, tx, "at position %d", i))
		}
		if err := ValidateTransaction(view, tx, miningReward); err != nil {
			return fmt.Errorf("block %s: %w", Short(block.Hash), err)
		}
		pending.Transactions = append(pending.Transactions, *tx)
	}
	return nil
}

type outpoint struct {
	id    string
	index int
}

func indexTransactions(chain []*Block) map[string]*Transaction {
	byID := make(map[string]*Transaction)
	for _, block := range chain {
		for i := range block.Transactions {
			byID[block.Transactions[i].ID] = &block.Transactions[i]
		}
	}
	return byID
}

func spentOutpoints(chain []*Block) map[outpoint]struct{} {
	spent := make(map[outpoint]struct{})
	for _, block := range chain {
		for i := range block.Transactions {
			for _, in := range block.Transactions[i].TxIns {
				if in.IsCoinbase() {
					continue
				}
				spent[outpoint{in.TxOutID, in.TxOutIndex}] = struct{}{}
			}
		}
	}
	return spent
}
