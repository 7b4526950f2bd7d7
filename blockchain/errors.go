package blockchain

import (
	"errors"
	"fmt"
)

// Validation failures reject only the offending transaction.
var (
	ErrMalformedID       = errors.New("malformed transaction id")
	ErrEmptyInputs       = errors.New("transaction has no inputs")
	ErrMissingUTXO       = errors.New("referenced output not found")
	ErrBadSignature      = errors.New("bad input signature")
	ErrDoubleSpend       = errors.New("output already spent")
	ErrUnbalanced        = errors.New("input total does not match output total")
	ErrMisplacedCoinbase = errors.New("coinbase transaction must be first and unique")
)

var ErrAmountOverflow = errors.New("amount overflows uint64")

// Integrity failures reject a whole block without touching the chain.
var (
	ErrHashMismatch = errors.New("block hash mismatch")
	ErrBrokenLink   = errors.New("previous hash does not link to parent")
	ErrProofOfWork  = errors.New("proof of work not met")
	ErrTimestamp    = errors.New("timestamp not monotonic")
)

type ValidationError struct {
	Kind   error
	TxID   string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("transaction %s: %v", Short(e.TxID), e.Kind)
	}
	return fmt.Sprintf("transaction %s: %v: %s", Short(e.TxID), e.Kind, e.Detail)
}

func (e *ValidationError) Unwrap() error { return e.Kind }

type ChainIntegrityError struct {
	Kind      error
	BlockHash string
	Detail    string
}

func (e *ChainIntegrityError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("block %s: %v", Short(e.BlockHash), e.Kind)
	}
	return fmt.Sprintf("block %s: %v: %s", Short(e.BlockHash), e.Kind, e.Detail)
}

func (e *ChainIntegrityError) Unwrap() error { return e.Kind }

func invalidTx(kind error, tx *Transaction, format string, args ...any) error {
	return &ValidationError{Kind: kind, TxID: tx.ID, Detail: fmt.Sprintf(format, args...)}
}

func badBlock(kind error, block *Block, format string, args ...any) error {
	return &ChainIntegrityError{Kind: kind, BlockHash: block.Hash, Detail: fmt.Sprintf(format, args...)}
}

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsIntegrityError(err error) bool {
	var ce *ChainIntegrityError
	return errors.As(err, &ce)
}

// Short trims a hex hash for log and error output.
func Short(hash string) string {
	if len(hash) > 16 {
		return hash[:16]
	}
	return hash
}
