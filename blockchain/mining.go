package blockchain

import (
	"context"
	"strings"
)

// ctxCheckInterval is how many hashes MineBlock computes between
// cancellation checks.
const ctxCheckInterval = 1 << 12

// BlockHashMeetsDifficulty reports whether hash starts with difficulty
// literal '0' characters. Difficulty counts hex characters, not bits.
func BlockHashMeetsDifficulty(hash string, difficulty int) bool {
	if difficulty < 1 || difficulty > len(hash) {
		return false
	}
	return strings.Count(hash[:difficulty], "0") == difficulty
}

// MineBlock advances block.Nonce from its current value until the block
// hash meets block.Difficulty, stamping block.Hash. It returns ctx.Err()
// if cancelled first, leaving the block unsolved.
func MineBlock(ctx context.Context, block *Block) error {
	prefix := block.hashPrefix()
	for i := 0; ; i++ {
		if i%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		block.Hash = block.hashWithPrefix(prefix)
		if BlockHashMeetsDifficulty(block.Hash, block.Difficulty) {
			return nil
		}
		block.Nonce++
	}
}
