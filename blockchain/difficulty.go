package blockchain

import (
	"time"
)

// Retarget is the difficulty control loop run on every accepted block. It
// looks at a single sample, the wall-clock time since the previous
// acceptance: faster than minInterval raises difficulty by one, slower
// lowers it by one down to a floor of 1. There is no smoothing window.
func Retarget(difficulty int, elapsed, minInterval time.Duration) int {
	switch {
	case elapsed < minInterval:
		return difficulty + 1
	case elapsed > minInterval && difficulty > 1:
		return difficulty - 1
	default:
		return difficulty
	}
}
