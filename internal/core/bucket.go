package core

import (
	"fmt"
	"math/rand/v2"

	"github.com/cespare/xxhash/v2"
)

const bucketCount = 100

// Bucket maps a percentage seed to a stable bucket in [0, 100). The seed is
// formatted with [Stringify] and hashed with xxHash64, so the number
// 87625364383 and the string "87625364383" share a bucket.
func Bucket(seed any) (int, error) {
	if _, ok := seed.(string); !ok && !isNumber(seed) {
		return 0, fmt.Errorf("%w: got %T", ErrMissingPercentageSeed, seed)
	}

	return int(xxhash.Sum64String(Stringify(seed)) % bucketCount), nil
}

// RandomSource yields uniform values in [0, 1).
type RandomSource interface {
	Float64() float64
}

// RandomFunc adapts a function to [RandomSource].
type RandomFunc func() float64

// Float64 implements [RandomSource].
func (f RandomFunc) Float64() float64 {
	return f()
}

// defaultRandom is safe for concurrent use.
var defaultRandom RandomSource = RandomFunc(rand.Float64)
