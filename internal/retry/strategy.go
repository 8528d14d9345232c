package retry

import (
	"math"
	"math/rand"
	"time"

	"golang.org/x/exp/constraints"
)

// Strategy returns how long to wait before retry number retryCount and
// whether the retry budget is exhausted.
type Strategy interface {
	Sleep(retryCount uint) (time.Duration, bool)
}

type never struct{}

func NewNever() Strategy {
	return never{}
}

func (never) Sleep(uint) (time.Duration, bool) {
	return 0, true
}

// Entropy picks a delay in [0, n).
type Entropy func(n int64) int64

type exponentialBackOff struct {
	base          time.Duration
	max           time.Duration
	maxRetryCount uint
	entropy       Entropy
}

// NewExponentialBackOff jitters base*2^retryCount capped at max. A nil
// entropy means full jitter.
func NewExponentialBackOff(base time.Duration, max time.Duration, maxRetryCount uint, entropy Entropy) Strategy {
	if entropy == nil {
		entropy = fullJitter
	}
	return &exponentialBackOff{
		base:          base,
		max:           max,
		maxRetryCount: maxRetryCount,
		entropy:       entropy,
	}
}

func (eb *exponentialBackOff) Sleep(retryCount uint) (time.Duration, bool) {
	if retryCount >= eb.maxRetryCount {
		return 0, true
	}
	return time.Duration(eb.entropy(clamp(eb.delay(retryCount), 0, int64(eb.max)))), false
}

func (eb *exponentialBackOff) delay(retryCount uint) int64 {
	base := int64(eb.base)
	if retryCount >= 63 || (base > 0 && int64(1)<<retryCount > math.MaxInt64/base) {
		return math.MaxInt64
	}
	return base << retryCount
}

func fullJitter(n int64) int64 {
	if n <= 0 {
		return 0
	}
	return rand.Int63n(n)
}

func clamp[T constraints.Integer](v T, lo T, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
