package ratelimit

import (
	"math"
	"sync/atomic"
	"time"
)

// microTokens is the fixed-point scale of stored token counts.
const microTokens int64 = 1_000_000

// bucketState is published atomically and never mutated after publication.
type bucketState struct {
	tokens  int64     // micro-tokens
	last    time.Time // zero until the first observation
	retired bool
}

// TokenBucket is a lock-free token bucket. Refill and consumption happen in a
// single compare-and-swap of the whole state, so concurrent callers can never
// consume more tokens than were available.
type TokenBucket struct {
	capacity int
	rate     float64 // tokens per second
	maxMicro int64
	state    atomic.Pointer[bucketState]
}

// NewTokenBucket creates a full bucket. Callers are expected to pass a
// validated capacity >= 1 and rate > 0.
func NewTokenBucket(capacity int, refillRate float64) *TokenBucket {
	b := &TokenBucket{
		capacity: capacity,
		rate:     refillRate,
		maxMicro: int64(capacity) * microTokens,
	}
	b.state.Store(&bucketState{tokens: b.maxMicro})
	return b
}

// refill returns the state as of now. The clock going backwards yields no
// refill and the stored timestamp never moves backwards.
func (b *TokenBucket) refill(s *bucketState, now time.Time) bucketState {
	next := *s
	switch {
	case s.last.IsZero():
		next.last = now
	case now.After(s.last):
		elapsed := now.Sub(s.last)
		add := float64(elapsed.Nanoseconds()) * b.rate / 1e3
		if add >= float64(b.maxMicro-s.tokens) {
			next.tokens = b.maxMicro
		} else {
			next.tokens += int64(add)
		}
		next.last = now
	}
	return next
}

// TryConsume implements Limiter.
func (b *TokenBucket) TryConsume(n int, now time.Time) bool {
	if n <= 0 || n > b.capacity {
		return false
	}
	need := int64(n) * microTokens

	for {
		cur := b.state.Load()
		if cur.retired {
			return false
		}
		next := b.refill(cur, now)
		if next.tokens < need {
			return false
		}
		next.tokens -= need
		if b.state.CompareAndSwap(cur, &next) {
			return true
		}
	}
}

// Available returns the number of whole tokens available at now.
func (b *TokenBucket) Available(now time.Time) int {
	s := b.refill(b.state.Load(), now)
	return int(s.tokens / microTokens)
}

// Snapshot implements Limiter.
func (b *TokenBucket) Snapshot(now time.Time) Snapshot {
	s := b.refill(b.state.Load(), now)
	snap := Snapshot{
		Algorithm: AlgorithmTokenBucket,
		Limit:     b.capacity,
		Available: int(s.tokens / microTokens),
	}
	if snap.Available == 0 {
		deficit := float64(microTokens - s.tokens)
		snap.RetryAfter = time.Duration(math.Ceil(deficit * 1e3 / b.rate))
	}
	return snap
}

// Idle implements Limiter. A full bucket is indistinguishable from a new one.
func (b *TokenBucket) Idle(now time.Time) bool {
	return b.refill(b.state.Load(), now).tokens == b.maxMicro
}

// Retire implements Limiter.
func (b *TokenBucket) Retire(now time.Time) bool {
	for {
		cur := b.state.Load()
		if cur.retired {
			return true
		}
		next := b.refill(cur, now)
		if next.tokens != b.maxMicro {
			return false
		}
		next.retired = true
		if b.state.CompareAndSwap(cur, &next) {
			return true
		}
	}
}

// Retired implements Limiter.
func (b *TokenBucket) Retired() bool {
	return b.state.Load().retired
}

// Algorithm implements Limiter.
func (b *TokenBucket) Algorithm() Algorithm {
	return AlgorithmTokenBucket
}

// Capacity returns the bucket capacity.
func (b *TokenBucket) Capacity() int {
	return b.capacity
}

// RefillRate returns the refill rate in tokens per second.
func (b *TokenBucket) RefillRate() float64 {
	return b.rate
}
