package ratelimit

import (
	"sort"
	"sync/atomic"
	"time"
)

// windowState is an immutable, oldest-first log of admitted requests.
type windowState struct {
	stamps  []time.Time
	retired bool
}

// SlidingWindow is a lock-free sliding window log limiter. A request at now
// counts the timestamps inside (now-window, now]. Every admission publishes
// a fresh slice through compare-and-swap, so a rejected call writes nothing.
type SlidingWindow struct {
	maxRequests int
	window      time.Duration
	state       atomic.Pointer[windowState]
}

// NewSlidingWindow creates an empty sliding window limiter. Callers are
// expected to pass a validated maxRequests >= 1 and window > 0.
func NewSlidingWindow(maxRequests int, window time.Duration) *SlidingWindow {
	w := &SlidingWindow{
		maxRequests: maxRequests,
		window:      window,
	}
	w.state.Store(&windowState{})
	return w
}

// live returns the in-window suffix of s as of now, with now clamped so it
// never precedes the newest stored timestamp.
func (w *SlidingWindow) live(s *windowState, now time.Time) ([]time.Time, time.Time) {
	stamps := s.stamps
	if n := len(stamps); n > 0 && now.Before(stamps[n-1]) {
		now = stamps[n-1]
	}
	cutoff := now.Add(-w.window)
	first := sort.Search(len(stamps), func(i int) bool {
		return stamps[i].After(cutoff)
	})
	return stamps[first:], now
}

// TryConsume implements Limiter.
func (w *SlidingWindow) TryConsume(n int, now time.Time) bool {
	if n <= 0 || n > w.maxRequests {
		return false
	}

	for {
		cur := w.state.Load()
		if cur.retired {
			return false
		}
		live, at := w.live(cur, now)
		if len(live)+n > w.maxRequests {
			return false
		}

		stamps := make([]time.Time, len(live), len(live)+n)
		copy(stamps, live)
		for i := 0; i < n; i++ {
			stamps = append(stamps, at)
		}

		if w.state.CompareAndSwap(cur, &windowState{stamps: stamps}) {
			return true
		}
	}
}

// Count returns the number of requests inside the window at now.
func (w *SlidingWindow) Count(now time.Time) int {
	live, _ := w.live(w.state.Load(), now)
	return len(live)
}

// Snapshot implements Limiter.
func (w *SlidingWindow) Snapshot(now time.Time) Snapshot {
	live, at := w.live(w.state.Load(), now)
	snap := Snapshot{
		Algorithm: AlgorithmSlidingWindow,
		Limit:     w.maxRequests,
		Available: w.maxRequests - len(live),
	}
	if snap.Available <= 0 && len(live) > 0 {
		snap.Available = 0
		snap.RetryAfter = live[0].Add(w.window).Sub(at)
	}
	return snap
}

// Idle implements Limiter. An empty window is indistinguishable from a new one.
func (w *SlidingWindow) Idle(now time.Time) bool {
	live, _ := w.live(w.state.Load(), now)
	return len(live) == 0
}

// Retire implements Limiter.
func (w *SlidingWindow) Retire(now time.Time) bool {
	for {
		cur := w.state.Load()
		if cur.retired {
			return true
		}
		if live, _ := w.live(cur, now); len(live) > 0 {
			return false
		}
		if w.state.CompareAndSwap(cur, &windowState{retired: true}) {
			return true
		}
	}
}

// Retired implements Limiter.
func (w *SlidingWindow) Retired() bool {
	return w.state.Load().retired
}

// Algorithm implements Limiter.
func (w *SlidingWindow) Algorithm() Algorithm {
	return AlgorithmSlidingWindow
}

// MaxRequests returns the number of requests allowed per window.
func (w *SlidingWindow) MaxRequests() int {
	return w.maxRequests
}

// Window returns the window length.
func (w *SlidingWindow) Window() time.Duration {
	return w.window
}
