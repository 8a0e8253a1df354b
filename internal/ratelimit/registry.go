package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Registry owns the limiters of the process, one per key. Limiters are
// created on first use and live until Reset or until Sweep finds them at
// rest.
type Registry struct {
	limiters sync.Map // map[string]Limiter
	size     atomic.Int64
	logger   *zap.Logger
}

// RegistryOption is a functional option for configuring the registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger for the registry.
func WithRegistryLogger(logger *zap.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetOrCreate returns the limiter for key, creating it from cfg if absent.
// Concurrent callers for the same key always receive the same limiter.
func (r *Registry) GetOrCreate(key string, cfg Config) (Limiter, error) {
	if l, ok := r.limiters.Load(key); ok {
		return l.(Limiter), nil
	}

	l, err := New(cfg)
	if err != nil {
		return nil, err
	}

	actual, loaded := r.limiters.LoadOrStore(key, l)
	if !loaded {
		KeysGauge.Set(float64(r.size.Add(1)))
		r.logger.Debug("rate limiter created",
			zap.String("key", key),
			zap.String("algorithm", string(cfg.Algorithm)),
		)
	}
	return actual.(Limiter), nil
}

// Get returns the limiter for key, if present.
func (r *Registry) Get(key string) (Limiter, bool) {
	l, ok := r.limiters.Load(key)
	if !ok {
		return nil, false
	}
	return l.(Limiter), true
}

// Allow consumes one unit from the limiter of key. A limiter retired by a
// concurrent Sweep is replaced and the request retried on its successor.
func (r *Registry) Allow(key string, cfg Config, now time.Time) (*Result, error) {
	var (
		l       Limiter
		allowed bool
	)
	for {
		var err error
		l, err = r.GetOrCreate(key, cfg)
		if err != nil {
			return nil, err
		}
		allowed = l.TryConsume(1, now)
		if allowed || !l.Retired() {
			break
		}
		r.remove(key, l)
	}
	RecordDecision(l.Algorithm(), allowed)

	snap := l.Snapshot(now)
	res := &Result{
		Allowed:   allowed,
		Limit:     snap.Limit,
		Remaining: snap.Available,
	}
	if !allowed {
		res.RetryAfter = snap.RetryAfter
	}
	return res, nil
}

// Snapshots returns a view of every limiter at now.
func (r *Registry) Snapshots(now time.Time) map[string]Snapshot {
	out := make(map[string]Snapshot)
	r.limiters.Range(func(key, value any) bool {
		out[key.(string)] = value.(Limiter).Snapshot(now)
		return true
	})
	return out
}

// Len returns the number of limiters held.
func (r *Registry) Len() int {
	return int(r.size.Load())
}

// Sweep retires and drops limiters that are at rest at now and returns how
// many were removed. Retirement is part of the limiter state, so a request
// racing with the removal never consumes from the detached limiter.
func (r *Registry) Sweep(now time.Time) int {
	removed := 0
	r.limiters.Range(func(key, value any) bool {
		if value.(Limiter).Retire(now) && r.remove(key.(string), value.(Limiter)) {
			removed++
		}
		return true
	})
	if removed > 0 {
		SweptTotal.Add(float64(removed))
		r.logger.Debug("idle rate limiters swept", zap.Int("removed", removed))
	}
	return removed
}

// remove deletes key if it still maps to l.
func (r *Registry) remove(key string, l Limiter) bool {
	if !r.limiters.CompareAndDelete(key, l) {
		return false
	}
	KeysGauge.Set(float64(r.size.Add(-1)))
	return true
}

// Reset drops every limiter. It is used when rate limit policies change.
func (r *Registry) Reset() {
	removed := 0
	r.limiters.Range(func(key, _ any) bool {
		if _, ok := r.limiters.LoadAndDelete(key); ok {
			removed++
		}
		return true
	})
	KeysGauge.Set(float64(r.size.Add(int64(-removed))))
	r.logger.Info("rate limiters reset", zap.Int("removed", removed))
}

// RunSweeper calls Sweep every interval until ctx is done.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration, clock func() time.Time) {
	if interval <= 0 {
		return
	}
	if clock == nil {
		clock = time.Now
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(clock())
		}
	}
}
