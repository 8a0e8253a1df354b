package circuitbreaker

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// settings is the immutable engine and config pair new breakers are built from.
type settings struct {
	engine Engine
	config *Config
}

// Registry manages one circuit breaker per destination. Breakers are created
// lazily on first use and never shared between destinations.
type Registry struct {
	breakers sync.Map // map[string]Breaker
	settings atomic.Pointer[settings]
	logger   *zap.Logger
}

// NewRegistry creates a new circuit breaker registry.
func NewRegistry(engine Engine, config *Config, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Registry{logger: logger}
	s, err := newSettings(engine, config)
	if err != nil {
		return nil, err
	}
	r.settings.Store(s)
	return r, nil
}

func newSettings(engine Engine, config *Config) (*settings, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	switch engine {
	case "":
		engine = EngineNative
	case EngineNative, EngineGoBreaker:
	default:
		return nil, fmt.Errorf("%w: unknown engine %q", ErrInvalidConfig, engine)
	}
	return &settings{engine: engine, config: config}, nil
}

// Get returns the circuit breaker of name, if present.
func (r *Registry) Get(name string) (Breaker, bool) {
	value, ok := r.breakers.Load(name)
	if !ok {
		return nil, false
	}
	return value.(Breaker), true
}

// GetOrCreate returns an existing circuit breaker or creates a new one.
func (r *Registry) GetOrCreate(name string) Breaker {
	if value, ok := r.breakers.Load(name); ok {
		return value.(Breaker)
	}

	s := r.settings.Load()
	var cb Breaker
	if s.engine == EngineGoBreaker {
		cb = NewGoBreaker(name, s.config, r.logger)
	} else {
		cb = NewCircuitBreaker(name, s.config, r.logger)
	}

	// Store or get existing (handles race condition)
	actual, loaded := r.breakers.LoadOrStore(name, cb)
	if loaded {
		return actual.(Breaker)
	}

	r.logger.Debug("created circuit breaker",
		zap.String("name", name),
		zap.String("engine", string(s.engine)),
	)

	return cb
}

// Engine returns the engine used for new breakers.
func (r *Registry) Engine() Engine {
	return r.settings.Load().engine
}

// Reconfigure replaces the settings for new breakers. When the settings
// differ from the current ones every existing breaker is dropped, so the
// next request to each destination starts from a closed breaker built with
// the new settings.
func (r *Registry) Reconfigure(engine Engine, config *Config) error {
	next, err := newSettings(engine, config)
	if err != nil {
		return err
	}

	prev := r.settings.Swap(next)
	if prev.engine == next.engine && prev.config.Equal(next.config) {
		return nil
	}

	r.Clear()
	r.logger.Info("circuit breakers reconfigured",
		zap.String("engine", string(next.engine)),
		zap.Int("failure_threshold", next.config.FailureThreshold),
		zap.Int("success_threshold", next.config.SuccessThreshold),
		zap.Duration("timeout", next.config.Timeout),
	)
	return nil
}

// ResetAll forces every native breaker back to closed and drops the others.
func (r *Registry) ResetAll(now time.Time) {
	r.breakers.Range(func(key, value any) bool {
		if cb, ok := value.(*CircuitBreaker); ok {
			cb.Reset(now)
		} else {
			r.breakers.Delete(key)
		}
		return true
	})
	r.logger.Info("reset all circuit breakers")
}

// Clear removes all circuit breakers from the registry.
func (r *Registry) Clear() {
	r.breakers.Range(func(key, _ any) bool {
		r.breakers.Delete(key)
		return true
	})
}

// Stats returns statistics for all circuit breakers.
func (r *Registry) Stats() map[string]Stats {
	stats := make(map[string]Stats)
	r.breakers.Range(func(key, value any) bool {
		stats[key.(string)] = value.(Breaker).Stats()
		return true
	})
	return stats
}

// Count returns the number of circuit breakers in the registry.
func (r *Registry) Count() int {
	count := 0
	r.breakers.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}
