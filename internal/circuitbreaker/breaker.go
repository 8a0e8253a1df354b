package circuitbreaker

import (
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// State represents the state of a circuit breaker.
type State int

const (
	// StateClosed indicates the circuit is closed and requests are allowed.
	StateClosed State = iota

	// StateOpen indicates the circuit is open and requests are rejected.
	StateOpen

	// StateHalfOpen indicates the circuit is testing if the destination is healthy.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ErrTooManyRequests is returned when every half-open trial slot is taken.
var ErrTooManyRequests = errors.New("too many requests in half-open state")

// Breaker is the contract the admission pipeline relies on.
type Breaker interface {
	// Name returns the destination the breaker guards.
	Name() string

	// Acquire asks for permission to send one request at now. On success
	// the returned Ticket must be completed with the request outcome.
	Acquire(now time.Time) (Ticket, error)

	// State returns the current state.
	State() State

	// Stats returns a read-only view of the breaker.
	Stats() Stats
}

// Ticket reports the outcome of a request admitted by a Breaker.
// The zero Ticket ignores outcomes.
type Ticket struct {
	done func(success bool, now time.Time)
}

// Done records the outcome of the admitted request. Only the first call
// has an effect.
func (t *Ticket) Done(success bool, now time.Time) {
	if t == nil || t.done == nil {
		return
	}
	done := t.done
	t.done = nil
	done(success, now)
}

// Stats holds circuit breaker statistics.
type Stats struct {
	State          State     `json:"-"`
	StateName      string    `json:"state"`
	Failures       int       `json:"failures"`
	Successes      int       `json:"successes"`
	HalfOpenTrials int       `json:"halfOpenTrials"`
	LastTransition time.Time `json:"lastTransition"`
}

// breakerState is published atomically and never mutated after publication.
// Counters are reset and generation is incremented on every transition.
type breakerState struct {
	state          State
	generation     uint64
	failures       int
	successes      int
	trials         int
	lastTransition time.Time
}

// transition returns the state entered from s at now.
func (s *breakerState) transition(to State, now time.Time) breakerState {
	return breakerState{state: to, generation: s.generation + 1, lastTransition: now}
}

// CircuitBreaker is a lock-free circuit breaker. Every decision and outcome
// is a single compare-and-swap on the packed state, so concurrent failures
// can never double-transition.
type CircuitBreaker struct {
	name   string
	config *Config
	logger *zap.Logger
	state  atomic.Pointer[breakerState]
}

// NewCircuitBreaker creates a closed circuit breaker. The config must have
// passed Validate.
func NewCircuitBreaker(name string, config *Config, logger *zap.Logger) *CircuitBreaker {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cb := &CircuitBreaker{
		name:   name,
		config: config,
		logger: logger,
	}
	cb.state.Store(&breakerState{state: StateClosed})
	RecordState(name, StateClosed)
	return cb
}

// AllowRequest reports whether a request may be sent at now. An open
// circuit whose timeout has elapsed moves to half-open and admits the
// caller as its first trial.
func (cb *CircuitBreaker) AllowRequest(now time.Time) bool {
	_, ok := cb.allow(now)
	return ok
}

// allow is AllowRequest that also returns the generation that admitted the
// request.
func (cb *CircuitBreaker) allow(now time.Time) (uint64, bool) {
	for {
		cur := cb.state.Load()
		next := *cur

		switch cur.state {
		case StateClosed:
			RecordRequest(cb.name, true)
			return cur.generation, true

		case StateOpen:
			if now.Sub(cur.lastTransition) < cb.config.Timeout {
				RecordRequest(cb.name, false)
				return 0, false
			}
			next = cur.transition(StateHalfOpen, now)
			next.trials = 1

		case StateHalfOpen:
			if cur.trials >= cb.config.halfOpenLimit() {
				RecordRequest(cb.name, false)
				return 0, false
			}
			next.trials++
		}

		if cb.state.CompareAndSwap(cur, &next) {
			cb.afterUpdate(cur, &next)
			RecordRequest(cb.name, true)
			return next.generation, true
		}
	}
}

// RecordSuccess records a successful request against the current state.
func (cb *CircuitBreaker) RecordSuccess(now time.Time) {
	cb.recordSuccess(now, nil)
}

// recordSuccess records a success. A non-nil gen drops the outcome unless
// the breaker is still in the generation that admitted the request.
func (cb *CircuitBreaker) recordSuccess(now time.Time, gen *uint64) {
	RecordSuccess(cb.name)

	for {
		cur := cb.state.Load()
		if gen != nil && *gen != cur.generation {
			return
		}
		next := *cur

		switch cur.state {
		case StateClosed:
			if cur.failures == 0 {
				return
			}
			next.failures = 0

		case StateHalfOpen:
			next.successes++
			if next.successes >= cb.config.SuccessThreshold {
				next = cur.transition(StateClosed, now)
			}

		default:
			// Late outcome of a request admitted before the circuit opened.
			return
		}

		if cb.state.CompareAndSwap(cur, &next) {
			cb.afterUpdate(cur, &next)
			return
		}
	}
}

// RecordFailure records a failed request against the current state.
func (cb *CircuitBreaker) RecordFailure(now time.Time) {
	cb.recordFailure(now, nil)
}

// recordFailure records a failure, dropping it like recordSuccess when gen
// is stale.
func (cb *CircuitBreaker) recordFailure(now time.Time, gen *uint64) {
	RecordFailure(cb.name)

	for {
		cur := cb.state.Load()
		if gen != nil && *gen != cur.generation {
			return
		}
		next := *cur

		switch cur.state {
		case StateClosed:
			next.failures++
			if next.failures >= cb.config.FailureThreshold {
				next = cur.transition(StateOpen, now)
			}

		case StateHalfOpen:
			next = cur.transition(StateOpen, now)

		default:
			return
		}

		if cb.state.CompareAndSwap(cur, &next) {
			cb.afterUpdate(cur, &next)
			return
		}
	}
}

// Acquire implements Breaker. The ticket only counts while the breaker is
// in the generation that admitted it, so an outcome that arrives after a
// transition is dropped.
func (cb *CircuitBreaker) Acquire(now time.Time) (Ticket, error) {
	gen, ok := cb.allow(now)
	if !ok {
		if cb.State() == StateHalfOpen {
			return Ticket{}, ErrTooManyRequests
		}
		return Ticket{}, ErrCircuitOpen
	}
	return Ticket{done: func(success bool, at time.Time) {
		if success {
			cb.recordSuccess(at, &gen)
		} else {
			cb.recordFailure(at, &gen)
		}
	}}, nil
}

// afterUpdate runs the side effects of a published change. It is called
// outside the CAS loop exactly once per transition.
func (cb *CircuitBreaker) afterUpdate(from, to *breakerState) {
	if from.state == to.state {
		return
	}

	RecordStateChange(cb.name, from.state, to.state)

	cb.logger.Info("circuit breaker state changed",
		zap.String("name", cb.name),
		zap.String("from", from.state.String()),
		zap.String("to", to.state.String()),
	)

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.name, from.state, to.state)
	}
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() State {
	return cb.state.Load().state
}

// Reset forces the circuit breaker back to closed state.
func (cb *CircuitBreaker) Reset(now time.Time) {
	for {
		cur := cb.state.Load()
		next := cur.transition(StateClosed, now)
		if cb.state.CompareAndSwap(cur, &next) {
			cb.afterUpdate(cur, &next)
			break
		}
	}

	cb.logger.Info("circuit breaker reset",
		zap.String("name", cb.name),
	)
}

// Name returns the name of the circuit breaker.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Stats returns the current statistics of the circuit breaker.
func (cb *CircuitBreaker) Stats() Stats {
	s := cb.state.Load()
	return Stats{
		State:          s.state,
		StateName:      s.state.String(),
		Failures:       s.failures,
		Successes:      s.successes,
		HalfOpenTrials: s.trials,
		LastTransition: s.lastTransition,
	}
}

// Compile-time interface assertion.
var _ Breaker = (*CircuitBreaker)(nil)
