package circuitbreaker

import (
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// GoBreaker adapts gobreaker's two-step breaker to the Breaker interface.
// gobreaker reads the wall clock itself, so the instants passed to Acquire
// and Ticket.Done are ignored, and it closes after SuccessThreshold
// consecutive half-open successes with the same number of trial slots.
type GoBreaker struct {
	name   string
	cb     *gobreaker.TwoStepCircuitBreaker
	logger *zap.Logger
}

// NewGoBreaker creates a gobreaker-backed breaker. The config must have
// passed Validate.
func NewGoBreaker(name string, config *Config, logger *zap.Logger) *GoBreaker {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	gb := &GoBreaker{name: name, logger: logger}
	threshold := safeIntToUint32(config.FailureThreshold)
	onStateChange := config.OnStateChange

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: safeIntToUint32(config.SuccessThreshold),
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// Called with gobreaker's mutex held; must not call back into gb.cb.
		OnStateChange: func(name string, from, to gobreaker.State) {
			f, t := fromGoBreakerState(from), fromGoBreakerState(to)
			RecordStateChange(name, f, t)
			logger.Info("circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", f.String()),
				zap.String("to", t.String()),
				zap.String("engine", string(EngineGoBreaker)),
			)
			if onStateChange != nil {
				onStateChange(name, f, t)
			}
		},
	}

	gb.cb = gobreaker.NewTwoStepCircuitBreaker(settings)
	RecordState(name, StateClosed)
	return gb
}

// Acquire implements Breaker.
func (gb *GoBreaker) Acquire(time.Time) (Ticket, error) {
	done, err := gb.cb.Allow()
	if err != nil {
		RecordRequest(gb.name, false)
		if errors.Is(err, gobreaker.ErrTooManyRequests) {
			return Ticket{}, ErrTooManyRequests
		}
		return Ticket{}, ErrCircuitOpen
	}

	RecordRequest(gb.name, true)
	return Ticket{done: func(success bool, _ time.Time) {
		if success {
			RecordSuccess(gb.name)
		} else {
			RecordFailure(gb.name)
		}
		done(success)
	}}, nil
}

// State implements Breaker.
func (gb *GoBreaker) State() State {
	return fromGoBreakerState(gb.cb.State())
}

// Name implements Breaker.
func (gb *GoBreaker) Name() string {
	return gb.name
}

// Stats implements Breaker. gobreaker does not expose the transition time.
func (gb *GoBreaker) Stats() Stats {
	state := gb.State()
	counts := gb.cb.Counts()
	s := Stats{
		State:     state,
		StateName: state.String(),
		Failures:  int(counts.ConsecutiveFailures),
		Successes: int(counts.ConsecutiveSuccesses),
	}
	if state == StateHalfOpen {
		s.HalfOpenTrials = int(counts.Requests)
	}
	return s
}

func fromGoBreakerState(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// safeIntToUint32 converts a positive int to uint32, saturating on overflow.
func safeIntToUint32(n int) uint32 {
	if n <= 0 {
		return 0
	}
	if uint64(n) > uint64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(n)
}

// Compile-time interface assertion.
var _ Breaker = (*GoBreaker)(nil)
