package circuitbreaker

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestBreaker(t *testing.T, name string) *CircuitBreaker {
	t.Helper()

	cfg := DefaultConfig().
		WithFailureThreshold(5).
		WithSuccessThreshold(2).
		WithTimeout(10 * time.Second)
	require.NoError(t, cfg.Validate())
	return NewCircuitBreaker(name, cfg, zap.NewNop())
}

func TestState_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestCircuitBreaker_FullCycle(t *testing.T) {
	t.Parallel()

	cb := newTestBreaker(t, "full-cycle")
	assert.Equal(t, StateClosed, cb.State())

	for i := 0; i < 4; i++ {
		require.True(t, cb.AllowRequest(epoch))
		cb.RecordFailure(epoch)
		assert.Equal(t, StateClosed, cb.State(), "failure %d should not open", i+1)
	}
	cb.RecordFailure(epoch)
	assert.Equal(t, StateOpen, cb.State())
	assert.Equal(t, epoch, cb.Stats().LastTransition)

	// Before the timeout every request is rejected.
	for _, d := range []time.Duration{0, time.Second, 10*time.Second - time.Nanosecond} {
		assert.False(t, cb.AllowRequest(epoch.Add(d)))
	}
	assert.Equal(t, StateOpen, cb.State())

	// The first check after the timeout is the first trial.
	later := epoch.Add(10 * time.Second)
	assert.True(t, cb.AllowRequest(later))
	assert.Equal(t, StateHalfOpen, cb.State())
	assert.Equal(t, 0, cb.Stats().Successes)

	cb.RecordSuccess(later)
	assert.Equal(t, StateHalfOpen, cb.State())
	assert.True(t, cb.AllowRequest(later))
	cb.RecordSuccess(later)

	stats := cb.Stats()
	assert.Equal(t, StateClosed, stats.State)
	assert.Equal(t, 0, stats.Failures)
	assert.Equal(t, "closed", stats.StateName)
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	cb := newTestBreaker(t, "half-open-failure")
	for i := 0; i < 5; i++ {
		cb.RecordFailure(epoch)
	}
	require.Equal(t, StateOpen, cb.State())

	trialAt := epoch.Add(11 * time.Second)
	require.True(t, cb.AllowRequest(trialAt))
	cb.RecordFailure(trialAt)

	assert.Equal(t, StateOpen, cb.State())
	assert.Equal(t, trialAt, cb.Stats().LastTransition)
	assert.False(t, cb.AllowRequest(trialAt.Add(5*time.Second)))
	assert.True(t, cb.AllowRequest(trialAt.Add(10*time.Second)))
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	t.Parallel()

	cb := newTestBreaker(t, "success-resets")
	for i := 0; i < 4; i++ {
		cb.RecordFailure(epoch)
	}
	cb.RecordSuccess(epoch)
	assert.Equal(t, 0, cb.Stats().Failures)

	for i := 0; i < 4; i++ {
		cb.RecordFailure(epoch)
	}
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenTrialLimit(t *testing.T) {
	t.Parallel()

	cb := newTestBreaker(t, "trial-limit")
	for i := 0; i < 5; i++ {
		cb.RecordFailure(epoch)
	}

	later := epoch.Add(time.Minute)
	assert.True(t, cb.AllowRequest(later))
	assert.True(t, cb.AllowRequest(later))
	assert.False(t, cb.AllowRequest(later), "only success-threshold trials are admitted")
	assert.Equal(t, 2, cb.Stats().HalfOpenTrials)

	_, err := cb.Acquire(later)
	assert.ErrorIs(t, err, ErrTooManyRequests)
}

func TestCircuitBreaker_LateOutcomesWhileOpen(t *testing.T) {
	t.Parallel()

	cb := newTestBreaker(t, "late-outcomes")
	for i := 0; i < 5; i++ {
		cb.RecordFailure(epoch)
	}
	before := cb.state.Load()

	cb.RecordSuccess(epoch.Add(time.Second))
	cb.RecordFailure(epoch.Add(time.Second))

	assert.Same(t, before, cb.state.Load())
}

func TestCircuitBreaker_Acquire(t *testing.T) {
	t.Parallel()

	cb := newTestBreaker(t, "acquire")

	for i := 0; i < 5; i++ {
		ticket, err := cb.Acquire(epoch)
		require.NoError(t, err)
		ticket.Done(false, epoch)
		ticket.Done(false, epoch) // second call is ignored
	}
	require.Equal(t, StateOpen, cb.State())

	_, err := cb.Acquire(epoch)
	assert.ErrorIs(t, err, ErrCircuitOpen)

	ticket, err := cb.Acquire(epoch.Add(10 * time.Second))
	require.NoError(t, err)
	ticket.Done(true, epoch.Add(10*time.Second))
	assert.Equal(t, 1, cb.Stats().Successes)

	var zero Ticket
	assert.NotPanics(t, func() { zero.Done(true, epoch) })
}

func TestCircuitBreaker_StaleTicketOutcomes(t *testing.T) {
	t.Parallel()

	later := epoch.Add(10 * time.Second)

	tests := []struct {
		name    string
		success bool
	}{
		{name: "success does not count as a trial", success: true},
		{name: "failure does not reopen", success: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := DefaultConfig().
				WithFailureThreshold(1).
				WithSuccessThreshold(2).
				WithTimeout(10 * time.Second)
			cb := NewCircuitBreaker("stale-"+tt.name, cfg, nil)

			slow, err := cb.Acquire(epoch)
			require.NoError(t, err)
			failing, err := cb.Acquire(epoch)
			require.NoError(t, err)
			failing.Done(false, epoch)
			require.Equal(t, StateOpen, cb.State())

			trial, err := cb.Acquire(later)
			require.NoError(t, err)
			require.Equal(t, StateHalfOpen, cb.State())

			slow.Done(tt.success, later)
			stats := cb.Stats()
			assert.Equal(t, StateHalfOpen, stats.State)
			assert.Equal(t, 0, stats.Successes)
			assert.Equal(t, 1, stats.HalfOpenTrials)

			trial.Done(true, later)
			assert.Equal(t, StateHalfOpen, cb.State(), "one trial is below the success threshold")

			second, err := cb.Acquire(later)
			require.NoError(t, err)
			second.Done(true, later)
			assert.Equal(t, StateClosed, cb.State())
		})
	}
}

func TestCircuitBreaker_ResetDropsOutstandingTickets(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("reset-tickets", DefaultConfig().WithFailureThreshold(1), nil)

	ticket, err := cb.Acquire(epoch)
	require.NoError(t, err)

	cb.Reset(epoch.Add(time.Second))
	ticket.Done(false, epoch.Add(time.Second))

	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Stats().Failures)
}

func TestCircuitBreaker_ConcurrentFailuresTransitionOnce(t *testing.T) {
	t.Parallel()

	var transitions atomic.Int64
	cfg := DefaultConfig().WithFailureThreshold(10).WithTimeout(time.Hour).
		WithOnStateChange(func(_ string, from, to State) {
			if from == StateClosed && to == StateOpen {
				transitions.Add(1)
			}
		})
	cb := NewCircuitBreaker("concurrent-failures", cfg, nil)

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cb.RecordFailure(epoch)
		}()
	}
	wg.Wait()

	assert.Equal(t, StateOpen, cb.State())
	assert.Equal(t, int64(1), transitions.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(
		CircuitBreakerStateChangesTotal.WithLabelValues("concurrent-failures", "closed", "open")))
}

func TestCircuitBreaker_ConcurrentHalfOpenTrials(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig().WithFailureThreshold(1).WithSuccessThreshold(3).WithTimeout(time.Second)
	cb := NewCircuitBreaker("concurrent-trials", cfg, nil)
	cb.RecordFailure(epoch)

	var (
		wg      sync.WaitGroup
		granted atomic.Int64
	)
	later := epoch.Add(time.Minute)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if cb.AllowRequest(later) {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(3), granted.Load())
	assert.Equal(t, StateHalfOpen, cb.State())
}

func TestCircuitBreaker_LogsTransitions(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	cfg := DefaultConfig().WithFailureThreshold(1)
	cb := NewCircuitBreaker("logged", cfg, zap.New(core))

	cb.RecordFailure(epoch)

	entries := logs.FilterMessage("circuit breaker state changed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "logged", fields["name"])
	assert.Equal(t, "closed", fields["from"])
	assert.Equal(t, "open", fields["to"])
	assert.Equal(t, 1.0, testutil.ToFloat64(CircuitBreakerState.WithLabelValues("logged")))
}

func TestCircuitBreaker_Reset(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("reset", DefaultConfig().WithFailureThreshold(1), nil)
	cb.RecordFailure(epoch)
	require.Equal(t, StateOpen, cb.State())

	cb.Reset(epoch.Add(time.Second))

	assert.Equal(t, StateClosed, cb.State())
	assert.True(t, cb.AllowRequest(epoch.Add(time.Second)))
	assert.Equal(t, "reset", cb.Name())
}

func TestNewCircuitBreaker_NilConfig(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("nil-config", nil, nil)
	assert.Equal(t, 5, cb.config.FailureThreshold)
}
