package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker("quora", CircuitBreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute})

	for range 3 {
		require.NoError(t, cb.Allow())
		cb.Record(errors.New("fail"))
	}

	assert.Equal(t, CircuitOpen, cb.State())
	err := cb.Allow()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Contains(t, err.Error(), "quora")
}

func TestCircuitBreaker_SuccessResetsCount(t *testing.T) {
	cb := NewCircuitBreaker("so", CircuitBreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute})

	cb.Record(errors.New("fail"))
	cb.Record(errors.New("fail"))
	assert.Equal(t, 2, cb.Failures())

	cb.Record(nil)
	assert.Equal(t, 0, cb.Failures())
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_ShouldTripFiltersErrors(t *testing.T) {
	benign := errors.New("no results")
	cb := NewCircuitBreaker("so", CircuitBreakerConfig{
		FailureThreshold: 1,
		ShouldTrip:       func(err error) bool { return !errors.Is(err, benign) },
	})

	cb.Record(benign)
	assert.Equal(t, CircuitClosed, cb.State())

	cb.Record(errors.New("navigation"))
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker("quora", CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute})
	cb.nowFunc = func() time.Time { return now }

	cb.Record(errors.New("fail"))
	require.Error(t, cb.Allow())

	now = now.Add(time.Minute)
	assert.Equal(t, CircuitHalfOpen, cb.State())
	require.NoError(t, cb.Allow())

	// A failed probe reopens for another full window.
	cb.Record(errors.New("still failing"))
	assert.Equal(t, CircuitOpen, cb.State())
	require.Error(t, cb.Allow())

	now = now.Add(time.Minute)
	require.NoError(t, cb.Allow())
	cb.Record(nil)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	var transitions []string
	cb := NewCircuitBreaker("so", CircuitBreakerConfig{
		FailureThreshold: 1,
		OnStateChange: func(name string, from, to CircuitState) {
			transitions = append(transitions, name+":"+from.String()+"->"+to.String())
		},
	})

	cb.Record(errors.New("fail"))
	assert.Equal(t, []string{"so:closed->open"}, transitions)
}

func TestNewCircuitBreakerConfig(t *testing.T) {
	cfg := NewCircuitBreakerConfig(0, 0)
	assert.Equal(t, 3, cfg.FailureThreshold)
	assert.Equal(t, 10*time.Minute, cfg.ResetTimeout)

	cfg = NewCircuitBreakerConfig(5, 30)
	assert.Equal(t, 5, cfg.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.ResetTimeout)
}

func TestSourceBreakers_GetIsStable(t *testing.T) {
	sb := NewSourceBreakers(NewCircuitBreakerConfig(1, 60))

	var wg sync.WaitGroup
	got := make([]*CircuitBreaker, 10)
	for i := range got {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got[i] = sb.Get("quora")
		}()
	}
	wg.Wait()
	for _, cb := range got {
		assert.Same(t, got[0], cb)
	}

	sb.Get("stackoverflow").Record(errors.New("fail"))
	states := sb.States()
	assert.Equal(t, CircuitClosed, states["quora"])
	assert.Equal(t, CircuitOpen, states["stackoverflow"])
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(9).String())
}
