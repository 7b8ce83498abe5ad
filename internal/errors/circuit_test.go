package errors

import (
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func failingCall() error  { return RemoteBackendError("down", nil) }
func healthyCall() error  { return nil }

func tripBreaker(t *testing.T, cb *CircuitBreaker, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := cb.Execute(failingCall)
		require.Error(t, err)
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker("vector", WithFailureThreshold(3), WithCooldown(time.Minute))

	tripBreaker(t, cb, 3)

	assert.Equal(t, StateOpen, cb.State())
	assert.Equal(t, 3, cb.Failures())
}

func TestCircuitBreaker_FailsFastWithoutCallingFn(t *testing.T) {
	cb := NewCircuitBreaker("vector", WithFailureThreshold(2), WithCooldown(time.Minute))
	tripBreaker(t, cb, 2)

	called := false
	err := cb.Execute(func() error {
		called = true
		return nil
	})

	assert.True(t, stderrors.Is(err, ErrCircuitOpen))
	assert.False(t, called, "open circuit must not call the wrapped function")
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker("vector", WithFailureThreshold(3))

	tripBreaker(t, cb, 2)
	require.NoError(t, cb.Execute(healthyCall))

	assert.Equal(t, 0, cb.Failures())
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenProbeAfterCooldown(t *testing.T) {
	cb := NewCircuitBreaker("vector",
		WithFailureThreshold(1),
		WithCooldown(10*time.Millisecond))

	tripBreaker(t, cb, 1)
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(15 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	// The probe is admitted and its success closes the circuit.
	called := false
	require.NoError(t, cb.Execute(func() error {
		called = true
		return nil
	}))
	assert.True(t, called)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	cb := NewCircuitBreaker("vector",
		WithFailureThreshold(1),
		WithCooldown(10*time.Millisecond))

	tripBreaker(t, cb, 1)
	time.Sleep(15 * time.Millisecond)

	require.Error(t, cb.Execute(failingCall))
	assert.Equal(t, StateOpen, cb.State())

	// Back inside cooldown: fail fast again.
	err := cb.Execute(healthyCall)
	assert.True(t, stderrors.Is(err, ErrCircuitOpen))
}

func TestCircuitBreaker_RequiresConsecutiveRecoverySuccesses(t *testing.T) {
	cb := NewCircuitBreaker("vector",
		WithFailureThreshold(1),
		WithCooldown(10*time.Millisecond),
		WithRecoveryAttempts(2))

	tripBreaker(t, cb, 1)
	time.Sleep(15 * time.Millisecond)

	// First probe succeeds but one success is not enough to close.
	require.NoError(t, cb.Execute(healthyCall))
	assert.Equal(t, StateHalfOpen, cb.State())

	// Second consecutive success closes the circuit.
	require.NoError(t, cb.Execute(healthyCall))
	assert.Equal(t, StateClosed, cb.State())
}

func TestExecuteWithFallback_UsesFallbackWhenOpen(t *testing.T) {
	cb := NewCircuitBreaker("vector", WithFailureThreshold(1), WithCooldown(time.Minute))
	tripBreaker(t, cb, 1)

	remoteCalled := false
	result, err := ExecuteWithFallback(cb,
		func() ([]string, error) {
			remoteCalled = true
			return []string{"remote"}, nil
		},
		func() ([]string, error) {
			return []string{"local"}, nil
		})

	require.NoError(t, err)
	assert.False(t, remoteCalled)
	assert.Equal(t, []string{"local"}, result)
}

func TestExecuteWithFallback_PassesThroughWhenClosed(t *testing.T) {
	cb := NewCircuitBreaker("vector")

	result, err := ExecuteWithFallback(cb,
		func() (string, error) { return "remote", nil },
		func() (string, error) { return "local", nil })

	require.NoError(t, err)
	assert.Equal(t, "remote", result)
}
