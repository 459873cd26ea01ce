package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBreaker(cfg CircuitBreakerConfig) (*CircuitBreaker, *time.Time) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker("open-meteo", cfg, logrus.New())
	cb.now = func() time.Time { return now }
	cb.lastStateChange = now
	return cb, &now
}

var errUpstream = errors.New("upstream unavailable")

func fail(context.Context) error    { return errUpstream }
func succeed(context.Context) error { return nil }

func TestCircuitBreaker_ConfigDefaults(t *testing.T) {
	cb := NewCircuitBreaker("defaults", CircuitBreakerConfig{}, nil)

	assert.Equal(t, 5, cb.config.FailureThreshold)
	assert.Equal(t, 2, cb.config.SuccessThreshold)
	assert.Equal(t, 60*time.Second, cb.config.Timeout)
	assert.Equal(t, 1, cb.config.MaxRequests)
	assert.Equal(t, 300*time.Second, cb.config.ResetTimeout)
	assert.NotNil(t, cb.logger)
	assert.Equal(t, Closed, cb.GetState())
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb, _ := testBreaker(CircuitBreakerConfig{FailureThreshold: 3, Timeout: time.Minute})

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(context.Background(), fail), errUpstream)
	}
	assert.True(t, cb.IsOpen())

	called := false
	err := cb.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	stats := cb.GetStats()
	assert.Equal(t, int64(4), stats.TotalRequests)
	assert.Equal(t, int64(3), stats.FailedRequests)
	assert.Equal(t, int64(1), stats.RejectedRequests)
	assert.Equal(t, "open", stats.State)
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb, _ := testBreaker(CircuitBreakerConfig{FailureThreshold: 2})

	_ = cb.Execute(context.Background(), fail)
	require.NoError(t, cb.Execute(context.Background(), succeed))
	_ = cb.Execute(context.Background(), fail)

	assert.Equal(t, Closed, cb.GetState())
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb, now := testBreaker(CircuitBreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, Timeout: time.Minute})

	_ = cb.Execute(context.Background(), fail)
	require.True(t, cb.IsOpen())

	*now = now.Add(2 * time.Minute)
	require.NoError(t, cb.Execute(context.Background(), succeed))
	assert.Equal(t, HalfOpen, cb.GetState())

	require.NoError(t, cb.Execute(context.Background(), succeed))
	assert.Equal(t, Closed, cb.GetState())
	assert.Equal(t, int64(3), cb.GetStats().StateChanges)
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, now := testBreaker(CircuitBreakerConfig{FailureThreshold: 1, Timeout: time.Minute})

	_ = cb.Execute(context.Background(), fail)
	*now = now.Add(2 * time.Minute)
	_ = cb.Execute(context.Background(), fail)

	assert.True(t, cb.IsOpen())
	assert.ErrorIs(t, cb.Execute(context.Background(), succeed), ErrCircuitOpen)
}

// TestCircuitBreaker_HalfOpenLimitsProbes tests that only MaxRequests calls pass while half-open
func TestCircuitBreaker_HalfOpenLimitsProbes(t *testing.T) {
	cb, now := testBreaker(CircuitBreakerConfig{FailureThreshold: 1, Timeout: time.Minute, MaxRequests: 1})
	_ = cb.Execute(context.Background(), fail)
	*now = now.Add(2 * time.Minute)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	assert.ErrorIs(t, cb.Execute(context.Background(), succeed), ErrCircuitOpen)
	close(release)
	assert.NoError(t, <-done)
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb, _ := testBreaker(CircuitBreakerConfig{FailureThreshold: 1})
	_ = cb.Execute(context.Background(), fail)
	require.True(t, cb.IsOpen())

	cb.Reset()
	assert.Equal(t, Closed, cb.GetState())
	assert.NoError(t, cb.Execute(context.Background(), succeed))
}

// TestCircuitBreaker_ConcurrentAccess tests that calls run in parallel without holding the lock
func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	cb := NewCircuitBreaker("nhits", CircuitBreakerConfig{FailureThreshold: 100}, logrus.New())

	var running, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = cb.Execute(context.Background(), func(context.Context) error {
				n := atomic.AddInt32(&running, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				atomic.AddInt32(&running, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Greater(t, atomic.LoadInt32(&peak), int32(1))
	assert.Equal(t, int64(10), cb.GetStats().SuccessfulRequests)
}

func TestCircuitBreakerState_String(t *testing.T) {
	assert.Equal(t, "closed", Closed.String())
	assert.Equal(t, "open", Open.String())
	assert.Equal(t, "half-open", HalfOpen.String())
	assert.Equal(t, "unknown", CircuitBreakerState(9).String())
}

func TestCircuitBreakerManager(t *testing.T) {
	m := NewCircuitBreakerManager(logrus.New())
	a := m.GetOrCreate("external-historical", CircuitBreakerConfig{FailureThreshold: 1})
	b := m.GetOrCreate("external-historical", CircuitBreakerConfig{FailureThreshold: 9})
	assert.Same(t, a, b)

	_ = a.Execute(context.Background(), fail)
	m.GetOrCreate("external-forecast", CircuitBreakerConfig{})

	stats := m.GetAllStats()
	require.Len(t, stats, 2)
	assert.Equal(t, "open", stats["external-historical"].State)
	assert.Equal(t, []string{"external-historical"}, m.OpenBreakers())

	m.ResetAll()
	assert.Equal(t, Closed, a.GetState())
	assert.Empty(t, m.OpenBreakers())
}
