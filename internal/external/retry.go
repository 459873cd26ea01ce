package external

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// RetryPolicy defines retry behavior for failed upstream calls
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterEnabled bool
}

// DefaultRetryPolicy is used for Open-Meteo calls
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    2,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		JitterEnabled: true,
	}
}

// statusError carries the upstream HTTP status so the retry loop can tell transient failures apart
type statusError struct {
	code int
	msg  string
}

func (e *statusError) Error() string { return e.msg }

// retryable reports whether err is worth another attempt: transport errors, 429 and 5xx
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	var de *decodeError
	return !errors.As(err, &de)
}

// decodeError marks a payload that arrived but could not be parsed
type decodeError struct{ err error }

func (e *decodeError) Error() string { return e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }

// executeWithRetry runs op until it succeeds, fails permanently or the policy is exhausted
func executeWithRetry(ctx context.Context, policy RetryPolicy, logger *logrus.Logger, operation string, op func(ctx context.Context) error) error {
	start := time.Now()
	delay := policy.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		err := op(ctx)
		if err == nil {
			if attempt > 0 {
				logger.WithFields(logrus.Fields{
					"operation": operation,
					"attempts":  attempt + 1,
					"duration":  time.Since(start),
				}).Info("Operation recovered after retry")
			}
			return nil
		}
		lastErr = err
		if attempt == policy.MaxRetries || !retryable(err) {
			break
		}

		logger.WithFields(logrus.Fields{
			"operation": operation,
			"attempt":   attempt + 1,
			"error":     err.Error(),
			"delay":     delay,
		}).Warn("Operation failed, retrying")

		timer := time.NewTimer(policy.jitter(delay))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay = time.Duration(float64(delay) * policy.BackoffFactor)
		if policy.MaxDelay > 0 && delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}
	return lastErr
}

// jitter adds up to 25% either way
func (p RetryPolicy) jitter(d time.Duration) time.Duration {
	if !p.JitterEnabled || d <= 0 {
		return d
	}
	return d + time.Duration(float64(d)*0.25*(2*rand.Float64()-1))
}
