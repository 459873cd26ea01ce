package external

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(retries int) RetryPolicy {
	return RetryPolicy{MaxRetries: retries, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffFactor: 2}
}

func TestExecuteWithRetry(t *testing.T) {
	tests := []struct {
		name      string
		errs      []error
		wantCalls int
		wantErr   bool
	}{
		{"succeeds first time", []error{nil}, 1, false},
		{"recovers from transport error", []error{errors.New("connection reset"), nil}, 2, false},
		{"retries 503", []error{&statusError{code: 503, msg: "unavailable"}, &statusError{code: 429, msg: "slow down"}, nil}, 3, false},
		{"gives up after max retries", []error{errors.New("a"), errors.New("b"), errors.New("c"), errors.New("d")}, 3, true},
		{"does not retry 400", []error{&statusError{code: 400, msg: "bad"}}, 1, true},
		{"does not retry decode errors", []error{&decodeError{err: errors.New("bad json")}}, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := executeWithRetry(context.Background(), fastRetry(2), logrus.New(), "test", func(context.Context) error {
				err := tt.errs[min(calls, len(tt.errs)-1)]
				calls++
				return err
			})
			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestExecuteWithRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{MaxRetries: 5, InitialDelay: time.Hour, BackoffFactor: 2}

	calls := 0
	err := executeWithRetry(ctx, policy, logrus.New(), "test", func(context.Context) error {
		calls++
		cancel()
		return errors.New("boom")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicy_Jitter(t *testing.T) {
	p := RetryPolicy{JitterEnabled: true}
	for i := 0; i < 50; i++ {
		d := p.jitter(100 * time.Millisecond)
		assert.GreaterOrEqual(t, d, 75*time.Millisecond)
		assert.LessOrEqual(t, d, 125*time.Millisecond)
	}
	assert.Equal(t, time.Second, RetryPolicy{}.jitter(time.Second))
}

func TestOpenMeteoClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(archiveBody))
	}))
	defer server.Close()

	cfg := DefaultOpenMeteoConfig()
	cfg.ArchiveURL = server.URL
	cfg.Retry = fastRetry(2)
	days, err := NewOpenMeteoClient(cfg, nil).HistoricalWeather(context.Background(), DefaultLocation,
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))

	require.NoError(t, err)
	assert.Len(t, days, 2)
	assert.Equal(t, int32(2), calls.Load())
}
