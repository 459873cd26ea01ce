package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTimeoutManager_NewTimeoutManager tests timeout manager creation
func TestTimeoutManager_NewTimeoutManager(t *testing.T) {
	logger := logrus.New()

	config := DefaultTimeoutConfig()
	tm := NewTimeoutManager(config, logger)

	assert.NotNil(t, tm)
	assert.Equal(t, config, tm.config)
	assert.Equal(t, logger, tm.logger)
	assert.NotNil(t, tm.activeContexts)
	assert.Equal(t, 30*time.Second, tm.defaultTimeout)
}

// TestTimeoutManager_DefaultTimeoutConfig tests the default timeout configuration
func TestTimeoutManager_DefaultTimeoutConfig(t *testing.T) {
	config := DefaultTimeoutConfig()

	assert.Equal(t, 30*time.Second, config.ModelUnit)
	assert.Equal(t, 30*time.Second, config.ExternalFetch)
	assert.Equal(t, 5*time.Second, config.Persistence)
	assert.Equal(t, 5*time.Minute, config.CrossValidation)
}

func TestTimeoutManager_GetTimeoutForOperation(t *testing.T) {
	tm := NewTimeoutManager(&TimeoutConfig{ModelUnit: time.Second}, logrus.New())

	assert.Equal(t, time.Second, tm.getTimeoutForOperation(OperationModelUnit))
	assert.Equal(t, 30*time.Second, tm.getTimeoutForOperation(OperationPersistence))
	assert.Equal(t, 30*time.Second, tm.getTimeoutForOperation("unknown"))
}

// TestTimeoutManager_CreateOperationContext tests operation context creation with parent
func TestTimeoutManager_CreateOperationContext(t *testing.T) {
	tm := NewTimeoutManager(nil, logrus.New())

	parentCtx, parentCancel := context.WithCancel(context.Background())
	opCtx := tm.CreateOperationContext(parentCtx, OperationModelUnit, "run-1:ARIMA")

	assert.Equal(t, "run-1:ARIMA", opCtx.OperationID)
	assert.Equal(t, 30*time.Second, opCtx.Timeout)
	assert.Equal(t, 1, tm.GetActiveOperationCount())

	parentCancel()
	select {
	case <-opCtx.Ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("operation context should be cancelled with its parent")
	}

	tm.CompleteOperation("run-1:ARIMA")
	assert.Equal(t, 0, tm.GetActiveOperationCount())
}

func TestTimeoutManager_ExecuteWithTimeout(t *testing.T) {
	tm := NewTimeoutManager(&TimeoutConfig{ModelUnit: 50 * time.Millisecond}, logrus.New())

	t.Run("completes", func(t *testing.T) {
		err := tm.ExecuteWithTimeout(context.Background(), OperationModelUnit, "ok", func(context.Context) error {
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 0, tm.GetActiveOperationCount())
	})

	t.Run("returns operation error", func(t *testing.T) {
		boom := errors.New("fit failed")
		err := tm.ExecuteWithTimeout(context.Background(), OperationModelUnit, "err", func(context.Context) error {
			return boom
		})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("times out", func(t *testing.T) {
		start := time.Now()
		err := tm.ExecuteWithTimeout(context.Background(), OperationModelUnit, "slow", func(context.Context) error {
			time.Sleep(time.Second)
			return nil
		})
		var timeoutErr *TimeoutError
		require.ErrorAs(t, err, &timeoutErr)
		assert.Equal(t, "slow", timeoutErr.OperationID)
		assert.Less(t, time.Since(start), 500*time.Millisecond)
	})

	t.Run("recovers panic", func(t *testing.T) {
		err := tm.ExecuteWithTimeout(context.Background(), OperationModelUnit, "panic", func(context.Context) error {
			panic("index out of range")
		})
		var panicErr *PanicError
		require.ErrorAs(t, err, &panicErr)
		assert.Equal(t, "index out of range", panicErr.Value)
	})

	t.Run("parent cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := tm.ExecuteWithTimeout(ctx, OperationModelUnit, "cancelled", func(ctx context.Context) error {
			<-ctx.Done()
			time.Sleep(10 * time.Millisecond)
			return nil
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

// TestTimeoutManager_CancelAllOperations tests cancelling all operations
func TestTimeoutManager_CancelAllOperations(t *testing.T) {
	tm := NewTimeoutManager(nil, logrus.New())

	op1 := tm.CreateOperationContext(context.Background(), OperationModelUnit, "op1")
	op2 := tm.CreateOperationContext(context.Background(), OperationPersistence, "op2")
	assert.Equal(t, 2, tm.GetActiveOperationCount())

	tm.Shutdown()

	assert.Equal(t, 0, tm.GetActiveOperationCount())
	assert.Error(t, op1.Ctx.Err())
	assert.Error(t, op2.Ctx.Err())
}

func TestTimeoutManager_Stats(t *testing.T) {
	tm := NewTimeoutManager(&TimeoutConfig{ModelUnit: 2 * time.Second, Persistence: time.Second}, logrus.New())
	op := tm.CreateOperationContext(context.Background(), OperationModelUnit, "run-1:GRU")
	defer tm.CompleteOperation(op.OperationID)

	stats := tm.Stats()
	assert.Equal(t, 1, stats.ActiveOperations)
	assert.Equal(t, int64(2000), stats.ModelUnitMs)
	assert.Equal(t, int64(1000), stats.PersistenceMs)
	assert.Equal(t, int64(30000), stats.ExternalFetchMs, "unset deadlines fall back to the default")
}

// TestTimeoutManager_SameIDDoesNotCancelOtherCaller tests two concurrent operations sharing an ID
func TestTimeoutManager_SameIDDoesNotCancelOtherCaller(t *testing.T) {
	tm := NewTimeoutManager(&TimeoutConfig{ExternalFetch: 5 * time.Second}, logrus.New())

	started := make(chan struct{})
	finish := make(chan struct{})
	secondErr := make(chan error, 1)
	go func() {
		secondErr <- tm.ExecuteWithTimeout(context.Background(), OperationExternalFetch, "advisor:same", func(ctx context.Context) error {
			close(started)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-finish:
				return nil
			}
		})
	}()
	<-started

	err := tm.ExecuteWithTimeout(context.Background(), OperationExternalFetch, "advisor:same", func(context.Context) error {
		return nil
	})
	require.NoError(t, err)

	close(finish)
	assert.NoError(t, <-secondErr, "finishing one caller must not cancel the other")
	assert.Equal(t, 0, tm.GetActiveOperationCount())
}
