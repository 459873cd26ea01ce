package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Operation types with their own deadline
const (
	OperationModelUnit       = "model_unit"
	OperationExternalFetch   = "external_fetch"
	OperationPersistence     = "persistence"
	OperationCrossValidation = "cross_validation"
)

// TimeoutConfig defines timeout settings for different operation types
type TimeoutConfig struct {
	ModelUnit       time.Duration
	ExternalFetch   time.Duration
	Persistence     time.Duration
	CrossValidation time.Duration
}

// DefaultTimeoutConfig returns default timeout configuration
func DefaultTimeoutConfig() *TimeoutConfig {
	return &TimeoutConfig{
		ModelUnit:       30 * time.Second,
		ExternalFetch:   30 * time.Second,
		Persistence:     5 * time.Second,
		CrossValidation: 5 * time.Minute,
	}
}

// TimeoutManager races operations against per-type deadlines and tracks the ones in flight
type TimeoutManager struct {
	config         *TimeoutConfig
	logger         *logrus.Logger
	activeContexts map[string]*OperationContext
	mu             sync.RWMutex
	defaultTimeout time.Duration
}

// OperationContext wraps a context with timeout and cancellation
type OperationContext struct {
	Ctx         context.Context
	Cancel      context.CancelFunc
	OperationID string
	StartTime   time.Time
	Timeout     time.Duration
}

// TimeoutError is returned when an operation loses the race against its deadline
type TimeoutError struct {
	OperationType string
	OperationID   string
	Timeout       time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s %s timed out after %s", e.OperationType, e.OperationID, e.Timeout)
}

// PanicError carries a recovered panic from an operation
type PanicError struct {
	OperationID string
	Value       interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%s panicked: %v", e.OperationID, e.Value)
}

// NewTimeoutManager creates a new timeout manager
func NewTimeoutManager(config *TimeoutConfig, logger *logrus.Logger) *TimeoutManager {
	if config == nil {
		config = DefaultTimeoutConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &TimeoutManager{
		config:         config,
		logger:         logger,
		activeContexts: make(map[string]*OperationContext),
		defaultTimeout: 30 * time.Second,
	}
}

// CreateOperationContext derives a context bounded by the deadline of the operation type.
// Registering an ID that is already in flight replaces the tracked entry but leaves the
// earlier context running.
func (tm *TimeoutManager) CreateOperationContext(parent context.Context, operationType string, operationID string) *OperationContext {
	timeout := tm.getTimeoutForOperation(operationType)
	ctx, cancel := context.WithTimeout(parent, timeout)
	opCtx := &OperationContext{
		Ctx:         ctx,
		Cancel:      cancel,
		OperationID: operationID,
		StartTime:   time.Now(),
		Timeout:     timeout,
	}

	tm.mu.Lock()
	tm.activeContexts[operationID] = opCtx
	tm.mu.Unlock()
	return opCtx
}

// getTimeoutForOperation returns the appropriate timeout for an operation type
func (tm *TimeoutManager) getTimeoutForOperation(operationType string) time.Duration {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	var d time.Duration
	switch operationType {
	case OperationModelUnit:
		d = tm.config.ModelUnit
	case OperationExternalFetch:
		d = tm.config.ExternalFetch
	case OperationPersistence:
		d = tm.config.Persistence
	case OperationCrossValidation:
		d = tm.config.CrossValidation
	}
	if d <= 0 {
		return tm.defaultTimeout
	}
	return d
}

// CompleteOperation marks an operation as complete and cleans up resources
func (tm *TimeoutManager) CompleteOperation(operationID string) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if opCtx, exists := tm.activeContexts[operationID]; exists {
		opCtx.Cancel()
		delete(tm.activeContexts, operationID)
	}
}

// release cancels opCtx and untracks it only if it is still the registered entry for its ID
func (tm *TimeoutManager) release(opCtx *OperationContext) {
	opCtx.Cancel()
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.activeContexts[opCtx.OperationID] == opCtx {
		delete(tm.activeContexts, opCtx.OperationID)
	}
}

// CancelAllOperations cancels all active operations
func (tm *TimeoutManager) CancelAllOperations() {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	for operationID, opCtx := range tm.activeContexts {
		opCtx.Cancel()
		tm.logger.WithField("operation_id", operationID).Info("Operation cancelled during shutdown")
	}

	tm.activeContexts = make(map[string]*OperationContext)
}

// GetActiveOperationCount returns the number of active operations
func (tm *TimeoutManager) GetActiveOperationCount() int {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return len(tm.activeContexts)
}

// ExecuteWithTimeout runs operation in its own goroutine and returns whichever comes first:
// its result or the deadline. A panic inside operation is returned as a *PanicError.
// An operation that loses the race keeps running until it observes ctx.Done.
func (tm *TimeoutManager) ExecuteWithTimeout(
	ctx context.Context,
	operationType string,
	operationID string,
	operation func(ctx context.Context) error,
) error {
	opCtx := tm.CreateOperationContext(ctx, operationType, operationID)
	defer tm.release(opCtx)

	resultChan := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultChan <- &PanicError{OperationID: operationID, Value: r}
			}
		}()
		resultChan <- operation(opCtx.Ctx)
	}()

	select {
	case err := <-resultChan:
		tm.logger.WithFields(logrus.Fields{
			"operation_type": operationType,
			"operation_id":   operationID,
			"duration_ms":    time.Since(opCtx.StartTime).Milliseconds(),
			"success":        err == nil,
		}).Debug("Operation completed")
		return err

	case <-opCtx.Ctx.Done():
		tm.logger.WithFields(logrus.Fields{
			"operation_type": operationType,
			"operation_id":   operationID,
			"duration_ms":    time.Since(opCtx.StartTime).Milliseconds(),
			"timeout":        opCtx.Timeout,
		}).Warn("Operation timed out")
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &TimeoutError{OperationType: operationType, OperationID: operationID, Timeout: opCtx.Timeout}
	}
}

// TimeoutStats is a point-in-time view of the manager for diagnostics
type TimeoutStats struct {
	ActiveOperations int   `json:"active_operations"`
	ModelUnitMs      int64 `json:"model_unit_ms"`
	ExternalFetchMs  int64 `json:"external_fetch_ms"`
	PersistenceMs    int64 `json:"persistence_ms"`
	CrossValidateMs  int64 `json:"cross_validation_ms"`
}

// Stats reports the operations in flight and the effective deadlines
func (tm *TimeoutManager) Stats() TimeoutStats {
	return TimeoutStats{
		ActiveOperations: tm.GetActiveOperationCount(),
		ModelUnitMs:      tm.getTimeoutForOperation(OperationModelUnit).Milliseconds(),
		ExternalFetchMs:  tm.getTimeoutForOperation(OperationExternalFetch).Milliseconds(),
		PersistenceMs:    tm.getTimeoutForOperation(OperationPersistence).Milliseconds(),
		CrossValidateMs:  tm.getTimeoutForOperation(OperationCrossValidation).Milliseconds(),
	}
}

// Shutdown cancels every operation still in flight
func (tm *TimeoutManager) Shutdown() {
	tm.logger.Info("Shutting down timeout manager")
	tm.CancelAllOperations()
	tm.logger.Info("Timeout manager shutdown complete")
}
