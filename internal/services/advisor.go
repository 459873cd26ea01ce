package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/irfndi/celebrum-forecast/internal/models"
)

// Advisor is an optional external model consulted alongside the forecasters
type Advisor interface {
	Predict(ctx context.Context, history []models.Observation, future []models.FutureCovariateStub) ([]float64, error)
	IsAvailable(ctx context.Context) bool
}

// AdvisorMetrics summarizes the advisor's recent behaviour
type AdvisorMetrics struct {
	Requests        int64         `json:"requests"`
	Successes       int64         `json:"successes"`
	Failures        int64         `json:"failures"`
	CacheHits       int64         `json:"cache_hits"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	SuccessRate     float64       `json:"success_rate"`
}

// TrackedAdvisor counts calls to an Advisor and memoizes answers per data fingerprint
type TrackedAdvisor struct {
	inner  Advisor
	cache  *lru.Cache[string, []float64]
	logger *logrus.Logger

	mu            sync.Mutex
	metrics       AdvisorMetrics
	totalResponse time.Duration
}

// NewTrackedAdvisor wraps inner with an answer cache of cacheSize entries
func NewTrackedAdvisor(inner Advisor, cacheSize int, logger *logrus.Logger) (*TrackedAdvisor, error) {
	if cacheSize <= 0 {
		cacheSize = 32
	}
	if logger == nil {
		logger = logrus.New()
	}
	c, err := lru.New[string, []float64](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create advisor cache: %w", err)
	}
	return &TrackedAdvisor{inner: inner, cache: c, logger: logger}, nil
}

// IsAvailable reports whether the wrapped advisor can be consulted
func (a *TrackedAdvisor) IsAvailable(ctx context.Context) bool {
	return a != nil && a.inner != nil && a.inner.IsAvailable(ctx)
}

// Predict returns the advisor's predictions for the future stubs, reusing an earlier answer for the same fingerprint
func (a *TrackedAdvisor) Predict(ctx context.Context, fingerprint string, history []models.Observation, future []models.FutureCovariateStub) ([]float64, error) {
	key := fmt.Sprintf("%s:%d", fingerprint, len(future))
	a.mu.Lock()
	a.metrics.Requests++
	a.mu.Unlock()

	if fingerprint != "" {
		if cached, ok := a.cache.Get(key); ok {
			a.mu.Lock()
			a.metrics.CacheHits++
			a.metrics.Successes++
			a.mu.Unlock()
			return cached, nil
		}
	}

	start := time.Now()
	values, err := a.inner.Predict(ctx, history, future)
	if err == nil && len(values) != len(future) {
		err = fmt.Errorf("advisor returned %d predictions for %d days", len(values), len(future))
	}
	elapsed := time.Since(start)

	a.mu.Lock()
	a.totalResponse += elapsed
	if err != nil {
		a.metrics.Failures++
	} else {
		a.metrics.Successes++
	}
	a.mu.Unlock()

	if err != nil {
		a.logger.WithError(err).WithField("duration_ms", elapsed.Milliseconds()).Warn("Advisor prediction failed")
		return nil, err
	}
	if fingerprint != "" {
		a.cache.Add(key, values)
	}
	return values, nil
}

// GetMetrics returns a snapshot of the counters
func (a *TrackedAdvisor) GetMetrics() AdvisorMetrics {
	a.mu.Lock()
	defer a.mu.Unlock()
	m := a.metrics
	if calls := m.Successes + m.Failures - m.CacheHits; calls > 0 {
		m.AvgResponseTime = a.totalResponse / time.Duration(calls)
	}
	if m.Requests > 0 {
		m.SuccessRate = float64(m.Successes) / float64(m.Requests)
	}
	return m
}
