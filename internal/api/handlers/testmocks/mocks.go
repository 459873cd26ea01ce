package testmocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/irfndi/celebrum-forecast/internal/models"
	"github.com/irfndi/celebrum-forecast/internal/services"
)

// MockForecastEngine implements handlers.ForecastEngine, DiagnosticsSource and ReadinessSource
type MockForecastEngine struct {
	mock.Mock
}

func (m *MockForecastEngine) GenerateForecast(ctx context.Context, req models.ForecastRequest) (*models.ForecastResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ForecastResult), args.Error(1)
}

func (m *MockForecastEngine) RecordActual(ctx context.Context, date time.Time, revenue float64) (int64, error) {
	args := m.Called(ctx, date, revenue)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockForecastEngine) LastDiagnostics() *models.EnsembleDiagnostics {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(*models.EnsembleDiagnostics)
}

func (m *MockForecastEngine) IsReady() bool {
	args := m.Called()
	return args.Bool(0)
}

// MockHealthChecker implements handlers.HealthChecker
type MockHealthChecker struct {
	mock.Mock
}

func (m *MockHealthChecker) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockBreakerRegistry implements handlers.BreakerRegistry
type MockBreakerRegistry struct {
	mock.Mock
}

func (m *MockBreakerRegistry) GetAllStats() map[string]services.CircuitBreakerStats {
	args := m.Called()
	return args.Get(0).(map[string]services.CircuitBreakerStats)
}

func (m *MockBreakerRegistry) OpenBreakers() []string {
	args := m.Called()
	return args.Get(0).([]string)
}

func (m *MockBreakerRegistry) ResetAll() {
	m.Called()
}

// MockAdvisorMetrics implements handlers.AdvisorMetricsSource
type MockAdvisorMetrics struct {
	mock.Mock
}

func (m *MockAdvisorMetrics) GetMetrics() services.AdvisorMetrics {
	args := m.Called()
	return args.Get(0).(services.AdvisorMetrics)
}
