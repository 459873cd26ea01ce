package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/celebrum-forecast/internal/cache"
	"github.com/irfndi/celebrum-forecast/internal/models"
)

// MockPoolAdapter wraps pgxmock.PgxPoolIface to implement DatabasePool interface
type MockPoolAdapter struct {
	mock pgxmock.PgxPoolIface
}

func NewMockPoolAdapter(mock pgxmock.PgxPoolIface) DatabasePool {
	return &MockPoolAdapter{mock: mock}
}

func (m *MockPoolAdapter) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return m.mock.QueryRow(ctx, sql, args...)
}

func (m *MockPoolAdapter) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	result, err := m.mock.Exec(ctx, sql, args...)
	if err == nil {
		rows := result.RowsAffected()
		return pgconn.NewCommandTag(fmt.Sprintf("UPDATE %d", rows)), nil
	}
	return pgconn.CommandTag{}, err
}

func (m *MockPoolAdapter) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return m.mock.Query(ctx, sql, args...)
}

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestRepository(t *testing.T) (*ForecastRepository, pgxmock.PgxPoolIface) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err, "Failed to create mock pool")
	t.Cleanup(mockPool.Close)

	repo := NewForecastRepository(NewMockPoolAdapter(mockPool), time.Hour)
	repo.now = func() time.Time { return fixedNow }
	return repo, mockPool
}

func arimaParams() *models.ModelParameters {
	return &models.ModelParameters{
		Model:         models.ModelARIMA,
		Fingerprint:   "abc123",
		TrainedAt:     fixedNow,
		TrainingSize:  60,
		LastTrainedOn: fixedNow.AddDate(0, 0, -1),
		Payload:       &models.ARIMAParams{P: 2, D: 1, AR: []float64{0.4, 0.1}},
	}
}

func TestForecastRepository_SaveModelParameters(t *testing.T) {
	repo, mockPool := newTestRepository(t)
	params := arimaParams()

	mockPool.ExpectExec(`INSERT INTO forecast\.model_parameters`).
		WithArgs("ARIMA", "abc123", pgxmock.AnyArg(), fixedNow, 60, fixedNow.Add(time.Hour)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.SaveModelParameters(context.Background(), params))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestForecastRepository_SaveModelParameters_Nil(t *testing.T) {
	repo, _ := newTestRepository(t)
	assert.Error(t, repo.SaveModelParameters(context.Background(), nil))
}

func TestForecastRepository_GetModelParameters(t *testing.T) {
	repo, mockPool := newTestRepository(t)
	payload, err := json.Marshal(arimaParams())
	require.NoError(t, err)

	mockPool.ExpectQuery(`SELECT parameters\s+FROM forecast\.model_parameters`).
		WithArgs("ARIMA", "abc123", fixedNow).
		WillReturnRows(pgxmock.NewRows([]string{"parameters"}).AddRow(payload))

	got, err := repo.GetModelParameters(context.Background(), models.ModelARIMA, "abc123")
	require.NoError(t, err)
	assert.Equal(t, models.ModelARIMA, got.Model)
	assert.Equal(t, 60, got.TrainingSize)
	arima, ok := got.Payload.(*models.ARIMAParams)
	require.True(t, ok)
	assert.Equal(t, []float64{0.4, 0.1}, arima.AR)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

// TestForecastRepository_LoadParameters_Miss tests the cache.ParameterStore contract
func TestForecastRepository_LoadParameters_Miss(t *testing.T) {
	repo, mockPool := newTestRepository(t)

	mockPool.ExpectQuery(`FROM forecast\.model_parameters`).
		WithArgs("GRU", "fp", fixedNow).
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.LoadParameters(context.Background(), models.ModelGRU, "fp")
	assert.ErrorIs(t, err, cache.ErrCacheMiss)

	mockPool.ExpectQuery(`FROM forecast\.model_parameters`).
		WithArgs("GRU", "fp", fixedNow).
		WillReturnError(errors.New("connection reset"))

	_, err = repo.LoadParameters(context.Background(), models.ModelGRU, "fp")
	require.Error(t, err)
	assert.NotErrorIs(t, err, cache.ErrCacheMiss)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestForecastRepository_CreateForecastPrediction(t *testing.T) {
	repo, mockPool := newTestRepository(t)
	runID := uuid.New()
	date := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	p := &models.ForecastPrediction{
		RunID:            runID,
		ModelName:        string(models.ModelEnsemble),
		ForecastDate:     date,
		Horizon:          2,
		DayOfWeek:        1,
		PredictedRevenue: 1234.5,
		Confidence:       0.81,
	}

	mockPool.ExpectExec(`INSERT INTO forecast\.predictions`).
		WithArgs(pgxmock.AnyArg(), runID, "Ensemble", date, 2, 1, 1234.5, 0.81, fixedNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.CreateForecastPrediction(context.Background(), p))
	assert.NotEqual(t, uuid.Nil, p.ID)
	assert.Equal(t, fixedNow, p.CreatedAt)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestForecastRepository_UpdateActualRevenue(t *testing.T) {
	repo, mockPool := newTestRepository(t)
	date := time.Date(2024, 6, 3, 18, 30, 0, 0, time.UTC)

	mockPool.ExpectExec(`UPDATE forecast\.predictions`).
		WithArgs(models.TruncateDay(date), 1500.0, fixedNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 9))

	n, err := repo.UpdateActualRevenue(context.Background(), date, 1500)
	require.NoError(t, err)
	assert.Equal(t, int64(9), n)

	_, err = repo.UpdateActualRevenue(context.Background(), date, -1)
	assert.Error(t, err)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestForecastRepository_GetModelMetrics(t *testing.T) {
	repo, mockPool := newTestRepository(t)

	mockPool.ExpectQuery(`FROM forecast\.predictions\s+WHERE model_name = \$1 AND actual_revenue IS NOT NULL`).
		WithArgs("XGBoost").
		WillReturnRows(pgxmock.NewRows([]string{"day_of_week", "horizon", "mape", "mae", "rmse", "sample_size"}).
			AddRow(1, 1, 8.5, 90.0, 120.0, 12).
			AddRow(1, 2, 11.0, 110.0, 140.0, 10))

	metrics, err := repo.GetModelMetrics(context.Background(), models.ModelXGBoost)
	require.NoError(t, err)
	require.Len(t, metrics, 2)
	assert.Equal(t, models.ModelMetric{DayOfWeek: 1, Horizon: 1, MAPE: 8.5, MAE: 90, RMSE: 120, SampleSize: 12}, metrics[0])
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestForecastRepository_GetModelMetrics_QueryError(t *testing.T) {
	repo, mockPool := newTestRepository(t)

	mockPool.ExpectQuery(`FROM forecast\.predictions`).
		WithArgs("LSTM").
		WillReturnError(errors.New("database connection failed"))

	_, err := repo.GetModelMetrics(context.Background(), models.ModelLSTM)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database connection failed")
}

func TestForecastRepository_DeleteExpiredParameters(t *testing.T) {
	repo, mockPool := newTestRepository(t)

	mockPool.ExpectExec(`DELETE FROM forecast\.model_parameters`).
		WithArgs(fixedNow).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	n, err := repo.DeleteExpiredParameters(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestMigrate(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	for range schema {
		mockPool.ExpectExec(`CREATE`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	}
	require.NoError(t, Migrate(context.Background(), NewMockPoolAdapter(mockPool), nil))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestMigrate_StopsOnError(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	mockPool.ExpectExec(`CREATE SCHEMA`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mockPool.ExpectExec(`CREATE SCHEMA`).WillReturnError(errors.New("permission denied"))

	err = Migrate(context.Background(), NewMockPoolAdapter(mockPool), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 2")
}
