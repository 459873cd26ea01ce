package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/celebrum-forecast/internal/api/handlers/testmocks"
	"github.com/irfndi/celebrum-forecast/internal/models"
	"github.com/irfndi/celebrum-forecast/internal/services"
	"github.com/irfndi/celebrum-forecast/internal/utils"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func forecastRouter(engine *testmocks.MockForecastEngine) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewForecastHandler(engine, quietLogger())
	router := gin.New()
	router.POST("/api/v1/forecast", h.GenerateForecast)
	router.POST("/api/v1/actuals", h.RecordActual)
	return router
}

func post(router *gin.Engine, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

const forecastBody = `{
	"transactions": [
		{"date": "2024-05-01T10:15:00Z", "amount": "450.50"},
		{"date": "2024-05-01T16:40:00Z", "amount": 520}
	],
	"horizon": 3
}`

func TestForecastHandler_GenerateForecast(t *testing.T) {
	engine := &testmocks.MockForecastEngine{}
	runID := uuid.New()
	result := &models.ForecastResult{
		RunID:       runID,
		GeneratedAt: time.Date(2024, 5, 2, 8, 0, 0, 0, time.UTC),
		Points: []models.ForecastPoint{
			{Date: time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC), PredictedRevenue: 980, Confidence: 0.7, Trend: models.TrendStable},
		},
	}
	engine.On("GenerateForecast", mock.Anything, mock.MatchedBy(func(req models.ForecastRequest) bool {
		return req.Horizon == 3 && len(req.Transactions) == 2 && req.Transactions[0].Amount.String() == "450.5"
	})).Return(result, nil)

	w := post(forecastRouter(engine), "/api/v1/forecast", forecastBody)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Success bool                  `json:"success"`
		Data    models.ForecastResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, runID, body.Data.RunID)
	require.Len(t, body.Data.Points, 1)
	assert.Equal(t, int64(980), body.Data.Points[0].PredictedRevenue)
	engine.AssertExpectations(t)
}

func TestForecastHandler_GenerateForecastErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{"malformed json", `{"transactions": [`, nil, http.StatusBadRequest},
		{"validation error", forecastBody, utils.NewFieldError("horizon", "must not be negative"), http.StatusBadRequest},
		{"deadline", forecastBody, context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"internal", forecastBody, errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &testmocks.MockForecastEngine{}
			if tt.err != nil {
				engine.On("GenerateForecast", mock.Anything, mock.Anything).Return(nil, tt.err)
			}

			w := post(forecastRouter(engine), "/api/v1/forecast", tt.body)
			assert.Equal(t, tt.want, w.Code)
			assert.Contains(t, w.Body.String(), `"success":false`)
			engine.AssertExpectations(t)
		})
	}
}

func TestForecastHandler_RecordActual(t *testing.T) {
	engine := &testmocks.MockForecastEngine{}
	date := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	engine.On("RecordActual", mock.Anything, date, 1234.5).Return(int64(9), nil)

	w := post(forecastRouter(engine), "/api/v1/actuals", `{"date":"2024-05-01","revenue":1234.5}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"updated":9`)
	engine.AssertExpectations(t)
}

func TestForecastHandler_RecordActualErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{"missing revenue", `{"date":"2024-05-01"}`, nil, http.StatusBadRequest},
		{"bad date", `{"date":"01.05.2024","revenue":10}`, nil, http.StatusBadRequest},
		{"negative revenue", `{"date":"2024-05-01","revenue":-1}`, utils.NewFieldError("revenue", "must be a non-negative number"), http.StatusBadRequest},
		{"no store", `{"date":"2024-05-01","revenue":10}`, services.ErrNoPredictionStore, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &testmocks.MockForecastEngine{}
			if tt.err != nil {
				engine.On("RecordActual", mock.Anything, mock.Anything, mock.Anything).Return(int64(0), tt.err)
			}

			w := post(forecastRouter(engine), "/api/v1/actuals", tt.body)
			assert.Equal(t, tt.want, w.Code)
			engine.AssertExpectations(t)
		})
	}
}
