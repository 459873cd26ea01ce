package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/irfndi/celebrum-forecast/internal/middleware"
	"github.com/irfndi/celebrum-forecast/internal/models"
	"github.com/irfndi/celebrum-forecast/internal/services"
	"github.com/irfndi/celebrum-forecast/internal/utils"
)

// ForecastEngine is the part of the forecast service the HTTP layer needs
type ForecastEngine interface {
	GenerateForecast(ctx context.Context, req models.ForecastRequest) (*models.ForecastResult, error)
	RecordActual(ctx context.Context, date time.Time, revenue float64) (int64, error)
}

// ForecastHandler serves forecast runs and realized-revenue feedback
type ForecastHandler struct {
	engine ForecastEngine
	logger *logrus.Logger
}

// ActualRevenueRequest reports the realized revenue of one day
type ActualRevenueRequest struct {
	Date    string   `json:"date" binding:"required"`
	Revenue *float64 `json:"revenue" binding:"required"`
}

// NewForecastHandler creates a new forecast handler
func NewForecastHandler(engine ForecastEngine, logger *logrus.Logger) *ForecastHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &ForecastHandler{engine: engine, logger: logger}
}

// GenerateForecast runs the forecast pipeline on the posted history
// @Summary Generate revenue forecast
// @Tags forecast
// @Accept json
// @Produce json
// @Param request body models.ForecastRequest true "Transactions, optional Z-reports and horizon"
// @Success 200 {object} models.ForecastResult
// @Router /api/v1/forecast [post]
func (h *ForecastHandler) GenerateForecast(c *gin.Context) {
	var req models.ForecastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request body: " + err.Error(),
		})
		return
	}
	middleware.AddSpanAttribute(c, "forecast.transactions", len(req.Transactions))
	middleware.AddSpanAttribute(c, "forecast.horizon", req.Horizon)

	result, err := h.engine.GenerateForecast(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err, "forecast failed")
		return
	}

	middleware.AddSpanAttribute(c, "forecast.run_id", result.RunID.String())
	middleware.AddSpanAttribute(c, "forecast.fallback", result.Fallback)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    result,
	})
}

// RecordActual stores the realized revenue of a day next to its predictions
// @Summary Record realized revenue
// @Tags forecast
// @Accept json
// @Produce json
// @Param request body ActualRevenueRequest true "Date (YYYY-MM-DD) and revenue"
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/actuals [post]
func (h *ForecastHandler) RecordActual(c *gin.Context) {
	var req ActualRevenueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request body: " + err.Error(),
		})
		return
	}
	date, err := time.Parse(models.DateLayout, req.Date)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "date must be formatted as YYYY-MM-DD",
		})
		return
	}

	updated, err := h.engine.RecordActual(c.Request.Context(), date, *req.Revenue)
	if err != nil {
		h.writeError(c, err, "record actual failed")
		return
	}

	h.logger.WithFields(logrus.Fields{
		"date":    req.Date,
		"updated": updated,
	}).Info("Recorded actual revenue")
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"date":    req.Date,
			"updated": updated,
		},
	})
}

func (h *ForecastHandler) writeError(c *gin.Context, err error, description string) {
	middleware.RecordError(c, err, description)
	_ = c.Error(err)

	status := http.StatusInternalServerError
	switch {
	case utils.IsValidationError(err):
		status = http.StatusBadRequest
	case errors.Is(err, services.ErrNoPredictionStore):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	if status == http.StatusInternalServerError {
		h.logger.WithContext(c.Request.Context()).WithError(err).Error(description)
	}
	c.JSON(status, gin.H{
		"success": false,
		"error":   err.Error(),
	})
}
