package models

import (
	"time"

	"github.com/google/uuid"
)

// TrendLabel describes the direction of a forecast step against the previous one
type TrendLabel string

const (
	TrendUp     TrendLabel = "up"
	TrendDown   TrendLabel = "down"
	TrendStable TrendLabel = "stable"
)

// Impact keys carried in ForecastPoint.Impacts
const (
	ImpactWeather           = "weather"
	ImpactHoliday           = "holiday"
	ImpactEconomic          = "economic"
	ImpactTraffic           = "traffic"
	ImpactSentiment         = "sentiment"
	ImpactDemographic       = "demographic"
	ImpactSeasonality       = "seasonality"
	ImpactTrend             = "trend"
	ImpactTimeOfMonth       = "time_of_month"
	ImpactHistoricalPattern = "historical_pattern"
	ImpactEconomicCycle     = "economic_cycle"
	ImpactRegionalDemand    = "regional_demand"
)

// ImpactKeys lists every attribution key in a stable order
var ImpactKeys = []string{
	ImpactWeather, ImpactHoliday, ImpactEconomic, ImpactTraffic,
	ImpactSentiment, ImpactDemographic, ImpactSeasonality, ImpactTrend,
	ImpactTimeOfMonth, ImpactHistoricalPattern, ImpactEconomicCycle, ImpactRegionalDemand,
}

// ForecastPoint is one finalized day of the forecast
type ForecastPoint struct {
	Date             time.Time          `json:"date"`
	PredictedRevenue int64              `json:"predicted_revenue"`
	Confidence       float64            `json:"confidence"`
	Trend            TrendLabel         `json:"trend"`
	Impacts          map[string]float64 `json:"impacts"`
}

// ForecastRequest is the input of a forecast run
type ForecastRequest struct {
	Transactions  []Transaction         `json:"transactions"`
	Profitability []ProfitabilityRecord `json:"profitability,omitempty"`
	Horizon       int                   `json:"horizon"`
}

// ForecastResult is the output of a forecast run
type ForecastResult struct {
	RunID       uuid.UUID       `json:"run_id"`
	GeneratedAt time.Time       `json:"generated_at"`
	Points      []ForecastPoint `json:"points"`
	Fallback    bool            `json:"fallback"`
}

// ForecastPrediction is one persisted prediction row, per model per day plus the ensemble
type ForecastPrediction struct {
	ID               uuid.UUID  `json:"id" db:"id"`
	RunID            uuid.UUID  `json:"run_id" db:"run_id"`
	ModelName        string     `json:"model_name" db:"model_name"`
	ForecastDate     time.Time  `json:"forecast_date" db:"forecast_date"`
	Horizon          int        `json:"horizon" db:"horizon"`
	DayOfWeek        int        `json:"day_of_week" db:"day_of_week"`
	PredictedRevenue float64    `json:"predicted_revenue" db:"predicted_revenue"`
	Confidence       float64    `json:"confidence" db:"confidence"`
	ActualRevenue    *float64   `json:"actual_revenue,omitempty" db:"actual_revenue"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
}

// ModelMetric is one aggregated accuracy row from realized predictions
type ModelMetric struct {
	DayOfWeek  int     `json:"day_of_week" db:"day_of_week"`
	Horizon    int     `json:"horizon" db:"horizon"`
	MAPE       float64 `json:"mape" db:"mape"` // percent
	MAE        float64 `json:"mae" db:"mae"`
	RMSE       float64 `json:"rmse" db:"rmse"`
	SampleSize int     `json:"sample_size" db:"sample_size"`
}

// EnsembleStep records how one forecast day was blended
type EnsembleStep struct {
	Date              time.Time             `json:"date"`
	Horizon           int                   `json:"horizon"`
	RawWeights        map[ModelName]float64 `json:"raw_weights"`
	NormalizedWeights map[ModelName]float64 `json:"normalized_weights"`
	Contributions     map[ModelName]float64 `json:"contributions"`
	Prediction        float64               `json:"prediction"`
	Fallback          bool                  `json:"fallback"`
}

// ModelRun records the outcome of one forecaster during a run
type ModelRun struct {
	Model          ModelName     `json:"model"`
	Duration       time.Duration `json:"duration"`
	CacheHit       bool          `json:"cache_hit"`
	Degraded       bool          `json:"degraded"`
	FallbackReason string        `json:"fallback_reason,omitempty"`
}

// AnomalyReport lists the days flagged and corrected by the consensus filter
type AnomalyReport struct {
	Flagged   []AnomalyFlag `json:"flagged"`
	Corrected []int         `json:"corrected"`
}

// AnomalyFlag is one day that at least one detector flagged
type AnomalyFlag struct {
	Index     int       `json:"index"`
	Date      time.Time `json:"date"`
	Original  float64   `json:"original"`
	Corrected float64   `json:"corrected,omitempty"`
	Detectors []string  `json:"detectors"`
}

// EnsembleDiagnostics is kept for the most recent run only
type EnsembleDiagnostics struct {
	RunID     uuid.UUID      `json:"run_id"`
	CreatedAt time.Time      `json:"created_at"`
	Steps     []EnsembleStep `json:"steps"`
	Models    []ModelRun     `json:"models"`
	Anomalies AnomalyReport  `json:"anomalies"`
}
