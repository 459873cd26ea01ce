// Package ensemble blends per-model predictions with context-aware weights.
package ensemble

import (
	"time"

	"github.com/irfndi/celebrum-forecast/internal/forecasters"
	"github.com/irfndi/celebrum-forecast/internal/models"
	"github.com/irfndi/celebrum-forecast/internal/utils"
)

// Config holds base weights and modifier strengths
type Config struct {
	BaseWeights           map[models.ModelName]float64
	BaseShare             float64
	AccuracyShare         float64
	DayOfWeekShare        float64
	MinDOWHistory         int
	VolatilityThreshold   float64
	ShortHorizon          int
	StableShortBonus      float64
	StableVolatilePenalty float64
	AdaptiveVolatileBonus float64
	SeasonalDayTypeBonus  float64
	AdvisorBaseWeight     float64
}

// DefaultConfig returns the production weighting policy
func DefaultConfig() Config {
	return Config{
		BaseWeights: map[models.ModelName]float64{
			models.ModelARIMA:            0.15,
			models.ModelProphet:          0.15,
			models.ModelLSTM:             0.12,
			models.ModelGRU:              0.12,
			models.ModelRandomForest:     0.12,
			models.ModelXGBoost:          0.12,
			models.ModelGradientBoosting: 0.12,
			models.ModelNHITS:            0.10,
		},
		BaseShare:             0.3,
		AccuracyShare:         0.7,
		DayOfWeekShare:        0.3,
		MinDOWHistory:         21,
		VolatilityThreshold:   0.25,
		ShortHorizon:          3,
		StableShortBonus:      1.15,
		StableVolatilePenalty: 0.8,
		AdaptiveVolatileBonus: 1.2,
		SeasonalDayTypeBonus:  1.15,
		AdvisorBaseWeight:     0.1,
	}
}

// StepContext describes the forecast day being blended
type StepContext struct {
	Date        time.Time
	Horizon     int
	DayOfWeek   int
	IsWeekend   bool
	IsHoliday   bool
	Volatility  float64
	HistoryDays int
}

// AdvisorInput is an optional external prediction with its recent success rate
type AdvisorInput struct {
	Prediction  float64
	SuccessRate float64
}

// AdaptiveEnsemble computes per-step weights from configuration, accuracy and context
type AdaptiveEnsemble struct {
	cfg    Config
	traits map[models.ModelName]forecasters.Traits
}

// NewAdaptiveEnsemble creates the ensemble for the given forecasters
func NewAdaptiveEnsemble(cfg Config, fs []forecasters.Forecaster) *AdaptiveEnsemble {
	traits := make(map[models.ModelName]forecasters.Traits, len(fs))
	for _, f := range fs {
		traits[f.Name()] = f.Traits()
	}
	return &AdaptiveEnsemble{cfg: cfg, traits: traits}
}

// HighVolatility reports whether v crosses the configured threshold
func (e *AdaptiveEnsemble) HighVolatility(v float64) bool {
	return v > e.cfg.VolatilityThreshold
}

// Weight returns the unnormalized weight of a model for one step
func (e *AdaptiveEnsemble) Weight(model models.ModelName, step StepContext, snap *Snapshot) float64 {
	base, ok := e.cfg.BaseWeights[model]
	if !ok {
		base = 1 / float64(max(1, len(e.cfg.BaseWeights)))
	}
	acc := snap.GlobalAccuracy(model)
	if step.HistoryDays >= e.cfg.MinDOWHistory {
		if dowAcc, ok := snap.DayOfWeekAccuracy(model, step.DayOfWeek); ok {
			acc = (1-e.cfg.DayOfWeekShare)*acc + e.cfg.DayOfWeekShare*dowAcc
		}
	}
	w := base*e.cfg.BaseShare + acc*e.cfg.AccuracyShare

	traits := e.traits[model]
	volatile := e.HighVolatility(step.Volatility)
	if traits.Stable {
		if step.Horizon <= e.cfg.ShortHorizon {
			w *= e.cfg.StableShortBonus
		}
		if volatile {
			w *= e.cfg.StableVolatilePenalty
		}
	}
	if traits.Adaptive && volatile {
		w *= e.cfg.AdaptiveVolatileBonus
	}
	if traits.Seasonal && (step.IsWeekend || step.IsHoliday) {
		w *= e.cfg.SeasonalDayTypeBonus
	}
	return w
}

// Combine blends the valid predictions of one step. ok is false when no model produced
// a usable value.
func (e *AdaptiveEnsemble) Combine(step StepContext, predictions map[models.ModelName]float64, snap *Snapshot, advisor *AdvisorInput) (float64, models.EnsembleStep, bool) {
	diag := models.EnsembleStep{
		Date:              step.Date,
		Horizon:           step.Horizon,
		RawWeights:        map[models.ModelName]float64{},
		NormalizedWeights: map[models.ModelName]float64{},
		Contributions:     map[models.ModelName]float64{},
	}

	values := map[models.ModelName]float64{}
	for model, p := range predictions {
		if utils.IsFinite(p) && p >= 0 {
			values[model] = p
			diag.RawWeights[model] = e.Weight(model, step, snap)
		}
	}
	if advisor != nil && utils.IsFinite(advisor.Prediction) && advisor.Prediction > 0 {
		values[models.ModelAdvisor] = advisor.Prediction
		diag.RawWeights[models.ModelAdvisor] = e.cfg.AdvisorBaseWeight * utils.Clamp(advisor.SuccessRate, 0, 1)
	}
	if len(values) == 0 {
		diag.Fallback = true
		return 0, diag, false
	}

	var total float64
	for _, w := range diag.RawWeights {
		if w > 0 {
			total += w
		}
	}
	for model := range values {
		w := diag.RawWeights[model]
		if total > 0 {
			if w < 0 {
				w = 0
			}
			diag.NormalizedWeights[model] = w / total
		} else {
			diag.NormalizedWeights[model] = 1 / float64(len(values))
		}
	}

	var blended float64
	for model, v := range values {
		c := diag.NormalizedWeights[model] * v
		diag.Contributions[model] = c
		blended += c
	}
	diag.Prediction = blended
	return blended, diag, true
}

// Volatility is the coefficient of variation over the last 14 days
func Volatility(history []models.Observation) float64 {
	return utils.CoefficientOfVariation(utils.Tail(models.Revenues(history), 14))
}
