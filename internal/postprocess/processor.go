package postprocess

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/irfndi/celebrum-forecast/internal/models"
	"github.com/irfndi/celebrum-forecast/internal/utils"
)

// Config holds the tunable blend ratios of every post-processing stage
type Config struct {
	DefaultBaseRevenue float64 `mapstructure:"default_base_revenue"`

	BaseMedianShare float64 `mapstructure:"base_median_share"`
	BaseRecentShare float64 `mapstructure:"base_recent_share"`
	BaseMeanShare   float64 `mapstructure:"base_mean_share"`
	RatioMin        float64 `mapstructure:"ratio_min"`
	RatioMax        float64 `mapstructure:"ratio_max"`

	WeekdayFactorMin float64 `mapstructure:"weekday_factor_min"`
	WeekdayFactorMax float64 `mapstructure:"weekday_factor_max"`
	MonthFactorMin   float64 `mapstructure:"month_factor_min"`
	MonthFactorMax   float64 `mapstructure:"month_factor_max"`

	BaselineFirstDay      float64 `mapstructure:"baseline_first_day"`
	BaselineLaterDays     float64 `mapstructure:"baseline_later_days"`
	BaselineVolatileBonus float64 `mapstructure:"baseline_volatile_bonus"`

	ClampLowerFactor float64 `mapstructure:"clamp_lower_factor"`
	ClampUpperFactor float64 `mapstructure:"clamp_upper_factor"`
	ClampSigmas      float64 `mapstructure:"clamp_sigmas"`

	SmoothingThreshold     float64 `mapstructure:"smoothing_threshold"`
	SmoothingWeekStartBump float64 `mapstructure:"smoothing_week_start_bump"`
	SmoothingPullMin       float64 `mapstructure:"smoothing_pull_min"`
	SmoothingPullMax       float64 `mapstructure:"smoothing_pull_max"`

	CalibrationDecayDays   float64 `mapstructure:"calibration_decay_days"`
	CalibrationMinBias     float64 `mapstructure:"calibration_min_bias"`
	CalibrationMaxBias     float64 `mapstructure:"calibration_max_bias"`
	CalibrationMaxPull     float64 `mapstructure:"calibration_max_pull"`
	CalibrationHorizonPull float64 `mapstructure:"calibration_horizon_pull"`

	ConfidenceMin   float64 `mapstructure:"confidence_min"`
	ConfidenceMax   float64 `mapstructure:"confidence_max"`
	ConfidenceDecay float64 `mapstructure:"confidence_decay"`

	TrendThreshold      float64 `mapstructure:"trend_threshold"`
	VolatilityThreshold float64 `mapstructure:"volatility_threshold"`
}

// DefaultConfig returns the production blend ratios
func DefaultConfig() Config {
	return Config{
		DefaultBaseRevenue:     10000,
		BaseMedianShare:        0.4,
		BaseRecentShare:        0.3,
		BaseMeanShare:          0.3,
		RatioMin:               0.2,
		RatioMax:               5,
		WeekdayFactorMin:       0.5,
		WeekdayFactorMax:       1.5,
		MonthFactorMin:         0.8,
		MonthFactorMax:         1.2,
		BaselineFirstDay:       0.4,
		BaselineLaterDays:      0.25,
		BaselineVolatileBonus:  0.1,
		ClampLowerFactor:       0.5,
		ClampUpperFactor:       1.5,
		ClampSigmas:            2,
		SmoothingThreshold:     0.32,
		SmoothingWeekStartBump: 1.25,
		SmoothingPullMin:       0.6,
		SmoothingPullMax:       0.75,
		CalibrationDecayDays:   28,
		CalibrationMinBias:     0.03,
		CalibrationMaxBias:     0.06,
		CalibrationMaxPull:     0.6,
		CalibrationHorizonPull: 0.03,
		ConfidenceMin:          0.3,
		ConfidenceMax:          0.95,
		ConfidenceDecay:        0.03,
		TrendThreshold:         0.05,
		VolatilityThreshold:    0.25,
	}
}

// StepInput is one blended forecast day awaiting finalization
type StepInput struct {
	Stub     models.FutureCovariateStub
	Horizon  int
	Ensemble float64
	// ModelValues are the normalized per-model predictions used for the agreement score
	ModelValues []float64
	// Coverage is the share of external signals present for the day, in [0, 1]
	Coverage float64
	// FeedbackMAPE is the realized ensemble MAPE (percent) for this weekday, if known
	FeedbackMAPE *float64
}

// Processor applies clamping, baseline blending, smoothing, calibration, confidence and trend labelling
type Processor struct {
	cfg    Config
	logger *logrus.Logger
}

// NewProcessor creates a processor
func NewProcessor(cfg Config, logger *logrus.Logger) *Processor {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.DefaultBaseRevenue <= 0 {
		cfg.DefaultBaseRevenue = DefaultConfig().DefaultBaseRevenue
	}
	if cfg.CalibrationDecayDays <= 0 {
		cfg.CalibrationDecayDays = DefaultConfig().CalibrationDecayDays
	}
	return &Processor{cfg: cfg, logger: logger}
}

// Normalize converts a raw model output into an absolute revenue bounded relative to the base
func (p *Processor) Normalize(prof *Profile, raw float64) float64 {
	if !utils.IsFinite(raw) || raw < 0 {
		return math.NaN()
	}
	ratio := utils.Clamp(raw/prof.Base, p.cfg.RatioMin, p.cfg.RatioMax)
	return prof.Base * ratio
}

// Process finalizes every step in horizon order; each step is measured against the previous one
func (p *Processor) Process(prof *Profile, steps []StepInput) []models.ForecastPoint {
	points := make([]models.ForecastPoint, 0, len(steps))
	previous := prof.Recent
	for _, step := range steps {
		point, value := p.finalize(prof, step, previous, len(points) == 0)
		points = append(points, point)
		previous = value
	}
	p.logger.WithFields(logrus.Fields{
		"steps":       len(points),
		"base":        prof.Base,
		"clamp_min":   prof.ClampMin,
		"clamp_limit": prof.ClampLimit,
		"volatility":  prof.Volatility,
		"defaulted":   prof.Defaulted,
	}).Debug("Post-processed forecast")
	return points
}

func (p *Processor) finalize(prof *Profile, step StepInput, previous float64, first bool) (models.ForecastPoint, float64) {
	volatile := prof.Volatility > p.cfg.VolatilityThreshold
	baseline := prof.Baseline(step.Stub)

	value := step.Ensemble
	if !utils.IsFinite(value) || value <= 0 {
		value = baseline
	}

	share := p.cfg.BaselineLaterDays
	if step.Horizon <= 1 {
		share = p.cfg.BaselineFirstDay
	}
	if volatile {
		share += p.cfg.BaselineVolatileBonus
	}
	value = (1-share)*value + share*baseline
	value = prof.Clamp(value)

	if !first {
		value = p.smooth(prof, value, previous, step.Stub.DayOfWeek)
	}
	value = prof.Clamp(p.calibrate(prof, value, step))

	rounded := int64(math.Round(math.Max(0, value)))
	point := models.ForecastPoint{
		Date:             step.Stub.Date,
		PredictedRevenue: rounded,
		Confidence:       p.confidence(prof, step),
		Trend:            p.trend(value, previous),
		Impacts:          p.impacts(prof, step),
	}
	return point, value
}

// smooth pulls large day-to-day jumps toward the previous day
func (p *Processor) smooth(prof *Profile, value, previous float64, dow int) float64 {
	if previous <= 0 {
		return value
	}
	threshold := p.cfg.SmoothingThreshold * (1 + prof.Volatility)
	if dow == 0 || dow == 1 {
		threshold *= p.cfg.SmoothingWeekStartBump
	}
	change := math.Abs(value-previous) / previous
	if change <= threshold {
		return value
	}
	excess := math.Min(1, (change-threshold)/threshold)
	pull := p.cfg.SmoothingPullMin + (p.cfg.SmoothingPullMax-p.cfg.SmoothingPullMin)*excess
	return value + pull*(previous-value)
}

// calibrate pulls a biased prediction toward the recency-weighted day-type average
func (p *Processor) calibrate(prof *Profile, value float64, step StepInput) float64 {
	target, ok := prof.CalibrationTarget(step.Stub.CalendarFeatures)
	if !ok || target <= 0 {
		return value
	}
	threshold := p.cfg.CalibrationMinBias +
		(p.cfg.CalibrationMaxBias-p.cfg.CalibrationMinBias)*math.Min(1, prof.Volatility/p.cfg.VolatilityThreshold)
	bias := (value - target) / target
	if math.Abs(bias) <= threshold {
		return value
	}
	pull := math.Min(p.cfg.CalibrationMaxPull, math.Abs(bias)+p.cfg.CalibrationHorizonPull*float64(step.Horizon-1))
	return value + pull*(target-value)
}

// confidence blends data quality, model agreement, trend stability and external coverage.
// A defaulted profile carries no revenue signal and gets the floor.
func (p *Processor) confidence(prof *Profile, step StepInput) float64 {
	if prof.Defaulted {
		return p.cfg.ConfidenceMin
	}
	quality := math.Min(1, float64(prof.Days)/60) * prof.DataQuality * (1 - 0.5*prof.AnomalyShare)

	agreement := 0.5
	if len(step.ModelValues) >= 2 {
		agreement = 1 - math.Min(1, utils.CoefficientOfVariation(step.ModelValues))
	}
	stability := 1 - math.Min(1, prof.Volatility/0.5)
	coverage := utils.Clamp(step.Coverage, 0, 1)

	score := 0.3*quality + 0.35*agreement + 0.2*stability + 0.15*coverage
	conf := p.cfg.ConfidenceMin + (p.cfg.ConfidenceMax-p.cfg.ConfidenceMin)*score
	conf *= math.Exp(-p.cfg.ConfidenceDecay * float64(max(0, step.Horizon-1)))
	if step.FeedbackMAPE != nil {
		conf *= utils.Clamp(1-*step.FeedbackMAPE/200, 0.7, 1)
	}
	return utils.Clamp(conf, p.cfg.ConfidenceMin, p.cfg.ConfidenceMax)
}

func (p *Processor) trend(value, previous float64) models.TrendLabel {
	if previous <= 0 {
		return models.TrendStable
	}
	change := (value - previous) / previous
	switch {
	case change > p.cfg.TrendThreshold:
		return models.TrendUp
	case change < -p.cfg.TrendThreshold:
		return models.TrendDown
	default:
		return models.TrendStable
	}
}

// Fallback produces a flat low-confidence forecast at the given level
func (p *Processor) Fallback(stubs []models.FutureCovariateStub, level float64) []models.ForecastPoint {
	if !utils.IsFinite(level) || level <= 0 {
		level = 0
	}
	points := make([]models.ForecastPoint, len(stubs))
	for i, stub := range stubs {
		impacts := make(map[string]float64, len(models.ImpactKeys))
		for _, k := range models.ImpactKeys {
			impacts[k] = 0
		}
		points[i] = models.ForecastPoint{
			Date:             stub.Date,
			PredictedRevenue: int64(math.Round(level)),
			Confidence:       p.cfg.ConfidenceMin,
			Trend:            models.TrendStable,
			Impacts:          impacts,
		}
	}
	return points
}
