package forecasters

import (
	"context"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/irfndi/celebrum-forecast/internal/models"
	"github.com/irfndi/celebrum-forecast/internal/utils"
)

const (
	changepointShift  = 0.15
	prophetTrendDecay = 0.05
	prophetBaseWindow = 28
	rainThresholdMM   = 1.0
)

// Prophet decomposes revenue into a piecewise linear trend and multiplicative seasonal effects
type Prophet struct{}

func NewProphet() *Prophet { return &Prophet{} }

func (*Prophet) Name() models.ModelName { return models.ModelProphet }
func (*Prophet) Traits() Traits         { return Traits{Stable: true, Seasonal: true} }
func (*Prophet) MinHistory() int        { return 14 }

func (p *Prophet) Fit(ctx context.Context, history []models.Observation) (models.ParamPayload, error) {
	if len(history) < p.MinHistory() {
		return nil, ErrInsufficientHistory
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	y := models.Revenues(history)
	n := len(y)

	params := &models.ProphetParams{
		Changepoints:   detectChangepoints(y, max(7, n/8)),
		HolidayEffects: map[string]float64{},
	}

	params.SegmentStart = 0
	if len(params.Changepoints) > 0 {
		params.SegmentStart = params.Changepoints[len(params.Changepoints)-1]
	}
	if n-params.SegmentStart < 7 {
		params.SegmentStart = max(0, n-7)
	}
	segment := y[params.SegmentStart:]
	xs := make([]float64, len(segment))
	for i := range xs {
		xs[i] = float64(params.SegmentStart + i)
	}
	params.Intercept, params.Slope = stat.LinearRegression(xs, segment, nil, false)
	if !utils.IsFinite(params.Slope) {
		params.Intercept, params.Slope = utils.Mean(segment), 0
	}

	recent := utils.Tail(y, prophetBaseWindow)
	params.ClampAnchor = clampAnchor(y)
	params.Base = 0.5*utils.Median(recent) + 0.5*utils.Mean(recent)

	ratios := detrendedRatios(y)
	weekdays := groupFactors(history, ratios, 7, func(o models.Observation) int { return o.DayOfWeek }, 0.5, 1.5)
	copy(params.WeekdayFactors[:], weekdays)
	months := groupFactors(history, ratios, 12, func(o models.Observation) int { return o.Month - 1 }, 0.8, 1.2)
	copy(params.MonthFactors[:], months)
	quarters := groupFactors(history, ratios, 4, func(o models.Observation) int { return o.Quarter - 1 }, 0.85, 1.15)
	copy(params.QuarterFactors[:], quarters)
	parts := groupFactors(history, ratios, 3, func(o models.Observation) int { return monthPart(o.DayOfMonth) }, 0.9, 1.1)
	copy(params.MonthPartFactors[:], parts)

	holidaySums := map[string]float64{}
	holidayCounts := map[string]int{}
	var rainy, dry []float64
	for i, obs := range history {
		if obs.IsHoliday {
			holidaySums[obs.HolidayType] += ratios[i]
			holidayCounts[obs.HolidayType]++
			continue
		}
		if obs.Precipitation > rainThresholdMM {
			rainy = append(rainy, ratios[i])
		} else {
			dry = append(dry, ratios[i])
		}
	}
	for kind, sum := range holidaySums {
		params.HolidayEffects[kind] = utils.Clamp(sum/float64(holidayCounts[kind]), 0.5, 1.8)
	}
	if len(rainy) >= 3 && len(dry) >= 3 {
		params.RainEffect = utils.Clamp(utils.SafeRatio(utils.Mean(rainy), utils.Mean(dry), 1)-1, -0.2, 0.1)
	}
	return params, nil
}

// Predict composes base, trend, seasonal, holiday and weather multipliers through a sum of logs
func (p *Prophet) Predict(ctx context.Context, params models.ParamPayload, history []models.Observation, future []models.FutureCovariateStub) ([]float64, error) {
	pp, ok := params.(*models.ProphetParams)
	if !ok {
		return nil, payloadError(p.Name(), params)
	}
	out := make([]float64, len(future))
	if pp.Base <= 0 {
		return out, nil
	}
	window := min(prophetBaseWindow, len(history))
	offset := float64(window-1) / 2

	var steps float64
	for h, stub := range future {
		steps += math.Exp(-prophetTrendDecay * float64(h))
		trend := utils.Clamp((pp.Base+pp.Slope*(offset+steps))/pp.Base, 0.7, 1.3)

		factors := []float64{
			trend,
			pp.WeekdayFactors[stub.DayOfWeek],
			factorOr(pp.MonthFactors[:], stub.Month-1),
			factorOr(pp.QuarterFactors[:], stub.Quarter-1),
			factorOr(pp.MonthPartFactors[:], monthPart(stub.DayOfMonth)),
			p.holidayFactor(pp, stub),
			p.weatherFactor(pp, stub),
		}
		logSum := math.Log(pp.Base)
		for _, f := range factors {
			if f > 0 {
				logSum += math.Log(f)
			}
		}
		value := math.Exp(logSum)
		if pp.ClampAnchor > 0 {
			value = utils.Clamp(value, 0.6*pp.ClampAnchor, 1.4*pp.ClampAnchor)
		}
		out[h] = value
	}
	return out, nil
}

func (*Prophet) holidayFactor(pp *models.ProphetParams, stub models.FutureCovariateStub) float64 {
	if !stub.IsHoliday {
		return 1
	}
	if effect, ok := pp.HolidayEffects[stub.HolidayType]; ok {
		return effect
	}
	return utils.Clamp(1+stub.HolidayImpact*0.5, 0.7, 1.5)
}

func (*Prophet) weatherFactor(pp *models.ProphetParams, stub models.FutureCovariateStub) float64 {
	f := 1.0
	if stub.Precipitation > rainThresholdMM {
		f += pp.RainEffect
	}
	switch {
	case stub.Temperature < -15:
		f *= 0.9
	case stub.Temperature > 30:
		f *= 0.95
	}
	return utils.Clamp(f, 0.7, 1.2)
}

// detectChangepoints scans for mean shifts between adjacent windows
func detectChangepoints(y []float64, w int) []int {
	var out []int
	for i := w; i+w <= len(y); {
		left := utils.Mean(y[i-w : i])
		right := utils.Mean(y[i : i+w])
		if left > 0 && math.Abs(right-left)/left >= changepointShift {
			out = append(out, i)
			i += w
			continue
		}
		i++
	}
	return out
}

// detrendedRatios divides each value by its centered 7-day mean
func detrendedRatios(y []float64) []float64 {
	out := make([]float64, len(y))
	for i := range y {
		lo := max(0, i-3)
		hi := min(len(y), i+4)
		out[i] = utils.SafeRatio(y[i], utils.Mean(y[lo:hi]), 1)
	}
	return out
}

// groupFactors averages ratios per group, normalizing observed groups to a mean of one
func groupFactors(history []models.Observation, ratios []float64, groups int, key func(models.Observation) int, lo, hi float64) []float64 {
	sums := make([]float64, groups)
	counts := make([]int, groups)
	for i, obs := range history {
		if obs.IsHoliday {
			continue
		}
		k := key(obs)
		if k < 0 || k >= groups {
			continue
		}
		sums[k] += ratios[i]
		counts[k]++
	}
	factors := make([]float64, groups)
	var total float64
	var observed int
	for k := range factors {
		factors[k] = 1
		if counts[k] > 0 {
			factors[k] = sums[k] / float64(counts[k])
			total += factors[k]
			observed++
		}
	}
	if observed > 0 && total > 0 {
		norm := total / float64(observed)
		for k := range factors {
			if counts[k] > 0 {
				factors[k] /= norm
			}
		}
	}
	for k := range factors {
		factors[k] = utils.Clamp(factors[k], lo, hi)
	}
	return factors
}

func monthPart(day int) int {
	switch {
	case day <= 10:
		return 0
	case day <= 20:
		return 1
	default:
		return 2
	}
}

func factorOr(factors []float64, i int) float64 {
	if i < 0 || i >= len(factors) || factors[i] <= 0 {
		return 1
	}
	return factors[i]
}
