// Package postprocess turns blended ensemble output into finalized forecast points.
package postprocess

import (
	"math"
	"time"

	"github.com/irfndi/celebrum-forecast/internal/models"
	"github.com/irfndi/celebrum-forecast/internal/timeseries"
	"github.com/irfndi/celebrum-forecast/internal/utils"
)

// Profile holds the historical statistics every step of a run is measured against
type Profile struct {
	Days        int
	Median      float64
	Mean        float64
	StdDev      float64
	Recent      float64
	Base        float64
	ClampMin    float64
	ClampLimit  float64
	Volatility  float64
	Trend       float64
	LastDate    time.Time
	LastRevenue float64
	Defaulted   bool

	// AnomalyShare is the fraction of history days that were corrected
	AnomalyShare float64
	// DataQuality is the mean profitability data-quality score, 1 without profitability data
	DataQuality float64

	weekday   [7]float64
	month     [13]float64
	monthPart [3]float64

	calendarDays [7]weightedAverage
	dayTypes     map[models.DayType]*weightedAverage
}

type weightedAverage struct {
	sum    float64
	weight float64
	count  int
}

func (w *weightedAverage) add(v, weight float64) {
	w.sum += v * weight
	w.weight += weight
	w.count++
}

func (w *weightedAverage) value() (float64, bool) {
	if w == nil || w.weight <= 0 {
		return 0, false
	}
	return w.sum / w.weight, true
}

// WeekdayFactor is the historical weekday multiplier, 1 when unknown
func (p *Profile) WeekdayFactor(dow int) float64 {
	if dow < 0 || dow > 6 || p.weekday[dow] <= 0 {
		return 1
	}
	return p.weekday[dow]
}

// MonthFactor is the historical month multiplier, 1 when unknown
func (p *Profile) MonthFactor(m int) float64 {
	if m < 1 || m > 12 || p.month[m] <= 0 {
		return 1
	}
	return p.month[m]
}

func (p *Profile) monthPartFactor(day int) float64 {
	f := p.monthPart[monthPart(day)]
	if f <= 0 {
		return 1
	}
	return f
}

// CalibrationTarget returns the recency-weighted historical average for the stub's day type.
// Holidays use the holiday bucket when at least two holidays were observed.
func (p *Profile) CalibrationTarget(cal models.CalendarFeatures) (float64, bool) {
	if cal.IsHoliday {
		if bucket := p.dayTypes[models.DayTypeHoliday]; bucket != nil && bucket.count >= 2 {
			return bucket.value()
		}
	}
	if cal.DayOfWeek >= 0 && cal.DayOfWeek <= 6 {
		if v, ok := p.calendarDays[cal.DayOfWeek].value(); ok && p.calendarDays[cal.DayOfWeek].count >= 2 {
			return v, true
		}
	}
	return p.dayTypes[cal.DayType()].value()
}

// Baseline is the pure seasonal expectation for a stub
func (p *Profile) Baseline(stub models.FutureCovariateStub) float64 {
	b := p.Base * p.WeekdayFactor(stub.DayOfWeek) * p.MonthFactor(stub.Month)
	if stub.IsHoliday {
		b *= utils.Clamp(1+stub.HolidayImpact*0.5, 0.7, 1.5)
	}
	return b
}

// Clamp bounds a value to the historical band
func (p *Profile) Clamp(v float64) float64 {
	return utils.Clamp(v, p.ClampMin, p.ClampLimit)
}

// NewProfile computes the statistics of a (corrected) history
func (p *Processor) NewProfile(history []models.Observation, corrected int) *Profile {
	revenues := models.Revenues(history)
	prof := &Profile{
		Days:        len(history),
		DataQuality: 1,
		dayTypes:    map[models.DayType]*weightedAverage{},
	}
	if len(history) > 0 {
		prof.LastDate = history[len(history)-1].Date
		prof.LastRevenue = history[len(history)-1].Revenue
		prof.AnomalyShare = float64(corrected) / float64(len(history))
		prof.Trend = history[len(history)-1].Trend
	}

	prof.Mean = utils.Mean(revenues)
	prof.Median = utils.Median(revenues)
	prof.StdDev = utils.PopStdDev(revenues)
	if prof.Median <= 0 {
		prof.Median = prof.Mean
	}

	if prof.Mean <= 0 {
		base := p.cfg.DefaultBaseRevenue
		prof.Defaulted = true
		prof.Mean, prof.Median, prof.Recent, prof.Base = base, base, base, base
		prof.StdDev = base * 0.25
		prof.ClampMin = base * p.cfg.ClampLowerFactor
		prof.ClampLimit = base * p.cfg.ClampUpperFactor
		return prof
	}

	prof.Recent = recentLevel(revenues)
	prof.Base = p.cfg.BaseMedianShare*prof.Median + p.cfg.BaseRecentShare*prof.Recent + p.cfg.BaseMeanShare*prof.Mean
	prof.ClampMin = p.cfg.ClampLowerFactor * prof.Median
	prof.ClampLimit = math.Max(prof.Median, math.Min(p.cfg.ClampUpperFactor*prof.Median, prof.Mean+p.cfg.ClampSigmas*prof.StdDev))
	prof.Volatility = utils.CoefficientOfVariation(utils.Tail(revenues, 14))

	var quality []float64
	for _, obs := range history {
		if obs.HasProfitability {
			quality = append(quality, obs.DataQualityScore)
		}
	}
	if len(quality) > 0 {
		prof.DataQuality = utils.Clamp(utils.Mean(quality), 0, 1)
	}

	p.seasonalFactors(prof, history)
	p.calibrationBuckets(prof, history)
	return prof
}

// recentLevel is the last 7-day simple moving average, or the mean of a shorter series
func recentLevel(revenues []float64) float64 {
	if len(revenues) < 7 {
		return utils.Mean(revenues)
	}
	ma := timeseries.MovingAverage(revenues, 7)
	if len(ma) == 0 {
		return utils.Mean(utils.Tail(revenues, 7))
	}
	return ma[len(ma)-1]
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

func (p *Processor) seasonalFactors(prof *Profile, history []models.Observation) {
	var dowSum, dowN [7]float64
	var monthSum, monthN [13]float64
	var partSum, partN [3]float64
	for _, obs := range history {
		if obs.IsHoliday {
			continue
		}
		dowSum[obs.DayOfWeek] += obs.Revenue
		dowN[obs.DayOfWeek]++
		monthSum[obs.Month] += obs.Revenue
		monthN[obs.Month]++
		partSum[monthPart(obs.DayOfMonth)] += obs.Revenue
		partN[monthPart(obs.DayOfMonth)]++
	}
	for d := range prof.weekday {
		if dowN[d] > 0 {
			prof.weekday[d] = utils.Clamp(dowSum[d]/dowN[d]/prof.Mean, p.cfg.WeekdayFactorMin, p.cfg.WeekdayFactorMax)
		}
	}
	months := 0
	for m := 1; m <= 12; m++ {
		if monthN[m] >= 7 {
			months++
		}
	}
	if months >= 2 {
		for m := 1; m <= 12; m++ {
			if monthN[m] >= 7 {
				prof.month[m] = utils.Clamp(monthSum[m]/monthN[m]/prof.Mean, p.cfg.MonthFactorMin, p.cfg.MonthFactorMax)
			}
		}
	}
	for i := range prof.monthPart {
		if partN[i] > 0 {
			prof.monthPart[i] = utils.Clamp(partSum[i]/partN[i]/prof.Mean, 0.8, 1.2)
		}
	}
}

func (p *Processor) calibrationBuckets(prof *Profile, history []models.Observation) {
	for _, obs := range history {
		age := prof.LastDate.Sub(obs.Date).Hours() / 24
		w := math.Exp(-age / p.cfg.CalibrationDecayDays)
		if !obs.IsHoliday {
			prof.calendarDays[obs.DayOfWeek].add(obs.Revenue, w)
		}
		dt := obs.DayType()
		bucket, ok := prof.dayTypes[dt]
		if !ok {
			bucket = &weightedAverage{}
			prof.dayTypes[dt] = bucket
		}
		bucket.add(obs.Revenue, w)
	}
}
