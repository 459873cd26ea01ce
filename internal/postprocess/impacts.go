package postprocess

import (
	"math"

	"github.com/irfndi/celebrum-forecast/internal/models"
	"github.com/irfndi/celebrum-forecast/internal/utils"
)

const (
	referenceTemperature  = 18.0
	referenceExchangeRate = 90.0
	referenceInflation    = 7.5
	referenceConfidence   = -10.0
)

// impacts attributes the finalized value to named drivers as relative effects in [-1, 1]
func (p *Processor) impacts(prof *Profile, step StepInput) map[string]float64 {
	stub := step.Stub
	out := make(map[string]float64, len(models.ImpactKeys))

	weather := 0.0
	if stub.Precipitation > 1 {
		weather -= 0.05 * math.Min(1, stub.Precipitation/10)
	}
	switch {
	case stub.Temperature < -15:
		weather -= 0.1
	case stub.Temperature > 30:
		weather -= 0.05
	default:
		weather -= 0.002 * math.Abs(stub.Temperature-referenceTemperature)
	}
	out[models.ImpactWeather] = weather

	if stub.IsHoliday {
		out[models.ImpactHoliday] = stub.HolidayImpact
	} else {
		out[models.ImpactHoliday] = 0
	}

	out[models.ImpactEconomic] = (stub.ConsumerConfidence-referenceConfidence)/200 - (stub.Inflation-referenceInflation)/100
	out[models.ImpactEconomicCycle] = -0.5 * (stub.ExchangeRate - referenceExchangeRate) / referenceExchangeRate
	out[models.ImpactTraffic] = prof.WeekdayFactor(stub.DayOfWeek) - 1
	out[models.ImpactSentiment] = 0.05 * stub.Sentiment
	out[models.ImpactDemographic] = 0
	out[models.ImpactSeasonality] = prof.MonthFactor(stub.Month) - 1
	out[models.ImpactTimeOfMonth] = prof.monthPartFactor(stub.DayOfMonth) - 1

	if prof.Base > 0 {
		out[models.ImpactTrend] = prof.Trend * float64(step.Horizon) / prof.Base
		if target, ok := prof.CalibrationTarget(stub.CalendarFeatures); ok {
			out[models.ImpactHistoricalPattern] = (target - prof.Base) / prof.Base
		}
		out[models.ImpactRegionalDemand] = utils.SafeRatio(prof.Recent, prof.Mean, 1) - 1
	}
	for _, k := range models.ImpactKeys {
		v := out[k]
		if !utils.IsFinite(v) {
			v = 0
		}
		out[k] = math.Round(utils.Clamp(v, -1, 1)*10000) / 10000
	}
	return out
}
