package forecasters

import (
	"math"

	"github.com/irfndi/celebrum-forecast/internal/models"
	"github.com/irfndi/celebrum-forecast/internal/utils"
)

const (
	featureLag1 = iota
	featureLag7
	featureRollMean7
	featureRollStd7
	featureDowSin
	featureDowCos
	featureWeekend
	featureHoliday
	featureDayOfMonth
	featureMonth
	featureTemperature
	featurePrecipitation
	featureSentiment
	featureAverageCheck
	featureReturnRate
	featureCount
)

// minFeatureLag is the first index with a full lag window
const minFeatureLag = 7

// covariates is the non-revenue part of a feature row
type covariates struct {
	calendar      models.CalendarFeatures
	weather       models.WeatherFeatures
	social        models.SocialFeatures
	profitability models.ProfitabilityFeatures
}

func observationCovariates(obs models.Observation) covariates {
	return covariates{
		calendar:      obs.CalendarFeatures,
		weather:       obs.WeatherFeatures,
		social:        obs.SocialFeatures,
		profitability: obs.ProfitabilityFeatures,
	}
}

// futureCovariates carries the last known profitability forward
func futureCovariates(stub models.FutureCovariateStub, last models.ProfitabilityFeatures) covariates {
	return covariates{
		calendar:      stub.CalendarFeatures,
		weather:       stub.WeatherFeatures,
		social:        stub.SocialFeatures,
		profitability: last,
	}
}

// featureVector describes the value at series[t] using only series[:t]
func featureVector(series []float64, t int, cov covariates) []float64 {
	x := make([]float64, featureCount)
	lag1 := series[t-1]
	x[featureLag1] = lag1
	if t >= 7 {
		x[featureLag7] = series[t-7]
	} else {
		x[featureLag7] = lag1
	}
	window := series[max(0, t-7):t]
	x[featureRollMean7] = utils.Mean(window)
	x[featureRollStd7] = utils.PopStdDev(window)

	angle := 2 * math.Pi * float64(cov.calendar.DayOfWeek) / 7
	x[featureDowSin] = math.Sin(angle)
	x[featureDowCos] = math.Cos(angle)
	if cov.calendar.IsWeekend {
		x[featureWeekend] = 1
	}
	if cov.calendar.IsHoliday {
		x[featureHoliday] = 1 + cov.calendar.HolidayImpact
	}
	x[featureDayOfMonth] = float64(cov.calendar.DayOfMonth)
	x[featureMonth] = float64(cov.calendar.Month)
	x[featureTemperature] = cov.weather.Temperature
	x[featurePrecipitation] = cov.weather.Precipitation
	x[featureSentiment] = cov.social.Sentiment
	if cov.profitability.HasProfitability {
		x[featureAverageCheck] = cov.profitability.AverageCheck
		x[featureReturnRate] = cov.profitability.ReturnRate
	}
	return x
}

// trainingSet returns feature rows and targets for every day with a full lag window
func trainingSet(history []models.Observation) ([][]float64, []float64) {
	series := models.Revenues(history)
	if len(series) <= minFeatureLag {
		return nil, nil
	}
	X := make([][]float64, 0, len(series)-minFeatureLag)
	y := make([]float64, 0, len(series)-minFeatureLag)
	for t := minFeatureLag; t < len(series); t++ {
		X = append(X, featureVector(series, t, observationCovariates(history[t])))
		y = append(y, series[t])
	}
	return X, y
}

// lastProfitability returns the most recent profitability block, if any
func lastProfitability(history []models.Observation) models.ProfitabilityFeatures {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].HasProfitability {
			return history[i].ProfitabilityFeatures
		}
	}
	return models.ProfitabilityFeatures{}
}

// recursivePredict rolls a one-step model forward, feeding predictions back as lags
func recursivePredict(history []models.Observation, future []models.FutureCovariateStub, step func(x []float64, series []float64, stub models.FutureCovariateStub) float64) []float64 {
	series := models.Revenues(history)
	series = append(make([]float64, 0, len(series)+len(future)), series...)
	last := lastProfitability(history)
	out := make([]float64, len(future))
	for h, stub := range future {
		x := featureVector(series, len(series), futureCovariates(stub, last))
		pred := step(x, series, stub)
		out[h] = pred
		series = append(series, pred)
	}
	return out
}

// weekdayFactors returns the mean revenue per weekday over the overall mean, holidays excluded
func weekdayFactors(history []models.Observation, lo, hi float64) [7]float64 {
	var factors [7]float64
	var sums [7]float64
	var counts [7]int
	var total float64
	var n int
	for _, obs := range history {
		if obs.IsHoliday {
			continue
		}
		sums[obs.DayOfWeek] += obs.Revenue
		counts[obs.DayOfWeek]++
		total += obs.Revenue
		n++
	}
	mean := 0.0
	if n > 0 {
		mean = total / float64(n)
	}
	for d := range factors {
		factors[d] = 1
		if counts[d] > 0 && mean > 0 {
			factors[d] = utils.Clamp(sums[d]/float64(counts[d])/mean, lo, hi)
		}
	}
	return factors
}

// softened pulls a multiplicative factor halfway toward one
func softened(factor float64) float64 {
	return 1 + 0.5*(factor-1)
}

// robustScale returns a scale that is never zero: IQR, then standard deviation, then a fraction of the median
func robustScale(values []float64) (center, scale float64) {
	center = utils.Median(values)
	scale = utils.Quantile(values, 0.75) - utils.Quantile(values, 0.25)
	if scale < 1e-9 {
		scale = utils.PopStdDev(values)
	}
	if scale < 1e-9 {
		scale = math.Max(1, 0.1*math.Abs(center))
	}
	return center, scale
}

func fitScaler(X [][]float64) models.RobustScaler {
	if len(X) == 0 {
		return models.RobustScaler{}
	}
	width := len(X[0])
	s := models.RobustScaler{Center: make([]float64, width), Scale: make([]float64, width)}
	column := make([]float64, len(X))
	for j := 0; j < width; j++ {
		for i, row := range X {
			column[i] = row[j]
		}
		s.Center[j], s.Scale[j] = robustScale(column)
	}
	return s
}
