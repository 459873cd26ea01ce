// Package timeseries turns raw sales records and external signals into one enriched
// observation per calendar day.
package timeseries

import (
	"sort"
	"time"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/trend"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/irfndi/celebrum-forecast/internal/models"
	"github.com/irfndi/celebrum-forecast/internal/utils"
)

// HolidaySource resolves the holiday on a date
type HolidaySource interface {
	Holiday(date time.Time) (models.Holiday, bool)
}

// Fallbacks are used whenever an external point is missing for a date
type Fallbacks struct {
	Temperature        float64
	Precipitation      float64
	Humidity           float64
	WindSpeed          float64
	CloudCover         float64
	UVIndex            float64
	Visibility         float64
	ExchangeRate       float64
	Inflation          float64
	ConsumerConfidence float64
	Unemployment       float64
}

// DefaultFallbacks returns neutral values for a temperate inland city
func DefaultFallbacks() Fallbacks {
	return Fallbacks{
		Temperature:        15,
		Precipitation:      0,
		Humidity:           60,
		WindSpeed:          3,
		CloudCover:         50,
		UVIndex:            3,
		Visibility:         10,
		ExchangeRate:       90,
		Inflation:          7.5,
		ConsumerConfidence: -10,
		Unemployment:       3,
	}
}

const (
	volatilityWindow = 7
	trendWindow      = 14
	minTrendHistory  = 7
)

// Builder merges transactions, profitability records and external data
type Builder struct {
	holidays  HolidaySource
	fallbacks Fallbacks
	logger    *logrus.Logger
}

// NewBuilder creates a builder; holidays may be nil
func NewBuilder(holidays HolidaySource, fallbacks Fallbacks, logger *logrus.Logger) *Builder {
	if logger == nil {
		logger = logrus.New()
	}
	return &Builder{holidays: holidays, fallbacks: fallbacks, logger: logger}
}

type dayTotals struct {
	revenue decimal.Decimal
	count   int
}

// Build returns one observation per distinct date, sorted ascending.
// Profitability records replace the transaction totals on dates they cover.
func (b *Builder) Build(transactions []models.Transaction, profitability []models.ProfitabilityRecord, ext *models.ExternalData) []models.Observation {
	totals := make(map[time.Time]*dayTotals)
	for _, tx := range transactions {
		day := models.TruncateDay(tx.Date)
		t, ok := totals[day]
		if !ok {
			t = &dayTotals{}
			totals[day] = t
		}
		t.revenue = t.revenue.Add(tx.Amount)
		t.count++
	}

	reports := make(map[time.Time]models.ProfitabilityRecord, len(profitability))
	for _, rec := range profitability {
		reports[models.TruncateDay(rec.Date)] = rec
	}

	dates := make([]time.Time, 0, len(totals)+len(reports))
	for d := range totals {
		dates = append(dates, d)
	}
	for d := range reports {
		if _, ok := totals[d]; !ok {
			dates = append(dates, d)
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	lookup := newExternalLookup(ext)
	observations := make([]models.Observation, len(dates))
	for i, day := range dates {
		obs := models.Observation{Date: day}
		if t, ok := totals[day]; ok {
			obs.Revenue = t.revenue.InexactFloat64()
			obs.TransactionCount = t.count
		}
		if rec, ok := reports[day]; ok {
			b.applyProfitability(&obs, rec)
		}
		if obs.Revenue < 0 {
			b.logger.WithFields(logrus.Fields{
				"date":    models.DayKey(day),
				"revenue": obs.Revenue,
			}).Debug("Negative daily revenue clipped to zero")
			obs.Revenue = 0
		}

		obs.CalendarFeatures = b.calendar(day, lookup)
		obs.WeatherFeatures = b.weather(day, lookup)
		obs.EconomicFeatures = b.economic(lookup)
		obs.SocialFeatures = lookup.social(day)
		observations[i] = obs
	}

	RefreshIndicators(observations)
	return observations
}

// FutureStubs returns covariate stubs for the horizon days following last
func (b *Builder) FutureStubs(last time.Time, horizon int, ext *models.ExternalData) []models.FutureCovariateStub {
	if horizon <= 0 {
		return nil
	}
	lookup := newExternalLookup(ext)
	start := models.TruncateDay(last)
	stubs := make([]models.FutureCovariateStub, horizon)
	for i := range stubs {
		day := start.AddDate(0, 0, i+1)
		stubs[i] = models.FutureCovariateStub{
			Date:             day,
			CalendarFeatures: b.calendar(day, lookup),
			WeatherFeatures:  b.weather(day, lookup),
			EconomicFeatures: b.economic(lookup),
			SocialFeatures:   lookup.social(day),
		}
	}
	return stubs
}

func (b *Builder) applyProfitability(obs *models.Observation, rec models.ProfitabilityRecord) {
	obs.Revenue = rec.Revenue.InexactFloat64()
	if rec.ChecksCount > 0 {
		obs.TransactionCount = rec.ChecksCount
	}
	obs.HasProfitability = true
	obs.ChecksCount = rec.ChecksCount
	obs.AverageCheck = rec.AverageCheck.InexactFloat64()
	obs.Returns = rec.Returns.InexactFloat64()
	obs.CostOfGoods = rec.CostOfGoods.InexactFloat64()
	obs.GrossMargin = rec.GrossMargin.InexactFloat64()
	obs.DataQualityScore = rec.DataQualityScore
	if !rec.Revenue.IsZero() {
		obs.ReturnRate = rec.Returns.Div(rec.Revenue).InexactFloat64()
	}
}

// Calendar decomposes a date without any holiday information
func Calendar(day time.Time) models.CalendarFeatures {
	day = models.TruncateDay(day)
	_, week := day.ISOWeek()
	month := day.Month()
	quarter := (int(month)-1)/3 + 1
	monthEnd := day.AddDate(0, 0, 1).Month() != month
	monthStart := day.Day() == 1

	return models.CalendarFeatures{
		DayOfWeek:      int(day.Weekday()),
		DayOfMonth:     day.Day(),
		Month:          int(month),
		Quarter:        quarter,
		Year:           day.Year(),
		WeekOfYear:     week,
		DayOfYear:      day.YearDay(),
		IsWeekend:      day.Weekday() == time.Saturday || day.Weekday() == time.Sunday,
		Season:         seasonOf(month),
		IsMonthStart:   monthStart,
		IsMonthEnd:     monthEnd,
		IsQuarterStart: monthStart && (int(month)-1)%3 == 0,
		IsQuarterEnd:   monthEnd && int(month)%3 == 0,
		IsYearStart:    monthStart && month == time.January,
		IsYearEnd:      monthEnd && month == time.December,
	}
}

func seasonOf(m time.Month) models.Season {
	switch m {
	case time.December, time.January, time.February:
		return models.SeasonWinter
	case time.March, time.April, time.May:
		return models.SeasonSpring
	case time.June, time.July, time.August:
		return models.SeasonSummer
	default:
		return models.SeasonAutumn
	}
}

func (b *Builder) calendar(day time.Time, lookup *externalLookup) models.CalendarFeatures {
	cal := Calendar(day)
	h, ok := lookup.holiday(day)
	if !ok && b.holidays != nil {
		h, ok = b.holidays.Holiday(day)
	}
	if ok {
		cal.IsHoliday = true
		cal.HolidayType = h.Type
		cal.HolidayImpact = utils.Clamp(h.Impact, -1, 1)
	}
	return cal
}

func (b *Builder) weather(day time.Time, lookup *externalLookup) models.WeatherFeatures {
	f := b.fallbacks
	w := models.WeatherFeatures{
		Temperature:   f.Temperature,
		Precipitation: f.Precipitation,
		Humidity:      f.Humidity,
		WindSpeed:     f.WindSpeed,
		CloudCover:    f.CloudCover,
		UVIndex:       f.UVIndex,
		Visibility:    f.Visibility,
	}
	wd, ok := lookup.weather[models.DayKey(day)]
	if !ok {
		return w
	}
	w.Temperature = wd.Temperature
	w.Precipitation = wd.Precipitation
	w.WindSpeed = wd.WindSpeed
	if wd.Humidity != nil {
		w.Humidity = *wd.Humidity
	}
	if wd.CloudCover != nil {
		w.CloudCover = *wd.CloudCover
	}
	if wd.UVIndex != nil {
		w.UVIndex = *wd.UVIndex
	}
	if wd.Visibility != nil {
		w.Visibility = *wd.Visibility
	}
	return w
}

func (b *Builder) economic(lookup *externalLookup) models.EconomicFeatures {
	f := b.fallbacks
	e := models.EconomicFeatures{
		ExchangeRate:       f.ExchangeRate,
		Inflation:          f.Inflation,
		ConsumerConfidence: f.ConsumerConfidence,
		Unemployment:       f.Unemployment,
	}
	snap := lookup.economic
	if snap.ExchangeRate != nil {
		e.ExchangeRate = *snap.ExchangeRate
	}
	if snap.Inflation != nil {
		e.Inflation = *snap.Inflation
	}
	if snap.ConsumerConfidence != nil {
		e.ConsumerConfidence = *snap.ConsumerConfidence
	}
	if snap.Unemployment != nil {
		e.Unemployment = *snap.Unemployment
	}
	return e
}

type externalLookup struct {
	weather   map[string]models.WeatherDay
	holidays  map[string]models.Holiday
	sentiment map[string]models.SentimentDay
	economic  models.EconomicSnapshot
}

func newExternalLookup(ext *models.ExternalData) *externalLookup {
	l := &externalLookup{
		weather:   map[string]models.WeatherDay{},
		holidays:  map[string]models.Holiday{},
		sentiment: map[string]models.SentimentDay{},
	}
	if ext == nil {
		return l
	}
	for _, w := range ext.Weather {
		l.weather[models.DayKey(w.Date)] = w
	}
	for _, h := range ext.Holidays {
		l.holidays[models.DayKey(h.Date)] = h
	}
	for _, s := range ext.Sentiment {
		l.sentiment[models.DayKey(s.Date)] = s
	}
	l.economic = ext.Economic
	return l
}

func (l *externalLookup) holiday(day time.Time) (models.Holiday, bool) {
	h, ok := l.holidays[models.DayKey(day)]
	return h, ok
}

func (l *externalLookup) social(day time.Time) models.SocialFeatures {
	s, ok := l.sentiment[models.DayKey(day)]
	if !ok {
		return models.SocialFeatures{}
	}
	return models.SocialFeatures{Sentiment: utils.Clamp(s.Sentiment, -1, 1), Volume: s.Volume}
}

// RefreshIndicators fills the trailing technical indicators; values stay zero until enough history exists
func RefreshIndicators(observations []models.Observation) {
	revenues := models.Revenues(observations)
	for _, period := range []int{7, 14, 30} {
		sma := MovingAverage(revenues, period)
		for i, v := range sma {
			idx := i + period - 1
			switch period {
			case 7:
				observations[idx].MovingAverage7 = v
			case 14:
				observations[idx].MovingAverage14 = v
			case 30:
				observations[idx].MovingAverage30 = v
			}
		}
	}

	for i := range observations {
		if i+1 >= volatilityWindow {
			observations[i].Volatility = utils.CoefficientOfVariation(revenues[i+1-volatilityWindow : i+1])
		}
		if i+1 >= minTrendHistory {
			start := i + 1 - trendWindow
			if start < 0 {
				start = 0
			}
			observations[i].Trend = utils.Slope(revenues[start : i+1])
		}
	}
}

// MovingAverage returns the simple moving average; element k covers values[k : k+period]
func MovingAverage(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	sma := trend.NewSmaWithPeriod[float64](period)
	return helper.ChanToSlice(sma.Compute(helper.SliceToChan(values)))
}
