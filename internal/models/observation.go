package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the calendar date format used on every wire and storage boundary
const DateLayout = "2006-01-02"

// Transaction represents a single sale as it arrives from ingestion
type Transaction struct {
	Date   time.Time       `json:"date" db:"date"`
	Amount decimal.Decimal `json:"amount" db:"amount"`
}

// ProfitabilityRecord represents one day of a Z-report (end-of-day register summary)
type ProfitabilityRecord struct {
	Date             time.Time       `json:"date" db:"report_date"`
	Revenue          decimal.Decimal `json:"revenue" db:"revenue"`
	ChecksCount      int             `json:"checks_count" db:"checks_count"`
	AverageCheck     decimal.Decimal `json:"average_check" db:"average_check"`
	Returns          decimal.Decimal `json:"returns" db:"returns"`
	CostOfGoods      decimal.Decimal `json:"cost_of_goods" db:"cost_of_goods"`
	GrossMargin      decimal.Decimal `json:"gross_margin" db:"gross_margin"`
	DataQualityScore float64         `json:"data_quality_score" db:"data_quality_score"`
}

// Season of the year, northern hemisphere
type Season string

const (
	SeasonWinter Season = "winter"
	SeasonSpring Season = "spring"
	SeasonSummer Season = "summer"
	SeasonAutumn Season = "autumn"
)

// CalendarFeatures holds the calendar decomposition of a date
type CalendarFeatures struct {
	DayOfWeek      int     `json:"day_of_week"` // Sunday=0
	DayOfMonth     int     `json:"day_of_month"`
	Month          int     `json:"month"`
	Quarter        int     `json:"quarter"`
	Year           int     `json:"year"`
	WeekOfYear     int     `json:"week_of_year"`
	DayOfYear      int     `json:"day_of_year"`
	IsWeekend      bool    `json:"is_weekend"`
	Season         Season  `json:"season"`
	IsMonthStart   bool    `json:"is_month_start"`
	IsMonthEnd     bool    `json:"is_month_end"`
	IsQuarterStart bool    `json:"is_quarter_start"`
	IsQuarterEnd   bool    `json:"is_quarter_end"`
	IsYearStart    bool    `json:"is_year_start"`
	IsYearEnd      bool    `json:"is_year_end"`
	IsHoliday      bool    `json:"is_holiday"`
	HolidayType    string  `json:"holiday_type,omitempty"`
	HolidayImpact  float64 `json:"holiday_impact"` // [-1, 1]
}

// WeatherFeatures holds daily weather values
type WeatherFeatures struct {
	Temperature   float64 `json:"temperature"`
	Precipitation float64 `json:"precipitation"`
	Humidity      float64 `json:"humidity"`
	WindSpeed     float64 `json:"wind_speed"`
	CloudCover    float64 `json:"cloud_cover"`
	UVIndex       float64 `json:"uv_index"`
	Visibility    float64 `json:"visibility"`
}

// EconomicFeatures holds macro indicators
type EconomicFeatures struct {
	ExchangeRate       float64 `json:"exchange_rate"`
	Inflation          float64 `json:"inflation"`
	ConsumerConfidence float64 `json:"consumer_confidence"`
	Unemployment       float64 `json:"unemployment"`
}

// SocialFeatures holds social media sentiment
type SocialFeatures struct {
	Sentiment float64 `json:"sentiment"` // [-1, 1]
	Volume    float64 `json:"volume"`
}

// TechnicalIndicators holds rolling statistics of revenue
type TechnicalIndicators struct {
	MovingAverage7  float64 `json:"moving_average_7"`
	MovingAverage14 float64 `json:"moving_average_14"`
	MovingAverage30 float64 `json:"moving_average_30"`
	Volatility      float64 `json:"volatility"`
	Trend           float64 `json:"trend"`
}

// ProfitabilityFeatures holds the optional Z-report derived fields
type ProfitabilityFeatures struct {
	HasProfitability bool    `json:"has_profitability"`
	ChecksCount      int     `json:"checks_count"`
	AverageCheck     float64 `json:"average_check"`
	Returns          float64 `json:"returns"`
	ReturnRate       float64 `json:"return_rate"`
	CostOfGoods      float64 `json:"cost_of_goods"`
	GrossMargin      float64 `json:"gross_margin"`
	DataQualityScore float64 `json:"data_quality_score"`
}

// Observation is one enriched calendar day of history
type Observation struct {
	Date             time.Time `json:"date"`
	Revenue          float64   `json:"revenue"`
	TransactionCount int       `json:"transaction_count"`

	CalendarFeatures
	WeatherFeatures
	EconomicFeatures
	SocialFeatures
	TechnicalIndicators
	ProfitabilityFeatures
}

// FutureCovariateStub carries the fields of a forecast date that are known in advance
type FutureCovariateStub struct {
	Date time.Time `json:"date"`

	CalendarFeatures
	WeatherFeatures
	EconomicFeatures
	SocialFeatures
}

// DayType buckets days for historical comparisons
type DayType string

const (
	DayTypeWeekday DayType = "weekday"
	DayTypeWeekend DayType = "weekend"
	DayTypeHoliday DayType = "holiday"
)

// DayType returns the bucket of the calendar features
func (c CalendarFeatures) DayType() DayType {
	switch {
	case c.IsHoliday:
		return DayTypeHoliday
	case c.IsWeekend:
		return DayTypeWeekend
	default:
		return DayTypeWeekday
	}
}

// Revenues extracts the revenue column
func Revenues(history []Observation) []float64 {
	values := make([]float64, len(history))
	for i, obs := range history {
		values[i] = obs.Revenue
	}
	return values
}
