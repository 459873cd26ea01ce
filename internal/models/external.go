package models

import "time"

// WeatherDay is one day of weather from a provider
type WeatherDay struct {
	Date          time.Time `json:"date" db:"weather_date"`
	Location      string    `json:"location" db:"location"`
	TempMin       float64   `json:"temp_min" db:"temp_min_c"`
	TempMax       float64   `json:"temp_max" db:"temp_max_c"`
	Temperature   float64   `json:"temperature" db:"temp_avg_c"`
	Precipitation float64   `json:"precipitation" db:"precipitation_mm"`
	Snowfall      float64   `json:"snowfall" db:"snowfall_cm"`
	WindSpeed     float64   `json:"wind_speed" db:"wind_max_ms"`
	Humidity      *float64  `json:"humidity,omitempty"`
	CloudCover    *float64  `json:"cloud_cover,omitempty"`
	UVIndex       *float64  `json:"uv_index,omitempty"`
	Visibility    *float64  `json:"visibility,omitempty"`
}

// Holiday is one public holiday
type Holiday struct {
	Date   time.Time `json:"date"`
	Name   string    `json:"name"`
	Type   string    `json:"type"`
	Impact float64   `json:"impact"` // [-1, 1]
}

// EconomicSnapshot holds macro indicators; nil fields fall back to defaults
type EconomicSnapshot struct {
	ExchangeRate       *float64 `json:"exchange_rate,omitempty"`
	Inflation          *float64 `json:"inflation,omitempty"`
	ConsumerConfidence *float64 `json:"consumer_confidence,omitempty"`
	Unemployment       *float64 `json:"unemployment,omitempty"`
}

// SentimentDay is one day of social sentiment
type SentimentDay struct {
	Date      time.Time `json:"date"`
	Sentiment float64   `json:"sentiment"`
	Volume    float64   `json:"volume"`
}

// ExternalData bundles every external signal fetched for a run
type ExternalData struct {
	Location  string           `json:"location"`
	Weather   []WeatherDay     `json:"weather"`
	Holidays  []Holiday        `json:"holidays"`
	Economic  EconomicSnapshot `json:"economic"`
	Sentiment []SentimentDay   `json:"sentiment"`
	FetchedAt time.Time        `json:"fetched_at"`
}

// HasWeather reports whether any weather points are present
func (e *ExternalData) HasWeather() bool {
	return e != nil && len(e.Weather) > 0
}

// DayKey normalizes a time to the lookup key used across the pipeline
func DayKey(t time.Time) string {
	return TruncateDay(t).Format(DateLayout)
}

// TruncateDay normalizes a time to UTC midnight
func TruncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
