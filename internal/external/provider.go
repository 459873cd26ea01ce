// Package external supplies weather, holiday, economic and sentiment signals to the forecast pipeline.
package external

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/irfndi/celebrum-forecast/internal/models"
)

// DefaultLocation is used when a request does not name one
const DefaultLocation = "Lipetsk,RU"

// Provider is the external data collaborator of the forecast engine
type Provider interface {
	// GetAllExternalData returns historical signals for the location
	GetAllExternalData(ctx context.Context, location string) (*models.ExternalData, error)
	// GetEnhancedForecastData returns signals for the next days starting tomorrow
	GetEnhancedForecastData(ctx context.Context, location string, days int) (*models.ExternalData, error)
}

// HistoricalWeatherSource returns stored or archived weather for a date range
type HistoricalWeatherSource interface {
	HistoricalWeather(ctx context.Context, location string, from, to time.Time) ([]models.WeatherDay, error)
}

// ForecastWeatherSource returns predicted weather for upcoming days
type ForecastWeatherSource interface {
	ForecastWeather(ctx context.Context, location string, days int) ([]models.WeatherDay, error)
}

// ProviderConfig configures the composite provider
type ProviderConfig struct {
	HistoryDays int
	Economic    models.EconomicSnapshot
}

// CompositeProvider assembles signals from independent sources; each source is optional
type CompositeProvider struct {
	cfg      ProviderConfig
	history  []HistoricalWeatherSource
	forecast ForecastWeatherSource
	holidays *HolidayCalendar
	logger   *logrus.Logger
	now      func() time.Time
}

// NewCompositeProvider creates a provider. History sources are tried in order until one returns data.
func NewCompositeProvider(cfg ProviderConfig, holidays *HolidayCalendar, forecast ForecastWeatherSource, logger *logrus.Logger, history ...HistoricalWeatherSource) *CompositeProvider {
	if cfg.HistoryDays <= 0 {
		cfg.HistoryDays = 365
	}
	if holidays == nil {
		holidays = NewRussianCalendar()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &CompositeProvider{
		cfg:      cfg,
		history:  history,
		forecast: forecast,
		holidays: holidays,
		logger:   logger,
		now:      time.Now,
	}
}

// GetAllExternalData implements Provider
func (p *CompositeProvider) GetAllExternalData(ctx context.Context, location string) (*models.ExternalData, error) {
	to := models.TruncateDay(p.now())
	from := to.AddDate(0, 0, -p.cfg.HistoryDays)
	data := &models.ExternalData{
		Location:  location,
		Holidays:  p.holidays.Range(from, to),
		Economic:  p.cfg.Economic,
		FetchedAt: p.now(),
	}

	var errs []error
	for _, src := range p.history {
		weather, err := src.HistoricalWeather(ctx, location, from, to)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if len(weather) > 0 {
			data.Weather = weather
			break
		}
	}
	if len(data.Weather) == 0 && len(errs) > 0 {
		p.logger.WithError(errors.Join(errs...)).WithField("location", location).Warn("No historical weather source succeeded")
	}
	return data, nil
}

// GetEnhancedForecastData implements Provider
func (p *CompositeProvider) GetEnhancedForecastData(ctx context.Context, location string, days int) (*models.ExternalData, error) {
	from := models.TruncateDay(p.now()).AddDate(0, 0, 1)
	data := &models.ExternalData{
		Location:  location,
		Holidays:  p.holidays.Range(from, from.AddDate(0, 0, max(0, days-1))),
		Economic:  p.cfg.Economic,
		FetchedAt: p.now(),
	}
	if p.forecast == nil || days <= 0 {
		return data, nil
	}
	weather, err := p.forecast.ForecastWeather(ctx, location, days)
	if err != nil {
		return data, fmt.Errorf("failed to fetch forecast weather for %s: %w", location, err)
	}
	data.Weather = weather
	return data, nil
}

// Breaker guards calls to a flaky dependency
type Breaker interface {
	Execute(ctx context.Context, fn func(context.Context) error) error
}

// SafeProvider never fails: errors, timeouts and empty answers resolve to defaults
type SafeProvider struct {
	inner    Provider
	breaker  Breaker
	holidays *HolidayCalendar
	timeout  time.Duration
	logger   *logrus.Logger
	now      func() time.Time
}

// NewSafeProvider wraps inner; inner and breaker may be nil
func NewSafeProvider(inner Provider, breaker Breaker, timeout time.Duration, logger *logrus.Logger) *SafeProvider {
	if logger == nil {
		logger = logrus.New()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SafeProvider{
		inner:    inner,
		breaker:  breaker,
		holidays: NewRussianCalendar(),
		timeout:  timeout,
		logger:   logger,
		now:      time.Now,
	}
}

// Historical returns historical signals or defaults
func (s *SafeProvider) Historical(ctx context.Context, location string) *models.ExternalData {
	data, err := s.call(ctx, func(ctx context.Context) (*models.ExternalData, error) {
		return s.inner.GetAllExternalData(ctx, location)
	})
	if err != nil || data == nil {
		s.logger.WithError(err).WithField("location", location).Warn("Historical external data unavailable, using defaults")
		return s.defaults(location, time.Time{}, 0)
	}
	return data
}

// Forecast returns signals for the next days or defaults
func (s *SafeProvider) Forecast(ctx context.Context, location string, from time.Time, days int) *models.ExternalData {
	data, err := s.call(ctx, func(ctx context.Context) (*models.ExternalData, error) {
		return s.inner.GetEnhancedForecastData(ctx, location, days)
	})
	if err != nil || data == nil {
		s.logger.WithError(err).WithField("location", location).Warn("Forecast external data unavailable, using defaults")
		return s.defaults(location, from, days)
	}
	return data
}

func (s *SafeProvider) call(ctx context.Context, fn func(context.Context) (*models.ExternalData, error)) (data *models.ExternalData, err error) {
	if s.inner == nil {
		return nil, errors.New("no external data provider configured")
	}
	defer func() {
		if r := recover(); r != nil {
			data, err = nil, fmt.Errorf("external provider panicked: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	run := func(ctx context.Context) error {
		var callErr error
		data, callErr = fn(ctx)
		return callErr
	}
	if s.breaker != nil {
		err = s.breaker.Execute(ctx, run)
	} else {
		err = run(ctx)
	}
	return data, err
}

// defaults carries only calendar holidays; the series builder fills every other field
func (s *SafeProvider) defaults(location string, from time.Time, days int) *models.ExternalData {
	data := &models.ExternalData{Location: location, FetchedAt: s.now()}
	if days > 0 && !from.IsZero() {
		start := models.TruncateDay(from)
		data.Holidays = s.holidays.Range(start, start.AddDate(0, 0, days-1))
	}
	return data
}
