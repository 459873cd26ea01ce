package ensemble

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/irfndi/celebrum-forecast/internal/forecasters"
	"github.com/irfndi/celebrum-forecast/internal/models"
	"github.com/irfndi/celebrum-forecast/internal/utils"
)

// Accuracy sources
const (
	SourceCrossValidation = "cross_validation"
	SourceFeedback        = "feedback"
	SourceDefault         = "default"
)

// DefaultAccuracy is assumed for models without any evidence
const DefaultAccuracy = 0.5

// Snapshot is an immutable accuracy table shared by every step of a run
type Snapshot struct {
	Global      map[models.ModelName]float64    `json:"global"`
	ByDayOfWeek map[models.ModelName][7]float64 `json:"by_day_of_week"`
	HistoryDays int                             `json:"history_days"`
	SeriesKey   string                          `json:"series_key"`
	ComputedAt  time.Time                       `json:"computed_at"`
	Source      string                          `json:"source"`
}

// GlobalAccuracy returns the model's overall accuracy or the default
func (s *Snapshot) GlobalAccuracy(model models.ModelName) float64 {
	if s == nil {
		return DefaultAccuracy
	}
	if acc, ok := s.Global[model]; ok {
		return acc
	}
	return DefaultAccuracy
}

// DayOfWeekAccuracy returns the model's accuracy on a weekday, if known
func (s *Snapshot) DayOfWeekAccuracy(model models.ModelName, dow int) (float64, bool) {
	if s == nil || dow < 0 || dow > 6 {
		return 0, false
	}
	byDay, ok := s.ByDayOfWeek[model]
	if !ok || byDay[dow] < 0 {
		return 0, false
	}
	return byDay[dow], true
}

// MetricsSource provides realized accuracy from persisted predictions
type MetricsSource interface {
	GetModelMetrics(ctx context.Context, model models.ModelName) ([]models.ModelMetric, error)
}

// EvaluatorConfig tunes rolling-origin cross-validation
type EvaluatorConfig struct {
	SplitRatio float64
	Origins    int
	Window     int
	MinHistory int
	Interval   time.Duration
	Enabled    bool
}

// snapshotSlots bounds how many distinct series keep a cached snapshot
const snapshotSlots = 32

// DefaultEvaluatorConfig holds out the most recent 45% over ten 7-day windows, recomputed daily
func DefaultEvaluatorConfig() EvaluatorConfig {
	return EvaluatorConfig{
		SplitRatio: 0.55,
		Origins:    10,
		Window:     7,
		MinHistory: 28,
		Interval:   24 * time.Hour,
		Enabled:    true,
	}
}

// AccuracyTracker computes accuracy snapshots at most once per interval for each
// series and keeps the most recent one for diagnostics.
type AccuracyTracker struct {
	cfg     EvaluatorConfig
	metrics MetricsSource
	logger  *logrus.Logger
	now     func() time.Time

	current   atomic.Pointer[Snapshot]
	snapshots *lru.Cache[string, *Snapshot]
	group     singleflight.Group
}

// NewAccuracyTracker creates a tracker; metrics may be nil
func NewAccuracyTracker(cfg EvaluatorConfig, metrics MetricsSource, logger *logrus.Logger) *AccuracyTracker {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.Window <= 0 {
		cfg.Window = 7
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	snapshots, _ := lru.New[string, *Snapshot](snapshotSlots)
	return &AccuracyTracker{cfg: cfg, metrics: metrics, logger: logger, now: time.Now, snapshots: snapshots}
}

// Current returns the last computed snapshot, nil before the first computation
func (t *AccuracyTracker) Current() *Snapshot {
	return t.current.Load()
}

// Snapshot returns a fresh snapshot for the series behind history, computing it if
// none exists or the cached one is older than the interval. Concurrent callers with
// the same series share one computation.
func (t *AccuracyTracker) Snapshot(ctx context.Context, fs []forecasters.Forecaster, history []models.Observation) *Snapshot {
	key := SeriesKey(history)
	if snap, ok := t.fresh(key); ok {
		return snap
	}
	v, _, _ := t.group.Do("accuracy:"+key, func() (interface{}, error) {
		if snap, ok := t.fresh(key); ok {
			return snap, nil
		}
		snap := t.compute(ctx, fs, history)
		snap.SeriesKey = key
		t.snapshots.Add(key, snap)
		t.current.Store(snap)
		return snap, nil
	})
	return v.(*Snapshot)
}

func (t *AccuracyTracker) fresh(key string) (*Snapshot, bool) {
	snap, ok := t.snapshots.Get(key)
	if !ok || t.now().Sub(snap.ComputedAt) >= t.cfg.Interval {
		return nil, false
	}
	return snap, true
}

// Invalidate drops every cached snapshot so the next call recomputes
func (t *AccuracyTracker) Invalidate() {
	t.snapshots.Purge()
	t.current.Store(nil)
}

// SeriesKey identifies a revenue series by its first date and opening week. Appending
// days keeps the key; a different shop's history almost always changes it.
func SeriesKey(history []models.Observation) string {
	if len(history) == 0 {
		return "empty"
	}
	var opening float64
	for _, obs := range history[:min(7, len(history))] {
		opening += obs.Revenue
	}
	return fmt.Sprintf("%s/%.2f", models.DayKey(history[0].Date), opening)
}

func (t *AccuracyTracker) compute(ctx context.Context, fs []forecasters.Forecaster, history []models.Observation) *Snapshot {
	if t.cfg.Enabled && len(history) >= t.cfg.MinHistory {
		start := t.now()
		snap := t.crossValidate(ctx, fs, history)
		t.logger.WithFields(logrus.Fields{
			"history_days": len(history),
			"duration_ms":  time.Since(start).Milliseconds(),
		}).Info("Cross-validated model accuracy")
		return snap
	}
	if snap, ok := t.fromFeedback(ctx, fs, len(history)); ok {
		return snap
	}
	return &Snapshot{
		Global:      map[models.ModelName]float64{},
		ByDayOfWeek: map[models.ModelName][7]float64{},
		HistoryDays: len(history),
		ComputedAt:  t.now(),
		Source:      SourceDefault,
	}
}

// crossValidate refits every model at rolling origins over the held out tail
func (t *AccuracyTracker) crossValidate(ctx context.Context, fs []forecasters.Forecaster, history []models.Observation) *Snapshot {
	n := len(history)
	split := int(math.Round(float64(n) * t.cfg.SplitRatio))
	last := n - t.cfg.Window
	origins := []int{}
	if last >= split {
		step := max(1, (last-split+1)/max(1, t.cfg.Origins))
		for o := split; o <= last && len(origins) < t.cfg.Origins; o += step {
			origins = append(origins, o)
		}
	}

	type errs struct {
		all   []float64
		byDay [7][]float64
	}
	collected := make(map[models.ModelName]*errs, len(fs))
	for _, f := range fs {
		collected[f.Name()] = &errs{}
	}

	for _, o := range origins {
		if ctx.Err() != nil {
			break
		}
		train := history[:o]
		test := history[o : o+t.cfg.Window]
		future := StubsFromObservations(test)
		for _, f := range fs {
			result, err := forecasters.Run(ctx, f, nil, "", train, future)
			if err != nil {
				t.logger.WithError(err).WithField("model", f.Name()).Debug("Cross-validation fold failed")
				continue
			}
			e := collected[f.Name()]
			for i, obs := range test {
				if obs.Revenue <= 0 {
					continue
				}
				ape := math.Abs(result.Predictions[i]-obs.Revenue) / obs.Revenue
				e.all = append(e.all, ape)
				e.byDay[obs.DayOfWeek] = append(e.byDay[obs.DayOfWeek], ape)
			}
		}
	}

	snap := &Snapshot{
		Global:      make(map[models.ModelName]float64, len(fs)),
		ByDayOfWeek: make(map[models.ModelName][7]float64, len(fs)),
		HistoryDays: n,
		ComputedAt:  t.now(),
		Source:      SourceCrossValidation,
	}
	for name, e := range collected {
		if len(e.all) == 0 {
			continue
		}
		snap.Global[name] = math.Max(0, 1-utils.Mean(e.all))
		var byDay [7]float64
		for d := range byDay {
			byDay[d] = -1
			if len(e.byDay[d]) > 0 {
				byDay[d] = math.Max(0, 1-utils.Mean(e.byDay[d]))
			}
		}
		snap.ByDayOfWeek[name] = byDay
	}
	return snap
}

// fromFeedback converts persisted MAPE (percent) into accuracy
func (t *AccuracyTracker) fromFeedback(ctx context.Context, fs []forecasters.Forecaster, historyDays int) (*Snapshot, bool) {
	if t.metrics == nil {
		return nil, false
	}
	snap := &Snapshot{
		Global:      map[models.ModelName]float64{},
		ByDayOfWeek: map[models.ModelName][7]float64{},
		HistoryDays: historyDays,
		ComputedAt:  t.now(),
		Source:      SourceFeedback,
	}
	for _, f := range fs {
		rows, err := t.metrics.GetModelMetrics(ctx, f.Name())
		if err != nil {
			t.logger.WithError(err).WithField("model", f.Name()).Warn("Failed to load model metrics")
			continue
		}
		if len(rows) == 0 {
			continue
		}
		var weighted, samples float64
		var byDaySum, byDayN [7]float64
		for _, r := range rows {
			acc := utils.Clamp(1-r.MAPE/100, 0, 1)
			w := float64(max(1, r.SampleSize))
			weighted += acc * w
			samples += w
			if r.DayOfWeek >= 0 && r.DayOfWeek <= 6 {
				byDaySum[r.DayOfWeek] += acc * w
				byDayN[r.DayOfWeek] += w
			}
		}
		snap.Global[f.Name()] = weighted / samples
		var byDay [7]float64
		for d := range byDay {
			byDay[d] = -1
			if byDayN[d] > 0 {
				byDay[d] = byDaySum[d] / byDayN[d]
			}
		}
		snap.ByDayOfWeek[f.Name()] = byDay
	}
	if len(snap.Global) == 0 {
		return nil, false
	}
	return snap, true
}

// StubsFromObservations strips revenue from observations so they can serve as future stubs
func StubsFromObservations(obs []models.Observation) []models.FutureCovariateStub {
	out := make([]models.FutureCovariateStub, len(obs))
	for i, o := range obs {
		out[i] = models.FutureCovariateStub{
			Date:             o.Date,
			CalendarFeatures: o.CalendarFeatures,
			WeatherFeatures:  o.WeatherFeatures,
			EconomicFeatures: o.EconomicFeatures,
			SocialFeatures:   o.SocialFeatures,
		}
	}
	return out
}
