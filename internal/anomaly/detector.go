// Package anomaly flags and corrects outlier days by consensus of independent detectors.
package anomaly

import (
	"math"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/irfndi/celebrum-forecast/internal/models"
	"github.com/irfndi/celebrum-forecast/internal/utils"
)

// Detector names
const (
	DetectorIQR       = "iqr"
	DetectorZScore    = "zscore"
	DetectorLocal     = "local_zscore"
	DetectorJump      = "jump"
	DetectorDayOfWeek = "day_of_week"
)

// Detector flags suspicious days in a history
type Detector interface {
	Name() string
	Detect(history []models.Observation) []bool
}

// Config tunes the detectors
type Config struct {
	IQRMultiplier   float64
	ZScoreThreshold float64
	LocalWindow     int
	LocalThreshold  float64
	JumpThreshold   float64
	DOWThreshold    float64
	MinVotes        int
}

// DefaultConfig returns the thresholds used in production
func DefaultConfig() Config {
	return Config{
		IQRMultiplier:   1.5,
		ZScoreThreshold: 2.5,
		LocalWindow:     7,
		LocalThreshold:  3,
		JumpThreshold:   0.6,
		DOWThreshold:    0.5,
		MinVotes:        2,
	}
}

// AnomalyDetector runs every detector and corrects days that enough of them agree on
type AnomalyDetector struct {
	detectors []Detector
	minVotes  int
	logger    *logrus.Logger
}

// NewAnomalyDetector wires the five standard detectors
func NewAnomalyDetector(cfg Config, logger *logrus.Logger) *AnomalyDetector {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.MinVotes <= 0 {
		cfg.MinVotes = 2
	}
	return &AnomalyDetector{
		detectors: []Detector{
			&IQRDetector{Multiplier: cfg.IQRMultiplier},
			&ZScoreDetector{Threshold: cfg.ZScoreThreshold},
			&LocalZScoreDetector{Window: cfg.LocalWindow, Threshold: cfg.LocalThreshold},
			&JumpDetector{Threshold: cfg.JumpThreshold},
			&DayOfWeekDetector{Threshold: cfg.DOWThreshold},
		},
		minVotes: cfg.MinVotes,
		logger:   logger,
	}
}

// Filter returns a corrected copy of history and the report of flagged days.
// The input slice is not modified.
func (d *AnomalyDetector) Filter(history []models.Observation) ([]models.Observation, models.AnomalyReport) {
	out := make([]models.Observation, len(history))
	copy(out, history)
	report := models.AnomalyReport{Flagged: []models.AnomalyFlag{}, Corrected: []int{}}
	if len(history) == 0 {
		return out, report
	}

	votes := make([][]string, len(history))
	for _, det := range d.detectors {
		flags := det.Detect(history)
		for i, flagged := range flags {
			if flagged {
				votes[i] = append(votes[i], det.Name())
			}
		}
	}

	anomalous := func(i int) bool { return len(votes[i]) >= d.minVotes }
	for i, names := range votes {
		if len(names) == 0 {
			continue
		}
		flag := models.AnomalyFlag{
			Index:     i,
			Date:      history[i].Date,
			Original:  history[i].Revenue,
			Detectors: names,
		}
		if anomalous(i) {
			left, right := -1, -1
			for j := i - 1; j >= 0; j-- {
				if !anomalous(j) {
					left = j
					break
				}
			}
			for j := i + 1; j < len(history); j++ {
				if !anomalous(j) {
					right = j
					break
				}
			}
			if left >= 0 && right >= 0 {
				corrected := (history[left].Revenue + history[right].Revenue) / 2
				out[i].Revenue = corrected
				flag.Corrected = corrected
				report.Corrected = append(report.Corrected, i)
			}
		}
		report.Flagged = append(report.Flagged, flag)
	}

	if len(report.Corrected) > 0 {
		d.logger.WithFields(logrus.Fields{
			"flagged":   len(report.Flagged),
			"corrected": len(report.Corrected),
		}).Info("Corrected anomalous revenue days")
	}
	return out, report
}

// IQRDetector flags values outside the Tukey fences of the whole history
type IQRDetector struct {
	Multiplier float64
}

func (*IQRDetector) Name() string { return DetectorIQR }

func (d *IQRDetector) Detect(history []models.Observation) []bool {
	flags := make([]bool, len(history))
	if len(history) < 4 {
		return flags
	}
	revenues := models.Revenues(history)
	lower, upper := utils.IQRBounds(revenues, d.Multiplier)
	for i, v := range revenues {
		flags[i] = v < lower || v > upper
	}
	return flags
}

// ZScoreDetector flags values more than Threshold population standard deviations from the mean
type ZScoreDetector struct {
	Threshold float64
}

func (*ZScoreDetector) Name() string { return DetectorZScore }

func (d *ZScoreDetector) Detect(history []models.Observation) []bool {
	flags := make([]bool, len(history))
	if len(history) < 3 {
		return flags
	}
	revenues := models.Revenues(history)
	mean := utils.Mean(revenues)
	std := utils.PopStdDev(revenues)
	if std == 0 {
		return flags
	}
	for i, v := range revenues {
		flags[i] = math.Abs(v-mean)/std > d.Threshold
	}
	return flags
}

// LocalZScoreDetector compares each day with the days around it, excluding itself
type LocalZScoreDetector struct {
	Window    int
	Threshold float64
}

func (*LocalZScoreDetector) Name() string { return DetectorLocal }

const flatRelativeDeviation = 0.5

func (d *LocalZScoreDetector) Detect(history []models.Observation) []bool {
	flags := make([]bool, len(history))
	revenues := models.Revenues(history)
	for i, v := range revenues {
		lo := i - d.Window
		if lo < 0 {
			lo = 0
		}
		hi := i + d.Window
		if hi >= len(revenues) {
			hi = len(revenues) - 1
		}
		neighbours := make([]float64, 0, hi-lo)
		for j := lo; j <= hi; j++ {
			if j != i {
				neighbours = append(neighbours, revenues[j])
			}
		}
		if len(neighbours) < 3 {
			continue
		}
		mean := utils.Mean(neighbours)
		std := utils.PopStdDev(neighbours)
		if std < 1e-9 {
			flags[i] = math.Abs(v-mean)/math.Max(math.Abs(mean), 1) > flatRelativeDeviation
			continue
		}
		flags[i] = math.Abs(v-mean)/std > d.Threshold
	}
	return flags
}

// JumpDetector flags day-over-day changes not explained by a day-type transition.
// A day that brings revenue back to the level of the last comparable day before
// the jump is the return leg and is not flagged, whether or not the jump itself was.
type JumpDetector struct {
	Threshold float64
}

func (*JumpDetector) Name() string { return DetectorJump }

func (d *JumpDetector) Detect(history []models.Observation) []bool {
	flags := make([]bool, len(history))
	for i := 1; i < len(history); i++ {
		prev, cur := history[i-1], history[i]
		if prev.Revenue <= 0 {
			continue
		}
		if prev.DayType() != cur.DayType() || prev.IsHoliday || cur.IsHoliday {
			continue
		}
		if flags[i-1] {
			continue
		}
		change := math.Abs(cur.Revenue-prev.Revenue) / prev.Revenue
		if change <= d.Threshold {
			continue
		}
		if ref, ok := lastComparable(history, i-1, cur.DayType()); ok && math.Abs(cur.Revenue-ref)/ref <= d.Threshold {
			continue
		}
		flags[i] = true
	}
	return flags
}

// lastComparable returns the revenue of the nearest non-holiday day of the given
// type before index before, looking back at most a week.
func lastComparable(history []models.Observation, before int, dayType models.DayType) (float64, bool) {
	for j := before - 1; j >= 0 && j >= before-7; j-- {
		obs := history[j]
		if obs.IsHoliday || obs.Revenue <= 0 || obs.DayType() != dayType {
			continue
		}
		return obs.Revenue, true
	}
	return 0, false
}

// DayOfWeekDetector compares each non-holiday day with the median of the other
// non-holiday days on the same weekday.
type DayOfWeekDetector struct {
	Threshold float64
}

func (*DayOfWeekDetector) Name() string { return DetectorDayOfWeek }

func (d *DayOfWeekDetector) Detect(history []models.Observation) []bool {
	flags := make([]bool, len(history))
	byDay := make(map[int][]int, 7)
	for i, obs := range history {
		if !obs.IsHoliday {
			byDay[obs.DayOfWeek] = append(byDay[obs.DayOfWeek], i)
		}
	}
	others := make([]float64, 0, len(history)/7+1)
	for _, indices := range byDay {
		if len(indices) < 3 {
			continue
		}
		for _, i := range indices {
			others = others[:0]
			for _, j := range indices {
				if j != i {
					others = append(others, history[j].Revenue)
				}
			}
			typical := utils.Median(others)
			if typical <= 0 {
				continue
			}
			flags[i] = math.Abs(history[i].Revenue-typical)/typical > d.Threshold
		}
	}
	return flags
}

// Indices returns the sorted indices present in a report's flagged list
func Indices(report models.AnomalyReport) []int {
	out := make([]int, 0, len(report.Flagged))
	for _, f := range report.Flagged {
		out = append(out, f.Index)
	}
	sort.Ints(out)
	return out
}
