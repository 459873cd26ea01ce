package anomaly

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/celebrum-forecast/internal/models"
	"github.com/irfndi/celebrum-forecast/internal/timeseries"
)

// 2024-01-01 is a Monday
var start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func flatHistory(n int, value float64) []models.Observation {
	history := make([]models.Observation, n)
	for i := range history {
		d := start.AddDate(0, 0, i)
		history[i] = models.Observation{Date: d, Revenue: value, CalendarFeatures: timeseries.Calendar(d)}
	}
	return history
}

func flagFor(report models.AnomalyReport, index int) (models.AnomalyFlag, bool) {
	for _, f := range report.Flagged {
		if f.Index == index {
			return f, true
		}
	}
	return models.AnomalyFlag{}, false
}

// TestAnomalyDetector_WeekdaySpike tests that a 5x spike is corrected to the neighbour average
func TestAnomalyDetector_WeekdaySpike(t *testing.T) {
	history := flatHistory(30, 1000)
	history[9].Revenue = 5000 // Wednesday
	history[8].Revenue = 1100
	history[10].Revenue = 900

	detector := NewAnomalyDetector(DefaultConfig(), logrus.New())
	corrected, report := detector.Filter(history)

	flag, ok := flagFor(report, 9)
	require.True(t, ok)
	assert.GreaterOrEqual(t, len(flag.Detectors), 2)
	assert.Contains(t, flag.Detectors, DetectorJump)
	assert.Contains(t, report.Corrected, 9)
	assert.InDelta(t, 1000.0, corrected[9].Revenue, 1e-9)
	assert.Equal(t, 5000.0, history[9].Revenue, "input must not be modified")
}

// TestAnomalyDetector_HolidaySpike tests that the temporal detector ignores holiday jumps
func TestAnomalyDetector_HolidaySpike(t *testing.T) {
	history := flatHistory(30, 1000)
	history[9].Revenue = 5000
	history[9].IsHoliday = true
	history[9].HolidayType = "city_day"

	detector := NewAnomalyDetector(DefaultConfig(), logrus.New())
	_, report := detector.Filter(history)

	flag, ok := flagFor(report, 9)
	require.True(t, ok)
	assert.NotContains(t, flag.Detectors, DetectorJump)
	assert.NotContains(t, flag.Detectors, DetectorDayOfWeek)

	_, nextFlagged := flagFor(report, 10)
	if nextFlagged {
		f, _ := flagFor(report, 10)
		assert.NotContains(t, f.Detectors, DetectorJump)
	}
}

// TestAnomalyDetector_ReportContainsSpike tests the flat-with-one-spike scenario
func TestAnomalyDetector_ReportContainsSpike(t *testing.T) {
	history := flatHistory(30, 1000)
	history[14].Revenue = 9000

	detector := NewAnomalyDetector(DefaultConfig(), logrus.New())
	corrected, report := detector.Filter(history)

	assert.Contains(t, Indices(report), 14)
	assert.Equal(t, []int{14}, report.Corrected)
	assert.Equal(t, 1000.0, corrected[14].Revenue)
}

// A Monday spike follows a weekend day, so neither the spike nor the Tuesday after it
// is a same-day-type jump, and the other Mondays must not look unusual next to it.
func TestAnomalyDetector_MondaySpikeFlagsOnlyTheSpike(t *testing.T) {
	history := flatHistory(30, 1000)
	history[14].Revenue = 9000 // Monday after a Sunday

	detector := NewAnomalyDetector(DefaultConfig(), logrus.New())
	_, report := detector.Filter(history)
	assert.Equal(t, []int{14}, Indices(report))
	assert.Equal(t, []int{14}, report.Corrected)

	jumps := (&JumpDetector{Threshold: 0.6}).Detect(history)
	assert.False(t, jumps[15], "return leg")

	weekdays := (&DayOfWeekDetector{Threshold: 0.5}).Detect(history)
	for _, monday := range []int{0, 7, 21, 28} {
		assert.False(t, weekdays[monday], "day %d", monday)
	}
	assert.True(t, weekdays[14])
}

func TestJumpDetector_ReturnLeg(t *testing.T) {
	tests := []struct {
		name    string
		values  map[int]float64
		flagged []int
	}{
		{"spike after weekend", map[int]float64{7: 4000}, nil},
		{"spike mid-week", map[int]float64{2: 4000}, []int{2}},
		{"level shift", map[int]float64{2: 4000, 3: 4000, 4: 4000}, []int{2}},
		{"drop then recovery", map[int]float64{2: 200}, []int{2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			history := flatHistory(10, 1000)
			for i, v := range tt.values {
				history[i].Revenue = v
			}
			flags := (&JumpDetector{Threshold: 0.6}).Detect(history)
			var got []int
			for i, f := range flags {
				if f {
					got = append(got, i)
				}
			}
			assert.Equal(t, tt.flagged, got)
		})
	}
}

// TestAnomalyDetector_EdgeUncorrected tests that a spike without a left neighbour stays as is
func TestAnomalyDetector_EdgeUncorrected(t *testing.T) {
	history := flatHistory(21, 1000)
	history[0].Revenue = 9000

	detector := NewAnomalyDetector(DefaultConfig(), logrus.New())
	corrected, report := detector.Filter(history)

	assert.Contains(t, Indices(report), 0)
	assert.NotContains(t, report.Corrected, 0)
	assert.Equal(t, 9000.0, corrected[0].Revenue)
}

func TestAnomalyDetector_NoAnomalies(t *testing.T) {
	detector := NewAnomalyDetector(DefaultConfig(), nil)

	corrected, report := detector.Filter(flatHistory(14, 500))
	assert.Empty(t, report.Flagged)
	assert.Empty(t, report.Corrected)
	assert.Len(t, corrected, 14)

	corrected, report = detector.Filter(nil)
	assert.Empty(t, corrected)
	assert.Empty(t, report.Flagged)
}

func TestJumpDetector_SkipsWeekendTransition(t *testing.T) {
	history := flatHistory(7, 1000)
	history[5].Revenue = 2500 // Saturday after a Friday
	history[6].Revenue = 2500

	flags := (&JumpDetector{Threshold: 0.6}).Detect(history)
	assert.False(t, flags[5])
	assert.False(t, flags[6])
}

func TestJumpDetector_ReversalNotFlagged(t *testing.T) {
	history := flatHistory(5, 1000)
	history[2].Revenue = 3000

	flags := (&JumpDetector{Threshold: 0.6}).Detect(history)
	assert.True(t, flags[2])
	assert.False(t, flags[3])
}

func TestLocalZScoreDetector_FlatNeighbourhood(t *testing.T) {
	history := flatHistory(15, 100)
	history[7].Revenue = 140
	history[3].Revenue = 160

	flags := (&LocalZScoreDetector{Window: 7, Threshold: 3}).Detect(history)
	assert.False(t, flags[0])
	assert.True(t, flags[3] || flags[7])
}
