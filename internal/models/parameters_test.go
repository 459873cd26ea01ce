package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestModelParameters_RoundTrip tests that the payload survives through its registered codec
func TestModelParameters_RoundTrip(t *testing.T) {
	trainedAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	params := ModelParameters{
		Model:         ModelXGBoost,
		Fingerprint:   "abc123",
		TrainedAt:     trainedAt,
		TrainingSize:  42,
		LastTrainedOn: time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC),
		Payload: &XGBoostParams{
			TreeEnsemble: TreeEnsemble{
				Trees: []Tree{{Nodes: []TreeNode{
					{Feature: 0, Threshold: 10, Left: 1, Right: 2},
					{Leaf: true, Value: -1},
					{Leaf: true, Value: 1},
				}}},
				Base:         100,
				LearningRate: 0.1,
			},
			Lambda: 1,
		},
	}

	data, err := json.Marshal(params)
	require.NoError(t, err)

	var decoded ModelParameters
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, ModelXGBoost, decoded.Model)
	assert.Equal(t, "abc123", decoded.Fingerprint)
	assert.True(t, trainedAt.Equal(decoded.TrainedAt))
	assert.Equal(t, 42, decoded.TrainingSize)

	payload, ok := decoded.Payload.(*XGBoostParams)
	require.True(t, ok)
	assert.Equal(t, 1.0, payload.Lambda)
	assert.InDelta(t, 99.9, payload.Evaluate([]float64{5}), 1e-9)
	assert.InDelta(t, 100.1, payload.Evaluate([]float64{15}), 1e-9)
}

// TestModelParameters_UnknownModel tests that an unregistered tag is rejected
func TestModelParameters_UnknownModel(t *testing.T) {
	var decoded ModelParameters
	err := json.Unmarshal([]byte(`{"model":"Bogus","payload":{}}`), &decoded)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown model")
}

// TestModelParameters_MismatchedTag tests that a payload cannot be stored under another model
func TestModelParameters_MismatchedTag(t *testing.T) {
	_, err := json.Marshal(ModelParameters{Model: ModelARIMA, Payload: &NHITSParams{Mean: 1}})
	assert.Error(t, err)

	_, err = json.Marshal(ModelParameters{Model: ModelARIMA})
	assert.Error(t, err)
}

func TestTreeEnsemble_Averaged(t *testing.T) {
	e := TreeEnsemble{
		Averaged: true,
		Trees: []Tree{
			{Nodes: []TreeNode{{Leaf: true, Value: 10}}},
			{Nodes: []TreeNode{{Leaf: true, Value: 20}}},
		},
	}
	assert.Equal(t, 15.0, e.Evaluate(nil))
	assert.Equal(t, 7.0, TreeEnsemble{Base: 7}.Evaluate(nil))
}

func TestRobustScaler_Transform(t *testing.T) {
	s := RobustScaler{Center: []float64{10, 0}, Scale: []float64{2, 1}}
	assert.Equal(t, []float64{0, 5, 3}, s.Transform([]float64{10, 5, 3}))
}

func TestCalendarFeatures_DayType(t *testing.T) {
	assert.Equal(t, DayTypeHoliday, CalendarFeatures{IsHoliday: true, IsWeekend: true}.DayType())
	assert.Equal(t, DayTypeWeekend, CalendarFeatures{IsWeekend: true}.DayType())
	assert.Equal(t, DayTypeWeekday, CalendarFeatures{}.DayType())
}

func TestDayKey(t *testing.T) {
	msk := time.FixedZone("MSK", 3*3600)
	assert.Equal(t, "2024-01-05", DayKey(time.Date(2024, 1, 5, 1, 30, 0, 0, msk)))
	assert.Equal(t, time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), TruncateDay(time.Date(2024, 1, 5, 23, 59, 0, 0, time.UTC)))
}
