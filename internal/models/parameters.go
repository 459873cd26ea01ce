package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ModelName identifies one forecaster
type ModelName string

const (
	ModelARIMA            ModelName = "ARIMA"
	ModelProphet          ModelName = "Prophet"
	ModelLSTM             ModelName = "LSTM"
	ModelGRU              ModelName = "GRU"
	ModelRandomForest     ModelName = "RandomForest"
	ModelXGBoost          ModelName = "XGBoost"
	ModelGradientBoosting ModelName = "GradientBoosting"
	ModelNHITS            ModelName = "NHITS"
	ModelEnsemble         ModelName = "Ensemble"
	ModelAdvisor          ModelName = "Advisor"
)

// AllModels lists the forecasters in the order they are reported
var AllModels = []ModelName{
	ModelARIMA, ModelProphet, ModelLSTM, ModelGRU,
	ModelRandomForest, ModelXGBoost, ModelGradientBoosting, ModelNHITS,
}

// ParamPayload is the model specific part of trained state
type ParamPayload interface {
	Model() ModelName
}

// ModelParameters is trained state tagged with the fingerprint of the data it was fit on.
// Values are never mutated after creation.
type ModelParameters struct {
	Model         ModelName    `json:"model"`
	Fingerprint   string       `json:"fingerprint"`
	TrainedAt     time.Time    `json:"trained_at"`
	TrainingSize  int          `json:"training_size"`
	LastTrainedOn time.Time    `json:"last_trained_on"`
	Payload       ParamPayload `json:"-"`
}

type parametersEnvelope struct {
	Model         ModelName       `json:"model"`
	Fingerprint   string          `json:"fingerprint"`
	TrainedAt     time.Time       `json:"trained_at"`
	TrainingSize  int             `json:"training_size"`
	LastTrainedOn time.Time       `json:"last_trained_on"`
	Payload       json.RawMessage `json:"payload"`
}

var payloadCodecs = map[ModelName]func() ParamPayload{
	ModelARIMA:            func() ParamPayload { return &ARIMAParams{} },
	ModelProphet:          func() ParamPayload { return &ProphetParams{} },
	ModelLSTM:             func() ParamPayload { return &LSTMParams{} },
	ModelGRU:              func() ParamPayload { return &GRUParams{} },
	ModelRandomForest:     func() ParamPayload { return &RandomForestParams{} },
	ModelXGBoost:          func() ParamPayload { return &XGBoostParams{} },
	ModelGradientBoosting: func() ParamPayload { return &GradientBoostingParams{} },
	ModelNHITS:            func() ParamPayload { return &NHITSParams{} },
}

// MarshalJSON encodes the envelope with the payload nested under "payload"
func (p ModelParameters) MarshalJSON() ([]byte, error) {
	if p.Payload == nil {
		return nil, fmt.Errorf("model parameters for %s have no payload", p.Model)
	}
	if p.Payload.Model() != p.Model {
		return nil, fmt.Errorf("payload for %s tagged as %s", p.Payload.Model(), p.Model)
	}
	raw, err := json.Marshal(p.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", p.Model, err)
	}
	return json.Marshal(parametersEnvelope{
		Model:         p.Model,
		Fingerprint:   p.Fingerprint,
		TrainedAt:     p.TrainedAt,
		TrainingSize:  p.TrainingSize,
		LastTrainedOn: p.LastTrainedOn,
		Payload:       raw,
	})
}

// UnmarshalJSON decodes the payload through the codec registered for the model name
func (p *ModelParameters) UnmarshalJSON(data []byte) error {
	var env parametersEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("failed to decode model parameters: %w", err)
	}
	factory, ok := payloadCodecs[env.Model]
	if !ok {
		return fmt.Errorf("unknown model %q", env.Model)
	}
	payload := factory()
	if err := json.Unmarshal(env.Payload, payload); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", env.Model, err)
	}
	*p = ModelParameters{
		Model:         env.Model,
		Fingerprint:   env.Fingerprint,
		TrainedAt:     env.TrainedAt,
		TrainingSize:  env.TrainingSize,
		LastTrainedOn: env.LastTrainedOn,
		Payload:       payload,
	}
	return nil
}

// ARIMAParams holds the selected order and fitted coefficients
type ARIMAParams struct {
	P         int       `json:"p"`
	D         int       `json:"d"`
	Q         int       `json:"q"`
	SP        int       `json:"sp"`
	SQ        int       `json:"sq"`
	Intercept float64   `json:"intercept"`
	AR        []float64 `json:"ar"`
	MA        []float64 `json:"ma"`
	SAR       float64   `json:"sar"`
	SMA       float64   `json:"sma"`
	Sigma2    float64   `json:"sigma2"`
	AIC       float64   `json:"aic"`
	LowerClip float64   `json:"lower_clip"`
	UpperClip float64   `json:"upper_clip"`
}

func (*ARIMAParams) Model() ModelName { return ModelARIMA }

// ProphetParams holds the decomposition learned from history
type ProphetParams struct {
	Changepoints     []int              `json:"changepoints"`
	Slope            float64            `json:"slope"`
	Intercept        float64            `json:"intercept"`
	SegmentStart     int                `json:"segment_start"`
	Base             float64            `json:"base"`
	ClampAnchor      float64            `json:"clamp_anchor"`
	WeekdayFactors   [7]float64         `json:"weekday_factors"`
	MonthFactors     [12]float64        `json:"month_factors"`
	QuarterFactors   [4]float64         `json:"quarter_factors"`
	MonthPartFactors [3]float64         `json:"month_part_factors"`
	HolidayEffects   map[string]float64 `json:"holiday_effects"`
	RainEffect       float64            `json:"rain_effect"`
}

func (*ProphetParams) Model() ModelName { return ModelProphet }

// RobustScaler centers by median and scales by IQR per feature
type RobustScaler struct {
	Center []float64 `json:"center"`
	Scale  []float64 `json:"scale"`
}

// Transform scales one feature vector
func (s RobustScaler) Transform(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		if i >= len(s.Center) {
			out[i] = v
			continue
		}
		out[i] = (v - s.Center[i]) / s.Scale[i]
	}
	return out
}

// SequenceParams is the shared state of the recurrent-style models
type SequenceParams struct {
	Weights        []float64    `json:"weights"`
	Bias           float64      `json:"bias"`
	Scaler         RobustScaler `json:"scaler"`
	TargetCenter   float64      `json:"target_center"`
	TargetScale    float64      `json:"target_scale"`
	WeekdayFactors [7]float64   `json:"weekday_factors"`
	Mean           float64      `json:"mean"`
}

// LSTMParams holds the dropout trained linear cell
type LSTMParams struct {
	SequenceParams
	DropoutRate float64 `json:"dropout_rate"`
}

func (*LSTMParams) Model() ModelName { return ModelLSTM }

// GRUParams holds the gated accumulation cell
type GRUParams struct {
	SequenceParams
	Gate float64 `json:"gate"`
}

func (*GRUParams) Model() ModelName { return ModelGRU }

// TreeNode is one node of a flattened binary tree
type TreeNode struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      int     `json:"l"`
	Right     int     `json:"r"`
	Value     float64 `json:"v"`
	Leaf      bool    `json:"leaf"`
}

// Tree is a flattened binary tree, root at index 0
type Tree struct {
	Nodes []TreeNode `json:"nodes"`
}

// Evaluate walks the tree for one feature vector
func (t Tree) Evaluate(x []float64) float64 {
	if len(t.Nodes) == 0 {
		return 0
	}
	i := 0
	for {
		n := t.Nodes[i]
		if n.Leaf || n.Feature >= len(x) {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// TreeEnsemble is the shared state of the tree based models
type TreeEnsemble struct {
	Trees          []Tree     `json:"trees"`
	Base           float64    `json:"base"`
	LearningRate   float64    `json:"learning_rate"`
	Averaged       bool       `json:"averaged"`
	WeekdayFactors [7]float64 `json:"weekday_factors"`
	Mean           float64    `json:"mean"`
}

// Evaluate combines the trees for one feature vector
func (e TreeEnsemble) Evaluate(x []float64) float64 {
	if len(e.Trees) == 0 {
		return e.Base
	}
	if e.Averaged {
		var sum float64
		for _, t := range e.Trees {
			sum += t.Evaluate(x)
		}
		return sum / float64(len(e.Trees))
	}
	out := e.Base
	for _, t := range e.Trees {
		out += e.LearningRate * t.Evaluate(x)
	}
	return out
}

type RandomForestParams struct {
	TreeEnsemble
	FeatureSubset int `json:"feature_subset"`
}

func (*RandomForestParams) Model() ModelName { return ModelRandomForest }

type XGBoostParams struct {
	TreeEnsemble
	Lambda float64 `json:"lambda"`
}

func (*XGBoostParams) Model() ModelName { return ModelXGBoost }

type GradientBoostingParams struct {
	TreeEnsemble
	Subsample float64 `json:"subsample"`
}

func (*GradientBoostingParams) Model() ModelName { return ModelGradientBoosting }

// NHITSParams only remembers the fallback level; the network lives in the external process
type NHITSParams struct {
	Mean float64 `json:"mean"`
}

func (*NHITSParams) Model() ModelName { return ModelNHITS }
