package forecasters

import (
	"context"
	"math/rand/v2"

	"github.com/irfndi/celebrum-forecast/internal/models"
	"github.com/irfndi/celebrum-forecast/internal/utils"
)

const (
	sequenceWindow       = 60
	sequenceEpochs       = 5
	sequenceLearningRate = 0.01
	sequenceL2           = 0.001
	scaledFeatureLimit   = 5
	weightLimit          = 3
	lstmDropout          = 0.2
)

var gruGateGrid = []float64{0.3, 0.5, 0.7}

// LSTM is a linear recurrent-style cell trained with dropout on its weights
type LSTM struct {
	seed uint64
}

func NewLSTM(seed uint64) *LSTM { return &LSTM{seed: seed} }

func (*LSTM) Name() models.ModelName { return models.ModelLSTM }
func (*LSTM) Traits() Traits         { return Traits{Adaptive: true, Seasonal: true} }
func (*LSTM) MinHistory() int        { return 21 }

func (l *LSTM) Fit(ctx context.Context, history []models.Observation) (models.ParamPayload, error) {
	if len(history) < l.MinHistory() {
		return nil, ErrInsufficientHistory
	}
	X, y, base := prepareSequence(history)
	rng := rand.New(rand.NewPCG(l.seed, uint64(len(history))))
	keep := 1 - lstmDropout

	for epoch := 0; epoch < sequenceEpochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i, row := range X {
			z := scaledRow(base.Scaler, row)
			mask := make([]bool, len(z))
			pred := base.Bias
			for j := range z {
				mask[j] = rng.Float64() < keep
				if mask[j] {
					pred += base.Weights[j] * z[j] / keep
				}
			}
			target := (y[i] - base.TargetCenter) / base.TargetScale
			err := pred - target
			for j := range z {
				if !mask[j] {
					continue
				}
				grad := err*z[j]/keep + sequenceL2*base.Weights[j]
				base.Weights[j] = utils.Clamp(base.Weights[j]-sequenceLearningRate*grad, -weightLimit, weightLimit)
			}
			base.Bias -= sequenceLearningRate * err
		}
	}
	return &models.LSTMParams{SequenceParams: base, DropoutRate: lstmDropout}, nil
}

func (l *LSTM) Predict(ctx context.Context, params models.ParamPayload, history []models.Observation, future []models.FutureCovariateStub) ([]float64, error) {
	p, ok := params.(*models.LSTMParams)
	if !ok {
		return nil, payloadError(l.Name(), params)
	}
	sp := p.SequenceParams
	return recursivePredict(history, future, func(x, series []float64, stub models.FutureCovariateStub) float64 {
		raw := linearOutput(sp, x)*sp.TargetScale + sp.TargetCenter
		return finishSequenceStep(sp, raw, x, series, stub)
	}), nil
}

// GRU is a linear cell with gated state accumulation; the gate is chosen on the recent window
type GRU struct {
	seed uint64
}

func NewGRU(seed uint64) *GRU { return &GRU{seed: seed} }

func (*GRU) Name() models.ModelName { return models.ModelGRU }
func (*GRU) Traits() Traits         { return Traits{Adaptive: true, Seasonal: true} }
func (*GRU) MinHistory() int        { return 21 }

func (g *GRU) Fit(ctx context.Context, history []models.Observation) (models.ParamPayload, error) {
	if len(history) < g.MinHistory() {
		return nil, ErrInsufficientHistory
	}
	X, y, base := prepareSequence(history)

	var best *models.GRUParams
	bestErr := 0.0
	for _, gate := range gruGateGrid {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cand := base
		cand.Weights = make([]float64, len(base.Weights))
		rng := rand.New(rand.NewPCG(g.seed, uint64(len(history))))
		acc := make([]float64, len(cand.Weights))
		var accBias float64
		for epoch := 0; epoch < sequenceEpochs; epoch++ {
			for _, i := range rng.Perm(len(X)) {
				z := scaledRow(cand.Scaler, X[i])
				err := linearOutput(cand, X[i]) - (y[i]-cand.TargetCenter)/cand.TargetScale
				for j := range z {
					grad := err*z[j] + sequenceL2*cand.Weights[j]
					acc[j] = (1-gate)*acc[j] + gate*grad
					cand.Weights[j] = utils.Clamp(cand.Weights[j]-sequenceLearningRate*acc[j], -weightLimit, weightLimit)
				}
				accBias = (1-gate)*accBias + gate*err
				cand.Bias -= sequenceLearningRate * accBias
			}
		}

		params := &models.GRUParams{SequenceParams: cand, Gate: gate}
		states := gruStates(params, X)
		var mse float64
		tail := min(7, len(X))
		for i := len(X) - tail; i < len(X); i++ {
			d := states[i]*cand.TargetScale + cand.TargetCenter - y[i]
			mse += d * d
		}
		if best == nil || mse < bestErr {
			best, bestErr = params, mse
		}
	}
	return best, nil
}

func (g *GRU) Predict(ctx context.Context, params models.ParamPayload, history []models.Observation, future []models.FutureCovariateStub) ([]float64, error) {
	p, ok := params.(*models.GRUParams)
	if !ok {
		return nil, payloadError(g.Name(), params)
	}
	sp := p.SequenceParams
	X, _ := trainingSet(history)
	h := 0.0
	if states := gruStates(p, X); len(states) > 0 {
		h = states[len(states)-1]
	}
	return recursivePredict(history, future, func(x, series []float64, stub models.FutureCovariateStub) float64 {
		h = (1-p.Gate)*h + p.Gate*linearOutput(sp, x)
		return finishSequenceStep(sp, h*sp.TargetScale+sp.TargetCenter, x, series, stub)
	}), nil
}

// gruStates runs the gated state over the training rows in scaled target units
func gruStates(p *models.GRUParams, X [][]float64) []float64 {
	states := make([]float64, len(X))
	h := 0.0
	for i, row := range X {
		out := linearOutput(p.SequenceParams, row)
		if i == 0 {
			h = out
		} else {
			h = (1-p.Gate)*h + p.Gate*out
		}
		states[i] = h
	}
	return states
}

// prepareSequence builds the recent training window and the shared scaled state
func prepareSequence(history []models.Observation) ([][]float64, []float64, models.SequenceParams) {
	X, y := trainingSet(history)
	if len(X) > sequenceWindow {
		X = X[len(X)-sequenceWindow:]
		y = y[len(y)-sequenceWindow:]
	}
	center, scale := robustScale(y)
	return X, y, models.SequenceParams{
		Weights:        make([]float64, featureCount),
		Scaler:         fitScaler(X),
		TargetCenter:   center,
		TargetScale:    scale,
		WeekdayFactors: weekdayFactors(history, 0.5, 1.5),
		Mean:           utils.Mean(models.Revenues(history)),
	}
}

func scaledRow(s models.RobustScaler, x []float64) []float64 {
	z := s.Transform(x)
	for j := range z {
		z[j] = utils.Clamp(z[j], -scaledFeatureLimit, scaledFeatureLimit)
	}
	return z
}

func linearOutput(p models.SequenceParams, x []float64) float64 {
	z := scaledRow(p.Scaler, x)
	out := p.Bias
	for j := range z {
		if j < len(p.Weights) {
			out += p.Weights[j] * z[j]
		}
	}
	return out
}

// finishSequenceStep blends the raw output with lag and rolling levels, then applies the weekday shape
func finishSequenceStep(p models.SequenceParams, raw float64, x, series []float64, stub models.FutureCovariateStub) float64 {
	lag7 := x[featureLag7]
	pred := 0.6*raw + 0.2*lag7 + 0.2*x[featureRollMean7]
	pred *= softened(p.WeekdayFactors[stub.DayOfWeek])
	if p.Mean > 0 {
		pred = utils.Clamp(pred, 0.3*p.Mean, 2.5*p.Mean)
	}
	return pred
}
