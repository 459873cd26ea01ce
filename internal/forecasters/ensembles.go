package forecasters

import (
	"context"
	"math/rand/v2"

	"github.com/irfndi/celebrum-forecast/internal/models"
	"github.com/irfndi/celebrum-forecast/internal/utils"
)

const treeMinHistory = 21

// RandomForest averages bootstrap trees grown on random feature subsets
type RandomForest struct {
	seed  uint64
	trees int
}

func NewRandomForest(seed uint64) *RandomForest { return &RandomForest{seed: seed, trees: 20} }

func (*RandomForest) Name() models.ModelName { return models.ModelRandomForest }
func (*RandomForest) Traits() Traits         { return Traits{Adaptive: true} }
func (*RandomForest) MinHistory() int        { return treeMinHistory }

func (f *RandomForest) Fit(ctx context.Context, history []models.Observation) (models.ParamPayload, error) {
	if len(history) < f.MinHistory() {
		return nil, ErrInsufficientHistory
	}
	X, y := trainingSet(history)
	rng := rand.New(rand.NewPCG(f.seed, uint64(len(history))))
	subset := max(1, featureCount/3)
	cfg := treeConfig{maxDepth: 3, minLeaf: 5, thresholds: medianThreshold, featureSubset: subset, rng: rng}

	params := &models.RandomForestParams{
		TreeEnsemble:  newTreeEnsemble(history, true, 0, 1),
		FeatureSubset: subset,
	}
	for t := 0; t < f.trees; t++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sample := make([]int, len(X))
		for i := range sample {
			sample[i] = rng.IntN(len(X))
		}
		params.Trees = append(params.Trees, growTree(X, y, sample, cfg))
	}
	return params, nil
}

func (f *RandomForest) Predict(ctx context.Context, params models.ParamPayload, history []models.Observation, future []models.FutureCovariateStub) ([]float64, error) {
	p, ok := params.(*models.RandomForestParams)
	if !ok {
		return nil, payloadError(f.Name(), params)
	}
	return predictTrees(p.TreeEnsemble, history, future), nil
}

// XGBoost fits regularized residual trees on quantile thresholds
type XGBoost struct {
	rounds int
	lambda float64
}

func NewXGBoost() *XGBoost { return &XGBoost{rounds: 30, lambda: 1} }

func (*XGBoost) Name() models.ModelName { return models.ModelXGBoost }
func (*XGBoost) Traits() Traits         { return Traits{Adaptive: true} }
func (*XGBoost) MinHistory() int        { return treeMinHistory }

func (x *XGBoost) Fit(ctx context.Context, history []models.Observation) (models.ParamPayload, error) {
	if len(history) < x.MinHistory() {
		return nil, ErrInsufficientHistory
	}
	X, y := trainingSet(history)
	cfg := treeConfig{maxDepth: 3, minLeaf: 5, thresholds: quantileThresholds, lambda: x.lambda}
	ensemble, err := boost(ctx, X, y, allRows(len(X)), x.rounds, 0.1, cfg, nil, 1)
	if err != nil {
		return nil, err
	}
	ensemble.WeekdayFactors = weekdayFactors(history, 0.5, 1.5)
	ensemble.Mean = utils.Mean(models.Revenues(history))
	return &models.XGBoostParams{TreeEnsemble: ensemble, Lambda: x.lambda}, nil
}

func (x *XGBoost) Predict(ctx context.Context, params models.ParamPayload, history []models.Observation, future []models.FutureCovariateStub) ([]float64, error) {
	p, ok := params.(*models.XGBoostParams)
	if !ok {
		return nil, payloadError(x.Name(), params)
	}
	return predictTrees(p.TreeEnsemble, history, future), nil
}

// GradientBoosting fits shallow residual trees on row subsamples
type GradientBoosting struct {
	seed      uint64
	rounds    int
	subsample float64
}

func NewGradientBoosting(seed uint64) *GradientBoosting {
	return &GradientBoosting{seed: seed, rounds: 50, subsample: 0.8}
}

func (*GradientBoosting) Name() models.ModelName { return models.ModelGradientBoosting }
func (*GradientBoosting) Traits() Traits         { return Traits{Adaptive: true} }
func (*GradientBoosting) MinHistory() int        { return treeMinHistory }

func (g *GradientBoosting) Fit(ctx context.Context, history []models.Observation) (models.ParamPayload, error) {
	if len(history) < g.MinHistory() {
		return nil, ErrInsufficientHistory
	}
	X, y := trainingSet(history)
	rng := rand.New(rand.NewPCG(g.seed, uint64(len(history))))
	cfg := treeConfig{maxDepth: 2, minLeaf: 5, thresholds: medianThreshold}
	ensemble, err := boost(ctx, X, y, allRows(len(X)), g.rounds, 0.05, cfg, rng, g.subsample)
	if err != nil {
		return nil, err
	}
	ensemble.WeekdayFactors = weekdayFactors(history, 0.5, 1.5)
	ensemble.Mean = utils.Mean(models.Revenues(history))
	return &models.GradientBoostingParams{TreeEnsemble: ensemble, Subsample: g.subsample}, nil
}

func (g *GradientBoosting) Predict(ctx context.Context, params models.ParamPayload, history []models.Observation, future []models.FutureCovariateStub) ([]float64, error) {
	p, ok := params.(*models.GradientBoostingParams)
	if !ok {
		return nil, payloadError(g.Name(), params)
	}
	return predictTrees(p.TreeEnsemble, history, future), nil
}

// boost fits rounds of residual trees starting from the target mean
func boost(ctx context.Context, X [][]float64, y []float64, rows []int, rounds int, lr float64, cfg treeConfig, rng *rand.Rand, subsample float64) (models.TreeEnsemble, error) {
	e := models.TreeEnsemble{Base: utils.Mean(y), LearningRate: lr}
	current := make([]float64, len(y))
	for i := range current {
		current[i] = e.Base
	}
	residuals := make([]float64, len(y))
	for r := 0; r < rounds; r++ {
		if err := ctx.Err(); err != nil {
			return e, err
		}
		for i := range residuals {
			residuals[i] = y[i] - current[i]
		}
		sample := rows
		if rng != nil && subsample < 1 {
			sample = sample[:0:0]
			for _, i := range rows {
				if rng.Float64() < subsample {
					sample = append(sample, i)
				}
			}
			if len(sample) < 2*cfg.minLeaf {
				sample = rows
			}
		}
		tree := growTree(X, residuals, sample, cfg)
		e.Trees = append(e.Trees, tree)
		for i := range current {
			current[i] += lr * tree.Evaluate(X[i])
		}
	}
	return e, nil
}

func newTreeEnsemble(history []models.Observation, averaged bool, base, lr float64) models.TreeEnsemble {
	return models.TreeEnsemble{
		Base:           base,
		LearningRate:   lr,
		Averaged:       averaged,
		WeekdayFactors: weekdayFactors(history, 0.5, 1.5),
		Mean:           utils.Mean(models.Revenues(history)),
	}
}

func allRows(n int) []int {
	rows := make([]int, n)
	for i := range rows {
		rows[i] = i
	}
	return rows
}
