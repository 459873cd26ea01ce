package forecasters

import (
	"math/rand/v2"

	"github.com/irfndi/celebrum-forecast/internal/models"
	"github.com/irfndi/celebrum-forecast/internal/utils"
)

// thresholdPolicy picks split candidates from a feature's values
type thresholdPolicy func(values []float64) []float64

func medianThreshold(values []float64) []float64 {
	return []float64{utils.Median(values)}
}

func quantileThresholds(values []float64) []float64 {
	sorted := utils.Sorted(values)
	return []float64{
		utils.Quantile(sorted, 0.25),
		utils.Quantile(sorted, 0.5),
		utils.Quantile(sorted, 0.75),
	}
}

type treeConfig struct {
	maxDepth      int
	minLeaf       int
	thresholds    thresholdPolicy
	featureSubset int // 0 uses every feature
	lambda        float64
	rng           *rand.Rand
}

type treeBuilder struct {
	cfg   treeConfig
	X     [][]float64
	y     []float64
	nodes []models.TreeNode
}

// growTree fits a regression tree on the rows in idx
func growTree(X [][]float64, y []float64, idx []int, cfg treeConfig) models.Tree {
	b := &treeBuilder{cfg: cfg, X: X, y: y}
	b.split(idx, 0)
	return models.Tree{Nodes: b.nodes}
}

func (b *treeBuilder) leafValue(idx []int) float64 {
	var sum float64
	for _, i := range idx {
		sum += b.y[i]
	}
	return sum / (float64(len(idx)) + b.cfg.lambda)
}

func (b *treeBuilder) split(idx []int, depth int) int {
	at := len(b.nodes)
	b.nodes = append(b.nodes, models.TreeNode{Leaf: true, Value: b.leafValue(idx)})
	if depth >= b.cfg.maxDepth || len(idx) < 2*b.cfg.minLeaf {
		return at
	}

	feature, threshold, ok := b.bestSplit(idx)
	if !ok {
		return at
	}
	var left, right []int
	for _, i := range idx {
		if b.X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	l := b.split(left, depth+1)
	r := b.split(right, depth+1)
	b.nodes[at] = models.TreeNode{Feature: feature, Threshold: threshold, Left: l, Right: r}
	return at
}

func (b *treeBuilder) candidateFeatures() []int {
	width := len(b.X[0])
	if b.cfg.featureSubset <= 0 || b.cfg.featureSubset >= width || b.cfg.rng == nil {
		all := make([]int, width)
		for j := range all {
			all[j] = j
		}
		return all
	}
	return b.cfg.rng.Perm(width)[:b.cfg.featureSubset]
}

// bestSplit returns the split with the largest reduction in squared error
func (b *treeBuilder) bestSplit(idx []int) (int, float64, bool) {
	parentSSE := sse(b.y, idx)
	bestGain := 1e-9
	bestFeature, bestThreshold := -1, 0.0

	column := make([]float64, len(idx))
	for _, j := range b.candidateFeatures() {
		for k, i := range idx {
			column[k] = b.X[i][j]
		}
		for _, thr := range b.cfg.thresholds(column) {
			var left, right []int
			for _, i := range idx {
				if b.X[i][j] <= thr {
					left = append(left, i)
				} else {
					right = append(right, i)
				}
			}
			if len(left) < b.cfg.minLeaf || len(right) < b.cfg.minLeaf {
				continue
			}
			gain := parentSSE - sse(b.y, left) - sse(b.y, right)
			if gain > bestGain {
				bestGain, bestFeature, bestThreshold = gain, j, thr
			}
		}
	}
	return bestFeature, bestThreshold, bestFeature >= 0
}

func sse(y []float64, idx []int) float64 {
	if len(idx) == 0 {
		return 0
	}
	var mean float64
	for _, i := range idx {
		mean += y[i]
	}
	mean /= float64(len(idx))
	var out float64
	for _, i := range idx {
		d := y[i] - mean
		out += d * d
	}
	return out
}

// predictTrees rolls a tree ensemble forward and applies the softened weekday shape
func predictTrees(e models.TreeEnsemble, history []models.Observation, future []models.FutureCovariateStub) []float64 {
	return recursivePredict(history, future, func(x, _ []float64, stub models.FutureCovariateStub) float64 {
		pred := e.Evaluate(x) * softened(e.WeekdayFactors[stub.DayOfWeek])
		if e.Mean > 0 {
			pred = utils.Clamp(pred, 0.3*e.Mean, 2.5*e.Mean)
		}
		return pred
	})
}
