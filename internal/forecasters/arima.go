package forecasters

import (
	"context"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/irfndi/celebrum-forecast/internal/models"
	"github.com/irfndi/celebrum-forecast/internal/utils"
)

const (
	seasonalLag      = 7
	arimaDecay       = 0.08
	arimaMinSeasonal = 21
	arimaMaxP        = 3
	arimaMaxQ        = 2
)

// ARIMA is a seasonal autoregressive moving-average model with automatic order selection
type ARIMA struct{}

func NewARIMA() *ARIMA { return &ARIMA{} }

func (*ARIMA) Name() models.ModelName { return models.ModelARIMA }
func (*ARIMA) Traits() Traits         { return Traits{Stable: true} }
func (*ARIMA) MinHistory() int        { return 14 }

// Fit clips outliers by IQR and picks the order with the lowest AIC
func (a *ARIMA) Fit(ctx context.Context, history []models.Observation) (models.ParamPayload, error) {
	if len(history) < a.MinHistory() {
		return nil, ErrInsufficientHistory
	}
	revenues := models.Revenues(history)
	lower, upper := utils.IQRBounds(revenues, 1.5)
	series := clip(revenues, lower, upper)

	var best *models.ARIMAParams
	seasonal := [][2]int{{0, 0}}
	if len(series) >= arimaMinSeasonal {
		seasonal = append(seasonal, [2]int{1, 0}, [2]int{0, 1}, [2]int{1, 1})
	}
	for d := 0; d <= 1; d++ {
		w := difference(series, d)
		for p := 0; p <= arimaMaxP; p++ {
			for q := 0; q <= arimaMaxQ; q++ {
				for _, s := range seasonal {
					if err := ctx.Err(); err != nil {
						return nil, err
					}
					cand, ok := fitARMA(w, p, q, s[0], s[1])
					if !ok {
						continue
					}
					cand.D = d
					if best == nil || cand.AIC < best.AIC {
						best = cand
					}
				}
			}
		}
	}
	best.LowerClip = lower
	best.UpperClip = upper
	return best, nil
}

// Predict runs the fitted recursion and integrates back to revenue
func (a *ARIMA) Predict(ctx context.Context, params models.ParamPayload, history []models.Observation, future []models.FutureCovariateStub) ([]float64, error) {
	p, ok := params.(*models.ARIMAParams)
	if !ok {
		return nil, payloadError(a.Name(), params)
	}
	revenues := models.Revenues(history)
	series := clip(revenues, p.LowerClip, p.UpperClip)
	w := difference(series, p.D)
	resid := armaResiduals(w, p)
	meanW := utils.Mean(w)

	extW := append(make([]float64, 0, len(w)+len(future)), w...)
	extE := append(make([]float64, 0, len(resid)+len(future)), resid...)
	steps := make([]float64, len(future))
	for h := range future {
		t := len(extW)
		pred := armaStep(extW, extE, t, p)
		pred = meanW + (pred-meanW)*math.Exp(-arimaDecay*float64(h))
		extW = append(extW, pred)
		extE = append(extE, 0)
		steps[h] = pred
	}

	out := make([]float64, len(future))
	level := series[len(series)-1]
	for h := range future {
		if p.D == 1 {
			level += steps[h]
			out[h] = level
		} else {
			out[h] = steps[h]
		}
	}

	anchor := clampAnchor(revenues)
	for h, stub := range future {
		if anchor > 0 {
			out[h] = utils.Clamp(out[h], 0.5*anchor, 1.5*anchor)
		}
		if stub.IsHoliday {
			out[h] *= utils.Clamp(1+stub.HolidayImpact*0.5, 0.7, 1.5)
		}
	}
	return out, nil
}

// clampAnchor is the level per-model output bands are centred on: the history
// median, or the last week's median when revenue has grown past it.
func clampAnchor(revenues []float64) float64 {
	return math.Max(utils.Median(revenues), utils.Median(utils.Tail(revenues, seasonalLag)))
}

func clip(values []float64, lo, hi float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = utils.Clamp(v, lo, hi)
	}
	return out
}

func difference(values []float64, d int) []float64 {
	if d == 0 {
		out := make([]float64, len(values))
		copy(out, values)
		return out
	}
	out := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		out = append(out, values[i]-values[i-1])
	}
	return out
}

// armaStart is the first index whose regressors are all available
func armaStart(p *models.ARIMAParams) int {
	start := max(p.P, p.Q)
	if p.SP > 0 || p.SQ > 0 {
		start = max(start, seasonalLag)
	}
	return start
}

func armaStep(w, e []float64, t int, p *models.ARIMAParams) float64 {
	pred := p.Intercept
	for i := 0; i < p.P; i++ {
		pred += p.AR[i] * w[t-1-i]
	}
	for j := 0; j < p.Q; j++ {
		pred += p.MA[j] * e[t-1-j]
	}
	if p.SP > 0 {
		pred += p.SAR * w[t-seasonalLag]
	}
	if p.SQ > 0 {
		pred += p.SMA * e[t-seasonalLag]
	}
	return pred
}

// armaResiduals replays the fitted model over the working series
func armaResiduals(w []float64, p *models.ARIMAParams) []float64 {
	e := make([]float64, len(w))
	for t := armaStart(p); t < len(w); t++ {
		e[t] = w[t] - armaStep(w, e, t, p)
	}
	return e
}

// fitARMA estimates ARMA coefficients by two-stage least squares (Hannan-Rissanen)
func fitARMA(w []float64, p, q, sp, sq int) (*models.ARIMAParams, bool) {
	n := len(w)
	if p == 0 && q == 0 && sp == 0 && sq == 0 {
		if n == 0 {
			return nil, false
		}
		mean := utils.Mean(w)
		sigma2 := utils.PopStdDev(w)
		sigma2 *= sigma2
		return &models.ARIMAParams{
			Intercept: mean,
			Sigma2:    sigma2,
			AIC:       float64(n)*math.Log(sigma2+1e-9) + 2,
		}, true
	}

	var proxy []float64
	if q > 0 || sq > 0 {
		order := max(1, min(seasonalLag, n/4))
		longAR, ok := fitARMA(w, 0, 0, 0, 0)
		if !ok {
			return nil, false
		}
		if ar, ok := leastSquaresAR(w, order); ok {
			longAR = ar
		}
		proxy = armaResiduals(w, longAR)
	}

	cand := &models.ARIMAParams{P: p, Q: q, SP: sp, SQ: sq}
	start := armaStart(cand)
	if q > 0 || sq > 0 {
		start = max(start, min(seasonalLag, n/4)+1)
	}
	k := 1 + p + q + sp + sq
	rows := n - start
	if rows < k+5 {
		return nil, false
	}

	X := mat.NewDense(rows, k, nil)
	y := mat.NewVecDense(rows, nil)
	for r := 0; r < rows; r++ {
		t := start + r
		col := 0
		X.Set(r, col, 1)
		col++
		for i := 1; i <= p; i++ {
			X.Set(r, col, w[t-i])
			col++
		}
		for j := 1; j <= q; j++ {
			X.Set(r, col, proxy[t-j])
			col++
		}
		if sp > 0 {
			X.Set(r, col, w[t-seasonalLag])
			col++
		}
		if sq > 0 {
			X.Set(r, col, proxy[t-seasonalLag])
		}
		y.SetVec(r, w[t])
	}

	var beta mat.VecDense
	if err := beta.SolveVec(X, y); err != nil {
		return nil, false
	}
	coef := beta.RawVector().Data
	for _, c := range coef {
		if !utils.IsFinite(c) {
			return nil, false
		}
	}

	cand.Intercept = coef[0]
	cand.AR = append([]float64(nil), coef[1:1+p]...)
	cand.MA = append([]float64(nil), coef[1+p:1+p+q]...)
	idx := 1 + p + q
	if sp > 0 {
		cand.SAR = coef[idx]
		idx++
	}
	if sq > 0 {
		cand.SMA = coef[idx]
	}
	if !stationaryEnough(cand) {
		return nil, false
	}

	var fitted mat.VecDense
	fitted.MulVec(X, &beta)
	var sse float64
	for r := 0; r < rows; r++ {
		d := y.AtVec(r) - fitted.AtVec(r)
		sse += d * d
	}
	cand.Sigma2 = sse / float64(rows)
	cand.AIC = float64(rows)*math.Log(cand.Sigma2+1e-9) + 2*float64(k)
	return cand, true
}

// leastSquaresAR fits a pure AR(order) model used to proxy innovations
func leastSquaresAR(w []float64, order int) (*models.ARIMAParams, bool) {
	rows := len(w) - order
	if rows < order+3 {
		return nil, false
	}
	X := mat.NewDense(rows, order+1, nil)
	y := mat.NewVecDense(rows, nil)
	for r := 0; r < rows; r++ {
		t := order + r
		X.Set(r, 0, 1)
		for i := 1; i <= order; i++ {
			X.Set(r, i, w[t-i])
		}
		y.SetVec(r, w[t])
	}
	var beta mat.VecDense
	if err := beta.SolveVec(X, y); err != nil {
		return nil, false
	}
	coef := beta.RawVector().Data
	return &models.ARIMAParams{P: order, Intercept: coef[0], AR: append([]float64(nil), coef[1:]...)}, true
}

// stationaryEnough rejects explosive fits whose coefficients sum past the unit circle
func stationaryEnough(p *models.ARIMAParams) bool {
	var arSum float64
	for _, c := range p.AR {
		arSum += math.Abs(c)
	}
	arSum += math.Abs(p.SAR)
	return arSum <= 1.05
}
