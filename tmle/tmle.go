package tmle

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/statkit/twostage/frame"
	"github.com/statkit/twostage/glm"
	"github.com/statkit/twostage/superlearner"
)

// Estimate runs the full targeting procedure on p and returns the effect
// estimate. It is synchronous and side-effect free; any fitting failure is
// returned, never recovered here.
func Estimate(p Params) (*Result, error) {
	n := len(p.Y)
	if n == 0 || p.W == nil {
		return nil, ErrLengthMismatch
	}
	if len(p.A) != n || p.W.Rows() != n {
		return nil, ErrLengthMismatch
	}
	if p.Z != nil && len(p.Z) != n {
		return nil, ErrLengthMismatch
	}
	if p.Delta != nil && len(p.Delta) != n {
		return nil, ErrLengthMismatch
	}
	if p.Weights != nil && len(p.Weights) != n {
		return nil, ErrLengthMismatch
	}
	if p.ID != nil && len(p.ID) != n {
		return nil, ErrLengthMismatch
	}
	for _, a := range p.A {
		if a != 0 && a != 1 {
			return nil, ErrTreatmentNotBinary
		}
	}

	applyExtra(&p)
	gBound := p.GBound
	if gBound <= 0 {
		gBound = DefaultGBound
	}
	alpha := p.Alpha
	if alpha <= 0 {
		alpha = DefaultAlpha
	}
	delta := p.Delta
	if delta == nil {
		delta = make([]int, n)
		for i := range delta {
			delta[i] = 1
		}
	}
	weights := p.Weights
	if weights == nil {
		weights = make([]float64, n)
		for i := range weights {
			weights[i] = 1
		}
	}
	ids := p.ID
	if ids == nil {
		ids = make([]int, n)
		for i := range ids {
			ids[i] = i + 1
		}
	}

	// Adjustment set: W plus the mediator column when present.
	wAdj := p.W
	if p.Z != nil {
		zCol, err := frame.FromVector("Z", p.Z)
		if err != nil {
			return nil, err
		}
		wAdj, err = p.W.Bind(zCol)
		if err != nil {
			return nil, err
		}
	}

	obsIdx := make([]int, 0, n)
	for i, d := range delta {
		if d == 1 {
			obsIdx = append(obsIdx, i)
		}
	}
	if len(obsIdx) == 0 {
		return nil, ErrNoObservedOutcomes
	}

	// Scale Y into [0,1] using the observed range; fluctuation is always on
	// the logit scale.
	yMin, yMax := math.Inf(1), math.Inf(-1)
	for _, i := range obsIdx {
		yMin = math.Min(yMin, p.Y[i])
		yMax = math.Max(yMax, p.Y[i])
	}
	if p.Family == glm.Binomial {
		yMin, yMax = 0, 1
	}
	yRange := yMax - yMin
	if yRange <= 0 {
		return nil, ErrConstantOutcome
	}
	yStar := make([]float64, n)
	for _, i := range obsIdx {
		yStar[i] = (p.Y[i] - yMin) / yRange
	}

	// Initial outcome regression Q(A,W), fitted on the observed units.
	aCol, err := frame.FromVector("A", p.A)
	if err != nil {
		return nil, err
	}
	xQ, err := aCol.Bind(wAdj)
	if err != nil {
		return nil, err
	}
	qOpts, qLib := qConfig(p)
	xQObs, err := xQ.SelectRows(obsIdx)
	if err != nil {
		return nil, err
	}
	qEns, err := superlearner.Fit(xQObs, gatherAt(yStar, obsIdx), gatherAt(weights, obsIdx), p.Family, qLib, qOpts)
	if err != nil {
		return nil, fmt.Errorf("tmle: outcome regression: %w", err)
	}

	qAW, err := qEns.Predict(xQ)
	if err != nil {
		return nil, fmt.Errorf("tmle: outcome regression: %w", err)
	}
	xQ1, xQ0, err := counterfactualDesigns(wAdj, n)
	if err != nil {
		return nil, err
	}
	q1W, err := qEns.Predict(xQ1)
	if err != nil {
		return nil, fmt.Errorf("tmle: outcome regression: %w", err)
	}
	q0W, err := qEns.Predict(xQ0)
	if err != nil {
		return nil, fmt.Errorf("tmle: outcome regression: %w", err)
	}
	boundAll(qAW, DefaultQBound)
	boundAll(q1W, DefaultQBound)
	boundAll(q0W, DefaultQBound)

	// Treatment mechanism g(W) = P(A=1|W).
	gLib := p.GLibrary
	if gLib == nil {
		gLib = superlearner.DefaultLibrary()
	}
	gOpts := superlearner.Options{V: p.V, Discrete: p.GDiscrete, Seed: p.Seed + 1}
	gEns, err := superlearner.Fit(wAdj, p.A, weights, glm.Binomial, gLib, gOpts)
	if err != nil {
		return nil, fmt.Errorf("tmle: treatment mechanism: %w", err)
	}
	g1, err := gEns.Predict(wAdj)
	if err != nil {
		return nil, fmt.Errorf("tmle: treatment mechanism: %w", err)
	}
	boundAll(g1, gBound)

	// Outcome-observation mechanism P(Delta=1|A,W), only when needed.
	pd1 := onesOf(n)
	pd0 := onesOf(n)
	if len(obsIdx) < n {
		df := make([]float64, n)
		for i, d := range delta {
			df[i] = float64(d)
		}
		dEns, err := superlearner.Fit(xQ, df, weights, glm.Binomial, gLib, superlearner.Options{V: p.V, Discrete: p.GDiscrete, Seed: p.Seed + 2})
		if err != nil {
			return nil, fmt.Errorf("tmle: observation mechanism: %w", err)
		}
		if pd1, err = dEns.Predict(xQ1); err != nil {
			return nil, fmt.Errorf("tmle: observation mechanism: %w", err)
		}
		if pd0, err = dEns.Predict(xQ0); err != nil {
			return nil, fmt.Errorf("tmle: observation mechanism: %w", err)
		}
		boundAll(pd1, gBound)
		boundAll(pd0, gBound)
	}

	// Clever covariate at the observed treatment, zero for unobserved
	// outcomes.
	h := make([]float64, n)
	for i := 0; i < n; i++ {
		if delta[i] != 1 {
			continue
		}
		if p.A[i] == 1 {
			h[i] = 1 / (g1[i] * pd1[i])
		} else {
			h[i] = -1 / ((1 - g1[i]) * pd0[i])
		}
	}

	// Fluctuation: intercept-free logistic fit of Y* on H with offset
	// logit(Q), over the observed units.
	offObs := make([]float64, len(obsIdx))
	for j, i := range obsIdx {
		offObs[j] = glm.Logit(qAW[i])
	}
	hMat, err := frame.FromVector("H", gatherAt(h, obsIdx))
	if err != nil {
		return nil, err
	}
	flucOpts := glm.DefaultOptions()
	flucOpts.Intercept = false
	flucOpts.Offset = offObs
	flucOpts.Weights = gatherAt(weights, obsIdx)
	fluc, err := glm.Fit(hMat, gatherAt(yStar, obsIdx), glm.Binomial, flucOpts)
	if err != nil {
		return nil, fmt.Errorf("tmle: fluctuation: %w", err)
	}
	eps := fluc.Coef()["H"]

	// Targeted update of the counterfactual predictions.
	q1s := make([]float64, n)
	q0s := make([]float64, n)
	qs := make([]float64, n)
	for i := 0; i < n; i++ {
		q1s[i] = glm.Expit(glm.Logit(q1W[i]) + eps/(g1[i]*pd1[i]))
		q0s[i] = glm.Expit(glm.Logit(q0W[i]) - eps/((1-g1[i])*pd0[i]))
		qs[i] = glm.Expit(glm.Logit(qAW[i]) + eps*h[i])
	}

	// Point estimates on the scaled and original outcome scales.
	wSum := 0.0
	psiS, ey1S, ey0S := 0.0, 0.0, 0.0
	for i := 0; i < n; i++ {
		wSum += weights[i]
		psiS += weights[i] * (q1s[i] - q0s[i])
		ey1S += weights[i] * q1s[i]
		ey0S += weights[i] * q0s[i]
	}
	psiS /= wSum
	ey1S /= wSum
	ey0S /= wSum

	// Influence curve on the original scale, weight-normalized.
	meanW := wSum / float64(n)
	ic := make([]float64, n)
	for i := 0; i < n; i++ {
		resid := 0.0
		if delta[i] == 1 {
			resid = h[i] * (yStar[i] - qs[i])
		}
		ic[i] = yRange * (weights[i] / meanW) * (resid + q1s[i] - q0s[i] - psiS)
	}

	se, nClusters := icStandardError(ic, ids)
	ate := yRange * psiS
	norm := distuv.Normal{Mu: 0, Sigma: 1}
	zq := norm.Quantile(1 - alpha/2)
	pval := 1.0
	if se > 0 {
		pval = 2 * norm.CDF(-math.Abs(ate/se))
	}

	return &Result{
		ATE:       ate,
		SE:        se,
		CI:        [2]float64{ate - zq*se, ate + zq*se},
		PValue:    pval,
		EY1:       yMin + yRange*ey1S,
		EY0:       yMin + yRange*ey0S,
		Epsilon:   eps,
		QCoef:     qEns.Coef(),
		GCoef:     gEns.Coef(),
		N:         n,
		NClusters: nClusters,
	}, nil
}

// applyExtra folds recognized pass-through options into p. Unrecognized
// keys are deliberately ignored.
func applyExtra(p *Params) {
	if p.Extra == nil {
		return
	}
	if v, ok := p.Extra["gbound"].(float64); ok {
		p.GBound = v
	}
	if v, ok := p.Extra["alpha"].(float64); ok {
		p.Alpha = v
	}
	if v, ok := p.Extra["seed"].(int64); ok {
		p.Seed = v
	}
}

// qConfig resolves the outcome-regression configuration, switching to the
// reduced conservative setup in rare-outcome mode.
func qConfig(p Params) (superlearner.Options, superlearner.Library) {
	if p.RareOutcome {
		return superlearner.Options{V: RareOutcomeFolds, Discrete: true, Seed: p.Seed},
			superlearner.RareOutcomeLibrary()
	}
	lib := p.QLibrary
	if lib == nil {
		lib = superlearner.DefaultLibrary()
	}

	return superlearner.Options{V: p.V, Discrete: p.QDiscrete, Seed: p.Seed}, lib
}

// counterfactualDesigns builds the (A=1, W) and (A=0, W) design matrices.
func counterfactualDesigns(wAdj *frame.Matrix, n int) (*frame.Matrix, *frame.Matrix, error) {
	ones := make([]float64, n)
	zeros := make([]float64, n)
	for i := range ones {
		ones[i] = 1
	}
	a1, err := frame.FromVector("A", ones)
	if err != nil {
		return nil, nil, err
	}
	a0, err := frame.FromVector("A", zeros)
	if err != nil {
		return nil, nil, err
	}
	x1, err := a1.Bind(wAdj)
	if err != nil {
		return nil, nil, err
	}
	x0, err := a0.Bind(wAdj)
	if err != nil {
		return nil, nil, err
	}

	return x1, x0, nil
}

// icStandardError derives the standard error from the influence curve,
// aggregating within clusters when IDs repeat.
func icStandardError(ic []float64, ids []int) (float64, int) {
	byID := make(map[int][]float64)
	order := make([]int, 0)
	for i, id := range ids {
		if _, seen := byID[id]; !seen {
			order = append(order, id)
		}
		byID[id] = append(byID[id], ic[i])
	}
	m := len(order)
	if m == len(ic) {
		// No clustering: variance of the IC over units.
		v := stat.Variance(ic, nil)

		return math.Sqrt(v / float64(len(ic))), m
	}

	agg := make([]float64, m)
	for j, id := range order {
		agg[j] = stat.Mean(byID[id], nil)
	}
	v := stat.Variance(agg, nil)

	return math.Sqrt(v / float64(m)), m
}

func boundAll(v []float64, b float64) {
	for i := range v {
		if v[i] < b {
			v[i] = b
		}
		if v[i] > 1-b {
			v[i] = 1 - b
		}
	}
}

func gatherAt(v []float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	for j, i := range idx {
		out[j] = v[i]
	}

	return out
}

func onesOf(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1
	}

	return out
}
