package ipcw_test

import (
	"math"
	"math/rand"
	"testing"

	"github.com/statkit/twostage/frame"
	"github.com/statkit/twostage/glm"
	"github.com/statkit/twostage/ipcw"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// simulate builds a deterministic two-stage dataset: n units, three stage-1
// covariates (W1 a binary indicator), nStage2 units with one stage-2
// covariate, randomized treatment, outcome Y = A + W2 + noise.
func simulate(t *testing.T, n, nStage2 int, seed int64) ipcw.Data {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	y := make([]float64, n)
	a := make([]float64, n)
	w1 := make([]float64, n)
	w2 := make([]float64, n)
	w3 := make([]float64, n)
	deltaW := make([]int, n)

	// Stage-2 sampling leans on the W1 indicator so the missingness model
	// has signal; counts are then trimmed to exactly nStage2.
	for i := 0; i < n; i++ {
		if rng.Float64() < 0.5 {
			w1[i] = 1
		}
		w2[i] = rng.NormFloat64()
		w3[i] = rng.NormFloat64()
		if rng.Float64() < 0.5 {
			a[i] = 1
		}
		y[i] = a[i] + w2[i] + 0.3*rng.NormFloat64()
		if rng.Float64() < 0.2+0.4*w1[i] {
			deltaW[i] = 1
		}
	}
	count := 0
	for i := 0; i < n; i++ {
		if deltaW[i] == 1 {
			count++
		}
	}
	for i := 0; i < n && count > nStage2; i++ {
		if deltaW[i] == 1 {
			deltaW[i] = 0
			count--
		}
	}
	for i := 0; i < n && count < nStage2; i++ {
		if deltaW[i] == 0 {
			deltaW[i] = 1
			count++
		}
	}

	ws2 := make([]float64, 0, nStage2)
	for i := 0; i < n; i++ {
		if deltaW[i] == 1 {
			ws2 = append(ws2, 0.5*w1[i]+rng.NormFloat64())
		}
	}

	W, err := frame.FromColumns([]string{"W1", "W2", "W3"}, w1, w2, w3)
	require.NoError(t, err)

	return ipcw.Data{Y: y, A: a, W: W, DeltaW: deltaW, WStage2: frame.Vector(ws2)}
}

// TestWeights_BoundAndZero verifies the two core weight properties: zero
// for every DeltaW=0 unit and per-unit values within [0, ub].
func TestWeights_BoundAndZero(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	n := 500
	deltaW := make([]int, n)
	pi := make([]float64, n)
	n2 := 0
	for i := 0; i < n; i++ {
		pi[i] = 0.05 + 0.9*rng.Float64()
		if rng.Float64() < 0.4 {
			deltaW[i] = 1
			n2++
		}
	}

	w, err := ipcw.Weights(deltaW, pi)
	require.NoError(t, err)

	ub := ipcw.WeightBound(n2)
	for i := 0; i < n; i++ {
		if deltaW[i] == 0 {
			assert.Zero(t, w[i])
			continue
		}
		assert.GreaterOrEqual(t, w[i], 0.0)
		assert.LessOrEqual(t, w[i], ub)
	}
}

// TestWeights_ClipAppliesToUnnormalizedRatio pins down the order of
// operations: the returned weight is the clipped raw ratio DeltaW/pi, not
// the normalized intermediate.
func TestWeights_ClipAppliesToUnnormalizedRatio(t *testing.T) {
	n := 100
	deltaW := make([]int, n)
	pi := make([]float64, n)
	for i := 0; i < n; i++ {
		deltaW[i] = 1
		pi[i] = 0.5
	}

	w, err := ipcw.Weights(deltaW, pi)
	require.NoError(t, err)

	// Normalization would force every weight to 1 (weights sum to n2);
	// the raw ratio is 2 and the bound sqrt(100)·ln(100)/5 ≈ 9.2 does not
	// bind, so the returned value must be 2.
	for _, v := range w {
		assert.InDelta(t, 2.0, v, 1e-12)
	}
}

// TestWeights_ClipBinds verifies truncation of extreme ratios at the bound.
func TestWeights_ClipBinds(t *testing.T) {
	deltaW := make([]int, 100)
	pi := make([]float64, 100)
	for i := range deltaW {
		deltaW[i] = 1
		pi[i] = 0.5
	}
	pi[0] = 1e-6 // raw ratio 1e6, far above the bound

	w, err := ipcw.Weights(deltaW, pi)
	require.NoError(t, err)
	assert.InDelta(t, ipcw.WeightBound(100), w[0], 1e-12)
}

// TestWeights_Errors covers the weight-constructor sentinels.
func TestWeights_Errors(t *testing.T) {
	_, err := ipcw.Weights([]int{1, 0}, []float64{0.5})
	assert.ErrorIs(t, err, ipcw.ErrLengthMismatch)

	_, err = ipcw.Weights([]int{0, 0}, []float64{0.5, 0.5})
	assert.ErrorIs(t, err, ipcw.ErrNoCompleteUnits)
}

// TestEstimate_UserSuppliedPi verifies the bypass mode: provenance is
// "user supplied", no coefficients, and the weights are exactly the clipped
// DeltaW/pi ratios.
func TestEstimate_UserSuppliedPi(t *testing.T) {
	d := simulate(t, 400, 160, 31)
	opts := ipcw.DefaultOptions()
	opts.AugmentW = false
	opts.Pi = make([]float64, 400)
	for i := range opts.Pi {
		opts.Pi[i] = 0.4
	}

	res, err := ipcw.Estimate(d, opts)
	require.NoError(t, err)

	assert.Equal(t, ipcw.PiUserSupplied, res.PiFit.Type)
	assert.Nil(t, res.PiFit.Coef)
	for i, dw := range d.DeltaW {
		if dw == 1 {
			assert.InDelta(t, 2.5, res.Weights[i], 1e-12, "weight must be DeltaW/pi clipped")
		} else {
			assert.Zero(t, res.Weights[i])
		}
	}
}

// TestEstimate_BadCondSetName verifies the configuration error fires before
// any fitting, regardless of mode.
func TestEstimate_BadCondSetName(t *testing.T) {
	d := simulate(t, 100, 40, 7)
	opts := ipcw.DefaultOptions()
	opts.AugmentW = false
	opts.CondSetNames = []string{"A", "X"}
	opts.Pi = make([]float64, 100) // even supplied pi does not skip validation
	for i := range opts.Pi {
		opts.Pi[i] = 0.5
	}

	_, err := ipcw.Estimate(d, opts)
	assert.ErrorIs(t, err, ipcw.ErrBadCondSet)
}

// TestEstimate_CondOnPartiallyMissingY verifies the data error: Y as a
// predictor is invalid while any outcome is missing, regardless of other
// settings.
func TestEstimate_CondOnPartiallyMissingY(t *testing.T) {
	d := simulate(t, 100, 40, 8)
	d.Y[3] = math.NaN()
	opts := ipcw.DefaultOptions()
	opts.AugmentW = false
	opts.CondSetNames = []string{"A", "W", "Y"}

	_, err := ipcw.Estimate(d, opts)
	assert.ErrorIs(t, err, ipcw.ErrMissingOutcomePredictor)

	// Same failure with user-supplied pi.
	opts.Pi = make([]float64, 100)
	for i := range opts.Pi {
		opts.Pi[i] = 0.5
	}
	_, err = ipcw.Estimate(d, opts)
	assert.ErrorIs(t, err, ipcw.ErrMissingOutcomePredictor)
}

// TestEstimate_AugmentationDisabled verifies WQ is absent when AugmentW is
// off and the missingness model sees no augmentation column.
func TestEstimate_AugmentationDisabled(t *testing.T) {
	d := simulate(t, 300, 120, 17)
	opts := ipcw.DefaultOptions()
	opts.AugmentW = false
	opts.PiFormula = "." // parametric over all predictors

	res, err := ipcw.Estimate(d, opts)
	require.NoError(t, err)

	assert.Nil(t, res.WQ)
	assert.NotContains(t, res.PiFit.Coef, "W.Q")
	require.NotNil(t, res.Est)
}

// TestEstimate_AugmentationEnabled verifies the augmentation matrix is
// returned and its column feeds the missingness model.
func TestEstimate_AugmentationEnabled(t *testing.T) {
	d := simulate(t, 300, 120, 23)
	opts := ipcw.DefaultOptions()
	opts.PiFormula = "."

	res, err := ipcw.Estimate(d, opts)
	require.NoError(t, err)

	require.NotNil(t, res.WQ)
	assert.Equal(t, 300, res.WQ.Rows())
	assert.Equal(t, []string{"W.Q"}, res.WQ.Names())
	assert.Contains(t, res.PiFit.Coef, "W.Q")
}

// TestEstimate_SuperLearnerMissingness verifies the ensemble fitting mode
// and its provenance record.
func TestEstimate_SuperLearnerMissingness(t *testing.T) {
	d := simulate(t, 400, 160, 29)
	opts := ipcw.DefaultOptions()
	opts.AugmentW = false
	opts.PiDiscrete = true

	res, err := ipcw.Estimate(d, opts)
	require.NoError(t, err)

	assert.Equal(t, ipcw.PiSuperLearner, res.PiFit.Type)
	assert.True(t, res.PiFit.Discrete)
	require.NotEmpty(t, res.PiFit.Coef)
	var sum float64
	for _, w := range res.PiFit.Coef {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-6)
}

// TestEstimate_ParametricFormulaSubset verifies single-formula fitting on a
// named predictor subset together with coefficient-name reconciliation.
func TestEstimate_ParametricFormulaSubset(t *testing.T) {
	d := simulate(t, 500, 200, 37)
	opts := ipcw.DefaultOptions()
	opts.AugmentW = false
	opts.CondSetNames = []string{"W"}
	opts.PiFormula = "W1"

	res, err := ipcw.Estimate(d, opts)
	require.NoError(t, err)

	assert.Equal(t, ipcw.PiGLM, res.PiFit.Type)
	assert.Contains(t, res.PiFit.Coef, "W1")
	assert.Contains(t, res.PiFit.Coef, "(Intercept)")
	assert.NotContains(t, res.PiFit.Coef, "W2")
	// Sampling favors W1=1 units, so the fitted coefficient is positive.
	assert.Greater(t, res.PiFit.Coef["W1"], 0.0)
}

// TestEstimate_BadFormula verifies unknown formula terms are rejected.
func TestEstimate_BadFormula(t *testing.T) {
	d := simulate(t, 100, 40, 41)
	opts := ipcw.DefaultOptions()
	opts.AugmentW = false
	opts.PiFormula = "W9"

	_, err := ipcw.Estimate(d, opts)
	assert.ErrorIs(t, err, ipcw.ErrBadFormula)
}

// TestEstimate_DegradedOnEffectFailure verifies the caught failure path:
// too few completed units for the delegated estimator's cross-validation,
// so Est is nil, a warning is recorded, and the missingness model is still
// returned.
func TestEstimate_DegradedOnEffectFailure(t *testing.T) {
	d := simulate(t, 30, 5, 43)
	opts := ipcw.DefaultOptions()
	opts.AugmentW = false
	opts.Pi = make([]float64, 30)
	for i := range opts.Pi {
		opts.Pi[i] = 0.5
	}

	res, err := ipcw.Estimate(d, opts)
	require.NoError(t, err, "a delegated failure must not abort the pipeline")

	assert.Nil(t, res.Est)
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0], "effect estimation failed")
	assert.Equal(t, ipcw.PiUserSupplied, res.PiFit.Type)
	assert.Len(t, res.PiFit.Pi, 30)
}

// TestEstimate_BadPi covers unusable supplied probabilities.
func TestEstimate_BadPi(t *testing.T) {
	d := simulate(t, 50, 20, 47)
	opts := ipcw.DefaultOptions()
	opts.AugmentW = false

	opts.Pi = []float64{0.5} // wrong length
	_, err := ipcw.Estimate(d, opts)
	assert.ErrorIs(t, err, ipcw.ErrBadPi)

	opts.Pi = make([]float64, 50)
	for i := range opts.Pi {
		opts.Pi[i] = 0.5
	}
	opts.Pi[4] = 0 // outside (0, 1]
	_, err = ipcw.Estimate(d, opts)
	assert.ErrorIs(t, err, ipcw.ErrBadPi)
}

// TestEstimate_LengthMismatches covers shape validation of the data bundle.
func TestEstimate_LengthMismatches(t *testing.T) {
	d := simulate(t, 100, 40, 51)

	bad := d
	bad.A = d.A[:99]
	_, err := ipcw.Estimate(bad, ipcw.DefaultOptions())
	assert.ErrorIs(t, err, ipcw.ErrLengthMismatch)

	bad = d
	bad.WStage2 = frame.Vector([]float64{1, 2, 3}) // must have sum(DeltaW) rows
	_, err = ipcw.Estimate(bad, ipcw.DefaultOptions())
	assert.ErrorIs(t, err, ipcw.ErrLengthMismatch)
}

// TestEstimate_VectorCovariateInputs verifies bare vectors are accepted for
// both covariate blocks and named per the normalization rules.
func TestEstimate_VectorCovariateInputs(t *testing.T) {
	rng := rand.New(rand.NewSource(61))
	n := 200
	y := make([]float64, n)
	a := make([]float64, n)
	w := make([]float64, n)
	deltaW := make([]int, n)
	var ws2 []float64
	for i := 0; i < n; i++ {
		w[i] = rng.NormFloat64()
		if rng.Float64() < 0.5 {
			a[i] = 1
		}
		y[i] = a[i] + w[i] + 0.3*rng.NormFloat64()
		if i%2 == 0 {
			deltaW[i] = 1
			ws2 = append(ws2, rng.NormFloat64())
		}
	}

	opts := ipcw.DefaultOptions()
	opts.AugmentW = false
	opts.PiFormula = "."
	res, err := ipcw.Estimate(ipcw.Data{
		Y: y, A: a, W: frame.Vector(w), DeltaW: deltaW, WStage2: frame.Vector(ws2),
	}, opts)
	require.NoError(t, err)

	assert.Contains(t, res.PiFit.Coef, "W1", "vector W must be normalized to column W1")
	require.NotNil(t, res.Est)
}

// TestEstimate_EndToEnd is the deterministic skeleton scenario: 1000 units,
// three stage-1 covariates, 400 completed units, a parametric missingness
// model on the W1 indicator. Weights must be defined for exactly the 400
// completed units, all within [0, ub], and the effect estimate must be
// non-nil and near the simulated effect of 1.
func TestEstimate_EndToEnd(t *testing.T) {
	d := simulate(t, 1000, 400, 71)
	opts := ipcw.DefaultOptions()
	opts.AugmentW = false
	opts.CondSetNames = []string{"W"}
	opts.PiFormula = "W1"
	opts.Family = glm.Gaussian
	opts.Seed = 71

	res, err := ipcw.Estimate(d, opts)
	require.NoError(t, err)

	nonzero := 0
	ub := ipcw.WeightBound(400)
	for i, w := range res.Weights {
		if d.DeltaW[i] == 0 {
			assert.Zero(t, w)
			continue
		}
		nonzero++
		assert.Greater(t, w, 0.0)
		assert.LessOrEqual(t, w, ub)
	}
	assert.Equal(t, 400, nonzero)

	require.NotNil(t, res.Est)
	assert.Equal(t, ipcw.ResultKind, res.Kind)
	assert.InDelta(t, 1.0, res.Est.ATE, 0.3)
	assert.Empty(t, res.Warnings)
}

// TestEstimate_MediatorAndClusterPassThrough verifies optional Z, Delta and
// ID reach the effect estimator without breaking the pipeline.
func TestEstimate_MediatorAndClusterPassThrough(t *testing.T) {
	d := simulate(t, 300, 150, 83)
	rng := rand.New(rand.NewSource(84))
	z := make([]float64, 300)
	ids := make([]int, 300)
	for i := range z {
		z[i] = rng.NormFloat64()
		ids[i] = i / 2
	}
	d.Z = z
	d.ID = ids

	opts := ipcw.DefaultOptions()
	opts.AugmentW = false
	opts.PiFormula = "."

	res, err := ipcw.Estimate(d, opts)
	require.NoError(t, err)
	require.NotNil(t, res.Est)
	assert.Greater(t, res.Est.SE, 0.0)
}
