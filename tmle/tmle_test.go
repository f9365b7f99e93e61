package tmle_test

import (
	"math"
	"math/rand"
	"testing"

	"github.com/statkit/twostage/frame"
	"github.com/statkit/twostage/glm"
	"github.com/statkit/twostage/superlearner"
	"github.com/statkit/twostage/tmle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// randomizedTrial simulates a randomized design with additive effect tau:
// A ~ Bernoulli(0.5) independent of W, Y = tau*A + W1 + 0.5*W2 + noise.
func randomizedTrial(t *testing.T, n int, tau float64, seed int64) tmle.Params {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	a := make([]float64, n)
	w1 := make([]float64, n)
	w2 := make([]float64, n)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		if rng.Float64() < 0.5 {
			a[i] = 1
		}
		w1[i] = rng.NormFloat64()
		w2[i] = rng.NormFloat64()
		y[i] = tau*a[i] + w1[i] + 0.5*w2[i] + 0.3*rng.NormFloat64()
	}
	W, err := frame.FromColumns([]string{"W1", "W2"}, w1, w2)
	require.NoError(t, err)

	return tmle.Params{Y: y, A: a, W: W, Family: glm.Gaussian, Seed: seed}
}

// TestEstimate_RecoversKnownEffect checks that a known additive effect in a
// randomized design is recovered within sampling error.
func TestEstimate_RecoversKnownEffect(t *testing.T) {
	p := randomizedTrial(t, 1500, 2.0, 42)

	res, err := tmle.Estimate(p)
	require.NoError(t, err)

	assert.InDelta(t, 2.0, res.ATE, 0.15)
	assert.Greater(t, res.SE, 0.0)
	assert.Less(t, res.CI[0], res.ATE)
	assert.Greater(t, res.CI[1], res.ATE)
	assert.Less(t, res.PValue, 0.01, "a strong true effect must be detected")
	assert.InDelta(t, 2.0, res.EY1-res.EY0, 0.15)
	assert.Equal(t, 1500, res.N)
	assert.Equal(t, 1500, res.NClusters)
}

// TestEstimate_ConfoundedDesign verifies adjustment: treatment depends on W1
// and the unadjusted difference is biased, but TMLE stays near the truth.
func TestEstimate_ConfoundedDesign(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	n := 2000
	tau := 1.0
	a := make([]float64, n)
	w1 := make([]float64, n)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		w1[i] = rng.NormFloat64()
		if rng.Float64() < glm.Expit(1.2*w1[i]) {
			a[i] = 1
		}
		y[i] = tau*a[i] + 2*w1[i] + 0.3*rng.NormFloat64()
	}
	W, err := frame.FromColumns([]string{"W1"}, w1)
	require.NoError(t, err)

	res, err := tmle.Estimate(tmle.Params{Y: y, A: a, W: W, Family: glm.Gaussian, Seed: 9})
	require.NoError(t, err)

	// Naive difference in means is biased upward by roughly E[2*W1|A=1]-E[2*W1|A=0] > 0.5.
	var m1, m0, n1, n0 float64
	for i := 0; i < n; i++ {
		if a[i] == 1 {
			m1 += y[i]
			n1++
		} else {
			m0 += y[i]
			n0++
		}
	}
	naive := m1/n1 - m0/n0
	assert.Greater(t, naive, tau+0.4, "the design must actually be confounded")
	assert.InDelta(t, tau, res.ATE, 0.15)
}

// TestEstimate_BinaryOutcome exercises the binomial family end to end.
func TestEstimate_BinaryOutcome(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	n := 1200
	a := make([]float64, n)
	w1 := make([]float64, n)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		if rng.Float64() < 0.5 {
			a[i] = 1
		}
		w1[i] = rng.NormFloat64()
		if rng.Float64() < glm.Expit(-1+1.5*a[i]+0.5*w1[i]) {
			y[i] = 1
		}
	}
	W, err := frame.FromColumns([]string{"W1"}, w1)
	require.NoError(t, err)

	res, err := tmle.Estimate(tmle.Params{Y: y, A: a, W: W, Family: glm.Binomial, Seed: 5})
	require.NoError(t, err)

	// True risk difference ≈ E[expit(0.5+0.5W)] - E[expit(-1+0.5W)] ≈ 0.34.
	assert.InDelta(t, 0.34, res.ATE, 0.08)
	assert.GreaterOrEqual(t, res.EY1, 0.0)
	assert.LessOrEqual(t, res.EY1, 1.0)
}

// TestEstimate_MissingOutcomes verifies the observation-mechanism path: a
// third of outcomes missing at random must not break estimation.
func TestEstimate_MissingOutcomes(t *testing.T) {
	p := randomizedTrial(t, 1500, 2.0, 13)
	rng := rand.New(rand.NewSource(14))
	delta := make([]int, len(p.Y))
	for i := range delta {
		if rng.Float64() < 0.67 {
			delta[i] = 1
		}
	}
	p.Delta = delta

	res, err := tmle.Estimate(p)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, res.ATE, 0.25)
}

// TestEstimate_ClusteredIDs verifies the clustered variance path.
func TestEstimate_ClusteredIDs(t *testing.T) {
	p := randomizedTrial(t, 600, 1.0, 21)
	ids := make([]int, len(p.Y))
	for i := range ids {
		ids[i] = i / 3 // clusters of three
	}
	p.ID = ids

	res, err := tmle.Estimate(p)
	require.NoError(t, err)
	assert.Equal(t, 200, res.NClusters)
	assert.Greater(t, res.SE, 0.0)
}

// TestEstimate_RareOutcomeConfig verifies the conservative configuration is
// accepted (reduced library, forced discrete selection, larger V).
func TestEstimate_RareOutcomeConfig(t *testing.T) {
	p := randomizedTrial(t, 800, 1.5, 33)
	p.RareOutcome = true

	res, err := tmle.Estimate(p)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, res.ATE, 0.2)
	// The rare-outcome library is glm+mean only.
	assert.Len(t, res.QCoef, len(superlearner.RareOutcomeLibrary()))
}

// TestEstimate_ExtraOverrides verifies the pass-through option bag.
func TestEstimate_ExtraOverrides(t *testing.T) {
	p := randomizedTrial(t, 500, 1.0, 55)
	p.Extra = map[string]any{"alpha": 0.10, "unrecognized": struct{}{}}

	wide, err := tmle.Estimate(randomizedTrial(t, 500, 1.0, 55))
	require.NoError(t, err)
	narrow, err := tmle.Estimate(p)
	require.NoError(t, err)

	wWidth := wide.CI[1] - wide.CI[0]
	nWidth := narrow.CI[1] - narrow.CI[0]
	assert.Less(t, nWidth, wWidth, "90% CI must be narrower than 95%")
}

// TestEstimate_InputValidation covers the fatal input sentinels.
func TestEstimate_InputValidation(t *testing.T) {
	W, err := frame.FromVector("W1", []float64{1, 2, 3})
	require.NoError(t, err)

	_, err = tmle.Estimate(tmle.Params{Y: []float64{1, 2}, A: []float64{0, 1, 0}, W: W})
	assert.ErrorIs(t, err, tmle.ErrLengthMismatch)

	_, err = tmle.Estimate(tmle.Params{Y: []float64{1, 2, 3}, A: []float64{0, 2, 0}, W: W})
	assert.ErrorIs(t, err, tmle.ErrTreatmentNotBinary)

	_, err = tmle.Estimate(tmle.Params{Y: []float64{1, 1, 1}, A: []float64{0, 1, 0}, W: W})
	assert.ErrorIs(t, err, tmle.ErrConstantOutcome)
}

// TestEstimate_SummaryMentionsEstimate verifies the report format carries
// the headline numbers.
func TestEstimate_SummaryMentionsEstimate(t *testing.T) {
	res := &tmle.Result{ATE: 1.23456, SE: 0.1, CI: [2]float64{1, 1.4}, PValue: 0.001, N: 10, NClusters: 10}
	s := res.Summary()
	assert.Contains(t, s, "1.23456")
	assert.Contains(t, s, "CI")
	assert.False(t, math.IsNaN(res.ATE))
}
