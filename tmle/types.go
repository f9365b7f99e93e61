package tmle

import (
	"errors"
	"fmt"

	"github.com/statkit/twostage/frame"
	"github.com/statkit/twostage/glm"
	"github.com/statkit/twostage/superlearner"
)

// ErrLengthMismatch indicates per-unit inputs of unequal length.
var ErrLengthMismatch = errors.New("tmle: input length mismatch")

// ErrTreatmentNotBinary indicates treatment values outside {0, 1}.
var ErrTreatmentNotBinary = errors.New("tmle: treatment must be coded 0/1")

// ErrConstantOutcome indicates an outcome with zero observed range, which
// cannot be scaled for logit-scale fluctuation.
var ErrConstantOutcome = errors.New("tmle: outcome has zero observed range")

// ErrNoObservedOutcomes indicates Delta masks out every outcome.
var ErrNoObservedOutcomes = errors.New("tmle: no observed outcomes")

const (
	// DefaultGBound truncates estimated treatment (and observation)
	// probabilities into [GBound, 1-GBound].
	DefaultGBound = 0.025

	// DefaultQBound truncates initial outcome predictions on the scaled
	// [0,1] scale away from the boundary, keeping logit(Q) finite.
	DefaultQBound = 0.005

	// DefaultAlpha is the two-sided confidence level complement (95% CI).
	DefaultAlpha = 0.05

	// RareOutcomeFolds is the enlarged fold count used in rare-outcome mode.
	RareOutcomeFolds = 20
)

// Params collects everything Estimate needs. Zero values get sensible
// defaults: unit weights, sequential IDs, all outcomes observed, the
// standard super-learner libraries and fold counts.
type Params struct {
	// Y is the outcome. Units with Delta=0 may hold any value (ignored).
	Y []float64

	// A is the binary treatment, coded 0/1.
	A []float64

	// W is the adjustment covariate matrix, one row per unit.
	W *frame.Matrix

	// Z is an optional mediator; when present it joins the adjustment set
	// as one extra column (no separate mediation analysis is performed).
	Z []float64

	// Delta optionally marks outcome observation (1) vs. missingness (0).
	// nil means fully observed.
	Delta []int

	// Weights are per-unit observation weights (e.g. IPCW sampling
	// weights). nil means unit weights.
	Weights []float64

	// ID optionally clusters units; influence-curve contributions are
	// aggregated within equal IDs for variance estimation.
	ID []int

	// Family selects the outcome-regression family.
	Family glm.Family

	// QLibrary and GLibrary configure the nuisance super learners.
	// nil selects superlearner.DefaultLibrary.
	QLibrary superlearner.Library
	GLibrary superlearner.Library

	// V is the cross-validation fold count for both nuisance fits.
	// 0 selects superlearner.DefaultFolds.
	V int

	// QDiscrete / GDiscrete force best-single-candidate selection.
	QDiscrete bool
	GDiscrete bool

	// RareOutcome switches the outcome regression to the reduced
	// conservative configuration: RareOutcomeLibrary, discrete selection,
	// RareOutcomeFolds folds.
	RareOutcome bool

	// GBound and Alpha override DefaultGBound / DefaultAlpha when > 0.
	GBound float64
	Alpha  float64

	// Seed drives fold assignment in the nuisance fits.
	Seed int64

	// Extra is a pass-through option bag. Recognized keys: "gbound"
	// (float64), "alpha" (float64), "seed" (int64). Unrecognized keys are
	// ignored.
	Extra map[string]any
}

// Result is a targeted effect estimate. Immutable once returned.
type Result struct {
	// ATE is the targeted additive treatment-effect estimate on the
	// original outcome scale.
	ATE float64

	// SE is the influence-curve standard error of ATE.
	SE float64

	// CI is the two-sided (1-Alpha) confidence interval.
	CI [2]float64

	// PValue tests ATE = 0.
	PValue float64

	// EY1 and EY0 are the targeted counterfactual outcome means.
	EY1, EY0 float64

	// Epsilon is the fitted fluctuation coefficient.
	Epsilon float64

	// QCoef and GCoef summarize the nuisance ensembles: candidate name to
	// resolved weight.
	QCoef map[string]float64
	GCoef map[string]float64

	// N is the analyzed unit count; NClusters the number of distinct IDs.
	N, NClusters int
}

// Summary renders a compact human-readable report.
func (r *Result) Summary() string {
	return fmt.Sprintf(
		"ATE: %.5f (SE %.5f)\nCI:  [%.5f, %.5f]\np:   %.5g\nE[Y1]=%.5f  E[Y0]=%.5f  (n=%d, clusters=%d)",
		r.ATE, r.SE, r.CI[0], r.CI[1], r.PValue, r.EY1, r.EY0, r.N, r.NClusters,
	)
}
