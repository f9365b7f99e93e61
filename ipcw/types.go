package ipcw

import (
	"errors"

	"github.com/statkit/twostage/frame"
	"github.com/statkit/twostage/glm"
	"github.com/statkit/twostage/superlearner"
	"github.com/statkit/twostage/tmle"
)

// ErrLengthMismatch indicates per-unit inputs whose lengths disagree, or a
// stage-2 matrix whose row count differs from the completed-unit count.
var ErrLengthMismatch = errors.New("ipcw: input length mismatch")

// ErrBadCondSet is the configuration error for a conditioning-set name
// outside {A, W, Y}.
var ErrBadCondSet = errors.New(`ipcw: conditioning set names must be in {"A", "W", "Y"}`)

// ErrMissingOutcomePredictor is the data error raised when Y is requested
// as a missingness-model predictor while some outcome values are missing.
var ErrMissingOutcomePredictor = errors.New("ipcw: cannot condition on Y when outcomes are missing")

// ErrBadPi indicates user-supplied probabilities of the wrong length or
// outside (0, 1].
var ErrBadPi = errors.New("ipcw: supplied probabilities must lie in (0, 1]")

// ErrBadFormula indicates a parametric missingness formula referencing an
// unavailable predictor column.
var ErrBadFormula = errors.New("ipcw: formula references unknown predictor")

// ErrNoCompleteUnits indicates that no unit has stage-2 covariates.
var ErrNoCompleteUnits = errors.New("ipcw: no units with complete stage-2 covariates")

// Missingness-model provenance tags.
const (
	PiUserSupplied = "user supplied"
	PiGLM          = "glm"
	PiSuperLearner = "SuperLearner"
)

// ResultKind tags Result so related pipeline variants can share the shape.
const ResultKind = "twostage"

// Data carries the observations. Y, A and DeltaW must have equal length N;
// W must have N rows; WStage2 must have sum(DeltaW) rows, aligned with the
// DeltaW==1 units in order.
type Data struct {
	// Y is the outcome; NaN marks a missing value.
	Y []float64

	// A is the binary treatment.
	A []float64

	// W holds the stage-1 covariates: a frame.Vector or a *frame.Matrix.
	// A vector is normalized to a single column named "W1"; unnamed matrix
	// columns become "W1".."Wk".
	W frame.Values

	// DeltaW flags units whose stage-2 covariates were observed.
	DeltaW []int

	// WStage2 holds the stage-2 covariates for the DeltaW==1 units only.
	// A vector is normalized to a single column named "W.stage2".
	WStage2 frame.Values

	// Z is an optional mediator, passed through to the effect estimator.
	Z []float64

	// Delta optionally marks outcome observation. nil derives it from
	// NaN values in Y.
	Delta []int

	// ID optionally clusters units; nil assigns 1..N.
	ID []int
}

// Options configures the pipeline. Start from DefaultOptions.
type Options struct {
	// Pi supplies missingness probabilities directly, bypassing all
	// fitting. Must be length N with values in (0, 1].
	Pi []float64

	// CondSetNames picks the conditioning set for the missingness model:
	// any subset of {"A", "W", "Y"}, where "W" expands to every stage-1
	// column. Default {"A", "W"}.
	CondSetNames []string

	// PiFormula, when non-empty, fits a single parametric (logistic)
	// missingness model instead of a super learner. "." uses every
	// available predictor; otherwise "+"-separated predictor names.
	PiFormula string

	// PiLibrary, VPi and PiDiscrete configure the super-learner
	// missingness fit. nil library selects superlearner.DefaultLibrary.
	PiLibrary  superlearner.Library
	VPi        int
	PiDiscrete bool

	// AugmentW toggles the stage-1 augmentation regression. Its fitted
	// values join the missingness-model predictors and the final
	// covariate set.
	AugmentW bool

	// AugmentLibrary and VQ configure the augmentation super learner.
	AugmentLibrary superlearner.Library
	VQ             int

	// Family is the outcome-regression family (augmentation and effect
	// estimation).
	Family glm.Family

	// RareOutcome requests the reduced, conservative outcome-regression
	// configuration inside the effect estimator.
	RareOutcome bool

	// Verbose prints stage progress to stderr.
	Verbose bool

	// Seed drives every cross-validation split in the pipeline.
	Seed int64

	// Extra is forwarded to the effect estimator unchecked.
	Extra map[string]any
}

// DefaultOptions returns the canonical configuration: augmentation on,
// conditioning on treatment and stage-1 covariates, ten folds everywhere.
func DefaultOptions() Options {
	return Options{
		CondSetNames: []string{"A", "W"},
		AugmentW:     true,
		VPi:          superlearner.DefaultFolds,
		VQ:           superlearner.DefaultFolds,
	}
}

// PiFit is the fitted (or supplied) missingness model.
type PiFit struct {
	// Type records provenance: PiUserSupplied, PiGLM or PiSuperLearner.
	Type string

	// Pi holds one stage-2-observation probability per unit.
	Pi []float64

	// Coef holds fitted coefficients (glm) or candidate weights
	// (SuperLearner), keyed by name. nil when user supplied.
	Coef map[string]float64

	// Discrete reports best-single-candidate selection (SuperLearner only).
	Discrete bool
}

// Result bundles the pipeline output. Immutable once returned.
type Result struct {
	// Kind tags the result shape; always ResultKind for this pipeline.
	Kind string

	// Est is the delegated effect estimate, nil when that step failed
	// (see Warnings).
	Est *tmle.Result

	// PiFit is the missingness-model summary.
	PiFit PiFit

	// WQ is the augmentation matrix, nil when AugmentW was off.
	WQ *frame.Matrix

	// Weights are the constructed observation weights, one per unit,
	// zero where DeltaW==0.
	Weights []float64

	// Warnings collects non-fatal problems, notably a failed effect
	// estimation step.
	Warnings []string
}
