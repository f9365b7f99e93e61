package superlearner

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/statkit/twostage/frame"
	"github.com/statkit/twostage/glm"
)

// ErrEmptyLibrary indicates that no candidate learners were supplied.
var ErrEmptyLibrary = errors.New("superlearner: empty candidate library")

// ErrBadFolds indicates an unusable fold count (V < 2 or V > n).
var ErrBadFolds = errors.New("superlearner: V must be between 2 and n")

// ErrBadDimensions indicates inconsistent input lengths.
var ErrBadDimensions = errors.New("superlearner: dimension mismatch")

// DefaultFolds is the standard number of cross-validation folds.
const DefaultFolds = 10

// simplexIterations bounds the projected-gradient weight fit. The problem is
// a tiny convex QP (one variable per candidate), so a fixed budget converges
// far past any practical tolerance.
const simplexIterations = 500

// Options configures a super-learner fit.
type Options struct {
	// V is the number of cross-validation folds. 0 means DefaultFolds.
	V int

	// Discrete selects the single best candidate instead of a weighted
	// ensemble.
	Discrete bool

	// Seed drives the fold-assignment permutation.
	Seed int64
}

// DefaultOptions returns ensemble selection with DefaultFolds folds.
func DefaultOptions() Options { return Options{V: DefaultFolds} }

// Ensemble is a fitted super learner. Immutable after Fit returns.
type Ensemble struct {
	names    []string
	weights  []float64
	risks    []float64
	best     int
	discrete bool
	family   glm.Family
	fits     []Fitted
	cvPred   []float64
}

// Fit cross-validates every candidate in lib on (X, y) with optional
// per-observation weights w, scores the out-of-fold predictions, resolves
// ensemble (or discrete) weights, and refits every candidate on the full
// data.
//
// Candidate failures are propagated, not recovered: a library whose member
// cannot fit the data is a caller problem.
func Fit(X *frame.Matrix, y, w []float64, family glm.Family, lib Library, opts Options) (*Ensemble, error) {
	n := len(y)
	if n == 0 || X == nil || X.Rows() != n {
		return nil, ErrBadDimensions
	}
	if w != nil && len(w) != n {
		return nil, ErrBadDimensions
	}
	if len(lib) == 0 {
		return nil, ErrEmptyLibrary
	}
	v := opts.V
	if v == 0 {
		v = DefaultFolds
	}
	if v < 2 || v > n {
		return nil, ErrBadFolds
	}

	ww := w
	if ww == nil {
		ww = make([]float64, n)
		for i := range ww {
			ww[i] = 1
		}
	}

	// Fold assignment: seeded permutation, folds of near-equal size.
	foldOf := make([]int, n)
	for i, p := range rand.New(rand.NewSource(opts.Seed)).Perm(n) {
		foldOf[p] = i % v
	}

	// Out-of-fold prediction matrix: cv[i][k] for unit i, candidate k.
	k := len(lib)
	cv := make([][]float64, n)
	for i := range cv {
		cv[i] = make([]float64, k)
	}

	for fold := 0; fold < v; fold++ {
		var trainIdx, testIdx []int
		for i := 0; i < n; i++ {
			if foldOf[i] == fold {
				testIdx = append(testIdx, i)
			} else {
				trainIdx = append(trainIdx, i)
			}
		}
		if len(testIdx) == 0 {
			continue
		}
		Xtr, err := X.SelectRows(trainIdx)
		if err != nil {
			return nil, err
		}
		Xte, err := X.SelectRows(testIdx)
		if err != nil {
			return nil, err
		}
		ytr := gather(y, trainIdx)
		wtr := gather(ww, trainIdx)

		for c, learner := range lib {
			fitted, err := learner.Fit(Xtr, ytr, wtr, family)
			if err != nil {
				return nil, fmt.Errorf("superlearner: candidate %q fold %d: %w", learner.Name(), fold, err)
			}
			pred, err := fitted.Predict(Xte)
			if err != nil {
				return nil, fmt.Errorf("superlearner: candidate %q fold %d: %w", learner.Name(), fold, err)
			}
			for j, i := range testIdx {
				cv[i][c] = pred[j]
			}
		}
	}

	// Score each candidate on its out-of-fold predictions.
	risks := make([]float64, k)
	for c := 0; c < k; c++ {
		col := make([]float64, n)
		for i := 0; i < n; i++ {
			col[i] = cv[i][c]
		}
		risks[c] = risk(y, col, ww, family)
	}
	best := 0
	for c := 1; c < k; c++ {
		if risks[c] < risks[best] {
			best = c
		}
	}

	weights := make([]float64, k)
	if opts.Discrete || k == 1 {
		weights[best] = 1
	} else {
		weights = simplexWeights(cv, y, ww)
	}

	// Refit every candidate on the full data for prediction on new units.
	fits := make([]Fitted, k)
	for c, learner := range lib {
		fitted, err := learner.Fit(X, y, ww, family)
		if err != nil {
			return nil, fmt.Errorf("superlearner: candidate %q full fit: %w", learner.Name(), err)
		}
		fits[c] = fitted
	}

	cvPred := make([]float64, n)
	for i := 0; i < n; i++ {
		var s float64
		for c := 0; c < k; c++ {
			s += weights[c] * cv[i][c]
		}
		cvPred[i] = clampResponse(s, family)
	}

	return &Ensemble{
		names:    lib.Names(),
		weights:  weights,
		risks:    risks,
		best:     best,
		discrete: opts.Discrete || k == 1,
		family:   family,
		fits:     fits,
		cvPred:   cvPred,
	}, nil
}

// Predict combines the full-data candidate fits with the ensemble weights.
func (e *Ensemble) Predict(X *frame.Matrix) ([]float64, error) {
	if X == nil {
		return nil, ErrBadDimensions
	}
	out := make([]float64, X.Rows())
	for c, fitted := range e.fits {
		if e.weights[c] == 0 {
			continue
		}
		pred, err := fitted.Predict(X)
		if err != nil {
			return nil, fmt.Errorf("superlearner: candidate %q predict: %w", e.names[c], err)
		}
		for i, p := range pred {
			out[i] += e.weights[c] * p
		}
	}
	for i := range out {
		out[i] = clampResponse(out[i], e.family)
	}

	return out, nil
}

// CVPredictions returns the out-of-fold ensemble predictions for the
// training units. These are safe to feed into a later model without
// overfitting leakage.
func (e *Ensemble) CVPredictions() []float64 {
	out := make([]float64, len(e.cvPred))
	copy(out, e.cvPred)

	return out
}

// Names returns the candidate names in library order.
func (e *Ensemble) Names() []string { return append([]string(nil), e.names...) }

// Weights returns the resolved candidate weights (one-hot under discrete
// selection).
func (e *Ensemble) Weights() []float64 { return append([]float64(nil), e.weights...) }

// Risks returns the cross-validated risk of each candidate.
func (e *Ensemble) Risks() []float64 { return append([]float64(nil), e.risks...) }

// Best returns the name of the lowest-risk candidate.
func (e *Ensemble) Best() string { return e.names[e.best] }

// Discrete reports whether selection was discrete (single candidate).
func (e *Ensemble) Discrete() bool { return e.discrete }

// Coef returns the candidate weights keyed by candidate name, mirroring how
// parametric fits expose coefficients.
func (e *Ensemble) Coef() map[string]float64 {
	out := make(map[string]float64, len(e.names))
	for i, name := range e.names {
		out[name] = e.weights[i]
	}

	return out
}

// risk is the weighted mean loss: squared error for gaussian, negative
// Bernoulli log-likelihood for binomial.
func risk(y, pred, w []float64, family glm.Family) float64 {
	var s, sumw float64
	for i := range y {
		sumw += w[i]
		if family == glm.Binomial {
			p := math.Min(math.Max(pred[i], 1e-12), 1-1e-12)
			s -= w[i] * (y[i]*math.Log(p) + (1-y[i])*math.Log(1-p))
		} else {
			d := y[i] - pred[i]
			s += w[i] * d * d
		}
	}
	if sumw == 0 {
		return math.Inf(1)
	}

	return s / sumw
}

// simplexWeights minimizes Σ w_i (y_i - Σ_k α_k cv_ik)² over the probability
// simplex by projected gradient descent. Deterministic; fixed iteration
// budget.
func simplexWeights(cv [][]float64, y, w []float64) []float64 {
	n := len(y)
	k := len(cv[0])
	alpha := make([]float64, k)
	for c := range alpha {
		alpha[c] = 1 / float64(k)
	}

	// Lipschitz bound for the gradient: 2·trace(ZᵀWZ).
	var lip float64
	for i := 0; i < n; i++ {
		for c := 0; c < k; c++ {
			lip += 2 * w[i] * cv[i][c] * cv[i][c]
		}
	}
	if lip == 0 {
		return alpha
	}
	step := 1 / lip

	grad := make([]float64, k)
	for it := 0; it < simplexIterations; it++ {
		for c := range grad {
			grad[c] = 0
		}
		for i := 0; i < n; i++ {
			var fit float64
			for c := 0; c < k; c++ {
				fit += alpha[c] * cv[i][c]
			}
			r := y[i] - fit
			for c := 0; c < k; c++ {
				grad[c] -= 2 * w[i] * r * cv[i][c]
			}
		}
		for c := 0; c < k; c++ {
			alpha[c] -= step * grad[c]
		}
		projectSimplex(alpha)
	}

	return alpha
}

// projectSimplex performs the Euclidean projection of v onto the probability
// simplex in place (Duchi et al. algorithm).
func projectSimplex(v []float64) {
	n := len(v)
	u := append([]float64(nil), v...)
	sort.Sort(sort.Reverse(sort.Float64Slice(u)))

	var cum float64
	rho, lambda := -1, 0.0
	for i := 0; i < n; i++ {
		cum += u[i]
		t := (cum - 1) / float64(i+1)
		if u[i]-t > 0 {
			rho, lambda = i, t
		}
	}
	if rho < 0 {
		// Degenerate input; fall back to uniform.
		for i := range v {
			v[i] = 1 / float64(n)
		}

		return
	}
	for i := range v {
		v[i] = math.Max(v[i]-lambda, 0)
	}
}

func clampResponse(p float64, family glm.Family) float64 {
	if family != glm.Binomial {
		return p
	}

	return math.Min(math.Max(p, 0), 1)
}

func gather(v []float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	for i, j := range idx {
		out[i] = v[j]
	}

	return out
}
