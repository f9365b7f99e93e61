package glm

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/statkit/twostage/frame"
)

// Family selects the response distribution and link function.
type Family int

const (
	// Gaussian fits an identity-link linear model.
	Gaussian Family = iota

	// Binomial fits a logit-link binary regression.
	Binomial
)

// String implements fmt.Stringer.
func (f Family) String() string {
	switch f {
	case Gaussian:
		return "gaussian"
	case Binomial:
		return "binomial"
	default:
		return fmt.Sprintf("Family(%d)", int(f))
	}
}

// ErrBadFamily indicates an unknown Family value.
var ErrBadFamily = errors.New("glm: unknown family")

// ErrBadDimensions indicates inconsistent input lengths or an empty fit.
var ErrBadDimensions = errors.New("glm: dimension mismatch")

// ErrSingular indicates a design matrix the solver cannot handle reliably.
var ErrSingular = errors.New("glm: singular or ill-conditioned design")

// interceptName labels the intercept coefficient, matching the convention
// statistical software users expect.
const interceptName = "(Intercept)"

const (
	defaultMaxIter = 40
	defaultTol     = 1e-8

	// muEps keeps fitted binomial probabilities away from 0 and 1 so the
	// IRLS working weights stay finite.
	muEps = 1e-10
)

// Options configures a single fit. The zero value is NOT usable; start from
// DefaultOptions and override what you need.
type Options struct {
	// Weights are per-observation weights. nil means all ones.
	Weights []float64

	// Offset is a fixed additive term on the linear-predictor scale.
	// nil means zero.
	Offset []float64

	// Intercept controls whether a leading column of ones is added.
	Intercept bool

	// MaxIter bounds IRLS iterations (binomial only).
	MaxIter int

	// Tol is the coefficient-change convergence threshold (binomial only).
	Tol float64
}

// DefaultOptions returns the canonical configuration: intercept on,
// unit weights, zero offset.
func DefaultOptions() Options {
	return Options{Intercept: true, MaxIter: defaultMaxIter, Tol: defaultTol}
}

// Model is a fitted GLM. Immutable after Fit returns.
type Model struct {
	family    Family
	intercept bool
	names     []string  // coefficient names, including the intercept when present
	coef      []float64 // aligned with names
	iter      int
}

// Fit estimates a GLM of y on the columns of X.
//
// X may be nil for an intercept-only fit (opts.Intercept must then be true).
// y, opts.Weights and opts.Offset must all have matching lengths.
//
// Returns ErrBadDimensions on shape problems, ErrBadFamily for an unknown
// family, and ErrSingular when the weighted design cannot be solved.
func Fit(X *frame.Matrix, y []float64, family Family, opts Options) (*Model, error) {
	if family != Gaussian && family != Binomial {
		return nil, ErrBadFamily
	}
	n := len(y)
	if n == 0 {
		return nil, ErrBadDimensions
	}
	if X != nil && X.Rows() != n {
		return nil, ErrBadDimensions
	}
	if X == nil && !opts.Intercept {
		return nil, ErrBadDimensions
	}
	if opts.Weights != nil && len(opts.Weights) != n {
		return nil, ErrBadDimensions
	}
	if opts.Offset != nil && len(opts.Offset) != n {
		return nil, ErrBadDimensions
	}
	if opts.MaxIter <= 0 {
		opts.MaxIter = defaultMaxIter
	}
	if opts.Tol <= 0 {
		opts.Tol = defaultTol
	}

	design, names := buildDesign(X, n, opts.Intercept)
	w := opts.Weights
	if w == nil {
		w = ones(n)
	}
	offset := opts.Offset
	if offset == nil {
		offset = make([]float64, n)
	}

	var (
		coef []float64
		iter int
		err  error
	)
	switch family {
	case Gaussian:
		// Identity link: one weighted least-squares solve on y - offset.
		z := make([]float64, n)
		for i := range z {
			z[i] = y[i] - offset[i]
		}
		coef, err = wls(design, z, w)
		if err != nil {
			return nil, err
		}
	case Binomial:
		coef, iter, err = irls(design, y, w, offset, opts.MaxIter, opts.Tol)
		if err != nil {
			return nil, err
		}
	}

	return &Model{family: family, intercept: opts.Intercept, names: names, coef: coef, iter: iter}, nil
}

// Family returns the fitted family.
func (m *Model) Family() Family { return m.family }

// Iterations returns the IRLS iteration count (0 for gaussian fits).
func (m *Model) Iterations() int { return m.iter }

// Names returns the coefficient names in fit order.
func (m *Model) Names() []string {
	out := make([]string, len(m.names))
	copy(out, m.names)

	return out
}

// Coef returns the coefficients keyed by column name.
func (m *Model) Coef() map[string]float64 {
	out := make(map[string]float64, len(m.coef))
	for i, name := range m.names {
		out[name] = m.coef[i]
	}

	return out
}

// Linear returns the linear predictor X·beta (+ offset when non-nil) for new
// data. X must carry the same column count the model was fitted on; nil X is
// only valid for intercept-only models, in which case n gives the length.
func (m *Model) Linear(X *frame.Matrix, offset []float64, n int) ([]float64, error) {
	if X != nil {
		n = X.Rows()
	}
	if n <= 0 {
		return nil, ErrBadDimensions
	}
	p := 0
	if X != nil {
		p = X.Cols()
	}
	want := p
	if m.intercept {
		want++
	}
	if want != len(m.coef) {
		return nil, ErrBadDimensions
	}
	if offset != nil && len(offset) != n {
		return nil, ErrBadDimensions
	}

	eta := make([]float64, n)
	for i := 0; i < n; i++ {
		v := 0.0
		k := 0
		if m.intercept {
			v = m.coef[0]
			k = 1
		}
		for j := 0; j < p; j++ {
			x, err := X.At(i, j)
			if err != nil {
				return nil, err
			}
			v += m.coef[k+j] * x
		}
		if offset != nil {
			v += offset[i]
		}
		eta[i] = v
	}

	return eta, nil
}

// Predict returns response-scale predictions for new data: the linear
// predictor for gaussian models, expit of it for binomial models.
func (m *Model) Predict(X *frame.Matrix) ([]float64, error) {
	return m.PredictOffset(X, nil)
}

// PredictOffset is Predict with a fixed offset added on the linear scale.
func (m *Model) PredictOffset(X *frame.Matrix, offset []float64) ([]float64, error) {
	n := len(offset)
	eta, err := m.Linear(X, offset, n)
	if err != nil {
		return nil, err
	}
	if m.family == Binomial {
		for i := range eta {
			eta[i] = Expit(eta[i])
		}
	}

	return eta, nil
}

// Expit is the inverse logit, numerically stable at both tails.
func Expit(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)

	return e / (1 + e)
}

// Logit maps a probability to the linear scale, clamping away from 0 and 1.
func Logit(p float64) float64 {
	if p < muEps {
		p = muEps
	}
	if p > 1-muEps {
		p = 1 - muEps
	}

	return math.Log(p / (1 - p))
}

// buildDesign materializes the design matrix rows×params along with
// coefficient names.
func buildDesign(X *frame.Matrix, n int, intercept bool) (*mat.Dense, []string) {
	p := 0
	if X != nil {
		p = X.Cols()
	}
	cols := p
	if intercept {
		cols++
	}
	names := make([]string, 0, cols)
	d := mat.NewDense(n, cols, nil)
	off := 0
	if intercept {
		names = append(names, interceptName)
		for i := 0; i < n; i++ {
			d.Set(i, 0, 1)
		}
		off = 1
	}
	if X != nil {
		names = append(names, X.Names()...)
		for i := 0; i < n; i++ {
			for j := 0; j < p; j++ {
				v, _ := X.At(i, j) // indices in range by construction
				d.Set(i, off+j, v)
			}
		}
	}

	return d, names
}

// wls solves min_b Σ w_i (z_i - x_i·b)² via QR on the sqrt(w)-scaled system.
func wls(design *mat.Dense, z, w []float64) ([]float64, error) {
	n, p := design.Dims()
	scaled := mat.NewDense(n, p, nil)
	rhs := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		s := math.Sqrt(math.Max(w[i], 0))
		for j := 0; j < p; j++ {
			scaled.Set(i, j, s*design.At(i, j))
		}
		rhs.SetVec(i, s*z[i])
	}

	var qr mat.QR
	qr.Factorize(scaled)
	var beta mat.VecDense
	if err := qr.SolveVecTo(&beta, false, rhs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingular, err)
	}

	out := make([]float64, p)
	for j := 0; j < p; j++ {
		out[j] = beta.AtVec(j)
	}

	return out, nil
}

// irls runs iteratively reweighted least squares for the logit link.
func irls(design *mat.Dense, y, w, offset []float64, maxIter int, tol float64) ([]float64, int, error) {
	n, p := design.Dims()
	coef := make([]float64, p)
	eta := make([]float64, n)
	z := make([]float64, n)
	ww := make([]float64, n)

	var iter int
	for iter = 1; iter <= maxIter; iter++ {
		for i := 0; i < n; i++ {
			v := offset[i]
			for j := 0; j < p; j++ {
				v += coef[j] * design.At(i, j)
			}
			eta[i] = v
			mu := Expit(v)
			if mu < muEps {
				mu = muEps
			}
			if mu > 1-muEps {
				mu = 1 - muEps
			}
			variance := mu * (1 - mu)
			z[i] = eta[i] - offset[i] + (y[i]-mu)/variance
			ww[i] = w[i] * variance
		}

		next, err := wls(design, z, ww)
		if err != nil {
			return nil, iter, err
		}

		delta := 0.0
		for j := 0; j < p; j++ {
			delta = math.Max(delta, math.Abs(next[j]-coef[j]))
		}
		copy(coef, next)
		if delta < tol {
			break
		}
	}

	return coef, iter, nil
}

func ones(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1
	}

	return out
}
