package superlearner

import (
	"fmt"
	"math"

	"github.com/statkit/twostage/frame"
	"github.com/statkit/twostage/glm"
)

// Fitted is a trained candidate ready to predict on new data.
type Fitted interface {
	Predict(X *frame.Matrix) ([]float64, error)
}

// Learner is a candidate regression procedure. Fit must not retain y or w.
type Learner interface {
	Name() string
	Fit(X *frame.Matrix, y, w []float64, family glm.Family) (Fitted, error)
}

// Library is an ordered set of candidate learners.
type Library []Learner

// Names returns the candidate names in library order.
func (l Library) Names() []string {
	out := make([]string, len(l))
	for i, c := range l {
		out[i] = c.Name()
	}

	return out
}

// DefaultLibrary is the standard candidate set: main-terms GLM, GLM with
// pairwise interactions, the weighted mean, and forward stepwise selection.
func DefaultLibrary() Library {
	return Library{NewGLM(), NewGLMInteraction(), NewStep(), NewMean()}
}

// RareOutcomeLibrary is the reduced, conservative candidate set used when
// the outcome is rare: simple parametric fits only.
func RareOutcomeLibrary() Library {
	return Library{NewGLM(), NewMean()}
}

// ---------------------------------------------------------------- glm ----

type glmLearner struct{}

// NewGLM returns the main-terms GLM candidate.
func NewGLM() Learner { return glmLearner{} }

func (glmLearner) Name() string { return "glm" }

func (glmLearner) Fit(X *frame.Matrix, y, w []float64, family glm.Family) (Fitted, error) {
	opts := glm.DefaultOptions()
	opts.Weights = w
	m, err := glm.Fit(X, y, family, opts)
	if err != nil {
		return nil, fmt.Errorf("superlearner: glm: %w", err)
	}

	return glmFitted{m}, nil
}

type glmFitted struct{ m *glm.Model }

func (f glmFitted) Predict(X *frame.Matrix) ([]float64, error) { return f.m.Predict(X) }

// -------------------------------------------------- glm.interaction ----

type glmInteraction struct{}

// NewGLMInteraction returns a GLM candidate whose design adds all pairwise
// products of the input columns (names "a:b").
func NewGLMInteraction() Learner { return glmInteraction{} }

func (glmInteraction) Name() string { return "glm.interaction" }

func (glmInteraction) Fit(X *frame.Matrix, y, w []float64, family glm.Family) (Fitted, error) {
	ex, err := expandInteractions(X)
	if err != nil {
		return nil, err
	}
	opts := glm.DefaultOptions()
	opts.Weights = w
	m, err := glm.Fit(ex, y, family, opts)
	if err != nil {
		return nil, fmt.Errorf("superlearner: glm.interaction: %w", err)
	}

	return interactionFitted{m}, nil
}

type interactionFitted struct{ m *glm.Model }

func (f interactionFitted) Predict(X *frame.Matrix) ([]float64, error) {
	ex, err := expandInteractions(X)
	if err != nil {
		return nil, err
	}

	return f.m.Predict(ex)
}

// expandInteractions appends the pairwise product columns to X. The
// expansion is a pure function of the column set, so fit-time and
// predict-time designs agree.
func expandInteractions(X *frame.Matrix) (*frame.Matrix, error) {
	if X == nil || X.Cols() < 2 {
		return X, nil
	}
	names := X.Names()
	var prodNames []string
	var prods [][]float64
	for a := 0; a < X.Cols(); a++ {
		ca, err := X.ColAt(a)
		if err != nil {
			return nil, err
		}
		for b := a + 1; b < X.Cols(); b++ {
			cb, err := X.ColAt(b)
			if err != nil {
				return nil, err
			}
			p := make([]float64, len(ca))
			for i := range p {
				p[i] = ca[i] * cb[i]
			}
			prodNames = append(prodNames, names[a]+":"+names[b])
			prods = append(prods, p)
		}
	}
	block, err := frame.FromColumns(prodNames, prods...)
	if err != nil {
		return nil, err
	}

	return X.Bind(block)
}

// --------------------------------------------------------------- mean ----

type meanLearner struct{}

// NewMean returns the intercept-only candidate: the weighted outcome mean.
func NewMean() Learner { return meanLearner{} }

func (meanLearner) Name() string { return "mean" }

func (meanLearner) Fit(_ *frame.Matrix, y, w []float64, _ glm.Family) (Fitted, error) {
	var num, den float64
	for i, v := range y {
		wi := 1.0
		if w != nil {
			wi = w[i]
		}
		num += wi * v
		den += wi
	}
	if den == 0 {
		return nil, fmt.Errorf("superlearner: mean: %w", ErrBadDimensions)
	}

	return constFitted(num / den), nil
}

type constFitted float64

func (c constFitted) Predict(X *frame.Matrix) ([]float64, error) {
	n := 1
	if X != nil {
		n = X.Rows()
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(c)
	}

	return out, nil
}

// --------------------------------------------------------------- step ----

type stepLearner struct{}

// NewStep returns a forward-stepwise GLM candidate: columns are added one at
// a time while AIC improves.
func NewStep() Learner { return stepLearner{} }

func (stepLearner) Name() string { return "step" }

func (stepLearner) Fit(X *frame.Matrix, y, w []float64, family glm.Family) (Fitted, error) {
	if X == nil {
		return NewMean().Fit(nil, y, w, family)
	}
	remaining := X.Names()
	var selected []string
	bestAIC := math.Inf(1)
	var bestModel *glm.Model

	// Intercept-only baseline.
	if m, err := glm.Fit(nil, y, family, withWeights(w)); err == nil {
		bestAIC = aic(nil, m, y, w, family)
		bestModel = m
	}

	for len(remaining) > 0 {
		bestIdx := -1
		var candModel *glm.Model
		candAIC := bestAIC
		for i, name := range remaining {
			cols := append(append([]string(nil), selected...), name)
			sub, err := X.SelectCols(cols)
			if err != nil {
				return nil, err
			}
			m, err := glm.Fit(sub, y, family, withWeights(w))
			if err != nil {
				continue // collinear additions are simply skipped
			}
			if a := aic(sub, m, y, w, family); a < candAIC {
				candAIC, candModel, bestIdx = a, m, i
			}
		}
		if bestIdx < 0 {
			break
		}
		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
		bestAIC, bestModel = candAIC, candModel
	}

	if bestModel == nil {
		return nil, fmt.Errorf("superlearner: step: %w", glm.ErrSingular)
	}

	return stepFitted{model: bestModel, selected: selected}, nil
}

type stepFitted struct {
	model    *glm.Model
	selected []string
}

func (f stepFitted) Predict(X *frame.Matrix) ([]float64, error) {
	if len(f.selected) == 0 {
		// Intercept-only model: constant response.
		mu := f.model.Coef()["(Intercept)"]
		if f.model.Family() == glm.Binomial {
			mu = glm.Expit(mu)
		}

		return constFitted(mu).Predict(X)
	}
	sub, err := X.SelectCols(f.selected)
	if err != nil {
		return nil, err
	}

	return f.model.Predict(sub)
}

func withWeights(w []float64) glm.Options {
	opts := glm.DefaultOptions()
	opts.Weights = w

	return opts
}

// aic computes the Akaike information criterion of a fitted model on its own
// training data. The coefficient count includes the intercept.
func aic(X *frame.Matrix, m *glm.Model, y, w []float64, family glm.Family) float64 {
	var pred []float64
	if X == nil {
		// Intercept-only: constant response for every unit.
		mu := m.Coef()["(Intercept)"]
		if family == glm.Binomial {
			mu = glm.Expit(mu)
		}
		pred = make([]float64, len(y))
		for i := range pred {
			pred[i] = mu
		}
	} else {
		var err error
		pred, err = m.Predict(X)
		if err != nil {
			return math.Inf(1)
		}
	}

	k := float64(len(m.Names()))
	n := float64(len(y))
	if family == glm.Binomial {
		// -2·loglik + 2k.
		return 2*bernoulliDeviance(y, pred, w) + 2*k
	}

	var rss float64
	for i := range y {
		wi := 1.0
		if w != nil {
			wi = w[i]
		}
		d := y[i] - pred[i]
		rss += wi * d * d
	}
	if rss <= 0 {
		rss = 1e-300
	}

	return n*math.Log(rss/n) + 2*k
}

// bernoulliDeviance is -Σ w·[y·ln(p) + (1-y)·ln(1-p)].
func bernoulliDeviance(y, p, w []float64) float64 {
	var s float64
	for i := range y {
		wi := 1.0
		if w != nil {
			wi = w[i]
		}
		pi := math.Min(math.Max(p[i], 1e-12), 1-1e-12)
		s -= wi * (y[i]*math.Log(pi) + (1-y[i])*math.Log(1-pi))
	}

	return s
}
