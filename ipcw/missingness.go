package ipcw

import (
	"fmt"
	"math"
	"strings"

	"github.com/statkit/twostage/frame"
	"github.com/statkit/twostage/glm"
	"github.com/statkit/twostage/superlearner"
)

// condBlocks maps each symbolic conditioning-set name to its materialized
// column block. Resolved once, before any model fitting.
type condBlocks struct {
	blocks map[string]*frame.Matrix
	order  []string
}

// resolveCondSet validates names against {A, W, Y} and materializes the
// predictor blocks. The Y block is only legal when every outcome is
// observed.
func resolveCondSet(names []string, y, a []float64, w *frame.Matrix) (*condBlocks, error) {
	cb := &condBlocks{blocks: make(map[string]*frame.Matrix, len(names))}
	for _, name := range names {
		switch name {
		case "A", "W", "Y":
		default:
			return nil, fmt.Errorf("%w: got %q", ErrBadCondSet, name)
		}
	}
	for _, name := range names {
		if name != "Y" {
			continue
		}
		for _, v := range y {
			if math.IsNaN(v) {
				return nil, ErrMissingOutcomePredictor
			}
		}
	}

	for _, name := range names {
		if _, dup := cb.blocks[name]; dup {
			continue
		}
		var (
			block *frame.Matrix
			err   error
		)
		switch name {
		case "A":
			block, err = frame.FromVector("A", a)
		case "Y":
			block, err = frame.FromVector("Y", y)
		case "W":
			block = w
		}
		if err != nil {
			return nil, err
		}
		cb.blocks[name] = block
		cb.order = append(cb.order, name)
	}

	return cb, nil
}

// predictors assembles the conditioning blocks, in request order, with the
// augmentation columns appended when present.
func (cb *condBlocks) predictors(wq *frame.Matrix) (*frame.Matrix, error) {
	var out *frame.Matrix
	for _, name := range cb.order {
		b := cb.blocks[name]
		if out == nil {
			out = b
			continue
		}
		var err error
		out, err = out.Bind(b)
		if err != nil {
			return nil, err
		}
	}
	if wq != nil {
		return out.Bind(wq)
	}

	return out, nil
}

// fitMissingness estimates (or accepts) the per-unit probability of stage-2
// observation.
func fitMissingness(d Data, opts Options, w *frame.Matrix, wq *frame.Matrix) (PiFit, error) {
	n := len(d.DeltaW)

	condNames := opts.CondSetNames
	if len(condNames) == 0 {
		condNames = []string{"A", "W"}
	}
	cb, err := resolveCondSet(condNames, d.Y, d.A, w)
	if err != nil {
		return PiFit{}, err
	}

	// User-supplied probabilities bypass fitting entirely.
	if opts.Pi != nil {
		if len(opts.Pi) != n {
			return PiFit{}, ErrBadPi
		}
		for _, p := range opts.Pi {
			if !(p > 0 && p <= 1) {
				return PiFit{}, ErrBadPi
			}
		}
		pi := make([]float64, n)
		copy(pi, opts.Pi)

		return PiFit{Type: PiUserSupplied, Pi: pi}, nil
	}

	X, err := cb.predictors(wq)
	if err != nil {
		return PiFit{}, err
	}
	deltaW := make([]float64, n)
	for i, v := range d.DeltaW {
		deltaW[i] = float64(v)
	}

	// Parametric mode: one logistic formula over the available predictors.
	if opts.PiFormula != "" {
		design := X
		if opts.PiFormula != "." {
			var terms []string
			for _, t := range strings.Split(opts.PiFormula, "+") {
				terms = append(terms, strings.TrimSpace(t))
			}
			design, err = X.SelectCols(terms)
			if err != nil {
				return PiFit{}, fmt.Errorf("%w: %q", ErrBadFormula, opts.PiFormula)
			}
		}
		m, err := glm.Fit(design, deltaW, glm.Binomial, glm.DefaultOptions())
		if err != nil {
			return PiFit{}, fmt.Errorf("ipcw: missingness model: %w", err)
		}
		pi, err := m.Predict(design)
		if err != nil {
			return PiFit{}, fmt.Errorf("ipcw: missingness model: %w", err)
		}

		return PiFit{Type: PiGLM, Pi: pi, Coef: m.Coef()}, nil
	}

	// Super-learner mode: cross-validated selection over the candidate
	// library, discrete or ensemble.
	lib := opts.PiLibrary
	if lib == nil {
		lib = superlearner.DefaultLibrary()
	}
	ens, err := superlearner.Fit(X, deltaW, nil, glm.Binomial, lib, superlearner.Options{
		V:        opts.VPi,
		Discrete: opts.PiDiscrete,
		Seed:     opts.Seed,
	})
	if err != nil {
		return PiFit{}, fmt.Errorf("ipcw: missingness model: %w", err)
	}
	pi, err := ens.Predict(X)
	if err != nil {
		return PiFit{}, fmt.Errorf("ipcw: missingness model: %w", err)
	}

	return PiFit{Type: PiSuperLearner, Pi: pi, Coef: ens.Coef(), Discrete: ens.Discrete()}, nil
}
