package ipcw

import (
	"fmt"
	"math"
	"os"

	"github.com/statkit/twostage/frame"
	"github.com/statkit/twostage/superlearner"
	"github.com/statkit/twostage/tmle"
)

// Estimate runs the two-stage pipeline on d with opts and returns the
// assembled Result.
//
// Fatal errors (length mismatches, bad conditioning sets, conditioning on a
// partially missing outcome, unusable supplied probabilities, augmentation
// or missingness fitting failures) abort with a sentinel or wrapped error.
// A failure of the final effect estimation step is caught instead: the
// Result carries a warning and a nil Est.
func Estimate(d Data, opts Options) (*Result, error) {
	// Stage 1: normalize inputs.
	n := len(d.Y)
	if n == 0 || len(d.A) != n || len(d.DeltaW) != n {
		return nil, ErrLengthMismatch
	}
	if d.Z != nil && len(d.Z) != n {
		return nil, ErrLengthMismatch
	}
	if d.Delta != nil && len(d.Delta) != n {
		return nil, ErrLengthMismatch
	}
	if d.ID != nil && len(d.ID) != n {
		return nil, ErrLengthMismatch
	}

	w, err := frame.AsMatrix(d.W, "W1", "W")
	if err != nil || w == nil {
		return nil, fmt.Errorf("ipcw: stage-1 covariates: %w", firstErr(err, ErrLengthMismatch))
	}
	if w.Rows() != n {
		return nil, ErrLengthMismatch
	}
	w2, err := frame.AsMatrix(d.WStage2, "W.stage2", "W.stage2")
	if err != nil || w2 == nil {
		return nil, fmt.Errorf("ipcw: stage-2 covariates: %w", firstErr(err, ErrLengthMismatch))
	}

	n2 := 0
	completedIdx := make([]int, 0, n)
	for i, dw := range d.DeltaW {
		if dw == 1 {
			n2++
			completedIdx = append(completedIdx, i)
		}
	}
	if n2 == 0 {
		return nil, ErrNoCompleteUnits
	}
	if w2.Rows() != n2 {
		return nil, ErrLengthMismatch
	}

	ids := d.ID
	if ids == nil {
		ids = make([]int, n)
		for i := range ids {
			ids[i] = i + 1
		}
	}
	delta := d.Delta
	if delta == nil {
		delta = make([]int, n)
		for i, y := range d.Y {
			if !math.IsNaN(y) {
				delta[i] = 1
			}
		}
	}

	verbosef(opts, "ipcw: n=%d units, %d with stage-2 covariates\n", n, n2)

	// Stage 2: optional augmentation regression.
	var wq *frame.Matrix
	if opts.AugmentW {
		wq, err = fitAugmentation(d, opts, w, delta)
		if err != nil {
			return nil, fmt.Errorf("ipcw: augmentation: %w", err)
		}
		verbosef(opts, "ipcw: augmentation column fitted\n")
	}

	// Stage 3: missingness-probability model.
	piFit, err := fitMissingness(d, opts, w, wq)
	if err != nil {
		return nil, err
	}
	verbosef(opts, "ipcw: missingness model: %s\n", piFit.Type)

	// Stage 4: bounded observation weights.
	weights, err := Weights(d.DeltaW, piFit.Pi)
	if err != nil {
		return nil, err
	}

	// Stage 5: delegated effect estimation on the completed units.
	res := &Result{Kind: ResultKind, PiFit: piFit, WQ: wq, Weights: weights}

	covars, err := restrictCovariates(w, wq, w2, completedIdx)
	if err != nil {
		return nil, err
	}
	params := tmle.Params{
		Y:           gatherFloat(d.Y, completedIdx),
		A:           gatherFloat(d.A, completedIdx),
		W:           covars,
		Delta:       gatherInt(delta, completedIdx),
		Weights:     gatherFloat(weights, completedIdx),
		ID:          gatherInt(ids, completedIdx),
		Family:      opts.Family,
		RareOutcome: opts.RareOutcome,
		Seed:        opts.Seed,
		Extra:       opts.Extra,
	}
	if d.Z != nil {
		params.Z = gatherFloat(d.Z, completedIdx)
	}

	est, err := tmle.Estimate(params)
	if err != nil {
		// Degrade instead of aborting: the missingness model is still
		// useful on its own.
		warning := fmt.Sprintf("effect estimation failed (%v); returning missingness-model estimates only", err)
		res.Warnings = append(res.Warnings, warning)
		verbosef(opts, "ipcw: warning: %s\n", warning)

		return res, nil
	}
	res.Est = est
	verbosef(opts, "ipcw: done\n")

	// Stage 6: result assembly happened incrementally above.
	return res, nil
}

// fitAugmentation regresses the outcome on (A, W) among observed outcomes
// and returns one column of leakage-safe fitted values for all N units:
// out-of-fold predictions where the unit was in the training set, full-fit
// predictions elsewhere.
func fitAugmentation(d Data, opts Options, w *frame.Matrix, delta []int) (*frame.Matrix, error) {
	n := len(d.Y)
	aCol, err := frame.FromVector("A", d.A)
	if err != nil {
		return nil, err
	}
	x, err := aCol.Bind(w)
	if err != nil {
		return nil, err
	}

	obsIdx := make([]int, 0, n)
	for i, dd := range delta {
		if dd == 1 {
			obsIdx = append(obsIdx, i)
		}
	}
	if len(obsIdx) == 0 {
		return nil, ErrLengthMismatch
	}
	xObs, err := x.SelectRows(obsIdx)
	if err != nil {
		return nil, err
	}

	lib := opts.AugmentLibrary
	if lib == nil {
		lib = superlearner.DefaultLibrary()
	}
	ens, err := superlearner.Fit(xObs, gatherFloat(d.Y, obsIdx), nil, opts.Family, lib, superlearner.Options{
		V:    opts.VQ,
		Seed: opts.Seed,
	})
	if err != nil {
		return nil, err
	}

	pred := make([]float64, n)
	full, err := ens.Predict(x)
	if err != nil {
		return nil, err
	}
	copy(pred, full)
	// Training units get their out-of-fold values so no outcome leaks
	// into the downstream missingness model.
	cv := ens.CVPredictions()
	for j, i := range obsIdx {
		pred[i] = cv[j]
	}

	return frame.FromVector("W.Q", pred)
}

// restrictCovariates assembles the final covariate matrix on the completed
// units: stage-1 columns, optional augmentation, stage-2 columns.
func restrictCovariates(w, wq, w2 *frame.Matrix, completedIdx []int) (*frame.Matrix, error) {
	wSub, err := w.SelectRows(completedIdx)
	if err != nil {
		return nil, err
	}
	var wqSub *frame.Matrix
	if wq != nil {
		if wqSub, err = wq.SelectRows(completedIdx); err != nil {
			return nil, err
		}
	}

	// w2 already holds exactly the completed rows, in DeltaW order.
	return wSub.Bind(wqSub, w2)
}

func verbosef(opts Options, format string, args ...any) {
	if opts.Verbose {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

func firstErr(err error, fallback error) error {
	if err != nil {
		return err
	}

	return fallback
}

func gatherFloat(v []float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	for j, i := range idx {
		out[j] = v[i]
	}

	return out
}

func gatherInt(v []int, idx []int) []int {
	out := make([]int, len(idx))
	for j, i := range idx {
		out[j] = v[i]
	}

	return out
}
