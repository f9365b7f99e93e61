package ipcw

import "math"

// Weights converts missingness probabilities into bounded observation
// weights. deltaW and pi must have equal length with at least one deltaW==1
// unit.
//
// The computation, in order:
//
//	raw_i  = deltaW_i / pi_i                 (zero when deltaW_i == 0)
//	w_i    = raw_i · n2 / Σ raw              (normalized to sum to n2)
//	ub     = sqrt(n2) · ln(n2) / 5
//	w_i    = clip(raw_i, 0, ub)              (final value)
//
// where n2 = Σ deltaW. The final clip applies to the UNNORMALIZED ratio and
// overwrites the normalized intermediate, so the returned weights are the
// clipped raw ratios. Keep this order intact; downstream estimates depend
// on it.
func Weights(deltaW []int, pi []float64) ([]float64, error) {
	n := len(deltaW)
	if n == 0 || len(pi) != n {
		return nil, ErrLengthMismatch
	}
	n2 := 0
	for _, d := range deltaW {
		n2 += d
	}
	if n2 == 0 {
		return nil, ErrNoCompleteUnits
	}

	raw := make([]float64, n)
	var rawSum float64
	for i, d := range deltaW {
		if d == 1 {
			raw[i] = 1 / pi[i]
			rawSum += raw[i]
		}
	}

	w := make([]float64, n)
	for i := range w {
		w[i] = raw[i] * float64(n2) / rawSum
	}

	// The clip of the raw ratio supersedes the normalization above.
	ub := math.Sqrt(float64(n2)) * math.Log(float64(n2)) / 5
	for i := range w {
		w[i] = math.Min(math.Max(raw[i], 0), ub)
	}

	return w, nil
}

// WeightBound returns the clip bound used by Weights for a completed-unit
// count n2.
func WeightBound(n2 int) float64 {
	return math.Sqrt(float64(n2)) * math.Log(float64(n2)) / 5
}
