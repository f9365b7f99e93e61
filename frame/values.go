package frame

import "fmt"

// Values is a covariate input as a caller supplies it: either a bare Vector
// or an already-shaped *Matrix. AsMatrix normalizes both forms into a named
// Matrix before any downstream step consumes them.
type Values interface {
	normalize(single, prefix string) (*Matrix, error)
}

// Vector is a one-dimensional covariate: one value per observation.
type Vector []float64

func (v Vector) normalize(single, _ string) (*Matrix, error) {
	return FromVector(single, v)
}

func (m *Matrix) normalize(_, prefix string) (*Matrix, error) {
	if m == nil {
		return nil, frameErrorf("AsMatrix", ErrNilMatrix)
	}
	out := m.Clone()
	for j, name := range out.names {
		if name == "" {
			out.names[j] = fmt.Sprintf("%s%d", prefix, j+1)
		}
	}

	return out, nil
}

// AsMatrix coerces a Values input into a named Matrix:
//
//   - a Vector becomes a single column named single;
//   - a *Matrix keeps its names, with unnamed columns auto-named
//     prefix1..prefixK by position.
//
// A nil input yields (nil, nil) so optional covariate blocks can be
// normalized without a presence check.
func AsMatrix(v Values, single, prefix string) (*Matrix, error) {
	if v == nil {
		return nil, nil
	}

	return v.normalize(single, prefix)
}
