package frame

import (
	"errors"
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// ErrInvalidDimensions indicates that requested matrix dimensions are non-positive.
var ErrInvalidDimensions = errors.New("frame: dimensions must be > 0")

// ErrIndexOutOfBounds indicates that a row or column index is outside valid range.
var ErrIndexOutOfBounds = errors.New("frame: index out of bounds")

// ErrDimensionMismatch indicates that two shapes that must agree do not.
var ErrDimensionMismatch = errors.New("frame: dimension mismatch")

// ErrUnknownColumn indicates a lookup of a column name the matrix does not have.
var ErrUnknownColumn = errors.New("frame: unknown column")

// ErrNilMatrix indicates a nil *Matrix where a value was required.
var ErrNilMatrix = errors.New("frame: nil matrix")

// frameErrorf wraps an underlying error with method context.
func frameErrorf(method string, err error) error {
	return fmt.Errorf("frame.%s: %w", method, err)
}

// Matrix is a row-major matrix of float64 values with one name per column.
// r is rows, c is columns, and data holds r*c elements in row-major order.
// len(names) == c always.
type Matrix struct {
	r, c  int
	names []string
	data  []float64 // flat backing storage, length == r*c
}

// New creates an r×c Matrix initialized to zeros with empty column names.
// Complexity: O(r*c) time and memory.
func New(rows, cols int) (*Matrix, error) {
	if rows <= 0 || cols <= 0 {
		return nil, frameErrorf("New", ErrInvalidDimensions)
	}

	return &Matrix{
		r:     rows,
		c:     cols,
		names: make([]string, cols),
		data:  make([]float64, rows*cols),
	}, nil
}

// FromVector builds a single-column Matrix named name from v.
func FromVector(name string, v []float64) (*Matrix, error) {
	if len(v) == 0 {
		return nil, frameErrorf("FromVector", ErrInvalidDimensions)
	}
	data := make([]float64, len(v))
	copy(data, v)

	return &Matrix{r: len(v), c: 1, names: []string{name}, data: data}, nil
}

// FromColumns builds a Matrix from equal-length columns. names may be nil,
// in which case all columns are unnamed until SetNames or auto-naming.
func FromColumns(names []string, cols ...[]float64) (*Matrix, error) {
	if len(cols) == 0 || len(cols[0]) == 0 {
		return nil, frameErrorf("FromColumns", ErrInvalidDimensions)
	}
	if names != nil && len(names) != len(cols) {
		return nil, frameErrorf("FromColumns", ErrDimensionMismatch)
	}
	r := len(cols[0])
	for _, col := range cols {
		if len(col) != r {
			return nil, frameErrorf("FromColumns", ErrDimensionMismatch)
		}
	}

	m := &Matrix{r: r, c: len(cols), names: make([]string, len(cols)), data: make([]float64, r*len(cols))}
	if names != nil {
		copy(m.names, names)
	}
	for j, col := range cols {
		for i, v := range col {
			m.data[i*m.c+j] = v
		}
	}

	return m, nil
}

// Rows returns the number of rows.
func (m *Matrix) Rows() int { return m.r }

// Cols returns the number of columns.
func (m *Matrix) Cols() int { return m.c }

// Names returns a copy of the column names.
func (m *Matrix) Names() []string {
	out := make([]string, m.c)
	copy(out, m.names)

	return out
}

// SetNames replaces all column names at once.
func (m *Matrix) SetNames(names []string) error {
	if len(names) != m.c {
		return frameErrorf("SetNames", ErrDimensionMismatch)
	}
	copy(m.names, names)

	return nil
}

// indexOf computes the flat index for (row, col) or returns ErrIndexOutOfBounds.
func (m *Matrix) indexOf(row, col int) (int, error) {
	if row < 0 || row >= m.r || col < 0 || col >= m.c {
		return 0, ErrIndexOutOfBounds
	}

	return row*m.c + col, nil
}

// At retrieves the element at (row, col).
func (m *Matrix) At(row, col int) (float64, error) {
	idx, err := m.indexOf(row, col)
	if err != nil {
		return 0, frameErrorf("At", err)
	}

	return m.data[idx], nil
}

// Set assigns value v at (row, col).
func (m *Matrix) Set(row, col int, v float64) error {
	idx, err := m.indexOf(row, col)
	if err != nil {
		return frameErrorf("Set", err)
	}
	m.data[idx] = v

	return nil
}

// ColIndex resolves a column name to its index.
func (m *Matrix) ColIndex(name string) (int, error) {
	for j, n := range m.names {
		if n == name {
			return j, nil
		}
	}

	return 0, fmt.Errorf("frame.ColIndex(%q): %w", name, ErrUnknownColumn)
}

// Col returns a copy of the named column.
func (m *Matrix) Col(name string) ([]float64, error) {
	j, err := m.ColIndex(name)
	if err != nil {
		return nil, err
	}
	out := make([]float64, m.r)
	for i := 0; i < m.r; i++ {
		out[i] = m.data[i*m.c+j]
	}

	return out, nil
}

// ColAt returns a copy of the column at index j.
func (m *Matrix) ColAt(j int) ([]float64, error) {
	if j < 0 || j >= m.c {
		return nil, frameErrorf("ColAt", ErrIndexOutOfBounds)
	}
	out := make([]float64, m.r)
	for i := 0; i < m.r; i++ {
		out[i] = m.data[i*m.c+j]
	}

	return out, nil
}

// Clone returns a deep copy.
func (m *Matrix) Clone() *Matrix {
	data := make([]float64, len(m.data))
	copy(data, m.data)
	names := make([]string, len(m.names))
	copy(names, m.names)

	return &Matrix{r: m.r, c: m.c, names: names, data: data}
}

// Bind column-concatenates m with others (cbind). All matrices must have the
// same number of rows; nil arguments are skipped, so optional blocks can be
// passed without a presence check at the call site.
// Complexity: O(r * total columns).
func (m *Matrix) Bind(others ...*Matrix) (*Matrix, error) {
	if m == nil {
		return nil, frameErrorf("Bind", ErrNilMatrix)
	}
	blocks := []*Matrix{m}
	cols := m.c
	for _, o := range others {
		if o == nil {
			continue
		}
		if o.r != m.r {
			return nil, frameErrorf("Bind", ErrDimensionMismatch)
		}
		blocks = append(blocks, o)
		cols += o.c
	}

	out := &Matrix{r: m.r, c: cols, names: make([]string, 0, cols), data: make([]float64, m.r*cols)}
	for _, b := range blocks {
		out.names = append(out.names, b.names...)
	}
	off := 0
	for _, b := range blocks {
		for i := 0; i < m.r; i++ {
			copy(out.data[i*cols+off:i*cols+off+b.c], b.data[i*b.c:(i+1)*b.c])
		}
		off += b.c
	}

	return out, nil
}

// SelectRows returns a new Matrix with the rows picked by idx, in order.
// Duplicate indices are allowed (bootstrap-style resampling).
func (m *Matrix) SelectRows(idx []int) (*Matrix, error) {
	if m == nil {
		return nil, frameErrorf("SelectRows", ErrNilMatrix)
	}
	if len(idx) == 0 {
		return nil, frameErrorf("SelectRows", ErrInvalidDimensions)
	}
	out := &Matrix{r: len(idx), c: m.c, names: append([]string(nil), m.names...), data: make([]float64, len(idx)*m.c)}
	for i, src := range idx {
		if src < 0 || src >= m.r {
			return nil, frameErrorf("SelectRows", ErrIndexOutOfBounds)
		}
		copy(out.data[i*m.c:(i+1)*m.c], m.data[src*m.c:(src+1)*m.c])
	}

	return out, nil
}

// SelectCols returns a new Matrix containing only the named columns, in the
// requested order.
func (m *Matrix) SelectCols(names []string) (*Matrix, error) {
	if m == nil {
		return nil, frameErrorf("SelectCols", ErrNilMatrix)
	}
	if len(names) == 0 {
		return nil, frameErrorf("SelectCols", ErrInvalidDimensions)
	}
	js := make([]int, len(names))
	for k, name := range names {
		j, err := m.ColIndex(name)
		if err != nil {
			return nil, err
		}
		js[k] = j
	}

	out := &Matrix{r: m.r, c: len(js), names: append([]string(nil), names...), data: make([]float64, m.r*len(js))}
	for i := 0; i < m.r; i++ {
		for k, j := range js {
			out.data[i*out.c+k] = m.data[i*m.c+j]
		}
	}

	return out, nil
}

// Dense copies the values into a gonum mat.Dense for linear algebra.
func (m *Matrix) Dense() *mat.Dense {
	data := make([]float64, len(m.data))
	copy(data, m.data)

	return mat.NewDense(m.r, m.c, data)
}

// String implements fmt.Stringer for easy debugging: a header row of names
// followed by one line per observation.
func (m *Matrix) String() string {
	var sb strings.Builder
	sb.WriteString("[" + strings.Join(m.names, ", ") + "]\n")
	for i := 0; i < m.r; i++ {
		sb.WriteString("[")
		for j := 0; j < m.c; j++ {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%g", m.data[i*m.c+j])
		}
		sb.WriteString("]\n")
	}

	return sb.String()
}
