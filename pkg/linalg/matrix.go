package linalg

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
)

// PivotTolerance is the magnitude below which a pivot is treated as zero.
const PivotTolerance = 1e-10

var (
	ErrBadShape    = errors.New("linalg: matrix dimensions must be positive")
	ErrNotSquare   = errors.New("linalg: matrix must be square")
	ErrRHSMismatch = errors.New("linalg: right-hand side length does not match matrix")
)

// Matrix is an owned dense row-major matrix. Rows returned by Row alias the
// underlying storage, so callers can update them in place.
type Matrix struct {
	d *mat.Dense
}

// New allocates a zeroed r x c matrix.
func New(r, c int) (*Matrix, error) {
	if r <= 0 || c <= 0 {
		return nil, ErrBadShape
	}
	return &Matrix{d: mat.NewDense(r, c, nil)}, nil
}

// NewFromRows copies rows into a new matrix. All rows must share a length.
func NewFromRows(rows [][]float64) (*Matrix, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, ErrBadShape
	}
	c := len(rows[0])
	data := make([]float64, 0, len(rows)*c)
	for _, row := range rows {
		if len(row) != c {
			return nil, ErrBadShape
		}
		data = append(data, row...)
	}
	return &Matrix{d: mat.NewDense(len(rows), c, data)}, nil
}

// Dims returns the number of rows and columns.
func (m *Matrix) Dims() (int, int) { return m.d.Dims() }

func (m *Matrix) At(i, j int) float64 { return m.d.At(i, j) }

func (m *Matrix) Set(i, j int, v float64) { m.d.Set(i, j, v) }

// Add accumulates v into element (i, j).
func (m *Matrix) Add(i, j int, v float64) {
	row := m.d.RawRowView(i)
	row[j] += v
}

// Row returns a mutable view of row i.
func (m *Matrix) Row(i int) []float64 { return m.d.RawRowView(i) }

// SwapRows exchanges rows i and j in place.
func (m *Matrix) SwapRows(i, j int) {
	if i == j {
		return
	}
	ri, rj := m.d.RawRowView(i), m.d.RawRowView(j)
	for k := range ri {
		ri[k], rj[k] = rj[k], ri[k]
	}
}

// Dense exposes the backing gonum matrix read-only for interop.
func (m *Matrix) Dense() mat.Matrix { return m.d }

// SolveGaussian solves a·x = b by Gaussian elimination with partial pivoting
// on the augmented system [a | b]. Neither a nor b is modified.
//
// A pivot whose magnitude is at or below tol is not eliminated against, and
// the matching unknown is set to zero during back substitution. The number
// of such pivots is returned as degenerate.
func SolveGaussian(a *Matrix, b []float64, tol float64) (x []float64, degenerate int, err error) {
	n, c := a.Dims()
	if n != c {
		return nil, 0, ErrNotSquare
	}
	if len(b) != n {
		return nil, 0, ErrRHSMismatch
	}

	aug, _ := New(n, n+1)
	for i := 0; i < n; i++ {
		row := aug.Row(i)
		copy(row, a.Row(i))
		row[n] = b[i]
	}

	// Forward elimination.
	for col := 0; col < n; col++ {
		pivot := col
		best := math.Abs(aug.At(col, col))
		for r := col + 1; r < n; r++ {
			if v := math.Abs(aug.At(r, col)); v > best {
				best, pivot = v, r
			}
		}
		aug.SwapRows(col, pivot)

		prow := aug.Row(col)
		if math.Abs(prow[col]) <= tol {
			continue
		}
		for r := col + 1; r < n; r++ {
			row := aug.Row(r)
			f := row[col] / prow[col]
			for k := col; k <= n; k++ {
				row[k] -= f * prow[k]
			}
		}
	}

	// Back substitution.
	x = make([]float64, n)
	for i := n - 1; i >= 0; i-- {
		row := aug.Row(i)
		if math.Abs(row[i]) <= tol {
			x[i] = 0
			degenerate++
			continue
		}
		s := row[n]
		for k := i + 1; k < n; k++ {
			s -= row[k] * x[k]
		}
		x[i] = s / row[i]
	}
	return x, degenerate, nil
}
