package regression

import (
	"errors"

	"SabrLSM/pkg/linalg"
)

var (
	ErrNegativeDegree = errors.New("regression: degree must be non-negative")
	ErrEmptySample    = errors.New("regression: sample is empty")
	ErrLengthMismatch = errors.New("regression: xs and ys differ in length")
)

// Coefficients of a polynomial in increasing powers: c[0] + c[1]x + ...
type Coefficients []float64

// FitStats describes the linear solve behind a fit.
type FitStats struct {
	Samples    int
	Degenerate int // pivots at or below linalg.PivotTolerance
}

// Solver fits polynomials of a fixed degree by ordinary least squares.
type Solver struct {
	degree int
}

// NewSolver returns a solver for polynomials of the given degree.
func NewSolver(degree int) (*Solver, error) {
	if degree < 0 {
		return nil, ErrNegativeDegree
	}
	return &Solver{degree: degree}, nil
}

// Degree returns the polynomial degree.
func (s *Solver) Degree() int { return s.degree }

// Basis writes [1, x, x^2, ..., x^d] into dst, which must have length d+1.
// Fit and Predict both go through here.
func Basis(dst []float64, x float64) {
	p := 1.0
	for i := range dst {
		dst[i] = p
		p *= x
	}
}

// Fit returns the coefficients minimising sum (poly(x_i) - y_i)^2.
//
// The normal equations A'A c = A'y are solved with Gaussian elimination and
// partial pivoting. A near-zero pivot zeroes its coefficient instead of
// failing, so degenerate samples still give finite coefficients. For
// identical xs the fitted polynomial evaluates to the sample mean at that x,
// though rounding can leave small non-zero higher-order terms.
func (s *Solver) Fit(xs, ys []float64) (Coefficients, FitStats, error) {
	if len(xs) != len(ys) {
		return nil, FitStats{}, ErrLengthMismatch
	}
	if len(xs) == 0 {
		return nil, FitStats{}, ErrEmptySample
	}

	n := s.degree + 1
	ata, err := linalg.New(n, n)
	if err != nil {
		return nil, FitStats{}, err
	}
	aty := make([]float64, n)
	phi := make([]float64, n)

	for k, x := range xs {
		Basis(phi, x)
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				ata.Add(i, j, phi[i]*phi[j])
			}
			aty[i] += phi[i] * ys[k]
		}
	}

	c, degenerate, err := linalg.SolveGaussian(ata, aty, linalg.PivotTolerance)
	if err != nil {
		return nil, FitStats{}, err
	}
	return c, FitStats{Samples: len(xs), Degenerate: degenerate}, nil
}

// Predict evaluates the polynomial at x.
func Predict(c Coefficients, x float64) float64 {
	phi := make([]float64, len(c))
	Basis(phi, x)
	var v float64
	for i, ci := range c {
		v += ci * phi[i]
	}
	return v
}

// Predictor evaluates one set of coefficients repeatedly without
// reallocating the basis vector.
type Predictor struct {
	c   Coefficients
	phi []float64
}

// NewPredictor binds c for repeated evaluation.
func NewPredictor(c Coefficients) *Predictor {
	return &Predictor{c: c, phi: make([]float64, len(c))}
}

// At evaluates the polynomial at x.
func (p *Predictor) At(x float64) float64 {
	Basis(p.phi, x)
	var v float64
	for i, ci := range p.c {
		v += ci * p.phi[i]
	}
	return v
}
