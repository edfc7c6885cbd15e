package montecarlo

import (
	"context"
	"math"

	"SabrLSM/internal/domain/models"
)

// Floor is the lower bound applied to forward and volatility after every
// step so the backbone power never sees a non-positive base.
const Floor = 0.001

// cancelCheckEvery is how many paths are simulated between context checks.
const cancelCheckEvery = 256

// Path is a view of one simulated trajectory. Forward and Vol have
// nSteps+1 entries indexed by time step.
type Path struct {
	Forward []float64
	Vol     []float64
}

// PathSet stores every path of a run in one contiguous buffer indexed by
// (path, step). Forwards occupy the first half, volatilities the second.
type PathSet struct {
	nPaths int
	stride int
	buf    []float64
}

func newPathSet(nPaths, nSteps int) *PathSet {
	stride := nSteps + 1
	return &PathSet{
		nPaths: nPaths,
		stride: stride,
		buf:    make([]float64, 2*nPaths*stride),
	}
}

// NumPaths returns the number of paths.
func (ps *PathSet) NumPaths() int { return ps.nPaths }

// NumSteps returns the number of time steps (points minus one).
func (ps *PathSet) NumSteps() int { return ps.stride - 1 }

// Forward returns F for path p at step s.
func (ps *PathSet) Forward(p, s int) float64 {
	return ps.forwards(p)[s]
}

// Vol returns alpha for path p at step s.
func (ps *PathSet) Vol(p, s int) float64 {
	return ps.vols(p)[s]
}

// Path returns a zero-copy view of path p.
func (ps *PathSet) Path(p int) Path {
	return Path{Forward: ps.forwards(p), Vol: ps.vols(p)}
}

func (ps *PathSet) forwards(p int) []float64 {
	off := p * ps.stride
	return ps.buf[off : off+ps.stride : off+ps.stride]
}

func (ps *PathSet) vols(p int) []float64 {
	off := (ps.nPaths + p) * ps.stride
	return ps.buf[off : off+ps.stride : off+ps.stride]
}

// PathSimulator discretises the SABR SDEs with Euler-Maruyama.
type PathSimulator struct {
	params models.ModelParameters
	src    *DeviateSource
}

// NewPathSimulator returns a simulator drawing from src.
func NewPathSimulator(params models.ModelParameters, src *DeviateSource) *PathSimulator {
	return &PathSimulator{params: params, src: src}
}

// SimulatePath returns a freshly allocated path of nSteps steps over [0, T].
func (s *PathSimulator) SimulatePath(nSteps int, T float64) Path {
	p := Path{
		Forward: make([]float64, nSteps+1),
		Vol:     make([]float64, nSteps+1),
	}
	s.fill(p.Forward, p.Vol, T/float64(nSteps))
	return p
}

// SimulatePaths generates nPaths paths in index order from the shared
// source: every draw of path i precedes every draw of path i+1. ctx is
// checked every few hundred paths; on cancellation the partial set is
// discarded and ctx.Err() returned.
func (s *PathSimulator) SimulatePaths(ctx context.Context, nPaths, nSteps int, T float64) (*PathSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ps := newPathSet(nPaths, nSteps)
	dt := T / float64(nSteps)
	for p := 0; p < nPaths; p++ {
		if p > 0 && p%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		s.fill(ps.forwards(p), ps.vols(p), dt)
	}
	return ps, nil
}

func (s *PathSimulator) fill(fwd, vol []float64, dt float64) {
	var (
		beta = s.params.Beta
		nu   = s.params.Nu
		rho  = s.params.Rho
		sqdt = math.Sqrt(dt)
	)
	fwd[0], vol[0] = s.params.F0, s.params.Alpha0
	for i := 0; i+1 < len(fwd); i++ {
		z1, z2 := s.src.CorrelatedPair(rho)
		f, a := fwd[i], vol[i]
		fwd[i+1] = math.Max(f+a*math.Pow(f, beta)*sqdt*z1, Floor)
		vol[i+1] = math.Max(a+nu*a*sqdt*z2, Floor)
	}
}
