package montecarlo

import (
	"context"
	"math"
	"testing"

	"SabrLSM/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"
)

var baseParams = models.ModelParameters{F0: 100, Alpha0: 0.2, Beta: 0.5, Nu: 0.4, Rho: -0.3}

func simulate(t *testing.T, sim *PathSimulator, nPaths, nSteps int, T float64) *PathSet {
	t.Helper()
	ps, err := sim.SimulatePaths(context.Background(), nPaths, nSteps, T)
	require.NoError(t, err)
	return ps
}

func TestSimulatePathsShapeAndStart(t *testing.T) {
	sim := NewPathSimulator(baseParams, NewDeviateSource(1))
	ps := simulate(t, sim, 10, 75, 1.0)

	require.Equal(t, 10, ps.NumPaths())
	require.Equal(t, 75, ps.NumSteps())
	for p := 0; p < ps.NumPaths(); p++ {
		path := ps.Path(p)
		assert.Len(t, path.Forward, 76)
		assert.Len(t, path.Vol, 76)
		assert.Equal(t, 100.0, ps.Forward(p, 0))
		assert.Equal(t, 0.2, ps.Vol(p, 0))
	}
}

func TestSimulatePathsMatchesSequentialSinglePaths(t *testing.T) {
	batch := simulate(t, NewPathSimulator(baseParams, NewDeviateSource(5)), 3, 20, 0.5)

	single := NewPathSimulator(baseParams, NewDeviateSource(5))
	for p := 0; p < 3; p++ {
		path := single.SimulatePath(20, 0.5)
		assert.Equal(t, path.Forward, batch.Path(p).Forward, "path %d", p)
		assert.Equal(t, path.Vol, batch.Path(p).Vol, "path %d", p)
	}
}

func TestSimulatePathsStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ps, err := NewPathSimulator(baseParams, NewDeviateSource(1)).SimulatePaths(ctx, 10, 5, 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, ps)

	src := NewDeviateSource(2)
	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	_, err = NewPathSimulator(baseParams, src).SimulatePaths(ctx, 100000, 10, 1)
	require.ErrorIs(t, err, context.Canceled)
	// nothing was drawn, so the source is still at its start
	assert.Equal(t, NewDeviateSource(2).Uniform(), src.Uniform())
}

// countdownCtx reports cancellation once Err has been called more than n
// times.
type countdownCtx struct {
	context.Context
	n int
}

func (c *countdownCtx) Err() error {
	c.n--
	if c.n < 0 {
		return context.Canceled
	}
	return nil
}

func TestSimulatePathsChecksContextBetweenPaths(t *testing.T) {
	// entry check, then the check at path 256 pass; the one at 512 fails
	ctx := &countdownCtx{Context: context.Background(), n: 2}
	src := NewDeviateSource(4)
	_, err := NewPathSimulator(baseParams, src).SimulatePaths(ctx, 1000, 10, 1)
	require.ErrorIs(t, err, context.Canceled)

	ref := NewDeviateSource(4)
	simulate(t, NewPathSimulator(baseParams, ref), 2*cancelCheckEvery, 10, 1)
	assert.Equal(t, ref.Uniform(), src.Uniform())
}

func TestSimulateEulerStep(t *testing.T) {
	sim := NewPathSimulator(baseParams, NewDeviateSource(11))
	path := sim.SimulatePath(1, 0.25)

	ref := NewDeviateSource(11)
	z1, z2 := ref.CorrelatedPair(baseParams.Rho)
	sq := math.Sqrt(0.25)
	wantF := math.Max(100+0.2*math.Pow(100, 0.5)*sq*z1, Floor)
	wantA := math.Max(0.2+0.4*0.2*sq*z2, Floor)

	assert.Equal(t, wantF, path.Forward[1])
	assert.Equal(t, wantA, path.Vol[1])
}

func TestSimulateFloor(t *testing.T) {
	params := models.ModelParameters{F0: 0.01, Alpha0: 0.5, Beta: 0, Nu: 1, Rho: 0}
	ps := simulate(t, NewPathSimulator(params, NewDeviateSource(3)), 200, 50, 1)
	floored := 0
	for p := 0; p < ps.NumPaths(); p++ {
		for s := 0; s <= ps.NumSteps(); s++ {
			require.GreaterOrEqual(t, ps.Forward(p, s), Floor)
			require.GreaterOrEqual(t, ps.Vol(p, s), Floor)
			if ps.Forward(p, s) == Floor {
				floored++
			}
		}
	}
	assert.Positive(t, floored)
}

func TestZeroVolOfVolIsMartingale(t *testing.T) {
	params := baseParams
	params.Nu = 0

	const n = 20000
	ps := simulate(t, NewPathSimulator(params, NewDeviateSource(12345)), n, 50, 1)
	terminal := make([]float64, n)
	for p := range terminal {
		terminal[p] = ps.Forward(p, ps.NumSteps())
		require.Equal(t, params.Alpha0, ps.Vol(p, ps.NumSteps()))
	}

	mean, sd := stat.MeanStdDev(terminal, nil)
	se := sd / math.Sqrt(n)
	assert.InDelta(t, params.F0, mean, 4*se)
}
