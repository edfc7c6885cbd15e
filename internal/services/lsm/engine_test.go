package lsm

import (
	"context"
	"math"
	"testing"

	"SabrLSM/internal/domain/models"
	"SabrLSM/internal/services/montecarlo"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"
)

type countingObserver struct {
	paths       int
	regressions int
	degenerate  int
}

func (o *countingObserver) ObservePaths(n int) { o.paths += n }

func (o *countingObserver) ObserveRegression(_, degenerate int) {
	o.regressions++
	o.degenerate += degenerate
}

func referenceInputs() models.PricingInputs {
	return models.PricingInputs{
		Model: models.ModelParameters{F0: 100, Alpha0: 0.2, Beta: 0.5, Nu: 0.4, Rho: -0.3},
		Schedule: models.ExerciseSchedule{
			Strike: 100,
			Dates:  []float64{0.25, 0.5, 0.75, 1.0},
			Type:   models.Call,
		},
		Rate:   0.05,
		Degree: 3,
		NPaths: 10000,
		Seed:   12345,
	}
}

func TestPayoffs(t *testing.T) {
	for _, s := range []float64{0, 50, 99.9, 100, 100.1, 250} {
		assert.Equal(t, math.Max(s-100, 0), Call{Strike: 100}.Value(s))
		assert.Equal(t, math.Max(100-s, 0), Put{Strike: 100}.Value(s))
	}

	_, err := PayoffFor("STRADDLE", 100)
	assert.ErrorIs(t, err, ErrUnknownOptionType)
}

func TestStepGrid(t *testing.T) {
	g := newStepGrid([]float64{0.5, 1.0, 1.5}, 25)
	assert.Equal(t, 50, g.total)
	assert.Equal(t, []int{17, 33, 50}, g.steps)
	assert.InDelta(t, 0.03, g.dt, 1e-15)

	single := newStepGrid([]float64{0.5}, 25)
	assert.Equal(t, 25, single.total)
	assert.Equal(t, []int{25}, single.steps)
}

func TestPriceReferenceScenario(t *testing.T) {
	obs := &countingObserver{}
	e := NewEngine(WithObserver(obs))

	est, err := e.Price(context.Background(), referenceInputs())
	require.NoError(t, err)

	assert.Greater(t, est.Price, 0.0)
	assert.Less(t, est.Price, 100.0)
	assert.Greater(t, est.StandardError, 0.0)
	assert.Equal(t, 10000, obs.paths)
	assert.LessOrEqual(t, obs.regressions, 3)
	require.Len(t, est.Exercise, 4)

	lo, hi := est.ConfidenceInterval()
	assert.InDelta(t, est.Price-1.96*est.StandardError, lo, 1e-12)
	assert.InDelta(t, est.Price+1.96*est.StandardError, hi, 1e-12)
}

func TestPriceIsDeterministic(t *testing.T) {
	e := NewEngine()
	in := referenceInputs()
	in.NPaths = 2000

	a, err := e.Price(context.Background(), in)
	require.NoError(t, err)
	b, err := e.Price(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, a.Price, b.Price)
	assert.Equal(t, a.StandardError, b.StandardError)

	in.Seed++
	c, err := e.Price(context.Background(), in)
	require.NoError(t, err)
	assert.NotEqual(t, a.Price, c.Price)
}

func TestSingleDateIsDiscountedExpectation(t *testing.T) {
	in := referenceInputs()
	in.Schedule.Dates = []float64{0.5}
	in.NPaths = 5000

	obs := &countingObserver{}
	est, err := NewEngine(WithObserver(obs)).Price(context.Background(), in)
	require.NoError(t, err)
	assert.Zero(t, obs.regressions)

	sim := montecarlo.NewPathSimulator(in.Model, montecarlo.NewDeviateSource(in.Seed))
	ps, err := sim.SimulatePaths(context.Background(), in.NPaths, DefaultStepsPerPeriod, 0.5)
	require.NoError(t, err)
	pay := make([]float64, in.NPaths)
	for i := range pay {
		pay[i] = math.Max(ps.Forward(i, ps.NumSteps())-100, 0)
	}
	want := math.Exp(-in.Rate*0.5) * stat.Mean(pay, nil)
	assert.InDelta(t, want, est.Price, 1e-9)
}

func TestStandardErrorShrinksWithPaths(t *testing.T) {
	if testing.Short() {
		t.Skip("convergence study is slow")
	}
	e := NewEngine()
	prev := math.Inf(1)
	for _, n := range []int{1000, 5000, 10000, 50000} {
		in := referenceInputs()
		in.NPaths = n
		est, err := e.Price(context.Background(), in)
		require.NoError(t, err)
		assert.LessOrEqual(t, est.StandardError, prev, "n=%d", n)
		prev = est.StandardError
	}
}

func TestPutExerciseBoundary(t *testing.T) {
	in := referenceInputs()
	in.Schedule.Type = models.Put
	in.Schedule.Strike = 120
	in.Rate = 0.1
	in.NPaths = 4000

	est, err := NewEngine().Price(context.Background(), in)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, est.Price, 20*math.Exp(-0.1)-1e-9) // at least the discounted intrinsic of F0

	exercised := 0
	for _, es := range est.Exercise[:3] {
		exercised += es.Exercised
		if es.Boundary != nil {
			assert.Less(t, *es.Boundary, 120.0)
		}
	}
	assert.Positive(t, exercised)
}

func TestValidationRejectsBeforeSimulation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*models.PricingInputs)
		want   error
	}{
		{"negative degree", func(in *models.PricingInputs) { in.Degree = -1 }, ErrNegativeDegree},
		{"zero paths", func(in *models.PricingInputs) { in.NPaths = 0 }, ErrNonPositivePaths},
		{"empty schedule", func(in *models.PricingInputs) { in.Schedule.Dates = nil }, ErrEmptySchedule},
		{"non increasing", func(in *models.PricingInputs) { in.Schedule.Dates = []float64{0.5, 0.5, 1} }, ErrNonIncreasingSchedule},
		{"decreasing", func(in *models.PricingInputs) { in.Schedule.Dates = []float64{0.75, 0.5} }, ErrNonIncreasingSchedule},
		{"zero date", func(in *models.PricingInputs) { in.Schedule.Dates = []float64{0, 1} }, ErrNonPositiveTime},
		{"beta high", func(in *models.PricingInputs) { in.Model.Beta = 1.2 }, ErrBetaOutOfRange},
		{"beta nan", func(in *models.PricingInputs) { in.Model.Beta = math.NaN() }, ErrBetaOutOfRange},
		{"rho low", func(in *models.PricingInputs) { in.Model.Rho = -1.5 }, ErrRhoOutOfRange},
		{"zero forward", func(in *models.PricingInputs) { in.Model.F0 = 0 }, ErrNonPositiveInitial},
		{"negative nu", func(in *models.PricingInputs) { in.Model.Nu = -0.1 }, ErrNegativeVolOfVol},
		{"zero strike", func(in *models.PricingInputs) { in.Schedule.Strike = 0 }, ErrNonPositiveStrike},
		{"bad type", func(in *models.PricingInputs) { in.Schedule.Type = "DIGITAL" }, ErrUnknownOptionType},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := referenceInputs()
			tc.mutate(&in)

			obs := &countingObserver{}
			_, err := NewEngine(WithObserver(obs)).Price(context.Background(), in)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
			assert.True(t, IsConfigurationError(err))
			assert.Zero(t, obs.paths)
		})
	}
}

func TestBoundaryValuesAccepted(t *testing.T) {
	in := referenceInputs()
	in.NPaths = 500
	for _, beta := range []float64{0, 1} {
		for _, rho := range []float64{-1, 1} {
			in.Model.Beta, in.Model.Rho = beta, rho
			_, err := NewEngine().Price(context.Background(), in)
			assert.NoError(t, err, "beta=%v rho=%v", beta, rho)
		}
	}
}

func TestPriceHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	in := referenceInputs()
	in.NPaths = 100
	_, err := NewEngine().Price(ctx, in)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPriceStopsDuringSimulation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// one date means no backward loop, so only the simulator can notice
	in := referenceInputs()
	in.Schedule.Dates = []float64{1}
	obs := &countingObserver{}
	_, err := NewEngine(WithObserver(obs)).Price(ctx, in)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, obs.paths)
}

func TestGridSteps(t *testing.T) {
	assert.Equal(t, 75, GridSteps(4, 25))
	assert.Equal(t, 25, GridSteps(1, 25))
	assert.Equal(t, DefaultStepsPerPeriod, GridSteps(1, 0))
	assert.Equal(t, newStepGrid([]float64{0.25, 0.5, 1}, 10).total, GridSteps(3, 10))
}

func TestStepsPerPeriodOverride(t *testing.T) {
	in := referenceInputs()
	in.NPaths = 1000

	a, err := NewEngine(WithStepsPerPeriod(10)).Price(context.Background(), in)
	require.NoError(t, err)

	in.StepsPerDate = 10
	b, err := NewEngine().Price(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, a.Price, b.Price)
}
