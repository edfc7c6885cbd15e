package lsm

import (
	"context"
	"math"
	"time"

	"SabrLSM/internal/domain/models"
	"SabrLSM/internal/services/montecarlo"
	"SabrLSM/internal/services/regression"
	applogger "SabrLSM/pkg/logger"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// DefaultStepsPerPeriod is the number of time steps between consecutive
// exercise dates.
const DefaultStepsPerPeriod = 25

// Observer receives counters from a pricing call.
type Observer interface {
	ObservePaths(n int)
	ObserveRegression(samples, degenerate int)
}

type noopObserver struct{}

func (noopObserver) ObservePaths(int)           {}
func (noopObserver) ObserveRegression(int, int) {}

// EngineOption configures Engine.
type EngineOption func(*Engine)

// WithStepsPerPeriod sets the default number of steps between exercise dates.
func WithStepsPerPeriod(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.stepsPerPeriod = n
		}
	}
}

// WithLogger attaches a structured logger.
func WithLogger(l *applogger.Logger) EngineOption {
	return func(e *Engine) { e.log = l }
}

// WithObserver attaches a metrics observer.
func WithObserver(o Observer) EngineOption {
	return func(e *Engine) {
		if o != nil {
			e.obs = o
		}
	}
}

// Engine prices Bermudan options under SABR with Longstaff-Schwartz
// backward induction. It holds no per-call state and may be shared.
type Engine struct {
	stepsPerPeriod int
	log            *applogger.Logger
	obs            Observer
}

// NewEngine returns an engine with the given options.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		stepsPerPeriod: DefaultStepsPerPeriod,
		obs:            noopObserver{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// stepGrid maps exercise times onto the simulation grid.
type stepGrid struct {
	steps    []int
	total    int
	dt       float64
	maturity float64
}

// GridSteps returns the number of simulation steps for a schedule of
// nDates exercise dates. perPeriod <= 0 selects DefaultStepsPerPeriod.
func GridSteps(nDates, perPeriod int) int {
	if perPeriod <= 0 {
		perPeriod = DefaultStepsPerPeriod
	}
	if nDates <= 1 {
		return perPeriod
	}
	return (nDates - 1) * perPeriod
}

func newStepGrid(dates []float64, perPeriod int) stepGrid {
	total := GridSteps(len(dates), perPeriod)
	maturity := dates[len(dates)-1]
	dt := maturity / float64(total)

	steps := make([]int, len(dates))
	for i, t := range dates {
		s := int(t/dt + 0.5)
		if s > total {
			s = total
		}
		steps[i] = s
	}
	return stepGrid{steps: steps, total: total, dt: dt, maturity: maturity}
}

// Validate checks the inputs without pricing and returns the payoff they
// select.
func Validate(in models.PricingInputs) (Payoff, error) {
	switch {
	case in.Degree < 0:
		return nil, configErr("degree", ErrNegativeDegree)
	case in.NPaths <= 0:
		return nil, configErr("n_paths", ErrNonPositivePaths)
	case in.StepsPerDate < 0:
		return nil, configErr("steps_per_period", ErrNonPositiveSteps)
	}

	m := in.Model
	if !(m.Beta >= 0 && m.Beta <= 1) {
		return nil, configErr("beta", ErrBetaOutOfRange)
	}
	if !(m.Rho >= -1 && m.Rho <= 1) {
		return nil, configErr("rho", ErrRhoOutOfRange)
	}
	if !(m.F0 > 0) || !(m.Alpha0 > 0) {
		return nil, configErr("model", ErrNonPositiveInitial)
	}
	if !(m.Nu >= 0) {
		return nil, configErr("nu", ErrNegativeVolOfVol)
	}

	s := in.Schedule
	if len(s.Dates) == 0 {
		return nil, configErr("dates", ErrEmptySchedule)
	}
	if !(s.Dates[0] > 0) {
		return nil, configErr("dates", ErrNonPositiveTime)
	}
	for i := 1; i < len(s.Dates); i++ {
		if !(s.Dates[i] > s.Dates[i-1]) {
			return nil, configErr("dates", ErrNonIncreasingSchedule)
		}
	}
	if !(s.Strike > 0) {
		return nil, configErr("strike", ErrNonPositiveStrike)
	}
	p, err := PayoffFor(s.Type, s.Strike)
	if err != nil {
		return nil, configErr("type", err)
	}
	return p, nil
}

// Price runs one Longstaff-Schwartz valuation. Inputs are validated before
// any path is simulated; a *ConfigurationError is returned on rejection.
// ctx is checked during simulation and between exercise dates.
func (e *Engine) Price(ctx context.Context, in models.PricingInputs) (models.PricingEstimate, error) {
	payoff, err := Validate(in)
	if err != nil {
		return models.PricingEstimate{}, err
	}
	solver, err := regression.NewSolver(in.Degree)
	if err != nil {
		return models.PricingEstimate{}, configErr("degree", err)
	}

	perPeriod := e.stepsPerPeriod
	if in.StepsPerDate > 0 {
		perPeriod = in.StepsPerDate
	}
	dates := in.Schedule.Dates
	grid := newStepGrid(dates, perPeriod)
	n := in.NPaths
	start := time.Now()

	e.debug("simulating paths",
		applogger.Int("paths", n),
		applogger.Int("steps", grid.total),
		applogger.Uint64("seed", in.Seed),
	)
	sim := montecarlo.NewPathSimulator(in.Model, montecarlo.NewDeviateSource(in.Seed))
	paths, err := sim.SimulatePaths(ctx, n, grid.total, grid.maturity)
	if err != nil {
		return models.PricingEstimate{}, err
	}
	e.obs.ObservePaths(n)

	exercise := make([]models.ExerciseStat, len(dates))
	for m := range dates {
		exercise[m] = models.ExerciseStat{Time: dates[m], Step: grid.steps[m]}
	}

	// Cashflows start at the maturity payoff.
	v := make([]float64, n)
	last := grid.steps[len(dates)-1]
	for i := range v {
		v[i] = payoff.Value(paths.Forward(i, last))
		if v[i] > 0 {
			exercise[len(dates)-1].Exercised++
		}
	}

	var (
		idx  = make([]int, 0, n)
		xs   = make([]float64, 0, n)
		ys   = make([]float64, 0, n)
		pays = make([]float64, 0, n)
	)
	for m := len(dates) - 2; m >= 0; m-- {
		if err := ctx.Err(); err != nil {
			return models.PricingEstimate{}, err
		}
		cur, next := grid.steps[m], grid.steps[m+1]
		disc := math.Exp(-in.Rate * float64(next-cur) * grid.dt)

		idx, xs, ys, pays = idx[:0], xs[:0], ys[:0], pays[:0]
		for i := 0; i < n; i++ {
			f := paths.Forward(i, cur)
			if ex := payoff.Value(f); ex > 0 {
				idx = append(idx, i)
				xs = append(xs, f)
				ys = append(ys, v[i]*disc)
				pays = append(pays, ex)
			}
		}

		if len(idx) == 0 {
			for i := range v {
				v[i] *= disc
			}
			continue
		}

		coef, fs, err := solver.Fit(xs, ys)
		if err != nil {
			return models.PricingEstimate{}, err
		}
		e.obs.ObserveRegression(fs.Samples, fs.Degenerate)
		cont := regression.NewPredictor(coef)

		es := &exercise[m]
		k := 0
		for i := 0; i < n; i++ {
			if k < len(idx) && idx[k] == i {
				f, ex := xs[k], pays[k]
				k++
				// ties favour continuation
				if ex > cont.At(f) {
					v[i] = ex
					es.Exercised++
					es.Boundary = boundary(es.Boundary, f, in.Schedule.Type)
					continue
				}
			}
			v[i] *= disc
		}
	}

	final := math.Exp(-in.Rate * float64(grid.steps[0]) * grid.dt)
	floats.Scale(final, v)

	mean := stat.Mean(v, nil)
	variance := floats.Dot(v, v)/float64(n) - mean*mean
	if variance < 0 {
		variance = 0
	}
	est := models.PricingEstimate{
		Price:         mean,
		StandardError: math.Sqrt(variance / float64(n)),
		Exercise:      exercise,
	}

	e.debug("backward induction complete",
		applogger.Float64("price", est.Price),
		applogger.Float64("standard_error", est.StandardError),
		applogger.Duration("elapsed_ms", time.Since(start)),
	)
	return est, nil
}

// boundary tracks the critical forward: the lowest exercised forward for a
// call and the highest for a put.
func boundary(cur *float64, f float64, t models.OptionType) *float64 {
	if cur == nil {
		b := f
		return &b
	}
	if (t == models.Call && f < *cur) || (t == models.Put && f > *cur) {
		*cur = f
	}
	return cur
}

func (e *Engine) debug(msg string, fields ...applogger.Field) {
	if e.log != nil {
		e.log.Debug(msg, fields...)
	}
}
