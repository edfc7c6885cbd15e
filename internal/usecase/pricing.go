package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"SabrLSM/internal/domain/models"
	domrepo "SabrLSM/internal/domain/repository"
	domsvc "SabrLSM/internal/domain/service"
	"SabrLSM/internal/services/lsm"
	"SabrLSM/pkg/cache"
	xhttp "SabrLSM/pkg/http"
	applogger "SabrLSM/pkg/logger"
)

var (
	ErrTooManyPaths    = errors.New("usecase: run exceeds the configured path budget")
	ErrStorageDisabled = errors.New("usecase: run storage is disabled")
	ErrQueueDisabled   = errors.New("usecase: job queue is disabled")
)

// SensitivityJobType is the queue message type of a background sweep.
const SensitivityJobType = "sensitivity.sweep"

// PricingConfig holds the service-side limits and request defaults.
type PricingConfig struct {
	Defaults         models.PricingDefaults
	MaxPaths         int
	MaxGridPoints    int           // paths x (steps+1), 0 disables
	Timeout          time.Duration // per pricing call, 0 disables
	SweepWorkers     int
	CacheTTL         time.Duration
	ConvergencePaths []int
}

// SweepGrids are the values priced by each sensitivity sweep.
var SweepGrids = map[models.SweepKind][]float64{
	models.SweepBeta:   {0, 0.3, 0.5, 0.7, 1},
	models.SweepNu:     {0.1, 0.2, 0.4, 0.6, 0.8},
	models.SweepRho:    {-0.7, -0.3, 0, 0.3, 0.7},
	models.SweepStrike: {90, 95, 100, 105, 110},
}

// PricingUseCase orchestrates a pricing call: cache lookup, engine run,
// metrics, result publication, run history and caching.
type PricingUseCase struct {
	log     *applogger.Logger
	cfg     PricingConfig
	pricer  domsvc.Pricer
	cache   domrepo.Cache
	pub     domrepo.Publisher
	store   domrepo.Storage
	queue   domrepo.JobQueue
	metrics domrepo.Metrics
	now     func() time.Time
	newID   func() string
}

type Option func(*PricingUseCase)

func WithCache(c domrepo.Cache) Option         { return func(u *PricingUseCase) { u.cache = c } }
func WithPublisher(p domrepo.Publisher) Option { return func(u *PricingUseCase) { u.pub = p } }
func WithStorage(s domrepo.Storage) Option     { return func(u *PricingUseCase) { u.store = s } }
func WithJobQueue(q domrepo.JobQueue) Option   { return func(u *PricingUseCase) { u.queue = q } }
func WithMetrics(m domrepo.Metrics) Option     { return func(u *PricingUseCase) { u.metrics = m } }
func WithClock(now func() time.Time) Option    { return func(u *PricingUseCase) { u.now = now } }
func WithIDGenerator(id func() string) Option  { return func(u *PricingUseCase) { u.newID = id } }
func WithLogger(l *applogger.Logger) Option    { return func(u *PricingUseCase) { u.log = l } }

// NewPricingUseCase builds the use case. Every optional collaborator may be
// left out, which disables that step.
func NewPricingUseCase(cfg PricingConfig, pricer domsvc.Pricer, opts ...Option) *PricingUseCase {
	if cfg.SweepWorkers <= 0 {
		cfg.SweepWorkers = 1
	}
	u := &PricingUseCase{
		log:     applogger.Nop(),
		cfg:     cfg,
		pricer:  pricer,
		metrics: noopMetrics{},
		now:     time.Now,
		newID:   func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(u)
	}
	if u.log == nil {
		u.log = applogger.Nop()
	}
	if u.metrics == nil {
		u.metrics = noopMetrics{}
	}
	return u
}

// Resolve turns a validated request into engine inputs.
func (u *PricingUseCase) Resolve(req models.PriceRequest) (models.PricingInputs, error) {
	in, err := req.Inputs(u.cfg.Defaults)
	if err != nil {
		return models.PricingInputs{}, &lsm.ConfigurationError{Field: "option_type", Err: lsm.ErrUnknownOptionType}
	}
	return in, nil
}

// ConvergencePaths returns the configured default path counts.
func (u *PricingUseCase) ConvergencePaths() []int { return u.cfg.ConvergencePaths }

func (u *PricingUseCase) checkInputs(in models.PricingInputs) error {
	if _, err := lsm.Validate(in); err != nil {
		return err
	}
	if u.cfg.MaxPaths > 0 && in.NPaths > u.cfg.MaxPaths {
		return fmt.Errorf("%w: n_paths %d > %d", ErrTooManyPaths, in.NPaths, u.cfg.MaxPaths)
	}
	// forward and vol are stored for every grid point of every path
	if u.cfg.MaxGridPoints > 0 {
		steps := lsm.GridSteps(len(in.Schedule.Dates), in.StepsPerDate)
		if points := float64(in.NPaths) * float64(steps+1); points > float64(u.cfg.MaxGridPoints) {
			return fmt.Errorf("%w: %d paths on a %d-step grid exceed %d grid points",
				ErrTooManyPaths, in.NPaths, steps, u.cfg.MaxGridPoints)
		}
	}
	return nil
}

// Price values one option. Identical inputs, seed included, are served from
// the cache without running the engine.
func (u *PricingUseCase) Price(ctx context.Context, in models.PricingInputs) (*models.PricingResult, error) {
	if err := u.checkInputs(in); err != nil {
		u.metrics.RecordError("validation")
		return nil, err
	}

	key, keyErr := cache.KeyFor(models.KindPrice, in)
	if u.cache != nil && keyErr == nil {
		var hit models.PricingResult
		err := u.cache.Get(ctx, key, &hit)
		if err == nil {
			u.metrics.RecordCache(true)
			hit.Cached = true
			return &hit, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			u.log.Warn("cache get failed", applogger.String("key", key), applogger.Error(err))
		}
		u.metrics.RecordCache(false)
	}

	est, elapsed, err := u.run(ctx, models.KindPrice, in)
	if err != nil {
		return nil, err
	}
	res := u.newResult(in, est, elapsed)
	u.metrics.RecordLastPrice(string(in.Schedule.Type), est.Price)

	if u.pub != nil {
		if err := u.pub.PublishResult(ctx, res); err != nil {
			u.metrics.RecordError("publish")
			u.log.Error("publish result failed", applogger.String("run_id", res.RunID), applogger.Error(err))
		}
	}
	u.persist(ctx, []models.RunRecord{{
		RunID:         res.RunID,
		Kind:          models.KindPrice,
		OptionType:    string(in.Schedule.Type),
		Strike:        in.Schedule.Strike,
		NPaths:        in.NPaths,
		Price:         est.Price,
		StandardError: est.StandardError,
		CreatedAt:     res.CreatedAt,
	}})
	if u.cache != nil && keyErr == nil {
		if err := u.cache.Set(ctx, key, res, u.cfg.CacheTTL); err != nil {
			u.log.Warn("cache set failed", applogger.String("key", key), applogger.Error(err))
		}
	}
	return res, nil
}

// Convergence prices in once per path count with the same seed. The
// standard error column is expected to shrink roughly as 1/sqrt(n).
func (u *PricingUseCase) Convergence(ctx context.Context, in models.PricingInputs, counts []int) (*models.ConvergenceStudy, error) {
	if len(counts) == 0 {
		counts = u.cfg.ConvergencePaths
	}
	inputs := make([]models.PricingInputs, len(counts))
	for i, n := range counts {
		inputs[i] = in
		inputs[i].NPaths = n
		if err := u.checkInputs(inputs[i]); err != nil {
			u.metrics.RecordError("validation")
			return nil, err
		}
	}

	ests, err := u.runAll(ctx, models.KindConvergence, inputs)
	if err != nil {
		return nil, err
	}
	study := &models.ConvergenceStudy{RunID: u.newID(), Inputs: in, Points: make([]models.ConvergencePoint, len(counts))}
	created := u.now().UTC()
	rows := make([]models.RunRecord, len(counts))
	for i, est := range ests {
		study.Points[i] = models.ConvergencePoint{NPaths: counts[i], Price: est.Price, StandardError: est.StandardError}
		rows[i] = models.RunRecord{
			RunID:         study.RunID,
			Kind:          models.KindConvergence,
			OptionType:    string(in.Schedule.Type),
			Strike:        in.Schedule.Strike,
			NPaths:        counts[i],
			Price:         est.Price,
			StandardError: est.StandardError,
			CreatedAt:     created,
		}
	}
	u.persist(ctx, rows)
	return study, nil
}

// Sensitivity runs one sweep around in.
func (u *PricingUseCase) Sensitivity(ctx context.Context, in models.PricingInputs, kind models.SweepKind) (*models.SensitivitySweep, error) {
	sweeps, err := u.Sweeps(ctx, in, []models.SweepKind{kind}, "")
	if err != nil {
		return nil, err
	}
	return sweeps[0], nil
}

// Sweeps runs the given sweeps. Points of a sweep are priced concurrently
// by a bounded worker group; each pricing call owns its buffers. An empty
// runID draws a fresh one shared by all sweeps.
func (u *PricingUseCase) Sweeps(ctx context.Context, in models.PricingInputs, kinds []models.SweepKind, runID string) ([]*models.SensitivitySweep, error) {
	if err := u.checkInputs(in); err != nil {
		u.metrics.RecordError("validation")
		return nil, err
	}
	if runID == "" {
		runID = u.newID()
	}

	out := make([]*models.SensitivitySweep, 0, len(kinds))
	var rows []models.RunRecord
	created := u.now().UTC()
	for _, kind := range kinds {
		grid, ok := SweepGrids[kind]
		if !ok {
			return nil, &lsm.ConfigurationError{Field: "parameters", Err: fmt.Errorf("unknown sweep %q", kind)}
		}
		inputs := make([]models.PricingInputs, len(grid))
		for i, v := range grid {
			inputs[i] = withParameter(in, kind, v)
		}
		ests, err := u.runAll(ctx, models.KindSensitivity, inputs)
		if err != nil {
			return nil, err
		}

		sweep := &models.SensitivitySweep{RunID: runID, Parameter: kind, Inputs: in, Points: make([]models.SensitivityPoint, len(grid))}
		for i, est := range ests {
			p := models.SensitivityPoint{Parameter: kind, Value: grid[i], Price: est.Price, StandardError: est.StandardError}
			if kind == models.SweepStrike {
				p.Label = Moneyness(in.Schedule.Type, grid[i], in.Model.F0)
			}
			sweep.Points[i] = p
			rows = append(rows, models.RunRecord{
				RunID:         runID,
				Kind:          models.KindSensitivity,
				OptionType:    string(in.Schedule.Type),
				Strike:        inputs[i].Schedule.Strike,
				NPaths:        in.NPaths,
				Price:         est.Price,
				StandardError: est.StandardError,
				Parameter:     string(kind),
				Value:         grid[i],
				Label:         p.Label,
				CreatedAt:     created,
			})
		}
		out = append(out, sweep)
	}
	u.persist(ctx, rows)
	return out, nil
}

// EnqueueSensitivity applies defaults, checks the request against the same
// limits as a synchronous sweep and schedules it. It returns the job id.
func (u *PricingUseCase) EnqueueSensitivity(ctx context.Context, req models.SensitivityRequest) (models.JobAccepted, error) {
	if u.queue == nil {
		return models.JobAccepted{}, ErrQueueDisabled
	}
	if verrs := xhttp.DefaultAndValidate(ctx, &req); verrs != nil {
		u.metrics.RecordError("validation")
		return models.JobAccepted{}, &lsm.ConfigurationError{Field: "request", Err: xhttp.ValidationErrorsAsError(verrs)}
	}
	in, err := u.Resolve(req.PriceRequest)
	if err == nil {
		err = u.checkInputs(in)
	}
	if err != nil {
		u.metrics.RecordError("validation")
		return models.JobAccepted{}, err
	}

	job := models.SensitivityJob{JobID: u.newID(), Request: req}
	if _, err := u.queue.Enqueue(ctx, SensitivityJobType, job); err != nil {
		u.metrics.RecordError("enqueue")
		return models.JobAccepted{}, fmt.Errorf("enqueue sweep: %w", err)
	}
	return models.JobAccepted{JobID: job.JobID, Type: SensitivityJobType}, nil
}

// Runs lists stored runs.
func (u *PricingUseCase) Runs(ctx context.Context, q models.RunsQuery) ([]models.RunRecord, error) {
	if u.store == nil {
		return nil, ErrStorageDisabled
	}
	return u.store.QueryRuns(ctx, q)
}

// Moneyness labels strike relative to the forward: ITM, ATM or OTM from the
// holder's side.
func Moneyness(t models.OptionType, strike, f0 float64) string {
	const tol = 1e-9
	d := f0 - strike
	if t == models.Put {
		d = -d
	}
	switch {
	case math.Abs(d) <= tol*math.Max(1, f0):
		return "ATM"
	case d > 0:
		return "ITM"
	}
	return "OTM"
}

func withParameter(in models.PricingInputs, kind models.SweepKind, v float64) models.PricingInputs {
	switch kind {
	case models.SweepBeta:
		in.Model.Beta = v
	case models.SweepNu:
		in.Model.Nu = v
	case models.SweepRho:
		in.Model.Rho = v
	case models.SweepStrike:
		in.Schedule.Strike = v
	}
	return in
}

// run prices one input set under the configured timeout.
func (u *PricingUseCase) run(ctx context.Context, op string, in models.PricingInputs) (models.PricingEstimate, time.Duration, error) {
	if u.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.cfg.Timeout)
		defer cancel()
	}
	start := time.Now()
	est, err := u.pricer.Price(ctx, in)
	elapsed := time.Since(start)
	if err != nil {
		kind := errorKind(err)
		u.metrics.RecordError(kind)
		u.log.Error("pricing failed",
			applogger.String("op", op),
			applogger.String("kind", kind),
			applogger.Int("paths", in.NPaths),
			applogger.Error(err),
		)
		return models.PricingEstimate{}, elapsed, err
	}
	u.metrics.RecordLatency(op, elapsed)
	return est, elapsed, nil
}

func (u *PricingUseCase) runAll(ctx context.Context, op string, inputs []models.PricingInputs) ([]models.PricingEstimate, error) {
	ests := make([]models.PricingEstimate, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.cfg.SweepWorkers)
	for i := range inputs {
		i := i
		g.Go(func() error {
			est, _, err := u.run(gctx, op, inputs[i])
			if err != nil {
				return err
			}
			ests[i] = est
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ests, nil
}

func (u *PricingUseCase) newResult(in models.PricingInputs, est models.PricingEstimate, elapsed time.Duration) *models.PricingResult {
	lo, hi := est.ConfidenceInterval()
	return &models.PricingResult{
		RunID:     u.newID(),
		Inputs:    in,
		Estimate:  est,
		CILow:     lo,
		CIHigh:    hi,
		Elapsed:   elapsed,
		CreatedAt: u.now().UTC(),
	}
}

// persist stores rows best-effort; history is not worth failing a price.
func (u *PricingUseCase) persist(ctx context.Context, rows []models.RunRecord) {
	if u.store == nil || len(rows) == 0 {
		return
	}
	if err := u.store.StoreRuns(ctx, rows); err != nil {
		u.metrics.RecordError("storage")
		u.log.Error("store runs failed", applogger.Int("rows", len(rows)), applogger.Error(err))
	}
}

func errorKind(err error) string {
	switch {
	case lsm.IsConfigurationError(err):
		return "validation"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}
	return "pricing"
}

type noopMetrics struct{}

func (noopMetrics) RecordError(string)                  {}
func (noopMetrics) RecordLastPrice(string, float64)     {}
func (noopMetrics) RecordLatency(string, time.Duration) {}
func (noopMetrics) RecordCache(bool)                    {}
func (noopMetrics) ObservePaths(int)                    {}
func (noopMetrics) ObserveRegression(int, int)          {}
