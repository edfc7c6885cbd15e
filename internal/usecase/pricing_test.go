package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SabrLSM/internal/domain/models"
	"SabrLSM/internal/services/lsm"
	"SabrLSM/pkg/cache"
	pkgkafka "SabrLSM/pkg/kafka"
)

// fakePricer prices deterministically from the inputs so tests can check
// which inputs reached it.
type fakePricer struct {
	calls    atomic.Int64
	inFlight atomic.Int64
	peak     atomic.Int64
	err      error
	delay    time.Duration
}

func (p *fakePricer) Price(ctx context.Context, in models.PricingInputs) (models.PricingEstimate, error) {
	p.calls.Add(1)
	n := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return models.PricingEstimate{}, ctx.Err()
		}
	}
	if p.err != nil {
		return models.PricingEstimate{}, p.err
	}
	if _, err := lsm.Validate(in); err != nil {
		return models.PricingEstimate{}, err
	}
	return models.PricingEstimate{
		Price:         in.Model.F0 - in.Schedule.Strike + 10*in.Model.Beta + in.Model.Nu + in.Model.Rho,
		StandardError: 1 / float64(in.NPaths),
	}, nil
}

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
	sets int
}

func newMemCache() *memCache { return &memCache{data: map[string][]byte{}} }

func (c *memCache) Get(_ context.Context, key string, dest any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.data[key]
	if !ok {
		return cache.ErrCacheMiss
	}
	return json.Unmarshal(b, dest)
}

func (c *memCache) Set(_ context.Context, key string, value any, _ time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = b
	c.sets++
	return nil
}

type memStore struct {
	mu   sync.Mutex
	rows []models.RunRecord
	err  error
}

func (s *memStore) Init(context.Context) error { return nil }

func (s *memStore) StoreRuns(_ context.Context, runs []models.RunRecord) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, runs...)
	return nil
}

func (s *memStore) QueryRuns(_ context.Context, q models.RunsQuery) ([]models.RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.RunRecord
	for _, r := range s.rows {
		if q.Kind == "" || r.Kind == q.Kind {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memStore) Health(context.Context) error { return nil }
func (s *memStore) Close() error                 { return nil }

type memPublisher struct {
	mu      sync.Mutex
	results []*models.PricingResult
	err     error
}

func (p *memPublisher) PublishResult(_ context.Context, r *models.PricingResult) error {
	if p.err != nil {
		return p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = append(p.results, r)
	return nil
}

func (p *memPublisher) Close() error { return nil }

type memQueue struct {
	msgType string
	payload any
	err     error
}

func (q *memQueue) Enqueue(_ context.Context, msgType string, payload any) (string, error) {
	q.msgType, q.payload = msgType, payload
	return "q-1", q.err
}

type memMetrics struct {
	mu     sync.Mutex
	errors map[string]int
	hits   int
	misses int
	last   map[string]float64
}

func newMemMetrics() *memMetrics {
	return &memMetrics{errors: map[string]int{}, last: map[string]float64{}}
}

func (m *memMetrics) RecordError(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[kind]++
}

func (m *memMetrics) RecordLastPrice(t string, p float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last[t] = p
}

func (m *memMetrics) RecordLatency(string, time.Duration) {}

func (m *memMetrics) RecordCache(hit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hit {
		m.hits++
	} else {
		m.misses++
	}
}

func (m *memMetrics) ObservePaths(int)           {}
func (m *memMetrics) ObserveRegression(int, int) {}

type fixture struct {
	pricer  *fakePricer
	cache   *memCache
	store   *memStore
	pub     *memPublisher
	queue   *memQueue
	metrics *memMetrics
	uc      *PricingUseCase
}

func newFixture(t *testing.T, cfg PricingConfig) *fixture {
	t.Helper()
	f := &fixture{
		pricer:  &fakePricer{},
		cache:   newMemCache(),
		store:   &memStore{},
		pub:     &memPublisher{},
		queue:   &memQueue{},
		metrics: newMemMetrics(),
	}
	var seq atomic.Int64
	f.uc = NewPricingUseCase(cfg, f.pricer,
		WithCache(f.cache),
		WithStorage(f.store),
		WithPublisher(f.pub),
		WithJobQueue(f.queue),
		WithMetrics(f.metrics),
		WithClock(func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }),
		WithIDGenerator(func() string { return fmt.Sprintf("run-%d", seq.Add(1)) }),
	)
	return f
}

func defaultConfig() PricingConfig {
	return PricingConfig{
		Defaults:         models.PricingDefaults{Degree: 3, NPaths: 10000, Seed: 12345, StepsPerPeriod: 25},
		MaxPaths:         100000,
		MaxGridPoints:    10_000_000,
		Timeout:          time.Second,
		SweepWorkers:     2,
		CacheTTL:         time.Minute,
		ConvergencePaths: []int{1000, 5000, 10000, 50000},
	}
}

func baseInputs() models.PricingInputs {
	return models.PricingInputs{
		Model:        models.ModelParameters{F0: 100, Alpha0: 0.2, Beta: 0.5, Nu: 0.4, Rho: -0.3},
		Schedule:     models.ExerciseSchedule{Strike: 100, Dates: []float64{0.25, 0.5, 0.75, 1}, Type: models.Call},
		Rate:         0.05,
		Degree:       3,
		NPaths:       10000,
		Seed:         12345,
		StepsPerDate: 25,
	}
}

func TestPriceServesRepeatFromCache(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	first, err := f.uc.Price(ctx, baseInputs())
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, "run-1", first.RunID)
	assert.InDelta(t, first.Estimate.Price-1.96*first.Estimate.StandardError, first.CILow, 1e-12)

	second, err := f.uc.Price(ctx, baseInputs())
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.RunID, second.RunID)
	assert.Equal(t, first.Estimate.Price, second.Estimate.Price)

	assert.Equal(t, int64(1), f.pricer.calls.Load())
	assert.Equal(t, 1, f.metrics.hits)
	assert.Equal(t, 1, f.metrics.misses)
	assert.Len(t, f.pub.results, 1)
	assert.Len(t, f.store.rows, 1)
	assert.Equal(t, models.KindPrice, f.store.rows[0].Kind)
	assert.Equal(t, first.Estimate.Price, f.metrics.last["CALL"])
}

func TestPriceCacheKeyIncludesSeed(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	_, err := f.uc.Price(ctx, baseInputs())
	require.NoError(t, err)
	in := baseInputs()
	in.Seed = 99
	res, err := f.uc.Price(ctx, in)
	require.NoError(t, err)

	assert.False(t, res.Cached)
	assert.Equal(t, int64(2), f.pricer.calls.Load())
}

func TestPriceRejectsBeforePricing(t *testing.T) {
	f := newFixture(t, defaultConfig())

	in := baseInputs()
	in.Model.Beta = 1.5
	_, err := f.uc.Price(context.Background(), in)
	assert.True(t, lsm.IsConfigurationError(err))

	in = baseInputs()
	in.NPaths = 1_000_000
	_, err = f.uc.Price(context.Background(), in)
	assert.ErrorIs(t, err, ErrTooManyPaths)

	assert.Zero(t, f.pricer.calls.Load())
	assert.Equal(t, 2, f.metrics.errors["validation"])
}

func evenDates(n int) []float64 {
	d := make([]float64, n)
	for i := range d {
		d[i] = float64(i+1) / float64(n)
	}
	return d
}

func TestPriceRejectsOversizedGrid(t *testing.T) {
	f := newFixture(t, defaultConfig())

	// within max_paths, but 20000 x 199001 points would need ~64GB of paths
	in := baseInputs()
	in.NPaths = 20000
	in.StepsPerDate = 1000
	in.Schedule.Dates = evenDates(200)
	_, err := f.uc.Price(context.Background(), in)
	require.ErrorIs(t, err, ErrTooManyPaths)
	assert.Contains(t, err.Error(), "199000-step grid")

	// a single date still simulates one full period
	in = baseInputs()
	in.Schedule.Dates = []float64{1}
	in.StepsPerDate = 1000
	_, err = f.uc.Price(context.Background(), in)
	assert.ErrorIs(t, err, ErrTooManyPaths)

	in = baseInputs()
	in.StepsPerDate = 100
	_, err = f.uc.Convergence(context.Background(), in, []int{1000, 99000})
	assert.ErrorIs(t, err, ErrTooManyPaths)

	assert.Zero(t, f.pricer.calls.Load())
	assert.Equal(t, 3, f.metrics.errors["validation"])

	_, err = f.uc.Price(context.Background(), baseInputs())
	assert.NoError(t, err)
}

func TestPriceTimeoutStopsSimulation(t *testing.T) {
	cfg := defaultConfig()
	cfg.Timeout = 5 * time.Millisecond
	uc := NewPricingUseCase(cfg, lsm.NewEngine())

	// 10000 x 601 points takes far longer than the deadline to simulate
	in := baseInputs()
	in.Schedule.Dates = []float64{1}
	in.StepsPerDate = 600
	start := time.Now()
	_, err := uc.Price(context.Background(), in)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 200*time.Millisecond)
}

func TestPriceSideEffectsAreBestEffort(t *testing.T) {
	f := newFixture(t, defaultConfig())
	f.pub.err = errors.New("kafka down")
	f.store.err = errors.New("clickhouse down")

	res, err := f.uc.Price(context.Background(), baseInputs())
	require.NoError(t, err)
	assert.NotNil(t, res)
	assert.Equal(t, 1, f.metrics.errors["publish"])
	assert.Equal(t, 1, f.metrics.errors["storage"])
}

func TestPriceTimeout(t *testing.T) {
	cfg := defaultConfig()
	cfg.Timeout = 10 * time.Millisecond
	f := newFixture(t, cfg)
	f.pricer.delay = time.Second

	_, err := f.uc.Price(context.Background(), baseInputs())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, f.metrics.errors["timeout"])
	assert.Zero(t, f.cache.sets)
}

func TestConvergenceUsesDefaultCounts(t *testing.T) {
	f := newFixture(t, defaultConfig())

	study, err := f.uc.Convergence(context.Background(), baseInputs(), nil)
	require.NoError(t, err)
	require.Len(t, study.Points, 4)
	for i, n := range []int{1000, 5000, 10000, 50000} {
		assert.Equal(t, n, study.Points[i].NPaths)
		if i > 0 {
			assert.LessOrEqual(t, study.Points[i].StandardError, study.Points[i-1].StandardError)
		}
	}
	assert.Len(t, f.store.rows, 4)
	assert.Equal(t, models.KindConvergence, f.store.rows[0].Kind)
}

func TestConvergenceRejectsOversizedCount(t *testing.T) {
	f := newFixture(t, defaultConfig())
	_, err := f.uc.Convergence(context.Background(), baseInputs(), []int{1000, 200000})
	assert.ErrorIs(t, err, ErrTooManyPaths)
	assert.Zero(t, f.pricer.calls.Load())
}

func TestSensitivityStrikeLabels(t *testing.T) {
	f := newFixture(t, defaultConfig())

	sweep, err := f.uc.Sensitivity(context.Background(), baseInputs(), models.SweepStrike)
	require.NoError(t, err)
	require.Len(t, sweep.Points, 5)

	labels := make([]string, len(sweep.Points))
	for i, p := range sweep.Points {
		labels[i] = p.Label
		// fake price is F0 - K + const, so each point saw its own strike
		assert.InDelta(t, 100-p.Value+5+0.4-0.3, p.Price, 1e-12)
	}
	assert.Equal(t, []string{"ITM", "ITM", "ATM", "OTM", "OTM"}, labels)
	assert.Len(t, f.store.rows, 5)
	assert.Equal(t, "strike", f.store.rows[0].Parameter)
}

func TestSweepsAreBounded(t *testing.T) {
	cfg := defaultConfig()
	cfg.SweepWorkers = 2
	f := newFixture(t, cfg)
	f.pricer.delay = 5 * time.Millisecond

	sweeps, err := f.uc.Sweeps(context.Background(), baseInputs(), models.AllSweeps, "job-7")
	require.NoError(t, err)
	require.Len(t, sweeps, 4)
	for _, s := range sweeps {
		assert.Equal(t, "job-7", s.RunID)
		assert.Len(t, s.Points, 5)
	}
	assert.Equal(t, int64(20), f.pricer.calls.Load())
	assert.LessOrEqual(t, f.pricer.peak.Load(), int64(2))

	beta := sweeps[0]
	assert.Equal(t, models.SweepBeta, beta.Parameter)
	assert.InDelta(t, 10*1.0+0.4-0.3, beta.Points[4].Price, 1e-12)
}

func TestSweepsStopOnError(t *testing.T) {
	f := newFixture(t, defaultConfig())
	f.pricer.err = errors.New("boom")
	_, err := f.uc.Sensitivity(context.Background(), baseInputs(), models.SweepNu)
	assert.EqualError(t, err, "boom")
	assert.Empty(t, f.store.rows)
}

func TestMoneyness(t *testing.T) {
	assert.Equal(t, "ITM", Moneyness(models.Call, 90, 100))
	assert.Equal(t, "ATM", Moneyness(models.Call, 100, 100))
	assert.Equal(t, "OTM", Moneyness(models.Call, 110, 100))
	assert.Equal(t, "OTM", Moneyness(models.Put, 90, 100))
	assert.Equal(t, "ITM", Moneyness(models.Put, 110, 100))
}

func TestEnqueueSensitivity(t *testing.T) {
	f := newFixture(t, defaultConfig())
	acc, err := f.uc.EnqueueSensitivity(context.Background(), models.SensitivityRequest{Parameters: []string{"nu"}})
	require.NoError(t, err)
	assert.Equal(t, SensitivityJobType, acc.Type)
	assert.Equal(t, SensitivityJobType, f.queue.msgType)
	job := f.queue.payload.(models.SensitivityJob)
	assert.Equal(t, acc.JobID, job.JobID)

	noQueue := NewPricingUseCase(defaultConfig(), &fakePricer{})
	_, err = noQueue.EnqueueSensitivity(context.Background(), models.SensitivityRequest{})
	assert.ErrorIs(t, err, ErrQueueDisabled)
}

func TestEnqueueSensitivityAppliesLimits(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	oversized := []models.SensitivityRequest{
		{PriceRequest: models.PriceRequest{NPaths: 200000}},
		{PriceRequest: models.PriceRequest{NPaths: 20000, StepsPerPeriod: 1000, ExerciseDates: evenDates(200)}},
	}
	for _, req := range oversized {
		_, err := f.uc.EnqueueSensitivity(ctx, req)
		assert.ErrorIs(t, err, ErrTooManyPaths)
	}

	_, err := f.uc.EnqueueSensitivity(ctx, models.SensitivityRequest{
		PriceRequest: models.PriceRequest{ExerciseDates: []float64{0.5, 0.5}},
	})
	assert.True(t, lsm.IsConfigurationError(err))

	_, err = f.uc.EnqueueSensitivity(ctx, models.SensitivityRequest{Parameters: []string{"gamma"}})
	assert.True(t, lsm.IsConfigurationError(err))

	assert.Empty(t, f.queue.msgType)
	assert.Equal(t, 4, f.metrics.errors["validation"])
}

func TestRunsWithoutStorage(t *testing.T) {
	uc := NewPricingUseCase(defaultConfig(), &fakePricer{})
	_, err := uc.Runs(context.Background(), models.RunsQuery{})
	assert.ErrorIs(t, err, ErrStorageDisabled)
}

func TestKafkaHandler(t *testing.T) {
	f := newFixture(t, defaultConfig())
	h := NewKafkaPriceRequestHandler("pricing.requests", f.uc, nil)
	ctx := context.Background()
	assert.Equal(t, "pricing.requests", h.Topic())

	require.NoError(t, h.Handle(ctx, []byte(`{"strike": 95, "n_paths": 2000}`)))
	require.Len(t, f.pub.results, 1)
	in := f.pub.results[0].Inputs
	assert.Equal(t, 95.0, in.Schedule.Strike)
	assert.Equal(t, 2000, in.NPaths)
	assert.Equal(t, uint64(12345), in.Seed)
	assert.Equal(t, []float64{0.25, 0.5, 0.75, 1}, in.Schedule.Dates)

	for _, body := range []string{
		`{"strike":`,                      // malformed
		`{"beta": 2}`,                     // tag validation
		`{"exercise_dates": [0.5, 0.25]}`, // engine validation
		`{"n_paths": 900000}`,             // over the limit
		`{"option_type": "straddle"}`,     // unknown type
	} {
		err := h.Handle(ctx, []byte(body))
		assert.ErrorIs(t, err, pkgkafka.ErrPermanent, body)
	}

	f.pricer.err = errors.New("transient")
	err := h.Handle(ctx, []byte(`{"strike": 101}`))
	require.Error(t, err)
	assert.NotErrorIs(t, err, pkgkafka.ErrPermanent)
}

func TestSensitivityJob(t *testing.T) {
	f := newFixture(t, defaultConfig())
	j := NewSensitivityJob(f.uc, nil)
	assert.Equal(t, SensitivityJobType, j.Type())

	payload, err := json.Marshal(models.SensitivityJob{
		JobID:   "job-1",
		Request: models.SensitivityRequest{Parameters: []string{"rho", "beta"}},
	})
	require.NoError(t, err)
	require.NoError(t, j.Handle(context.Background(), payload))

	rows, err := f.uc.Runs(context.Background(), models.RunsQuery{Kind: models.KindSensitivity})
	require.NoError(t, err)
	require.Len(t, rows, 10)
	assert.Equal(t, "job-1", rows[0].RunID)
	assert.Equal(t, "beta", rows[0].Parameter)
	assert.Equal(t, "rho", rows[5].Parameter)

	assert.Error(t, j.Handle(context.Background(), []byte(`{"job_id": 1}`)))
	bad, _ := json.Marshal(models.SensitivityJob{JobID: "job-2", Request: models.SensitivityRequest{Parameters: []string{"gamma"}}})
	assert.Error(t, j.Handle(context.Background(), bad))
}
