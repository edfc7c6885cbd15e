package middleware

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"SabrLSM/internal/domain/models"
	domrepo "SabrLSM/internal/domain/repository"
	applogger "SabrLSM/pkg/logger"
)

var (
	ErrInvalidResult = errors.New("pipeline: invalid result")
	ErrBufferFull    = errors.New("pipeline: buffer full")
)

// PipelineMetrics is the slice of the metrics recorder the pipeline uses.
type PipelineMetrics interface {
	RecordError(kind string)
	RecordDrop()
}

type noopPipelineMetrics struct{}

func (noopPipelineMetrics) RecordError(string) {}
func (noopPipelineMetrics) RecordDrop()        {}

// ResultPipeline decorates a Publisher. It rejects malformed results, and
// when the downstream publish fails it parks the result in a bounded buffer
// that a background loop retries with exponential backoff. Results that
// cannot be buffered or exhaust their retries are dropped and counted.
type ResultPipeline struct {
	next       domrepo.Publisher
	metrics    PipelineMetrics
	log        *applogger.Logger
	buf        chan *models.PricingResult
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration

	mu      sync.Mutex
	started bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

var _ domrepo.Publisher = (*ResultPipeline)(nil)

type PipelineOption func(*ResultPipeline)

// WithBufferSize sets how many failed results may wait for a retry.
func WithBufferSize(n int) PipelineOption {
	return func(p *ResultPipeline) {
		if n > 0 {
			p.buf = make(chan *models.PricingResult, n)
		}
	}
}

// WithRetry sets the retry budget and the first backoff delay.
func WithRetry(maxRetries int, base time.Duration) PipelineOption {
	return func(p *ResultPipeline) {
		if maxRetries >= 0 {
			p.maxRetries = maxRetries
		}
		if base > 0 {
			p.baseDelay = base
		}
	}
}

func WithPipelineLogger(l *applogger.Logger) PipelineOption {
	return func(p *ResultPipeline) {
		if l != nil {
			p.log = l
		}
	}
}

func NewResultPipeline(next domrepo.Publisher, metrics PipelineMetrics, opts ...PipelineOption) *ResultPipeline {
	if metrics == nil {
		metrics = noopPipelineMetrics{}
	}
	p := &ResultPipeline{
		next:       next,
		metrics:    metrics,
		log:        applogger.Nop(),
		buf:        make(chan *models.PricingResult, 256),
		maxRetries: 5,
		baseDelay:  100 * time.Millisecond,
		maxDelay:   5 * time.Second,
		stop:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the retry loop.
func (p *ResultPipeline) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	p.wg.Add(1)
	go p.loop()
}

// PublishResult validates r and forwards it. A result parked for retry
// counts as accepted and returns nil.
func (p *ResultPipeline) PublishResult(ctx context.Context, r *models.PricingResult) error {
	if err := validateResult(r); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}
	err := p.next.PublishResult(ctx, r)
	if err == nil {
		return nil
	}
	p.metrics.RecordError("pipeline_publish")
	select {
	case p.buf <- r:
		p.log.Warn("result buffered for retry", applogger.String("run_id", r.RunID), applogger.Error(err))
		return nil
	default:
		p.metrics.RecordDrop()
		return fmt.Errorf("%w: %v", ErrBufferFull, err)
	}
}

// Pending returns the number of results waiting for a retry.
func (p *ResultPipeline) Pending() int { return len(p.buf) }

func (p *ResultPipeline) loop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			return
		case r := <-p.buf:
			p.retry(r)
		}
	}
}

func (p *ResultPipeline) retry(r *models.PricingResult) {
	delay := p.baseDelay
	for attempt := 1; attempt <= p.maxRetries; attempt++ {
		select {
		case <-p.stop:
			// hand it back for the shutdown flush
			select {
			case p.buf <- r:
			default:
				p.drop(r, "stopped")
			}
			return
		case <-time.After(delay):
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := p.next.PublishResult(ctx, r)
		cancel()
		if err == nil {
			return
		}
		p.log.Warn("result retry failed",
			applogger.String("run_id", r.RunID),
			applogger.Int("attempt", attempt),
			applogger.Error(err))
		delay = min(delay*2, p.maxDelay)
	}
	p.drop(r, "retries exhausted")
}

func (p *ResultPipeline) drop(r *models.PricingResult, reason string) {
	p.metrics.RecordDrop()
	p.log.Error("result dropped", applogger.String("run_id", r.RunID), applogger.String("reason", reason))
}

// Stop ends the retry loop. Results still buffered get one last attempt
// bounded by ctx.
func (p *ResultPipeline) Stop(ctx context.Context) {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	close(p.stop)
	p.mu.Unlock()
	p.wg.Wait()

	for {
		select {
		case r := <-p.buf:
			if err := p.next.PublishResult(ctx, r); err != nil {
				p.drop(r, "shutdown")
			}
		default:
			return
		}
	}
}

// Close stops the pipeline and closes the downstream publisher.
func (p *ResultPipeline) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.Stop(ctx)
	return p.next.Close()
}

func validateResult(r *models.PricingResult) error {
	switch {
	case r == nil:
		return fmt.Errorf("%w: nil", ErrInvalidResult)
	case r.RunID == "":
		return fmt.Errorf("%w: empty run id", ErrInvalidResult)
	case math.IsNaN(r.Estimate.Price) || math.IsInf(r.Estimate.Price, 0):
		return fmt.Errorf("%w: price is not finite", ErrInvalidResult)
	case r.Estimate.StandardError < 0 || math.IsNaN(r.Estimate.StandardError):
		return fmt.Errorf("%w: bad standard error", ErrInvalidResult)
	case r.Inputs.NPaths <= 0:
		return fmt.Errorf("%w: no paths", ErrInvalidResult)
	}
	return nil
}
