package server

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"SabrLSM/internal/middleware"
	"SabrLSM/internal/service/ratelimit"
	"SabrLSM/pkg/config"
	xhttp "SabrLSM/pkg/http"
	pkgkafka "SabrLSM/pkg/kafka"
	applogger "SabrLSM/pkg/logger"
	"SabrLSM/pkg/queue"
)

const limiterPruneEvery = time.Minute

type namedCloser struct {
	name string
	c    io.Closer
}

// App owns the lifecycle of the pricing service: the HTTP API, the Kafka
// request consumer, the Redis job queue and the result pipeline. Every
// backend except HTTP is optional.
type App struct {
	cfg      *config.Config
	log      *applogger.Logger
	http     *xhttp.Server
	consumer *pkgkafka.Consumer
	kh       pkgkafka.MessageHandler
	queue    *queue.RedisQueue
	jobs     []queue.Job
	pipeline *middleware.ResultPipeline
	limiter  *ratelimit.Limiter
	closers  []namedCloser
}

type Option func(*App)

func WithConsumer(c *pkgkafka.Consumer, h pkgkafka.MessageHandler) Option {
	return func(a *App) { a.consumer, a.kh = c, h }
}

func WithQueue(q *queue.RedisQueue, jobs ...queue.Job) Option {
	return func(a *App) { a.queue, a.jobs = q, jobs }
}

func WithPipeline(p *middleware.ResultPipeline) Option { return func(a *App) { a.pipeline = p } }
func WithLimiter(l *ratelimit.Limiter) Option          { return func(a *App) { a.limiter = l } }

// WithCloser registers a resource closed last, in registration order.
func WithCloser(name string, c io.Closer) Option {
	return func(a *App) {
		if c != nil {
			a.closers = append(a.closers, namedCloser{name: name, c: c})
		}
	}
}

// New creates a new App. Nil optional components are skipped.
func New(cfg *config.Config, l *applogger.Logger, srv *xhttp.Server, opts ...Option) *App {
	if l == nil {
		l = applogger.Nop()
	}
	a := &App{cfg: cfg, log: l, http: srv}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run starts every component and blocks until ctx is done, SIGINT/SIGTERM
// arrives or the HTTP listener fails. It always shuts down before returning.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.start(ctx); err != nil {
		return errors.Join(err, a.shutdown())
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
	case runErr = <-a.http.Errors():
	}
	return errors.Join(runErr, a.shutdown())
}

func (a *App) start(ctx context.Context) error {
	if a.pipeline != nil {
		a.pipeline.Start()
	}

	if a.queue != nil {
		for _, j := range a.jobs {
			a.queue.RegisterJob(j)
		}
		if err := a.queue.Start(ctx); err != nil {
			return err
		}
	}

	if a.consumer != nil && a.kh != nil {
		a.consumer.RegisterHandler(a.kh)
		if err := a.consumer.Start(); err != nil {
			return err
		}
		a.log.Info("kafka consumer started", applogger.String("topic", a.kh.Topic()))
	}

	if a.limiter != nil {
		go a.pruneLimiter(ctx)
	}

	return a.http.Start()
}

func (a *App) pruneLimiter(ctx context.Context) {
	t := time.NewTicker(limiterPruneEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := a.limiter.Prune(); n > 0 {
				a.log.Debug("rate limiter pruned", applogger.Int("buckets", n))
			}
		}
	}
}

// shutdown stops intake first, then drains the pipeline, then closes the
// infrastructure clients.
func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	a.log.Info("shutting down...")

	var errs []error
	if err := a.http.Stop(ctx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
		errs = append(errs, err)
	}
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
			errs = append(errs, err)
		}
	}
	if a.queue != nil {
		if err := a.queue.Stop(ctx); err != nil {
			a.log.Warn("queue stop error", applogger.Error(err))
			errs = append(errs, err)
		}
	}

	// The log collector shares the Kafka producer owned by the pipeline.
	a.log.RemoveCollector()
	if a.pipeline != nil {
		a.pipeline.Stop(ctx)
		if err := a.pipeline.Close(); err != nil {
			a.log.Warn("result publisher close error", applogger.Error(err))
			errs = append(errs, err)
		}
	}

	for _, nc := range a.closers {
		if err := nc.c.Close(); err != nil {
			a.log.Warn("close error", applogger.String("resource", nc.name), applogger.Error(err))
			errs = append(errs, err)
		}
	}

	a.log.Info("shutdown complete")
	return errors.Join(errs...)
}
