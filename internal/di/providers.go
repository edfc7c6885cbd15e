package di

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"SabrLSM/internal/domain/models"
	"SabrLSM/internal/domain/repository"
	"SabrLSM/internal/handler/api"
	mid "SabrLSM/internal/middleware"
	internalrepo "SabrLSM/internal/repository"
	"SabrLSM/internal/service/ratelimit"
	"SabrLSM/internal/services/lsm"
	"SabrLSM/internal/usecase"
	"SabrLSM/pkg/cache"
	pkgch "SabrLSM/pkg/clickhouse"
	"SabrLSM/pkg/config"
	xhttp "SabrLSM/pkg/http"
	pkgkafka "SabrLSM/pkg/kafka"
	applogger "SabrLSM/pkg/logger"
	"SabrLSM/pkg/metrics"
	"SabrLSM/pkg/queue"
	"SabrLSM/pkg/server"
)

const initTimeout = 10 * time.Second

// ProvideLogger builds the service logger from the logger section.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&cfg.Logger.Config)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l, nil
}

// ProvideRegistry creates a private registry with the runtime collectors.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// ProvideMetrics creates the Prometheus metrics recorder.
func ProvideMetrics(reg *prometheus.Registry) *metrics.Recorder {
	return metrics.New(reg)
}

// ProvideEngine creates the LSM pricing engine.
func ProvideEngine(cfg *config.Config, l *applogger.Logger, rec *metrics.Recorder) *lsm.Engine {
	return lsm.NewEngine(
		lsm.WithStepsPerPeriod(cfg.Pricing.StepsPerPeriod),
		lsm.WithLogger(l),
		lsm.WithObserver(rec),
	)
}

// ProvideKafkaProducer creates a Kafka producer, or nil when Kafka is off.
func ProvideKafkaProducer(cfg *config.Config, reg *prometheus.Registry) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
		pkgkafka.WithProducerRegisterer(reg),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideResultPipeline wraps the Kafka result publisher with validation,
// buffering and retries. Nil when Kafka is off.
func ProvideResultPipeline(cfg *config.Config, producer *pkgkafka.Producer, rec *metrics.Recorder, l *applogger.Logger) *mid.ResultPipeline {
	if producer == nil {
		return nil
	}
	pub := internalrepo.NewKafkaResultPublisher(producer, cfg.Kafka.ResultTopic)
	return mid.NewResultPipeline(pub, rec,
		mid.WithBufferSize(cfg.Kafka.Pipeline.BufferSize),
		mid.WithRetry(cfg.Kafka.Pipeline.MaxRetries, cfg.Kafka.Pipeline.BaseDelay),
		mid.WithPipelineLogger(l),
	)
}

// ProvideKafkaConsumer creates the pricing.requests consumer, or nil when
// Kafka is off.
func ProvideKafkaConsumer(cfg *config.Config, reg *prometheus.Registry, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	c := cfg.Kafka.Consumer
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(c.GroupID),
		pkgkafka.WithConsumerWorkers(c.Workers),
		pkgkafka.WithConsumerBufferSize(c.BufferSize),
		pkgkafka.WithConsumerRetry(c.RetryMax, c.BackoffMin, c.BackoffMax),
		pkgkafka.WithConsumerDLQ(c.DLQTopic),
		pkgkafka.WithConsumerFetch(c.MinBytes, c.MaxBytes),
		pkgkafka.WithConsumerLogger(l),
		pkgkafka.WithConsumerRegisterer(reg),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.LoggingHook(l))
	return consumer, nil
}

// ProvideRedisClient connects to Redis when the layered cache or the job
// queue needs it.
func ProvideRedisClient(cfg *config.Config) (*redis.Client, error) {
	needed := (cfg.Cache.Enabled && cfg.Cache.Mode == "layered") || cfg.Queue.Enabled
	if !needed {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()
	client, err := cache.NewRedisClient(ctx,
		cache.WithRedisAddr(cfg.Redis.Addr()),
		cache.WithRedisAuth(cfg.Redis.Password, cfg.Redis.DB),
		cache.WithRedisPool(cfg.Redis.PoolSize, cfg.Redis.MinIdleConns, cfg.Redis.PoolTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("redis client: %w", err)
	}
	return client, nil
}

// ProvideCache builds the result cache: memory only, or memory in front of
// Redis. Nil when caching is off.
func ProvideCache(cfg *config.Config, rc *redis.Client) cache.Service {
	if !cfg.Cache.Enabled {
		return nil
	}
	mem := cache.NewMemoryCache(
		cache.WithMemoryMaxSize(cfg.Cache.MemoryMaxSize),
		cache.WithMemoryTTL(cfg.Cache.TTL),
	)
	if cfg.Cache.Mode != "layered" || rc == nil {
		return mem
	}
	return cache.NewLayeredCache(mem, cache.NewRedisCacheFromClient(rc, cfg.Cache.Prefix))
}

// ProvideClickHouseClient opens ClickHouse, or returns nil when run
// history is off.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	ch := cfg.ClickHouse
	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()
	client, err := pkgch.NewClient(ctx,
		pkgch.WithAddr(ch.Host, ch.Port),
		pkgch.WithDatabase(ch.Database),
		pkgch.WithCredentials(ch.User, ch.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(ch.UseHTTP),
		pkgch.WithAsyncInsert(ch.AsyncInsert, ch.WaitForAsync),
		pkgch.WithTimeouts(ch.DialTimeout, ch.ReadTimeout),
		pkgch.WithMaxExecutionTime(ch.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideRunStore creates the run history table. Nil without ClickHouse.
func ProvideRunStore(client *pkgch.Client, l *applogger.Logger) (repository.Storage, error) {
	if client == nil {
		return nil, nil
	}
	store := internalrepo.NewCHRunStore(client, l)
	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()
	if err := store.Init(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return store, nil
}

// ProvideJobQueue creates the Redis job queue. Nil when the queue is off.
func ProvideJobQueue(cfg *config.Config, rc *redis.Client, l *applogger.Logger) *queue.RedisQueue {
	if !cfg.Queue.Enabled || rc == nil {
		return nil
	}
	return queue.NewRedisQueue(l, queue.Config{
		Workers:    cfg.Queue.Workers,
		RetryLimit: cfg.Queue.MaxRetries,
		RetryDelay: cfg.Queue.BaseBackoff,
	}, rc, queue.ModeProducerConsumer, queue.WithKeyPrefix(cfg.Cache.Prefix+":queue:"+cfg.Queue.Name))
}

// ProvidePricingUseCase wires the use case to whichever backends are on.
// Nil components are left out so the use case sees nil interfaces.
func ProvidePricingUseCase(
	cfg *config.Config,
	engine *lsm.Engine,
	c cache.Service,
	pipeline *mid.ResultPipeline,
	store repository.Storage,
	q *queue.RedisQueue,
	rec *metrics.Recorder,
	l *applogger.Logger,
) *usecase.PricingUseCase {
	p := cfg.Pricing
	opts := []usecase.Option{usecase.WithMetrics(rec), usecase.WithLogger(l)}
	if c != nil {
		opts = append(opts, usecase.WithCache(c))
	}
	if pipeline != nil {
		opts = append(opts, usecase.WithPublisher(pipeline))
	}
	if store != nil {
		opts = append(opts, usecase.WithStorage(store))
	}
	if q != nil {
		opts = append(opts, usecase.WithJobQueue(q))
	}
	return usecase.NewPricingUseCase(usecase.PricingConfig{
		Defaults: models.PricingDefaults{
			Degree:         p.Degree,
			NPaths:         p.NPaths,
			Seed:           p.Seed,
			StepsPerPeriod: p.StepsPerPeriod,
		},
		MaxPaths:         p.MaxPaths,
		MaxGridPoints:    p.MaxGridPoints,
		Timeout:          p.Timeout,
		SweepWorkers:     p.SweepWorkers,
		CacheTTL:         cfg.Cache.TTL,
		ConvergencePaths: p.ConvergencePaths,
	}, engine, opts...)
}

// ProvideLimiter creates the per-client token bucket for compute routes.
func ProvideLimiter(cfg *config.Config) *ratelimit.Limiter {
	return ratelimit.New(cfg.Server.RateLimit.Capacity, cfg.Server.RateLimit.RefillPerSec)
}

// ProvidePricingHandler creates the echo handler with a health check per
// enabled backend.
func ProvidePricingHandler(
	l *applogger.Logger,
	uc *usecase.PricingUseCase,
	limiter *ratelimit.Limiter,
	store repository.Storage,
	rc *redis.Client,
) *api.PricingEchoHandler {
	opts := []api.HandlerOption{api.WithRateLimiter(limiter)}
	if store != nil {
		opts = append(opts, api.WithHealthCheck("clickhouse", store.Health))
	}
	if rc != nil {
		opts = append(opts, api.WithHealthCheck("redis", func(ctx context.Context) error {
			return rc.Ping(ctx).Err()
		}))
	}
	return api.NewPricingEchoHandler(l, uc, opts...)
}

// ProvideHTTPServer creates the echo server and registers the API routes.
func ProvideHTTPServer(cfg *config.Config, reg *prometheus.Registry, l *applogger.Logger, h *api.PricingEchoHandler) *xhttp.Server {
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	srv := xhttp.NewServer(
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithMetrics(metricsPath, reg),
		xhttp.WithCORS(cfg.Server.CORS),
		xhttp.WithServerLogger(l),
	)
	srv.Register(h)
	return srv
}

// ProvideApp assembles the application and attaches the Kafka log
// collector when configured.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	srv *xhttp.Server,
	uc *usecase.PricingUseCase,
	limiter *ratelimit.Limiter,
	producer *pkgkafka.Producer,
	pipeline *mid.ResultPipeline,
	consumer *pkgkafka.Consumer,
	q *queue.RedisQueue,
	ch *pkgch.Client,
	c cache.Service,
	rc *redis.Client,
) *server.App {
	if cfg.Logger.Collect.Enabled && producer != nil {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   cfg.Logger.Collect.Interval,
			CountThreshold: cfg.Logger.Collect.CountThreshold,
			Topic:          cfg.Logger.Collect.Topic,
			Publisher:      producer,
		})
	}

	opts := []server.Option{server.WithLimiter(limiter)}
	if pipeline != nil {
		opts = append(opts, server.WithPipeline(pipeline))
	}
	if consumer != nil {
		opts = append(opts, server.WithConsumer(consumer, usecase.NewKafkaPriceRequestHandler(cfg.Kafka.RequestTopic, uc, l)))
	}
	if q != nil {
		opts = append(opts, server.WithQueue(q, usecase.NewSensitivityJob(uc, l)))
	}
	if ch != nil {
		opts = append(opts, server.WithCloser("clickhouse", ch))
	}
	if c != nil {
		opts = append(opts, server.WithCloser("cache", c))
	}
	if rc != nil {
		opts = append(opts, server.WithCloser("redis", rc))
	}
	return server.New(cfg, l, srv, opts...)
}
