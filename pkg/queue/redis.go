package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	applogger "SabrLSM/pkg/logger"
)

// Mode selects which side of the queue a process runs.
type Mode int

const (
	ModeProducerConsumer Mode = iota
	ModeProducerOnly
	ModeConsumerOnly
)

func (m Mode) String() string {
	switch m {
	case ModeProducerOnly:
		return "producer-only"
	case ModeConsumerOnly:
		return "consumer-only"
	}
	return "producer-consumer"
}

// backend is the storage contract: a list of ready messages, a sorted set
// of delayed retries and a dead-letter list.
type backend interface {
	ping(ctx context.Context) error
	push(ctx context.Context, data []byte) error
	pop(ctx context.Context, wait time.Duration) ([]byte, error) // nil, nil on timeout
	schedule(ctx context.Context, data []byte, at time.Time) error
	promoteDue(ctx context.Context, now time.Time) (int, error)
	deadLetter(ctx context.Context, data []byte) error
}

// RedisQueue is a Redis-backed job queue with retries and a DLQ.
type RedisQueue struct {
	log     *applogger.Logger
	cfg     Config
	store   backend
	mode    Mode
	jobs    map[string]Job
	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	now     func() time.Time
	newID   func() string
}

type Option func(*RedisQueue)

// WithKeyPrefix namespaces all Redis keys.
func WithKeyPrefix(prefix string) Option {
	return func(q *RedisQueue) {
		if rb, ok := q.store.(*redisBackend); ok {
			rb.prefix = prefix
		}
	}
}

// NewRedisQueue builds a queue over client.
func NewRedisQueue(l *applogger.Logger, cfg Config, client *redis.Client, mode Mode, opts ...Option) *RedisQueue {
	return newQueue(l, cfg, &redisBackend{client: client, prefix: "sabrlsm:queue"}, mode, opts...)
}

func newQueue(l *applogger.Logger, cfg Config, store backend, mode Mode, opts ...Option) *RedisQueue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = time.Second
	}
	if l == nil {
		l = applogger.Nop()
	}
	q := &RedisQueue{
		log:   l,
		cfg:   cfg,
		store: store,
		mode:  mode,
		jobs:  make(map[string]Job),
		now:   time.Now,
	}
	q.newID = func() string { return strconv.FormatInt(q.now().UnixNano(), 36) }
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// RegisterJob routes msgType to job. The first registration wins.
func (q *RedisQueue) RegisterJob(job Job) {
	if q.mode == ModeProducerOnly {
		q.log.Warn("job registration ignored in producer-only mode", applogger.String("job", job.Name()))
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.jobs[job.Type()]; ok {
		q.log.Warn("job already registered", applogger.String("job", job.Name()))
		return
	}
	q.jobs[job.Type()] = job
	q.log.Info("job registered", applogger.String("job", job.Name()), applogger.String("type", job.Type()))
}

// Start pings Redis and, unless producer-only, starts the workers and the
// retry promoter.
func (q *RedisQueue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return ErrAlreadyStart
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := q.store.ping(pingCtx); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	runCtx, stop := context.WithCancel(context.Background())
	q.cancel = stop
	q.running = true

	if q.mode != ModeProducerOnly {
		for i := 0; i < q.cfg.Workers; i++ {
			q.wg.Add(1)
			go q.worker(runCtx)
		}
		q.wg.Add(1)
		go q.retryLoop(runCtx)
	}
	q.log.Info("redis queue started", applogger.Int("workers", q.cfg.Workers), applogger.String("mode", q.mode.String()))
	return nil
}

// Stop cancels workers and waits for in-flight jobs.
func (q *RedisQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return nil
	}
	q.running = false
	q.cancel()
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for queue workers: %w", ctx.Err())
	case <-done:
		q.log.Info("redis queue stopped")
		return nil
	}
}

// Enqueue pushes payload as msgType and returns the message id.
func (q *RedisQueue) Enqueue(ctx context.Context, msgType string, payload any) (string, error) {
	q.mu.RLock()
	running := q.running
	_, known := q.jobs[msgType]
	q.mu.RUnlock()

	if !running {
		return "", ErrNotRunning
	}
	if q.mode != ModeProducerOnly && !known {
		return "", fmt.Errorf("%w: %s", ErrUnknownType, msgType)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	msg := Message{ID: q.newID(), Type: msgType, Payload: raw, Timestamp: q.now()}
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}
	if err := q.store.push(ctx, data); err != nil {
		return "", fmt.Errorf("lpush: %w", err)
	}
	return msg.ID, nil
}

func (q *RedisQueue) worker(ctx context.Context) {
	defer q.wg.Done()
	for ctx.Err() == nil {
		data, err := q.store.pop(ctx, time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			q.log.Error("brpop error", applogger.Error(err))
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		if data != nil {
			q.dispatch(ctx, data)
		}
	}
}

func (q *RedisQueue) dispatch(ctx context.Context, data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		q.log.Error("unmarshal message", applogger.Error(err))
		_ = q.store.deadLetter(ctx, data)
		return
	}

	q.mu.RLock()
	job, ok := q.jobs[msg.Type]
	q.mu.RUnlock()
	if !ok {
		q.log.Error("no job found", applogger.String("type", msg.Type), applogger.String("id", msg.ID))
		_ = q.store.deadLetter(ctx, data)
		return
	}

	start := time.Now()
	err := job.Handle(ctx, msg.Payload)
	if err == nil {
		q.log.Debug("job done", applogger.String("id", msg.ID), applogger.Duration("elapsed_ms", time.Since(start)))
		return
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		// shutting down; requeue untouched
		_ = q.store.push(context.Background(), data)
		return
	}
	q.fail(msg, job, err)
}

func (q *RedisQueue) fail(msg Message, job Job, err error) {
	msg.Attempts++
	msg.LastError = err.Error()
	q.log.Error("job failed",
		applogger.String("id", msg.ID),
		applogger.String("job", job.Name()),
		applogger.Int("attempt", msg.Attempts),
		applogger.Error(err))

	data, merr := json.Marshal(msg)
	if merr != nil {
		q.log.Error("marshal retry", applogger.Error(merr))
		return
	}
	ctx := context.Background()
	if msg.Attempts > q.cfg.RetryLimit {
		if err := q.store.deadLetter(ctx, data); err != nil {
			q.log.Error("lpush dlq", applogger.Error(err))
		}
		return
	}
	at := q.now().Add(retryDelay(q.cfg.RetryDelay, msg.Attempts))
	if err := q.store.schedule(ctx, data, at); err != nil {
		q.log.Error("zadd retry", applogger.Error(err))
	}
}

func (q *RedisQueue) retryLoop(ctx context.Context) {
	defer q.wg.Done()
	t := time.NewTicker(q.cfg.PollEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := q.store.promoteDue(ctx, q.now()); err != nil && ctx.Err() == nil {
				q.log.Error("promote retries", applogger.Error(err))
			}
		}
	}
}

type redisBackend struct {
	client *redis.Client
	prefix string
}

func (b *redisBackend) key(kind string) string { return b.prefix + ":" + kind }

func (b *redisBackend) ping(ctx context.Context) error { return b.client.Ping(ctx).Err() }

func (b *redisBackend) push(ctx context.Context, data []byte) error {
	return b.client.LPush(ctx, b.key("messages"), data).Err()
}

func (b *redisBackend) pop(ctx context.Context, wait time.Duration) ([]byte, error) {
	res, err := b.client.BRPop(ctx, wait, b.key("messages")).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(res) < 2 {
		return nil, nil
	}
	return []byte(res[1]), nil
}

func (b *redisBackend) schedule(ctx context.Context, data []byte, at time.Time) error {
	return b.client.ZAdd(ctx, b.key("retry"), redis.Z{Score: float64(at.Unix()), Member: data}).Err()
}

func (b *redisBackend) promoteDue(ctx context.Context, now time.Time) (int, error) {
	due, err := b.client.ZRangeByScore(ctx, b.key("retry"), &redis.ZRangeBy{
		Min: "0",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}
	moved := 0
	for _, m := range due {
		pipe := b.client.TxPipeline()
		rem := pipe.ZRem(ctx, b.key("retry"), m)
		pipe.LPush(ctx, b.key("messages"), m)
		if _, err := pipe.Exec(ctx); err != nil {
			return moved, err
		}
		if rem.Val() > 0 {
			moved++
		}
	}
	return moved, nil
}

func (b *redisBackend) deadLetter(ctx context.Context, data []byte) error {
	return b.client.LPush(ctx, b.key("dlq"), data).Err()
}
