package repository

import (
	"context"
	"time"

	"SabrLSM/internal/domain/models"
)

// Publisher ships pricing results downstream.
type Publisher interface {
	PublishResult(ctx context.Context, r *models.PricingResult) error
	Close() error
}

// Storage keeps the run history.
type Storage interface {
	Init(ctx context.Context) error // ensure tables
	StoreRuns(ctx context.Context, runs []models.RunRecord) error
	QueryRuns(ctx context.Context, q models.RunsQuery) ([]models.RunRecord, error)
	Health(ctx context.Context) error
	Close() error
}

// Cache stores deterministic pricing results by request hash.
type Cache interface {
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

// JobQueue enqueues background work.
type JobQueue interface {
	Enqueue(ctx context.Context, msgType string, payload any) (string, error)
}

type Metrics interface {
	RecordError(kind string)
	RecordLastPrice(optionType string, price float64)
	RecordLatency(op string, d time.Duration)
	RecordCache(hit bool)
	ObservePaths(n int)
	ObserveRegression(samples, degenerate int)
}
