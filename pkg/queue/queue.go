package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotRunning   = errors.New("queue: not running")
	ErrUnknownType  = errors.New("queue: no job registered for type")
	ErrAlreadyStart = errors.New("queue: already running")
)

// Publisher enqueues work and returns its message id.
type Publisher interface {
	Enqueue(ctx context.Context, msgType string, payload any) (string, error)
}

type Config struct {
	Workers    int
	RetryLimit int
	RetryDelay time.Duration // base delay, doubled per attempt
	PollEvery  time.Duration // retry-set scan interval
}

// Message is the envelope stored in Redis.
type Message struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int             `json:"attempts"`
	Timestamp time.Time       `json:"timestamp"`
	LastError string          `json:"last_error,omitempty"`
}

// ParsePayload decodes a job payload into T.
func ParsePayload[T any](payload json.RawMessage) (*T, error) {
	var v T
	if len(payload) == 0 {
		return nil, errors.New("queue: empty payload")
	}
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return &v, nil
}

// retryDelay doubles base per prior attempt, capped at 32x.
func retryDelay(base time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	if attempts > 6 {
		attempts = 6
	}
	return base << uint(attempts-1)
}
