package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memBackend struct {
	mu      sync.Mutex
	ready   chan []byte
	retries map[string]time.Time
	dlq     [][]byte
}

func newMemBackend() *memBackend {
	return &memBackend{ready: make(chan []byte, 16), retries: map[string]time.Time{}}
}

func (b *memBackend) ping(context.Context) error { return nil }

func (b *memBackend) push(_ context.Context, data []byte) error {
	b.ready <- data
	return nil
}

func (b *memBackend) pop(ctx context.Context, wait time.Duration) ([]byte, error) {
	select {
	case d := <-b.ready:
		return d, nil
	case <-time.After(wait):
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *memBackend) schedule(_ context.Context, data []byte, at time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.retries[string(data)] = at
	return nil
}

func (b *memBackend) promoteDue(_ context.Context, now time.Time) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for d, at := range b.retries {
		if !at.After(now) {
			delete(b.retries, d)
			b.ready <- []byte(d)
			n++
		}
	}
	return n, nil
}

func (b *memBackend) deadLetter(_ context.Context, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dlq = append(b.dlq, data)
	return nil
}

type sweepPayload struct {
	Kind string `json:"kind"`
}

type recordingJob struct {
	mu    sync.Mutex
	got   []string
	err   error
	done  chan struct{}
	calls int
}

func (j *recordingJob) Name() string { return "recording" }
func (j *recordingJob) Type() string { return "sensitivity.sweep" }

func (j *recordingJob) Handle(_ context.Context, raw json.RawMessage) error {
	p, err := ParsePayload[sweepPayload](raw)
	if err != nil {
		return err
	}
	j.mu.Lock()
	j.got = append(j.got, p.Kind)
	j.calls++
	j.mu.Unlock()
	if j.done != nil {
		j.done <- struct{}{}
	}
	return j.err
}

func TestEnqueueAndDispatch(t *testing.T) {
	b := newMemBackend()
	q := newQueue(nil, Config{Workers: 1}, b, ModeProducerConsumer)
	job := &recordingJob{done: make(chan struct{}, 1)}
	q.RegisterJob(job)

	_, err := q.Enqueue(context.Background(), job.Type(), sweepPayload{Kind: "beta"})
	assert.ErrorIs(t, err, ErrNotRunning)

	require.NoError(t, q.Start(context.Background()))
	defer q.Stop(context.Background())

	id, err := q.Enqueue(context.Background(), job.Type(), sweepPayload{Kind: "beta"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	select {
	case <-job.done:
	case <-time.After(2 * time.Second):
		t.Fatal("job was not dispatched")
	}
	job.mu.Lock()
	assert.Equal(t, []string{"beta"}, job.got)
	job.mu.Unlock()

	_, err = q.Enqueue(context.Background(), "unknown", nil)
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestFailureSchedulesRetryThenDeadLetters(t *testing.T) {
	b := newMemBackend()
	q := newQueue(nil, Config{RetryLimit: 1, RetryDelay: time.Second}, b, ModeConsumerOnly)
	clock := time.Unix(1_700_000_000, 0)
	q.now = func() time.Time { return clock }
	job := &recordingJob{err: errors.New("pricing failed")}
	q.RegisterJob(job)

	data, _ := json.Marshal(Message{ID: "m1", Type: job.Type(), Payload: json.RawMessage(`{"kind":"nu"}`)})
	q.dispatch(context.Background(), data)

	require.Len(t, b.retries, 1)
	for raw, at := range b.retries {
		var m Message
		require.NoError(t, json.Unmarshal([]byte(raw), &m))
		assert.Equal(t, 1, m.Attempts)
		assert.Equal(t, "pricing failed", m.LastError)
		assert.Equal(t, clock.Add(time.Second), at)
	}

	n, _ := b.promoteDue(context.Background(), clock.Add(time.Second))
	require.Equal(t, 1, n)
	q.dispatch(context.Background(), <-b.ready)

	assert.Empty(t, b.retries)
	require.Len(t, b.dlq, 1)
	assert.Equal(t, 2, job.calls)
}

func TestDispatchUnknownOrMalformed(t *testing.T) {
	b := newMemBackend()
	q := newQueue(nil, Config{}, b, ModeConsumerOnly)

	q.dispatch(context.Background(), []byte("not json"))
	data, _ := json.Marshal(Message{ID: "x", Type: "nobody"})
	q.dispatch(context.Background(), data)
	assert.Len(t, b.dlq, 2)
}

func TestProducerOnlyIgnoresJobs(t *testing.T) {
	b := newMemBackend()
	q := newQueue(nil, Config{}, b, ModeProducerOnly)
	q.RegisterJob(&recordingJob{})
	require.NoError(t, q.Start(context.Background()))
	defer q.Stop(context.Background())

	_, err := q.Enqueue(context.Background(), "anything", map[string]int{"a": 1})
	require.NoError(t, err)
	assert.Len(t, b.ready, 1)
	assert.ErrorIs(t, q.Start(context.Background()), ErrAlreadyStart)
}

func TestParsePayload(t *testing.T) {
	p, err := ParsePayload[sweepPayload](json.RawMessage(`{"kind":"rho"}`))
	require.NoError(t, err)
	assert.Equal(t, "rho", p.Kind)

	_, err = ParsePayload[sweepPayload](nil)
	assert.Error(t, err)
	_, err = ParsePayload[sweepPayload](json.RawMessage(`[`))
	assert.Error(t, err)
}

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, time.Second, retryDelay(time.Second, 1))
	assert.Equal(t, 4*time.Second, retryDelay(time.Second, 3))
	assert.Equal(t, 32*time.Second, retryDelay(time.Second, 50))
}
