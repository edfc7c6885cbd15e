package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SabrLSM/internal/domain/models"
	"SabrLSM/internal/middleware"
	"SabrLSM/internal/service/ratelimit"
	"SabrLSM/pkg/config"
	xhttp "SabrLSM/pkg/http"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

type publisher struct{ rec *recorder }

func (p publisher) PublishResult(context.Context, *models.PricingResult) error { return nil }

func (p publisher) Close() error {
	p.rec.add("publisher")
	return nil
}

func testServer() *xhttp.Server {
	return xhttp.NewServer(xhttp.WithHost("127.0.0.1"), xhttp.WithPort(0), xhttp.WithMetrics("", prometheus.NewRegistry()))
}

func TestRunShutsDownInOrder(t *testing.T) {
	rec := &recorder{}
	cfg := config.Default()
	cfg.Server.ShutdownTimeout = 2 * time.Second

	app := New(cfg, nil, testServer(),
		WithPipeline(middleware.NewResultPipeline(publisher{rec}, nil)),
		WithLimiter(ratelimit.New(1, 1)),
		WithCloser("first", closerFunc(func() error { rec.add("first"); return nil })),
		WithCloser("second", closerFunc(func() error { rec.add("second"); return nil })),
		WithCloser("skipped", nil),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, []string{"publisher", "first", "second"}, rec.list())
}

func TestRunJoinsCloseErrors(t *testing.T) {
	cfg := config.Default()
	app := New(cfg, nil, testServer(),
		WithCloser("bad", closerFunc(func() error { return errors.New("close failed") })),
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := app.Run(ctx)
	assert.EqualError(t, err, "close failed")
}
