package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sabrlsm"

// Recorder implements domain.repository.Metrics using Prometheus. It also
// satisfies lsm.Observer so the engine can count paths and regressions.
type Recorder struct {
	duration       *prometheus.HistogramVec
	errorsTotal    *prometheus.CounterVec
	lastPrice      *prometheus.GaugeVec
	cacheRequests  *prometheus.CounterVec
	pathsSimulated prometheus.Counter
	regressions    prometheus.Counter
	degenerate     prometheus.Counter
	pipelineDrops  prometheus.Counter
}

// New registers the pricing metrics with reg. A nil reg means the default
// registerer; tests pass prometheus.NewRegistry() so repeated construction
// does not collide.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Recorder{
		duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pricing_duration_seconds",
				Help:      "Wall time of pricing operations",
				Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"operation"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Errors by kind",
			},
			[]string{"type"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_price",
				Help:      "Most recent Bermudan price estimate",
			},
			[]string{"option_type"},
		),
		cacheRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_requests_total",
				Help:      "Result cache lookups by outcome",
			},
			[]string{"result"},
		),
		pathsSimulated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "paths_simulated_total",
			Help:      "SABR paths simulated",
		}),
		regressions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "regressions_total",
			Help:      "Continuation-value regressions fitted",
		}),
		degenerate: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degenerate_pivots_total",
			Help:      "Pivots at or below tolerance whose coefficient was zeroed",
		}),
		pipelineDrops: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "result_pipeline_dropped_total",
			Help:      "Pricing results dropped by the publish buffer",
		}),
	}
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLastPrice records the last price for an option type.
func (r *Recorder) RecordLastPrice(optionType string, price float64) {
	r.lastPrice.WithLabelValues(optionType).Set(price)
}

// RecordLatency records operation latency.
func (r *Recorder) RecordLatency(op string, d time.Duration) {
	r.duration.WithLabelValues(op).Observe(d.Seconds())
}

func (r *Recorder) RecordCache(hit bool) {
	if hit {
		r.cacheRequests.WithLabelValues("hit").Inc()
		return
	}
	r.cacheRequests.WithLabelValues("miss").Inc()
}

func (r *Recorder) RecordDrop() { r.pipelineDrops.Inc() }

func (r *Recorder) ObservePaths(n int) { r.pathsSimulated.Add(float64(n)) }

func (r *Recorder) ObserveRegression(_ int, degenerate int) {
	r.regressions.Inc()
	if degenerate > 0 {
		r.degenerate.Add(float64(degenerate))
	}
}
