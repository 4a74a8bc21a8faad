// Package metrics defines the stage-metrics capability used by the language
// model gateway. Emission is fire-and-forget: the pipeline selects either the
// Prometheus-backed recorder or the no-op recorder at startup, and a recorder
// failure must never surface into the request path.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder records one upstream model call attempt for a named pipeline
// stage. Implementations must be safe for concurrent use and must not panic
// the caller; callers additionally wrap emission in a non-propagating
// boundary.
type Recorder interface {
	Record(stage string, duration time.Duration, tokens int, success bool)
}

// Nop is a Recorder that discards all observations. Used in tests and in
// deployments without a metrics sink.
type Nop struct{}

// Record implements Recorder.
func (Nop) Record(string, time.Duration, int, bool) {}

// Prom records stage metrics to Prometheus collectors. All series carry a
// constant "env" label so dashboards can be split by deployment environment.
type Prom struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	tokens   *prometheus.CounterVec
}

// NewProm constructs a Prometheus-backed Recorder dimensioned by the given
// deployment environment and registers its collectors with reg. Tests should
// pass a private prometheus.NewRegistry(); production callers typically pass
// prometheus.DefaultRegisterer.
func NewProm(environment string, reg prometheus.Registerer) *Prom {
	constLabels := prometheus.Labels{"env": environment}

	p := &Prom{
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "llm_stage_calls_total",
				Help:        "Total upstream model call attempts by pipeline stage.",
				ConstLabels: constLabels,
			},
			[]string{"stage", "success"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "llm_stage_duration_seconds",
				Help:        "Duration of upstream model call attempts in seconds.",
				ConstLabels: constLabels,
				// Upstream model latency runs well past typical HTTP buckets.
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 3, 5, 8, 13},
			},
			[]string{"stage"},
		),
		tokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "llm_stage_tokens_total",
				Help:        "Total tokens consumed by upstream model calls.",
				ConstLabels: constLabels,
			},
			[]string{"stage"},
		),
	}
	reg.MustRegister(p.calls, p.duration, p.tokens)
	return p
}

// Record implements Recorder.
func (p *Prom) Record(stage string, duration time.Duration, tokens int, success bool) {
	p.calls.WithLabelValues(stage, strconv.FormatBool(success)).Inc()
	p.duration.WithLabelValues(stage).Observe(duration.Seconds())
	if tokens > 0 {
		p.tokens.WithLabelValues(stage).Add(float64(tokens))
	}
}
