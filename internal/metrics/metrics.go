// Package metrics exports runner activity as Prometheus collectors.
package metrics

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/samcharles93/mmrunner/internal/runner"
)

const namespace = "mmrunner"

// Outcome label values for GenerationsTotal.
const (
	OutcomeOK              = "ok"
	OutcomeInvalidArgument = "invalid_argument"
	OutcomeInvalidState    = "invalid_state"
	OutcomeCancelled       = "cancelled"
	OutcomeError           = "error"
)

// Recorder implements runner.Recorder.
type Recorder struct {
	GenerationsTotal     *prometheus.CounterVec
	PromptTokensTotal    prometheus.Counter
	GeneratedTokensTotal prometheus.Counter
	PrefillDuration      prometheus.Histogram
	TimeToFirstToken     prometheus.Histogram
	DecodeTokensPerSec   prometheus.Histogram
	CachePosition        prometheus.Gauge
	ResidentBytes        prometheus.Gauge
}

var _ runner.Recorder = (*Recorder)(nil)

// New registers the collectors with reg. Pass prometheus.DefaultRegisterer
// to expose them on the default /metrics handler.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		GenerationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Generate calls by outcome",
		}, []string{"outcome"}),
		PromptTokensTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prompt_tokens_total",
			Help:      "Cache positions consumed by prefill in completed generations",
		}),
		GeneratedTokensTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generated_tokens_total",
			Help:      "Tokens produced by the decode loop",
		}),
		PrefillDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prefill_duration_seconds",
			Help:      "Time from inference start to the end of prompt evaluation",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		TimeToFirstToken: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "time_to_first_token_seconds",
			Help:      "Time from inference start to the first generated token",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		DecodeTokensPerSec: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "decode_tokens_per_second",
			Help:      "Decode throughput per generation",
			Buckets:   []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000},
		}),
		CachePosition: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_position",
			Help:      "Next cache write position of the runner",
		}),
		ResidentBytes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "resident_memory_bytes",
			Help:      "Resident set size sampled after the last generation",
		}),
	}
}

func (r *Recorder) RecordEpisode(s runner.Stats) {
	r.GenerationsTotal.WithLabelValues(OutcomeOK).Inc()
	r.PromptTokensTotal.Add(float64(s.NumPromptTokens))
	r.GeneratedTokensTotal.Add(float64(s.NumGeneratedTokens))
	r.PrefillDuration.Observe(s.PromptEvalTime().Seconds())
	r.TimeToFirstToken.Observe(s.TimeToFirstToken().Seconds())
	if tps := s.DecodeTokensPerSecond(); tps > 0 {
		r.DecodeTokensPerSec.Observe(tps)
	}
	if s.RSSAfterGenerateBytes > 0 {
		r.ResidentBytes.Set(float64(s.RSSAfterGenerateBytes))
	}
}

func (r *Recorder) RecordFailure(err error) {
	r.GenerationsTotal.WithLabelValues(Outcome(err)).Inc()
}

// ObservePosition publishes the runner's cursor.
func (r *Recorder) ObservePosition(pos int64) {
	r.CachePosition.Set(float64(pos))
}

// Outcome classifies a Generate error for the outcome label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, runner.ErrInvalidArgument):
		return OutcomeInvalidArgument
	case errors.Is(err, runner.ErrInvalidState):
		return OutcomeInvalidState
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCancelled
	default:
		return OutcomeError
	}
}
