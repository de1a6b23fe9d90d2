// Package metrics exposes Prometheus collectors for generation, execution and
// HTTP traffic. A nil *Collector is valid and records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Generation outcomes.
const (
	OutcomeSuccess   = "success"
	OutcomeExhausted = "exhausted"
	OutcomeFatal     = "fatal"
	OutcomeRetry     = "retry"
)

// Collector holds the collectors.
type Collector struct {
	generationAttempts *prometheus.CounterVec
	generationsTotal   *prometheus.CounterVec

	executionsTotal   *prometheus.CounterVec
	executionDuration prometheus.Histogram
	executorKills     prometheus.Counter

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewCollector registers the collectors with reg under namespace.
func NewCollector(reg prometheus.Registerer, namespace string) *Collector {
	f := promauto.With(reg)
	return &Collector{
		generationAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_attempts_total",
			Help:      "Model calls made by the structured-generation loop.",
		}, []string{"shape", "outcome"}),
		generationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Structured-generation requests by final outcome.",
		}, []string{"shape", "outcome"}),
		executionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Sandboxed executions by outcome.",
		}, []string{"outcome"}),
		executionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Wall time of sandboxed executions.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		executorKills: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executor_kills_total",
			Help:      "Subprocesses terminated by the kill flag.",
		}),
		httpRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

// RecordAttempt counts one model call. outcome is success, retry or fatal.
func (c *Collector) RecordAttempt(shape, outcome string) {
	if c == nil {
		return
	}
	c.generationAttempts.WithLabelValues(shape, outcome).Inc()
}

// RecordGeneration counts one finished generation request.
func (c *Collector) RecordGeneration(shape, outcome string) {
	if c == nil {
		return
	}
	c.generationsTotal.WithLabelValues(shape, outcome).Inc()
}

// RecordExecution records one sandboxed execution.
func (c *Collector) RecordExecution(successful bool, d time.Duration) {
	if c == nil {
		return
	}
	outcome := "failure"
	if successful {
		outcome = OutcomeSuccess
	}
	c.executionsTotal.WithLabelValues(outcome).Inc()
	c.executionDuration.Observe(d.Seconds())
}

// RecordKill counts a subprocess terminated by the kill flag.
func (c *Collector) RecordKill() {
	if c == nil {
		return
	}
	c.executorKills.Inc()
}

// RecordHTTPRequest records one served request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}
