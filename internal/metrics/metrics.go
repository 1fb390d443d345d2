// Package metrics exposes Prometheus metrics for template builds and
// parses. Each Collector owns its registry so tests and embedded servers do
// not share global state.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Status label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

const namespace = "pegtmpl"

// Config configures a Collector.
type Config struct {
	Namespace string
	// DurationBuckets are histogram buckets in seconds for build and
	// parse durations.
	DurationBuckets []float64
	// RuntimeMetrics registers the Go runtime and process collectors.
	RuntimeMetrics bool
}

// Collector records build and parse metrics.
type Collector struct {
	registry *prometheus.Registry

	buildsTotal   *prometheus.CounterVec
	buildDuration *prometheus.HistogramVec
	buildActions  prometheus.Histogram
	grammarBytes  prometheus.Histogram

	parsesTotal   *prometheus.CounterVec
	parseDuration *prometheus.HistogramVec
	inputBytes    prometheus.Counter

	errorsTotal *prometheus.CounterVec
	parsers     prometheus.Gauge
}

// NewCollector creates a collector registered on a fresh registry.
func NewCollector(cfg Config) *Collector {
	if cfg.Namespace == "" {
		cfg.Namespace = namespace
	}
	if len(cfg.DurationBuckets) == 0 {
		// 100µs to ~3s
		cfg.DurationBuckets = prometheus.ExponentialBuckets(0.0001, 4, 9)
	}

	c := &Collector{
		registry: prometheus.NewRegistry(),

		buildsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "builds_total",
				Help:      "Total number of grammar template builds",
			},
			[]string{"template", "status"},
		),
		buildDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Name:      "build_duration_seconds",
				Help:      "Duration of grammar template builds in seconds",
				Buckets:   cfg.DurationBuckets,
			},
			[]string{"template"},
		),
		buildActions: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Name:      "build_actions",
				Help:      "Number of actions registered per build",
				Buckets:   []float64{1, 2, 5, 10, 20, 50, 100},
			},
		),
		grammarBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Name:      "grammar_size_bytes",
				Help:      "Size of assembled grammar text in bytes",
				Buckets:   prometheus.ExponentialBuckets(256, 2, 10),
			},
		),

		parsesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "parses_total",
				Help:      "Total number of parses run by compiled grammars",
			},
			[]string{"template", "status"},
		),
		parseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Name:      "parse_duration_seconds",
				Help:      "Duration of parses in seconds",
				Buckets:   cfg.DurationBuckets,
			},
			[]string{"template"},
		),
		inputBytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "parse_input_bytes_total",
				Help:      "Total bytes of parser input",
			},
		),

		errorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "errors_total",
				Help:      "Total number of build and parse errors by kind",
			},
			[]string{"stage", "kind"},
		),
		parsers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Name:      "parsers_loaded",
				Help:      "Number of compiled parsers currently served",
			},
		),
	}

	c.registry.MustRegister(
		c.buildsTotal,
		c.buildDuration,
		c.buildActions,
		c.grammarBytes,
		c.parsesTotal,
		c.parseDuration,
		c.inputBytes,
		c.errorsTotal,
		c.parsers,
	)
	if cfg.RuntimeMetrics {
		c.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return c
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// RecordBuild records a finished template build. kind classifies err and
// is ignored on success.
func (c *Collector) RecordBuild(template string, actions, grammarBytes int, duration time.Duration, err error, kind string) {
	status := StatusSuccess
	if err != nil {
		status = StatusError
		c.errorsTotal.WithLabelValues("build", kind).Inc()
	}
	c.buildsTotal.WithLabelValues(template, status).Inc()
	c.buildDuration.WithLabelValues(template).Observe(duration.Seconds())
	if err == nil {
		c.buildActions.Observe(float64(actions))
		c.grammarBytes.Observe(float64(grammarBytes))
	}
}

// RecordParse records a finished parse.
func (c *Collector) RecordParse(template string, inputBytes int, duration time.Duration, err error, kind string) {
	status := StatusSuccess
	if err != nil {
		status = StatusError
		c.errorsTotal.WithLabelValues("parse", kind).Inc()
	}
	c.parsesTotal.WithLabelValues(template, status).Inc()
	c.parseDuration.WithLabelValues(template).Observe(duration.Seconds())
	c.inputBytes.Add(float64(inputBytes))
}

// SetParsers sets the number of parsers currently loaded.
func (c *Collector) SetParsers(n int) {
	c.parsers.Set(float64(n))
}

// Handler returns an HTTP handler exposing the collector's metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
