// Package metrics owns the prometheus registry for the responder.
//
// Label discipline: only low-cardinality labels (outcome, build identity).
// Source addresses never become labels - a scanner sweeping a /16 would
// otherwise mint a time series per address.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/quotd/internal/version"
)

type ServerMetrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	connsTotal     *prometheus.CounterVec
	handlerErrors  prometheus.Counter
	decayTicks     prometheus.Counter
	trackedSources prometheus.Gauge
	quoteBytes     prometheus.Histogram
	buildInfo      *prometheus.GaugeVec
}

// New returns a fresh registry with standard Go/process collectors plus the
// responder's own instruments.
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		connsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quotd_connections_total",
			Help: "Total handled connections by outcome (admitted or denied)",
		}, []string{"outcome"}),
		handlerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quotd_connection_errors_total",
			Help: "Total connections whose handling failed with an I/O error",
		}),
		decayTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quotd_ratelimit_decay_ticks_total",
			Help: "Total rate limiter decay passes",
		}),
		trackedSources: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quotd_ratelimit_tracked_sources",
			Help: "Source addresses currently tracked by the rate limiter (updated after each decay)",
		}),
		quoteBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "quotd_quote_bytes",
			Help:    "Size of emitted quote lines including the newline",
			Buckets: []float64{16, 32, 64, 128, 256, 512, 1024},
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "version", "commit", "go_version"}),
	}

	reg.MustRegister(
		m.connsTotal,
		m.handlerErrors,
		m.decayTicks,
		m.trackedSources,
		m.quoteBytes,
		m.buildInfo,
	)

	m.reg = reg
	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	return m
}

// Handler serves the registry for the ops listener.
func (m *ServerMetrics) Handler() http.Handler { return m.handler }

// Registry exposes the underlying registry for tests.
func (m *ServerMetrics) Registry() *prometheus.Registry { return m.reg }

func (m *ServerMetrics) SetBuildInfoFromVersion(vi version.Info) {
	m.buildInfo.WithLabelValues(vi.AppName, vi.Version, vi.Commit, vi.GoVersion).Set(1)
}

func (m *ServerMetrics) IncAdmitted()            { m.connsTotal.WithLabelValues("admitted").Inc() }
func (m *ServerMetrics) IncDenied()              { m.connsTotal.WithLabelValues("denied").Inc() }
func (m *ServerMetrics) IncHandlerError()        { m.handlerErrors.Inc() }
func (m *ServerMetrics) ObserveQuoteBytes(n int) { m.quoteBytes.Observe(float64(n)) }

// RecordDecay notes one decay pass and the resulting tracked-source count.
func (m *ServerMetrics) RecordDecay(tracked int) {
	m.decayTicks.Inc()
	m.trackedSources.Set(float64(tracked))
}
