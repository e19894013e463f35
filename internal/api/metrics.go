package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the server's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	Backtests       *prometheus.CounterVec
	BacktestTrades  prometheus.Histogram
	Orders          *prometheus.CounterVec
	ActiveSessions  prometheus.Gauge
}

// NewMetrics creates and registers every collector, plus the Go runtime
// and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradeforge_http_requests_total",
				Help: "HTTP requests by route and status code",
			},
			[]string{"route", "code"},
		),

		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tradeforge_http_request_duration_seconds",
				Help:    "HTTP request latency by route",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"route"},
		),

		Backtests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradeforge_backtests_total",
				Help: "Backtest runs by strategy kind and outcome",
			},
			[]string{"strategy", "outcome"},
		),

		BacktestTrades: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tradeforge_backtest_trades",
				Help:    "Trades per successful backtest run",
				Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250, 500},
			},
		),

		Orders: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradeforge_orders_total",
				Help: "Live order submissions by outcome",
			},
			[]string{"outcome"},
		),

		ActiveSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tradeforge_paper_sessions_active",
				Help: "Number of running paper trading sessions",
			},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Requests,
		m.RequestDuration,
		m.Backtests,
		m.BacktestTrades,
		m.Orders,
		m.ActiveSessions,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// RecordBacktest counts a finished run.
func (m *Metrics) RecordBacktest(kind string, trades int, err error) {
	if err != nil {
		m.Backtests.WithLabelValues(kind, "error").Inc()
		return
	}
	m.Backtests.WithLabelValues(kind, "ok").Inc()
	m.BacktestTrades.Observe(float64(trades))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush lets streaming handlers flush through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// instrument counts and times requests to one route.
func (m *Metrics) instrument(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		m.Requests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		m.RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}
