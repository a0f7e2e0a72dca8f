// Package metrics implements the admin HTTP server (spec.md's ambient
// stack, SPEC_FULL.md §1 "Metrics & health"), grounded directly on
// linkerd2's pkg/admin: a single handler multiplexing /ping, /ready and
// /metrics, plus the domain counters and gauges the hub exposes through
// that last endpoint.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the prometheus collectors the hub registers
// (SPEC_FULL.md §1.A: "cache size, command throughput, collision rate,
// periodic-aggregation batch size"). CacheSize is registered but no
// component sets it, so it exports no series.
type Metrics struct {
	CacheSize         *prometheus.GaugeVec
	CommandsTotal     *prometheus.CounterVec
	CollisionsTotal   *prometheus.CounterVec
	PeriodicBatchSize prometheus.Histogram
	RTUConnections    *prometheus.GaugeVec
}

// New registers every collector against a fresh registry and returns
// both.
func New() (*Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		CacheSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mtuhub",
			Name:      "cache_active_entries",
			Help:      "Number of active entries currently held per cache store.",
		}, []string{"store"}),
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mtuhub",
			Name:      "commands_total",
			Help:      "Commands dispatched by the command server, by outcome.",
		}, []string{"outcome"}),
		CollisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mtuhub",
			Name:      "command_collisions_total",
			Help:      "Commands that found another command already active for the same data point.",
		}, []string{"resolution"}),
		PeriodicBatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mtuhub",
			Name:      "periodic_batch_size",
			Help:      "Number of information objects combined into one periodic-update aggregation window.",
			Buckets:   prometheus.LinearBuckets(1, 4, 10),
		}),
		RTUConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mtuhub",
			Name:      "rtu_connected",
			Help:      "1 if the RTU at the given common address is currently connected, else 0.",
		}, []string{"coa"}),
	}
	reg.MustRegister(m.CacheSize, m.CommandsTotal, m.CollisionsTotal, m.PeriodicBatchSize, m.RTUConnections)
	return m, reg
}

type handler struct {
	promHandler http.Handler
	ready       func() bool
}

// NewServer returns an *http.Server exposing /ping, /ready and /metrics
// on addr, grounded on linkerd2's pkg/admin.NewServer. ready reports
// whether the hub has completed startup (publish/command sockets bound).
func NewServer(addr string, reg *prometheus.Registry, ready func() bool) *http.Server {
	h := &handler{
		promHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ready:       ready,
	}
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 15 * time.Second,
	}
}

func (h *handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	switch req.URL.Path {
	case "/metrics":
		h.promHandler.ServeHTTP(w, req)
	case "/ping":
		w.Write([]byte("pong\n"))
	case "/ready":
		if h.ready != nil && !h.ready() {
			http.Error(w, "not ready\n", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok\n"))
	default:
		http.NotFound(w, req)
	}
}
