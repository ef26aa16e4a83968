// Package metrics exposes the Prometheus series named in SPEC_FULL.md
// §4.11. A nil *Metrics is safe to call every recording method on, so
// components never need a presence check before recording an observation.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sauerworld/qmaster/internal/logging"
)

// Metrics holds the registry's Prometheus series.
type Metrics struct {
	registry *prometheus.Registry

	registrySize       prometheus.Gauge
	registrations      *prometheus.CounterVec
	probes             *prometheus.CounterVec
	probeDuration      prometheus.Histogram
	federationScrapes  *prometheus.CounterVec
	authChallenges     *prometheus.CounterVec
	authReplies        *prometheus.CounterVec
	tcpConnectionsOpen prometheus.Gauge
}

// New constructs and registers every series against a private registry
// (never the global default — multiple *Metrics instances, as happen in
// tests, must not collide on double-registration).
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		registrySize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "qmaster_registry_servers",
			Help: "Number of servers currently listed in the registry.",
		}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qmaster_registrations_total",
			Help: "Registration attempts by result.",
		}, []string{"result"}),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qmaster_probes_total",
			Help: "UDP info-port probes by result.",
		}, []string{"result"}),
		probeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "qmaster_probe_duration_seconds",
			Help:    "Time spent waiting for a probe round trip.",
			Buckets: prometheus.DefBuckets,
		}),
		federationScrapes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qmaster_federation_scrapes_total",
			Help: "Federation scrapes by peer and result.",
		}, []string{"peer", "result"}),
		authChallenges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qmaster_auth_challenges_total",
			Help: "Auth challenges issued by result.",
		}, []string{"result"}),
		authReplies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qmaster_auth_replies_total",
			Help: "Auth replies validated by result.",
		}, []string{"result"}),
		tcpConnectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "qmaster_tcp_connections_active",
			Help: "Currently open master-protocol TCP connections.",
		}),
	}

	reg.MustRegister(
		m.registrySize, m.registrations, m.probes, m.probeDuration,
		m.federationScrapes, m.authChallenges, m.authReplies, m.tcpConnectionsOpen,
	)
	return m
}

// StartHTTP serves /metrics on addr until ctx is cancelled. Non-blocking.
func (m *Metrics) StartHTTP(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		logging.Info("metrics: listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("metrics: http server: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
}

// Every recording method is a no-op on a nil receiver, so callers that run
// without a configured Metrics (the default) never need a presence check.

func (m *Metrics) SetRegistrySize(n int) {
	if m == nil {
		return
	}
	m.registrySize.Set(float64(n))
}

func (m *Metrics) IncRegistration(result string) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(result).Inc()
}

func (m *Metrics) IncProbe(result string) {
	if m == nil {
		return
	}
	m.probes.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveProbeDuration(seconds float64) {
	if m == nil {
		return
	}
	m.probeDuration.Observe(seconds)
}

func (m *Metrics) IncFederationScrape(peer, result string) {
	if m == nil {
		return
	}
	m.federationScrapes.WithLabelValues(peer, result).Inc()
}

func (m *Metrics) IncAuthChallenge(result string) {
	if m == nil {
		return
	}
	m.authChallenges.WithLabelValues(result).Inc()
}

func (m *Metrics) IncAuthReply(result string) {
	if m == nil {
		return
	}
	m.authReplies.WithLabelValues(result).Inc()
}

func (m *Metrics) IncConnection() {
	if m == nil {
		return
	}
	m.tcpConnectionsOpen.Inc()
}

func (m *Metrics) DecConnection() {
	if m == nil {
		return
	}
	m.tcpConnectionsOpen.Dec()
}
