// Package metrics exposes orchestrator counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vico_home/actorcast/internal/domain"
)

// Collector receives orchestrator events.
type Collector interface {
	// PeerTransition counts a session entering status.
	PeerTransition(role domain.Role, status domain.PeerStatus)
	// Viewers sets the live session count.
	Viewers(n int)
	// CredentialFetch counts a fetched credential set by provenance.
	CredentialFetch(p domain.Provenance)
	SignalSent(t domain.EventType)
	SignalReceived(t domain.EventType)
	// SourceSwap counts an active source change.
	SourceSwap(empty bool)
}

// Nop discards everything.
type Nop struct{}

func (Nop) PeerTransition(domain.Role, domain.PeerStatus) {}
func (Nop) Viewers(int) {}
func (Nop) CredentialFetch(domain.Provenance) {}
func (Nop) SignalSent(domain.EventType) {}
func (Nop) SignalReceived(domain.EventType) {}
func (Nop) SourceSwap(bool) {}

// PrometheusCollector implements Collector on its own registry.
type PrometheusCollector struct {
	registry *prometheus.Registry

	peerTransitions *prometheus.CounterVec
	viewers         prometheus.Gauge
	credentialFetch *prometheus.CounterVec
	signalSent      *prometheus.CounterVec
	signalReceived  *prometheus.CounterVec
	sourceSwaps     *prometheus.CounterVec
}

// NewPrometheusCollector creates a collector with Go and process metrics
// registered alongside the actorcast ones.
func NewPrometheusCollector() *PrometheusCollector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &PrometheusCollector{
		registry: reg,

		peerTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "actorcast_peer_transitions_total",
				Help: "Peer session status transitions",
			},
			[]string{"role", "status"},
		),

		viewers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "actorcast_viewers",
			Help: "Peer sessions currently connecting or connected",
		}),

		credentialFetch: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "actorcast_credential_fetches_total",
				Help: "Credential sets fetched, by provenance",
			},
			[]string{"provenance"},
		),

		signalSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "actorcast_signal_sent_total",
				Help: "Signaling messages published",
			},
			[]string{"type"},
		),

		signalReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "actorcast_signal_received_total",
				Help: "Signaling messages accepted",
			},
			[]string{"type"},
		),

		sourceSwaps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "actorcast_source_swaps_total",
				Help: "Active source changes",
			},
			[]string{"empty"},
		),
	}
}

func (c *PrometheusCollector) PeerTransition(role domain.Role, status domain.PeerStatus) {
	c.peerTransitions.WithLabelValues(role.String(), status.String()).Inc()
}

func (c *PrometheusCollector) Viewers(n int) {
	c.viewers.Set(float64(n))
}

func (c *PrometheusCollector) CredentialFetch(p domain.Provenance) {
	c.credentialFetch.WithLabelValues(string(p)).Inc()
}

func (c *PrometheusCollector) SignalSent(t domain.EventType) {
	c.signalSent.WithLabelValues(string(t)).Inc()
}

func (c *PrometheusCollector) SignalReceived(t domain.EventType) {
	c.signalReceived.WithLabelValues(string(t)).Inc()
}

func (c *PrometheusCollector) SourceSwap(empty bool) {
	label := "false"
	if empty {
		label = "true"
	}
	c.sourceSwaps.WithLabelValues(label).Inc()
}

// Registry returns the underlying registry.
func (c *PrometheusCollector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *PrometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
