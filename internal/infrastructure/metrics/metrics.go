// Package metrics collects Prometheus metrics for admission and catalog sync.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/fastygo/agriconnect/domain"
)

// Collector is the Prometheus implementation of the engine and admission hooks.
type Collector struct {
	decisions     *prometheus.CounterVec
	applied       *prometheus.CounterVec
	ignored       *prometheus.CounterVec
	resubscribes  *prometheus.CounterVec
	writeFailures *prometheus.CounterVec
	buffered      prometheus.Counter
	activeHandles prometheus.Gauge
	sessions      prometheus.Gauge
}

// NewCollector creates the collector and registers it on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agriconnect_admission_decisions_total",
			Help: "Admission decisions applied, by resulting state.",
		}, []string{"state"}),
		applied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agriconnect_feed_events_applied_total",
			Help: "Change feed events that changed a read model.",
		}, []string{"kind", "type"}),
		ignored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agriconnect_feed_events_ignored_total",
			Help: "Duplicate or superseded change feed events.",
		}, []string{"kind"}),
		resubscribes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agriconnect_feed_resubscribes_total",
			Help: "Automatic change feed resubscriptions.",
		}, []string{"kind"}),
		writeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agriconnect_catalog_write_failures_total",
			Help: "Rejected or failed catalog writes, by error code.",
		}, []string{"kind", "code"}),
		buffered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agriconnect_catalog_writes_buffered_total",
			Help: "Idempotent writes parked in the offline buffer.",
		}),
		activeHandles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agriconnect_feed_active_subscriptions",
			Help: "Live read-model subscriptions.",
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agriconnect_client_sessions",
			Help: "Signed-in client sessions held by the session hub.",
		}),
	}

	reg.MustRegister(
		c.decisions,
		c.applied,
		c.ignored,
		c.resubscribes,
		c.writeFailures,
		c.buffered,
		c.activeHandles,
		c.sessions,
	)
	return c
}

func (c *Collector) AdmissionDecided(state domain.AdmissionState) {
	c.decisions.WithLabelValues(string(state)).Inc()
}

func (c *Collector) EventApplied(kind domain.CollectionKind, change domain.ChangeType) {
	c.applied.WithLabelValues(string(kind), string(change)).Inc()
}

func (c *Collector) EventIgnored(kind domain.CollectionKind) {
	c.ignored.WithLabelValues(string(kind)).Inc()
}

func (c *Collector) Resubscribed(kind domain.CollectionKind) {
	c.resubscribes.WithLabelValues(string(kind)).Inc()
}

func (c *Collector) WriteFailed(kind domain.CollectionKind, code domain.ErrorCode) {
	c.writeFailures.WithLabelValues(string(kind), string(code)).Inc()
}

func (c *Collector) WriteBuffered() {
	c.buffered.Inc()
}

func (c *Collector) SubscriptionOpened() {
	c.activeHandles.Inc()
}

func (c *Collector) SubscriptionClosed() {
	c.activeHandles.Dec()
}

func (c *Collector) SessionsActive(n int) {
	c.sessions.Set(float64(n))
}

// Handler exposes the gatherer for scraping on the fasthttp router.
func Handler(gatherer prometheus.Gatherer) fasthttp.RequestHandler {
	return fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}
