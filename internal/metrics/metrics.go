// Package metrics holds the Prometheus instrumentation of the alert
// pipeline. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all pipeline metrics
type Metrics struct {
	ProviderCalls    *prometheus.CounterVec
	ProviderDuration *prometheus.HistogramVec

	AlertsFetched  *prometheus.CounterVec
	AlertsPushed   *prometheus.CounterVec
	AlertsDropped  prometheus.Counter
	AlertsIngested *prometheus.CounterVec

	InstructionsSkipped prometheus.Counter
	Enrichments         *prometheus.CounterVec

	CacheLookups *prometheus.CounterVec
}

// New creates the pipeline metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ProviderCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertflow_provider_calls_total",
			Help: "Provider operations by provider type, operation and result",
		}, []string{"provider", "operation", "result"}),
		ProviderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "alertflow_provider_call_duration_seconds",
			Help:    "Latency of provider operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider", "operation"}),
		AlertsFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertflow_alerts_fetched_total",
			Help: "Alerts pulled from providers",
		}, []string{"provider"}),
		AlertsPushed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertflow_alerts_pushed_total",
			Help: "Alerts submitted to the delivery endpoint by result",
		}, []string{"provider", "result"}),
		AlertsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alertflow_alerts_dropped_total",
			Help: "Pushed payloads dropped because they were not a mapping",
		}),
		AlertsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertflow_alerts_ingested_total",
			Help: "Alerts received by the event endpoint",
		}, []string{"provider"}),
		InstructionsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alertflow_enrichment_instructions_skipped_total",
			Help: "Enrichment instructions whose result path could not be resolved",
		}),
		Enrichments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertflow_enrichments_total",
			Help: "Enrichment writes by result",
		}, []string{"result"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertflow_enrichment_cache_lookups_total",
			Help: "Enrichment cache lookups by result",
		}, []string{"result"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.ProviderCalls,
			m.ProviderDuration,
			m.AlertsFetched,
			m.AlertsPushed,
			m.AlertsDropped,
			m.AlertsIngested,
			m.InstructionsSkipped,
			m.Enrichments,
			m.CacheLookups,
		)
	}
	return m
}

// ObserveCall records one provider operation.
func (m *Metrics) ObserveCall(provider, operation string, started time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ProviderCalls.WithLabelValues(provider, operation, result).Inc()
	m.ProviderDuration.WithLabelValues(provider, operation).Observe(time.Since(started).Seconds())
}

func (m *Metrics) AlertsFetchedAdd(provider string, n int) {
	if m == nil {
		return
	}
	m.AlertsFetched.WithLabelValues(provider).Add(float64(n))
}

func (m *Metrics) AlertPushed(provider string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.AlertsPushed.WithLabelValues(provider, result).Inc()
}

func (m *Metrics) AlertDropped() {
	if m == nil {
		return
	}
	m.AlertsDropped.Inc()
}

func (m *Metrics) AlertIngested(provider string) {
	if m == nil {
		return
	}
	m.AlertsIngested.WithLabelValues(provider).Inc()
}

func (m *Metrics) InstructionSkipped() {
	if m == nil {
		return
	}
	m.InstructionsSkipped.Inc()
}

func (m *Metrics) EnrichmentStored() {
	if m == nil {
		return
	}
	m.Enrichments.WithLabelValues("ok").Inc()
}

func (m *Metrics) EnrichmentFailed() {
	if m == nil {
		return
	}
	m.Enrichments.WithLabelValues("error").Inc()
}

// CacheLookup records hits and misses of one batched lookup.
func (m *Metrics) CacheLookup(hits, misses int) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues("hit").Add(float64(hits))
	m.CacheLookups.WithLabelValues("miss").Add(float64(misses))
}
