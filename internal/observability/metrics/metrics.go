package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

// Metrics exposes the billing engine's health signals: webhook intake,
// ledger movement and monitor job outcomes.
type Metrics struct {
	webhookEvents   *prometheus.CounterVec
	ledgerEntries   *prometheus.CounterVec
	monitorJobRuns  *prometheus.CounterVec
	monitorJobErrs  *prometheus.CounterVec
	monitorDuration *prometheus.HistogramVec
}

func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nimbus_webhook_events_total",
			Help: "Inbound payment processor events by type and result.",
		}, []string{"event_type", "result"}),
		ledgerEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nimbus_credit_entries_total",
			Help: "Credit ledger entries appended by type.",
		}, []string{"entry_type"}),
		monitorJobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nimbus_monitor_job_runs_total",
			Help: "Monitor job executions by job name.",
		}, []string{"job"}),
		monitorJobErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nimbus_monitor_job_errors_total",
			Help: "Monitor job failures by job name.",
		}, []string{"job"}),
		monitorDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nimbus_monitor_job_duration_seconds",
			Help:    "Monitor job wall time by job name.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
	}

	for _, collector := range []prometheus.Collector{
		m.webhookEvents,
		m.ledgerEntries,
		m.monitorJobRuns,
		m.monitorJobErrs,
		m.monitorDuration,
	} {
		if err := registerer.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				panic(err)
			}
		}
	}

	return m
}

func (m *Metrics) RecordWebhookEvent(eventType, result string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(normalizeLabel(eventType), normalizeLabel(result)).Inc()
}

func (m *Metrics) RecordLedgerEntry(entryType string) {
	if m == nil {
		return
	}
	m.ledgerEntries.WithLabelValues(normalizeLabel(entryType)).Inc()
}

func (m *Metrics) IncMonitorJobRun(job string) {
	if m == nil {
		return
	}
	m.monitorJobRuns.WithLabelValues(normalizeLabel(job)).Inc()
}

func (m *Metrics) IncMonitorJobError(job string) {
	if m == nil {
		return
	}
	m.monitorJobErrs.WithLabelValues(normalizeLabel(job)).Inc()
}

func (m *Metrics) ObserveMonitorJobDuration(job string, d time.Duration) {
	if m == nil {
		return
	}
	m.monitorDuration.WithLabelValues(normalizeLabel(job)).Observe(d.Seconds())
}

func normalizeLabel(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return "unknown"
	}
	return value
}

var Module = fx.Module("metrics",
	fx.Provide(func() *Metrics {
		return New(prometheus.DefaultRegisterer)
	}),
)
