// Package metrics holds the Prometheus collectors for audit and automation.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Audit
	AuditEntriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bizflow_audit_entries_total",
			Help: "Audit entries written",
		},
		[]string{"operation"},
	)
	AuditSuppressedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bizflow_audit_suppressed_total",
			Help: "UPDATE events dropped because no tracked field changed",
		},
	)

	// Automation
	RuleFiringsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bizflow_rule_firings_total",
			Help: "Rules whose trigger and conditions matched",
		},
		[]string{"rule"},
	)
	ActionFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bizflow_action_failures_total",
			Help: "Automation actions that failed",
		},
		[]string{"action_type"},
	)
	AutomationSuppressedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bizflow_automation_suppressed_total",
			Help: "Mutation events not evaluated for automation",
		},
		[]string{"reason"}, // depth|budget
	)

	// Outbound
	WebhookDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bizflow_webhook_duration_seconds",
			Help:    "Latency of CALL_WEBHOOK requests",
			Buckets: prometheus.DefBuckets,
		},
	)

	// NotifyPoolWorkers reports delivery pool occupancy.
	NotifyPoolWorkers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bizflow_notify_pool_workers",
			Help: "Delivery pool workers by state",
		},
		[]string{"state"}, // running|free
	)

	// HTTP
	HTTPLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bizflow_http_request_duration_seconds",
			Help:    "Latency of API requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	initOnce sync.Once
)

// Handler serves /metrics.
var Handler = promhttp.Handler

// Init registers all collectors with the default registry. Safe to call
// more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(AuditEntriesTotal)
		prometheus.MustRegister(AuditSuppressedTotal)
		prometheus.MustRegister(RuleFiringsTotal)
		prometheus.MustRegister(ActionFailuresTotal)
		prometheus.MustRegister(AutomationSuppressedTotal)
		prometheus.MustRegister(WebhookDuration)
		prometheus.MustRegister(NotifyPoolWorkers)
		prometheus.MustRegister(HTTPLatency)
	})
}
