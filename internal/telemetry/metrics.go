package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry bundles the process-wide Prometheus collectors plus the
// domain counters and histograms the rest of the module records against.
type Registry struct {
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer

	HTTPRequestDuration *prometheus.HistogramVec

	TasksCreatedTotal     *prometheus.CounterVec
	TasksCompletedTotal   *prometheus.CounterVec
	CreditsDebitedTotal   prometheus.Counter
	CreditsRefundedTotal  prometheus.Counter
	EngineRequestDuration *prometheus.HistogramVec
}

// NewMetricsRegistry builds the registry used by both the API and worker
// processes, registering the standard Go/process collectors alongside the
// domain-specific ones.
func NewMetricsRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := &Registry{
		Registerer: reg,
		Gatherer:   reg,
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "formy_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
		TasksCreatedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formy_tasks_created_total",
			Help: "Tasks created, by edit mode.",
		}, []string{"mode"}),
		TasksCompletedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formy_tasks_completed_total",
			Help: "Tasks reaching a terminal status, by status.",
		}, []string{"status"}),
		CreditsDebitedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "formy_credits_debited_total",
			Help: "Total credits debited across all users.",
		}),
		CreditsRefundedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "formy_credits_refunded_total",
			Help: "Total credits refunded across all users.",
		}),
		EngineRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "formy_engine_request_duration_seconds",
			Help:    "Workflow engine adapter call latency, by operation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
	}

	reg.MustRegister(
		r.HTTPRequestDuration,
		r.TasksCreatedTotal,
		r.TasksCompletedTotal,
		r.CreditsDebitedTotal,
		r.CreditsRefundedTotal,
		r.EngineRequestDuration,
	)

	return r
}
