package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Probe engine metrics
	ProbesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardant_probes_total",
			Help: "Total number of completed probe chains by type and status",
		},
		[]string{"type", "status"},
	)

	ProbeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "guardant_probe_duration_seconds",
			Help:    "Probe chain duration in seconds by service type",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	ProbeTicksDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "guardant_probe_ticks_dropped_total",
			Help: "Scheduled probe ticks dropped because the previous run was in flight",
		},
	)

	ServicesMonitored = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "guardant_services_monitored",
			Help: "Number of services with an installed probe schedule",
		},
	)

	// Job system metrics
	JobsPending = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "guardant_jobs_pending",
			Help: "Pending executions by queue",
		},
		[]string{"queue"},
	)

	JobsRunning = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "guardant_jobs_running",
			Help: "Running executions by queue",
		},
		[]string{"queue"},
	)

	JobsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardant_jobs_completed_total",
			Help: "Completed executions by queue and final status",
		},
		[]string{"queue", "status"},
	)

	// Failover metrics
	ActiveFailovers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "guardant_failovers_active",
			Help: "Failovers currently in a non-terminal state",
		},
	)

	FailoversTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardant_failovers_total",
			Help: "Failover events by final status",
		},
		[]string{"status"},
	)

	EndpointStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "guardant_endpoint_healthy",
			Help: "Endpoint health (1 = healthy, 0 = anything else)",
		},
		[]string{"endpoint"},
	)

	// SLA metrics
	SLAComplianceScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "guardant_sla_compliance_score",
			Help: "Latest compliance score per SLA target",
		},
		[]string{"sla_target"},
	)

	SLAMeasurementsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "guardant_sla_measurements_total",
			Help: "Total SLA measurements computed",
		},
	)
)

func init() {
	prometheus.MustRegister(ProbesTotal)
	prometheus.MustRegister(ProbeDuration)
	prometheus.MustRegister(ProbeTicksDropped)
	prometheus.MustRegister(ServicesMonitored)
	prometheus.MustRegister(JobsPending)
	prometheus.MustRegister(JobsRunning)
	prometheus.MustRegister(JobsCompleted)
	prometheus.MustRegister(ActiveFailovers)
	prometheus.MustRegister(FailoversTotal)
	prometheus.MustRegister(EndpointStatus)
	prometheus.MustRegister(SLAComplianceScore)
	prometheus.MustRegister(SLAMeasurementsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
