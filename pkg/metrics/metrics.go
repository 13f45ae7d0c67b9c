package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	remoteOcr = "remote_ocr"

	// Job metrics
	jobsSubmittedTotal = "jobs_submitted_total"
	jobsRejectedTotal  = "jobs_rejected_total"
	JobStatusCount     = "job_status_count"

	// Backend metrics
	backendRequestsTotal = "backend_requests_total"
	backendRetriesTotal  = "backend_retries_total"

	// Labels
	jobStatusLabel    = "status"
	backendLabel      = "backend"
	backendKindLabel  = "kind"
	rejectReasonLabel = "reason"
)

var jobStatusCountLabels = []string{
	jobStatusLabel,
}

var backendRequestLabels = []string{
	backendLabel,
	backendKindLabel,
}

/**
* Metrics definition
**/
var jobsSubmittedTotalMetric = prometheus.NewCounter(
	prometheus.CounterOpts{
		Subsystem: remoteOcr,
		Name:      jobsSubmittedTotal,
		Help:      "number of jobs accepted into the queue",
	},
)

var jobsRejectedTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: remoteOcr,
		Name:      jobsRejectedTotal,
		Help:      "number of job submissions rejected by admission control",
	},
	[]string{rejectReasonLabel},
)

var backendRequestsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: remoteOcr,
		Name:      backendRequestsTotal,
		Help:      "number of OCR backend requests partitioned by backend and request kind",
	},
	backendRequestLabels,
)

var backendRetriesTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: remoteOcr,
		Name:      backendRetriesTotal,
		Help:      "number of OCR backend request retries",
	},
	[]string{backendLabel},
)

func IncreaseJobsSubmittedMetric() {
	jobsSubmittedTotalMetric.Inc()
}

func IncreaseJobsRejectedMetric(reason string) {
	jobsRejectedTotalMetric.With(prometheus.Labels{rejectReasonLabel: reason}).Inc()
}

func IncreaseBackendRequestsMetric(backend, kind string) {
	labels := prometheus.Labels{
		backendLabel:     backend,
		backendKindLabel: kind,
	}
	backendRequestsTotalMetric.With(labels).Inc()
}

func IncreaseBackendRetriesMetric(backend string) {
	backendRetriesTotalMetric.With(prometheus.Labels{backendLabel: backend}).Inc()
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(jobsSubmittedTotalMetric)
	prometheus.MustRegister(jobsRejectedTotalMetric)
	prometheus.MustRegister(backendRequestsTotalMetric)
	prometheus.MustRegister(backendRetriesTotalMetric)
}
