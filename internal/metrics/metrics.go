package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters instrumenting the ingestion pipeline. Registered on the default
// registry; the process has no exposition endpoint.
var (
	VendorRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quantarc",
		Name:      "vendor_requests_total",
		Help:      "Vendor API calls by endpoint and outcome.",
	}, []string{"endpoint", "status"})

	VendorRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quantarc",
		Name:      "vendor_retries_total",
		Help:      "Retried vendor API calls by endpoint.",
	}, []string{"endpoint"})

	PartitionsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quantarc",
		Name:      "partitions_written_total",
		Help:      "Partition directories committed to disk by data type.",
	}, []string{"data_type"})

	LogWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "quantarc",
		Name:      "request_log_write_failures_total",
		Help:      "Request-log writes that failed and were ignored.",
	})
)
