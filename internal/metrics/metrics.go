package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "streamfs"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method", "path"})

	SwarmsReady = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "swarms_ready",
		Help:      "Number of swarm handles that are ready to serve reads.",
	})

	SwarmHandles = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "swarms_handles",
		Help:      "Number of swarm handles held, including ones still starting.",
	})

	AdmissionRejectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "admission_rejections_total",
		Help:      "Swarm starts refused because the ready limit was reached.",
	})

	SwarmStartsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "swarm_starts_total",
		Help:      "Swarm joins by result.",
	}, []string{"result"})

	SwarmTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "swarm_transitions_total",
		Help:      "Idle state machine transitions by target status.",
	}, []string{"to"})

	ResolutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "resolutions_total",
		Help:      "Feed URL resolutions by source type and result.",
	}, []string{"source", "result"})

	IndexResolutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "index_resolutions_total",
		Help:      "Indexed records by final status.",
	}, []string{"result"})

	IndexDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "index_duration_seconds",
		Help:      "Time to resolve and store one queued record.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	IndexQueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "index_queue_depth",
		Help:      "Catalog records per indexing status.",
	}, []string{"status"})

	FSOpsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fs_ops_total",
		Help:      "Filesystem hook calls by operation and result code.",
	}, []string{"op", "code"})

	FSReadBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fs_read_bytes_total",
		Help:      "Bytes served through filesystem reads.",
	})

	IngestItemsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingest_items_total",
		Help:      "Feed items seen by result.",
	}, []string{"result"})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		SwarmsReady,
		SwarmHandles,
		AdmissionRejectionsTotal,
		SwarmStartsTotal,
		SwarmTransitionsTotal,
		ResolutionsTotal,
		IndexResolutionsTotal,
		IndexDuration,
		IndexQueueDepth,
		FSOpsTotal,
		FSReadBytesTotal,
		IngestItemsTotal,
	)
}
