package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Record outcomes used as the "outcome" label of RecordsIngested.
const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

var (
	RecordsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "adms",
		Name:      "records_total",
		Help:      "Terminal records processed, by record kind and outcome",
	}, []string{"kind", "outcome"})

	BatchesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "adms",
		Name:      "batches_total",
		Help:      "Push bodies received from terminals, by endpoint scope",
	}, []string{"scope"})

	CommandTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "adms",
		Name:      "command_transitions_total",
		Help:      "Pending command state transitions, by target state",
	}, []string{"to"})

	PhotoUploadFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "adms",
		Name:      "photo_upload_failures_total",
		Help:      "Attendance photos that could not be decoded or stored",
	})

	DevicesOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "adms",
		Name:      "devices_online",
		Help:      "Number of terminals seen within the online window",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "adms",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "adms",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
