package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the service-specific Prometheus collectors, created in main
// and handed to the components that record them.
type Metrics struct {
	StreamConnections *prometheus.GaugeVec     // active stream connections by transport
	EventsPublished   *prometheus.CounterVec   // events published to the hub by type
	WebhooksReceived  *prometheus.CounterVec   // webhook requests by result
	DeliveryLag       *prometheus.HistogramVec // publish-to-write latency by transport
	ReconcileRuns     *prometheus.CounterVec   // reconciliation runs by outcome
	DroppedFrames     *prometheus.CounterVec   // frames dropped on slow connections by transport
}
