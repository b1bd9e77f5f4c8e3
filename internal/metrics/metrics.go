package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_deliveries_total",
			Help: "Delivery attempts by channel and outcome",
		},
		[]string{"channel", "status"},
	)

	SendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "broadcast_send_duration_seconds",
			Help:    "Provider send latency by channel",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"channel"},
	)

	CampaignsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_campaigns_total",
			Help: "Campaigns reaching a terminal state",
		},
		[]string{"status"},
	)

	TrackingEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_tracking_events_total",
			Help: "Open and click events, split by uniqueness",
		},
		[]string{"event", "unique"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_http_requests_total",
			Help: "HTTP requests by route and status code",
		},
		[]string{"method", "path", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "broadcast_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	ActiveDispatches = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "broadcast_active_dispatches",
		Help: "Dispatch loops currently running",
	})
)
