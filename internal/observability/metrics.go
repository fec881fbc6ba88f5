package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RidesCreated   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "cabshare", Name: "rides_created_total", Help: "Rides created"})
	RequestsBooked = promauto.NewCounter(prometheus.CounterOpts{Namespace: "cabshare", Name: "requests_booked_total", Help: "Join requests created"})

	RequestDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "cabshare", Name: "request_decisions_total", Help: "Join request decisions by outcome"},
		[]string{"decision"},
	)
	SeatsReserved = promauto.NewCounter(prometheus.CounterOpts{Namespace: "cabshare", Name: "seats_reserved_total", Help: "Seats appended to ride passenger lists"})

	CapacityRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "cabshare", Name: "capacity_rejections_total", Help: "Operations refused for lack of seats"},
		[]string{"operation"},
	)
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "cabshare", Name: "events_published_total", Help: "Domain events handed to the broker"},
		[]string{"topic", "result"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "cabshare", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cabshare",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
