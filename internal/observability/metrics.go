package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "taxi_dispatch"

var (
	DispatchRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "dispatch_runs_total", Help: "Dispatch runs by result"},
		[]string{"result"},
	)
	DispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "dispatch_duration_seconds",
		Help:      "Time from dispatch start to a terminal outcome",
		Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
	})
	OffersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "offers_total", Help: "Offers sent to drivers by reply"},
		[]string{"reply"},
	)
	OfferWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "offer_wait_seconds",
		Help:      "Time a driver took to answer an offer",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
	})

	AssignConflicts  = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "assign_conflicts_total", Help: "Accepted offers that lost the conditional assignment"})
	DriversAvailable = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "drivers_available", Help: "Available drivers seen by the last dispatch run"})

	OrdersCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "orders_created_total", Help: "Orders accepted for dispatch"},
		[]string{"kind"},
	)
	RateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "rate_limited_total", Help: "Requests rejected by the rate limiter"},
		[]string{"action"},
	)
	NotificationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "notification_errors_total", Help: "Failed notification deliveries"},
		[]string{"transport"},
	)
	JobRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "job_runs_total", Help: "Scheduled job runs by outcome"},
		[]string{"job", "outcome"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
