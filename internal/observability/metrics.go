package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RideRequestsTotal  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_realtime", Name: "ride_requests_total", Help: "Total ride requests received"})
	OffersTotal        = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_realtime", Name: "offers_total", Help: "Total offers dispatched to drivers"})
	OfferTimeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_realtime", Name: "offer_timeouts_total", Help: "Offers that lapsed without a driver decision"})
	OfferRejectsTotal  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_realtime", Name: "offer_rejects_total", Help: "Offers explicitly rejected by drivers"})
	AcceptsTotal       = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_realtime", Name: "accepts_total", Help: "Rides accepted by drivers"})
	CompletionsTotal   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_realtime", Name: "completions_total", Help: "Rides completed"})
	NoDriversTotal     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_realtime", Name: "no_drivers_total", Help: "Matching rounds that found no eligible driver"})

	CancellationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_realtime", Name: "cancellations_total", Help: "Rides cancelled, by party"},
		[]string{"cancelled_by"},
	)
	OtpVerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_realtime", Name: "otp_verifications_total", Help: "OTP verification attempts by result"},
		[]string{"result"},
	)

	WSConnections       = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_realtime", Name: "ws_connections", Help: "Live websocket connections"})
	LocationRelaysTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_realtime", Name: "location_relays_total", Help: "Location updates relayed to a counterpart"})
	LocationDropsTotal  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_realtime", Name: "location_drops_total", Help: "Location updates dropped (unknown ride or no live counterpart)"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_realtime", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_realtime",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
