package main

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hobbyme/hobbyme/matching"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hobbyme_http_requests_total",
		Help: "HTTP requests by method, route and status",
	}, []string{"method", "route", "status"})

	httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hobbyme_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	wsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hobbyme_ws_connections",
		Help: "Currently open chat websocket connections",
	})

	chatMessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hobbyme_chat_messages_total",
		Help: "Chat messages persisted, by message type",
	}, []string{"type"})

	dashboardDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hobbyme_dashboard_duration_seconds",
		Help:    "Time to fetch, rank and group a dashboard",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"category"})

	geocodeLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hobbyme_geocode_lookups_total",
		Help: "Geocoding lookups by outcome",
	}, []string{"result"}) // found | absent

	rateLimitedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hobbyme_rate_limited_total",
		Help: "Requests rejected by the rate limiter",
	}, []string{"rule"})
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsConnections,
		chatMessagesTotal,
		dashboardDuration,
		geocodeLookups,
		rateLimitedTotal,
	)
}

func metricsHandler() http.Handler {
	return promhttp.Handler()
}

// geocoder resolves an address; ok is false when it cannot.
type geocoder interface {
	Geocode(ctx context.Context, address string) (matching.Coordinates, bool)
}

// countingGeocoder records lookup outcomes.
type countingGeocoder struct {
	next geocoder
}

func (g countingGeocoder) Geocode(ctx context.Context, address string) (matching.Coordinates, bool) {
	c, ok := g.next.Geocode(ctx, address)
	if ok {
		geocodeLookups.WithLabelValues("found").Inc()
	} else {
		geocodeLookups.WithLabelValues("absent").Inc()
	}
	return c, ok
}
