package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Gateway
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ws_connections_active",
		Help: "The current number of live websocket connections.",
	})
	TotalConnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_connections_total",
		Help: "The total number of websocket connections accepted.",
	})
	EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_events_received_total",
		Help: "Inbound realtime events by name.",
	}, []string{"event"})
	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_events_dropped_total",
		Help: "Inbound realtime events dropped without effect, by reason.",
	}, []string{"reason"})
	SlowConsumers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_slow_consumers_total",
		Help: "Connections closed because their outbound buffer was full.",
	})

	// Presence
	SessionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presence_session_transitions_total",
		Help: "Trainer session state transitions.",
	}, []string{"transition"})
	ReaperSweeps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presence_reaper_sweeps_total",
		Help: "Reaper passes by outcome.",
	}, []string{"outcome"})
	ReaperClosed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "presence_reaper_sessions_closed_total",
		Help: "Sessions auto-closed by the reaper.",
	})
	ReaperFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "presence_reaper_failures_total",
		Help: "Sessions the reaper failed to auto-close.",
	})

	// Chat
	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_sent_total",
		Help: "Chat messages persisted and broadcast, by type.",
	}, []string{"type"})
	MessageFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_message_failures_total",
		Help: "Chat messages rejected or not persisted.",
	})
	MediaUploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_media_uploads_total",
		Help: "Media uploads stored, by coarse type.",
	}, []string{"type"})

	// HTTP
	httpRequestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "route", "status_code"})
	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of http request",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status_code"})
)

// Middleware records request counts and latency labelled by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := strconv.Itoa(ww.Status())

		httpRequestTotal.WithLabelValues(r.Method, route, status).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}
