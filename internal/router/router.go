package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/taranggg/lms-sub000/internal/handlers"
	"github.com/taranggg/lms-sub000/internal/metrics"
	"github.com/taranggg/lms-sub000/internal/middleware"
	"github.com/taranggg/lms-sub000/internal/websocket"
)

func New(
	jwtAuth *middleware.JWTAuth,
	sessionHandler *handlers.SessionHandler,
	chatHandler *handlers.ChatHandler,
	mediaHandler *handlers.MediaHandler,
	healthHandler *handlers.HealthHandler,
	wsHub *websocket.Hub,
	uploadsDir string,
	frontendURL string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{frontendURL},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Upload rate limiter (30 req/min per user)
	uploadLimiter := middleware.NewRateLimiter(30, time.Minute)

	r.Get("/health", healthHandler.Health)
	r.Handle("/metrics", promhttp.Handler())

	if uploadsDir != "" {
		r.Handle("/uploads/*", http.StripPrefix("/uploads/", http.FileServer(http.Dir(uploadsDir))))
	}

	r.Route("/api/v1", func(r chi.Router) {

		// ──── Session Routes ────
		r.Route("/sessions", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Post("/start", sessionHandler.Start)
			r.Post("/heartbeat", sessionHandler.Heartbeat)
			r.Post("/end", sessionHandler.End)
			r.Get("/history", sessionHandler.History)
		})

		// ──── Chat Routes ────
		r.Group(func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Get("/batches/{batchId}/messages", chatHandler.Messages)

			r.With(uploadLimiter.Middleware).Post("/chat/upload", mediaHandler.Upload)
		})

		// ──── WebSocket ────
		r.Get("/ws", wsHub.HandleWebSocket)
	})

	return r
}
