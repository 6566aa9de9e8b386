package handlers

import (
	"context"
	"net/http"
	"time"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a plain function, such as a redis ping, to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type ConnectionCounter interface {
	ConnectionCount() int
}

type HealthHandler struct {
	checks map[string]Pinger
	hub    ConnectionCounter
}

func NewHealthHandler(checks map[string]Pinger, hub ConnectionCounter) *HealthHandler {
	return &HealthHandler{checks: checks, hub: hub}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(h.checks))
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			deps[name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "up"
	}

	body := map[string]interface{}{
		"status":       "ok",
		"dependencies": deps,
	}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	if h.hub != nil {
		body["connections"] = h.hub.ConnectionCount()
	}
	writeJSON(w, status, body)
}
