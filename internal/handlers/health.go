package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Pinger is anything the health check can probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	checks    map[string]Pinger
	federated string
	logger    *slog.Logger
	startTime time.Time
}

// NewHealthHandler probes every named dependency concurrently on each
// request. federated is the configured provider's name, if any.
func NewHealthHandler(checks map[string]Pinger, federated string, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		checks:    checks,
		federated: federated,
		logger:    logger,
		startTime: time.Now(),
	}
}

type HealthResponse struct {
	Status    string            `json:"status"`
	Uptime    string            `json:"uptime"`
	Checks    map[string]string `json:"checks"`
	Federated string            `json:"federated,omitempty"`
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:    "healthy",
		Uptime:    time.Since(h.startTime).String(),
		Checks:    make(map[string]string, len(h.checks)),
		Federated: h.federated,
	}

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	for name, check := range h.checks {
		g.Go(func() error {
			status := "ok"
			if err := check.Ping(ctx); err != nil {
				h.logger.Warn("health check failed", "check", name, "error", err)
				status = "unreachable"
			}

			mu.Lock()
			response.Checks[name] = status
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for _, status := range response.Checks {
		if status != "ok" {
			response.Status = "degraded"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if response.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	json.NewEncoder(w).Encode(response)
}
