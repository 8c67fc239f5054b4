package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/maauso/clip-worker/internal/clip"
	"github.com/maauso/clip-worker/internal/queue"
	"github.com/maauso/clip-worker/internal/worker"
)

const defaultCheckTimeout = 5 * time.Second

// WorkerStats reports dispatcher capacity. *worker.Dispatcher implements it.
type WorkerStats interface {
	Stats() worker.Stats
}

// ClipStore is the part of clip.Repository the handlers read.
type ClipStore interface {
	Stats(ctx context.Context, now time.Time) (clip.Stats, error)
	Ping(ctx context.Context) error
}

// QueueStats reports queue depth. queue.Client implements it.
type QueueStats interface {
	Stats(ctx context.Context) (queue.Stats, error)
}

// Handlers contains the HTTP handlers for the operational API.
type Handlers struct {
	worker       WorkerStats
	clips        ClipStore
	queue        QueueStats
	logger       *slog.Logger
	checkTimeout time.Duration
	now          func() time.Time
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithCheckTimeout bounds each dependency call made by /ready and /stats.
func WithCheckTimeout(d time.Duration) HandlerOption {
	return func(h *Handlers) {
		if d > 0 {
			h.checkTimeout = d
		}
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(w WorkerStats, clips ClipStore, q QueueStats, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		worker:       w,
		clips:        clips,
		queue:        q,
		logger:       logger,
		checkTimeout: defaultCheckTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Ready handles GET /ready requests. It answers 503 when the database or
// the queue cannot be reached.
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.checkTimeout)
	defer cancel()

	resp := ReadyResponse{Status: "ready", Checks: map[string]string{}}

	resp.Checks["database"] = checkOK
	if err := h.clips.Ping(ctx); err != nil {
		h.logger.Warn("readiness check failed", slog.String("check", "database"), slog.String("error", err.Error()))
		resp.Checks["database"] = checkFailed
		resp.Status = "not_ready"
	}

	resp.Checks["queue"] = checkOK
	if _, err := h.queue.Stats(ctx); err != nil {
		h.logger.Warn("readiness check failed", slog.String("check", "queue"), slog.String("error", err.Error()))
		resp.Checks["queue"] = checkFailed
		resp.Status = "not_ready"
	}

	status := http.StatusOK
	if resp.Status != "ready" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// Stats handles GET /stats requests.
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.checkTimeout)
	defer cancel()

	clipStats, err := h.clips.Stats(ctx, h.now())
	if err != nil {
		h.logger.Error("failed to get clip stats", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to get clip stats", "STATS_FAILED")
		return
	}

	resp := StatsResponse{
		Worker: h.worker.Stats(),
		Clips:  clipStats,
	}

	// Queue depth is best-effort.
	if qs, err := h.queue.Stats(ctx); err != nil {
		h.logger.Warn("failed to get queue stats", slog.String("error", err.Error()))
	} else {
		resp.Queue = &qs
	}

	writeJSON(w, http.StatusOK, resp)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
