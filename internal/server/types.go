// Package server provides the operational HTTP surface of the clip worker:
// liveness, readiness, runtime stats and Prometheus metrics.
package server

import (
	"github.com/maauso/clip-worker/internal/clip"
	"github.com/maauso/clip-worker/internal/queue"
	"github.com/maauso/clip-worker/internal/worker"
)

// Check results reported by the readiness endpoint.
const (
	checkOK     = "ok"
	checkFailed = "failed"
)

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}

// ReadyResponse is the HTTP response for the readiness endpoint.
type ReadyResponse struct {
	// Status is "ready" or "not_ready".
	Status string `json:"status"`
	// Checks maps each dependency to "ok" or "failed".
	Checks map[string]string `json:"checks"`
}

// StatsResponse is the HTTP response for the stats endpoint.
type StatsResponse struct {
	// Worker is the dispatcher capacity snapshot.
	Worker worker.Stats `json:"worker"`
	// Clips counts live clip records per status.
	Clips clip.Stats `json:"clips"`
	// Queue holds the approximate queue depth. Omitted when the queue
	// could not be reached.
	Queue *queue.Stats `json:"queue,omitempty"`
}
