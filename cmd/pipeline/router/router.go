// Package router configures HTTP routes for the pipeline's status server.
//
// A running pipeline exposes a small HTTP surface so operators can watch a
// long run without tailing logs:
//
//   - GET /healthz - Health check endpoint (returns 200 OK)
//   - GET /metrics - Prometheus metrics endpoint
//   - GET /run/summary - Current run summary in JSON (404 before a run starts)
package router

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SummaryProvider reports the current run summary and whether a run has
// started.
type SummaryProvider[T any] interface {
	Summary() (T, bool)
}

// SetupRoutes configures the status server endpoints.
func SetupRoutes[T any](provider SummaryProvider[T], logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/run/summary", func(w http.ResponseWriter, r *http.Request) {
		summary, started := provider.Summary()
		if !started {
			http.Error(w, "no run started", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(summary); err != nil {
			logger.Error("failed to encode run summary", "error", err)
		}
	})

	return mux
}
