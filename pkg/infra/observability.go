package infra

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthFunc reports whether the process can do its job
type HealthFunc func(ctx context.Context) error

// NewObservabilityMux serves /metrics and /health
func NewObservabilityMux(name string, health HealthFunc) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if health != nil {
			if err := health(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(name + " UNHEALTHY: " + err.Error()))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(name + " ALIVE"))
	})
	return mux
}

// StartObservabilityServer blocks serving the observability mux until ctx is cancelled
func StartObservabilityServer(ctx context.Context, port, name string, health HealthFunc, logger *slog.Logger) {
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      NewObservabilityMux(name, health),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Info("📊 Observability server online", "url", "http://localhost:"+port+"/metrics")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Observability server failed", "error", err)
	}
}
