package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/LLL3993/Music-Microservices/internal/db"
	inframetrics "github.com/LLL3993/Music-Microservices/pkg/infra/metrics"
)

// Deleter performs producer-side deletions that emit cascade events
type Deleter interface {
	DeleteUser(ctx context.Context, id int64) error
	DeleteSong(ctx context.Context, id int64) error
}

// Pinger reports store liveness for /health
type Pinger interface {
	PingContext(ctx context.Context) error
}

type handler struct {
	deleter Deleter
	pinger  Pinger
	logger  *slog.Logger
}

// NewRouter wires the deletion endpoints of the user and meta services
func NewRouter(deleter Deleter, pinger Pinger, logger *slog.Logger) http.Handler {
	h := &handler{deleter: deleter, pinger: pinger, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(inframetrics.Instrument)

	r.Get("/health", h.health)
	r.Delete("/users/{id}", h.deleteBy(deleter.DeleteUser))
	r.Delete("/meta/{id}", h.deleteBy(deleter.DeleteSong))

	return r
}

func (h *handler) deleteBy(del func(context.Context, int64) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil || id <= 0 {
			writeError(w, http.StatusBadRequest, "invalid id")
			return
		}

		if err := del(r.Context(), id); err != nil {
			if errors.Is(err, db.ErrNotFound) {
				writeError(w, http.StatusNotFound, "not found")
				return
			}
			h.logger.Error("Deletion failed", "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.pinger.PingContext(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
