// Package app hosts process-level plumbing: the ops HTTP surface and the
// stale-lock sweeper.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fairyhunter13/subfleet/internal/schedule"
)

// Pinger reports whether the backing spreadsheet is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// OpsServer exposes metrics, health, and the local schedule registry over
// HTTP. It is best-effort: a worker keeps running even if this listener
// fails to bind.
type OpsServer struct {
	srv       *http.Server
	pinger    Pinger
	schedules *schedule.Registry
}

// NewOpsServer builds the ops HTTP server. pinger and schedules may be nil;
// the corresponding endpoints then report accordingly.
func NewOpsServer(port int, pinger Pinger, schedules *schedule.Registry) *OpsServer {
	o := &OpsServer{pinger: pinger, schedules: schedules}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", o.handleHealthz)
	r.Get("/readyz", o.handleReadyz)
	r.Get("/schedules", o.handleSchedules)
	r.Delete("/schedules", o.handleCancelAll)
	r.Delete("/schedules/{id}", o.handleCancel)

	o.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return o
}

// Start serves until Shutdown. Blocks; run it in its own goroutine.
func (o *OpsServer) Start() error {
	slog.Info("ops server listening", slog.String("addr", o.srv.Addr))
	if err := o.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("op=app.OpsServer.Start: %w", err)
	}
	return nil
}

// Shutdown drains the listener.
func (o *OpsServer) Shutdown(ctx context.Context) error {
	return o.srv.Shutdown(ctx)
}

func (o *OpsServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz checks the one dependency that matters: the sheet.
func (o *OpsServer) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if o.pinger == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "sheet": "unconfigured"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	if err := o.pinger.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unready", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (o *OpsServer) handleSchedules(w http.ResponseWriter, _ *http.Request) {
	tasks := []schedule.Task{}
	if o.schedules != nil {
		tasks = o.schedules.List()
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks, "count": len(tasks)})
}

func (o *OpsServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if o.schedules == nil || !o.schedules.Cancel(id) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no such task", "id": id})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled", "id": id})
}

func (o *OpsServer) handleCancelAll(w http.ResponseWriter, _ *http.Request) {
	n := 0
	if o.schedules != nil {
		n = o.schedules.CancelAll()
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "cancelled", "count": n})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("ops response encode failed", slog.Any("error", err))
	}
}
