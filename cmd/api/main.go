package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"view-aspects-go/internal/app"
	"view-aspects-go/internal/config"
	"view-aspects-go/internal/logger"
	"view-aspects-go/internal/processor"
	"view-aspects-go/internal/types"
)

func main() {
	cfg := config.Load()

	log := logger.New()
	log.WithField("service", "view-aspects-go").Info("starting service")

	a, err := app.New(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to wire service")
	}
	defer a.Close()

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)

	// health
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		log.WithRequest(r).Debug("health check")
		fmt.Fprint(w, "ok")
	})
	router.Method(http.MethodGet, "/metrics", a.Metrics.Handler())

	// one view per request; the call blocks until the view is ready
	router.Post("/views", func(w http.ResponseWriter, r *http.Request) {
		reqLog := log.WithRequest(r).WithField("handler", "views")

		var job types.Job
		if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
			reqLog.WithError(err).Warn("bad request body")
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		reqLog = reqLog.WithField("run_id", job.ProjectAnalysisRunID).WithField("segments", len(job.SegmentIDs))
		reqLog.Info("view request received")

		start := time.Now()
		res, err := a.Process(r.Context(), job)
		duration := time.Since(start)
		reqLog.WithField("duration_ms", duration.Milliseconds()).Info("processor finished")

		status := http.StatusOK
		if err != nil {
			var invalid *processor.InvalidJobError
			if errors.As(err, &invalid) {
				status = http.StatusBadRequest
			} else {
				status = http.StatusInternalServerError
			}
			reqLog.WithError(err).Warn("processor returned error")
			res = &types.Result{DurationMs: duration.Milliseconds(), Error: err.Error()}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			reqLog.WithError(err).Error("failed to write response")
		}
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}
	log.WithField("addr", addr).Info("listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Fatal("server terminated")
	}
}
