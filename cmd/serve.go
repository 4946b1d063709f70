package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/segmenta/prospect-cli/internal/model"
	"github.com/segmenta/prospect-cli/internal/queue"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the queue scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		scheduler := queue.NewScheduler(env.store, env.queueExecutor, cfg.Queue, nil)
		go scheduler.Start(ctx)

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           newRouter(env, scheduler),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			zap.L().Info("server listening", zap.Int("port", cfg.Server.Port))
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		zap.L().Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	},
}

func newRouter(env *env, scheduler *queue.Scheduler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/webhook/enrich", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			ProjectID   string `json:"project_id"`
			Priority    int    `json:"priority"`
			Discover    bool   `json:"discover"`
			SearchLimit int    `json:"search_limit"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if body.ProjectID == "" {
			writeError(w, http.StatusBadRequest, "project_id is required")
			return
		}

		payload, _ := json.Marshal(map[string]any{
			"discover":     body.Discover,
			"search_limit": body.SearchLimit,
		})
		item, err := scheduler.Enqueue(req.Context(), body.ProjectID, body.Priority, payload)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, item)
	})

	r.Get("/jobs/{id}", func(w http.ResponseWriter, req *http.Request) {
		j, err := env.store.GetJob(req.Context(), chi.URLParam(req, "id"))
		if err != nil {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeJSON(w, http.StatusOK, j.Progress())
	})

	r.Post("/jobs/{id}/pause", jobActionHandler(env, "pause"))
	r.Post("/jobs/{id}/resume", jobActionHandler(env, "resume"))
	r.Post("/jobs/{id}/cancel", jobActionHandler(env, "cancel"))

	r.Get("/jobs/{id}/events", func(w http.ResponseWriter, req *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "streaming unsupported")
			return
		}

		jobID := chi.URLParam(req, "id")
		updates, cancel := env.broadcaster.Subscribe(jobID)
		defer cancel()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		for {
			select {
			case <-req.Context().Done():
				return
			case u, open := <-updates:
				if !open {
					return
				}
				data, err := json.Marshal(u)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", u.Type, data)
				flusher.Flush()
			}
		}
	})

	return r
}

// jobActionHandler serves pause, resume, and cancel. Resume restarts the
// run in the background; the request returns as soon as the job is
// running again.
func jobActionHandler(env *env, action string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		ctx := req.Context()
		jobID := chi.URLParam(req, "id")

		j, err := env.store.GetJob(ctx, jobID)
		if err != nil {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		m := env.managerFor(j.ProjectID)

		switch action {
		case "pause":
			err = m.Pause(ctx, jobID)
		case "cancel":
			err = m.Cancel(ctx, jobID)
		case "resume":
			if j.Status != model.JobStatusPaused {
				writeError(w, http.StatusConflict, fmt.Sprintf("cannot resume job in status %s", j.Status))
				return
			}
			go func() {
				if rerr := m.Resume(context.WithoutCancel(ctx), jobID); rerr != nil {
					zap.L().Warn("resume failed", zap.String("job_id", jobID), zap.Error(rerr))
				}
			}()
		}
		if err != nil {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "action": action})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
