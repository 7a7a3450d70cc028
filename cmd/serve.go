package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/client-sync/internal/model"
	"github.com/sells-group/client-sync/internal/unify"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sync trigger and continuation server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEngine(ctx, true)
		if err != nil {
			return err
		}
		defer env.Close()

		r := chi.NewRouter()
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST"},
			AllowedHeaders: []string{"Content-Type"},
		}))

		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Post("/api/sync/run", func(w http.ResponseWriter, req *http.Request) {
			var start unify.StartRequest
			if req.Body != nil && req.ContentLength != 0 {
				if err := json.NewDecoder(req.Body).Decode(&start); err != nil {
					writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
					return
				}
			}

			result, err := env.engine.Start(req.Context(), start)
			if err != nil {
				zap.L().Error("sync trigger failed", zap.Error(err))
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}

			if result.Status == unify.StartStarted {
				run := result.Run
				// First chunk runs in the background under the server's
				// lifetime, not the request's.
				go func() {
					if err := env.engine.RunChunk(ctx, run); err != nil {
						zap.L().Error("sync chunk failed",
							zap.String("run_id", run.ID),
							zap.Error(err),
						)
					}
				}()
				writeJSON(w, http.StatusAccepted, result)
				return
			}
			writeJSON(w, http.StatusOK, result)
		})

		r.Post("/api/sync/continue", func(w http.ResponseWriter, req *http.Request) {
			var cont unify.ContinuationRequest
			if err := json.NewDecoder(req.Body).Decode(&cont); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
				return
			}
			if cont.RunID == "" {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "runId is required"})
				return
			}

			// Acknowledge before processing so the invoking chunk can exit
			// inside its own time budget.
			go func() {
				if err := env.engine.Continue(ctx, cont); err != nil {
					zap.L().Error("continuation chunk failed",
						zap.String("run_id", cont.RunID),
						zap.Int("chunk", cont.ChunkNumber),
						zap.Error(err),
					)
				}
			}()
			writeJSON(w, http.StatusAccepted, map[string]any{
				"status": "accepted",
				"runId":  cont.RunID,
				"chunk":  cont.ChunkNumber,
			})
		})

		r.Get("/api/sync/runs", func(w http.ResponseWriter, req *http.Request) {
			runs, err := env.ledger.List(req.Context(), 50)
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
		})

		r.Get("/api/sync/runs/{id}", func(w http.ResponseWriter, req *http.Request) {
			run, err := env.ledger.Get(req.Context(), chi.URLParam(req, "id"))
			if err != nil {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, run)
		})

		r.Get("/api/sync/pending", func(w http.ResponseWriter, req *http.Request) {
			pending, err := unify.PendingCounts(req.Context(), env.pool, model.AllSources)
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"pendingCounts": pending,
				"total":         unify.TotalPending(pending),
			})
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: r,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
