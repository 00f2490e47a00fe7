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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/client-linker/internal/model"
	"github.com/sells-group/client-linker/internal/store"
	"github.com/sells-group/client-linker/internal/webhook"
	"github.com/sells-group/client-linker/pkg/telegram"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST"},
		}))

		r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
		r.Method(http.MethodGet, "/metrics", promhttp.Handler())

		recorderHook := webhook.NewHandler(env.Store, env.Recorder, func(ctx context.Context, id string) {
			outcome, err := env.Resolver.Resolve(ctx, id)
			if err != nil {
				zap.L().Error("resolution failed", zap.String("transcript_id", id), zap.Error(err))
				return
			}
			zap.L().Info("resolution complete",
				zap.String("transcript_id", id),
				zap.String("status", string(outcome.Status)),
			)
		})
		r.Method(http.MethodPost, "/webhook/recorder", recorderHook)

		if env.Channel != nil {
			r.Post("/webhook/telegram", func(w http.ResponseWriter, req *http.Request) {
				var upd telegram.Update
				if err := json.NewDecoder(req.Body).Decode(&upd); err != nil {
					http.Error(w, `{"error":"invalid update"}`, http.StatusBadRequest)
					return
				}
				// Always acknowledge; Telegram retries non-200 responses
				// and a handler failure is already in the ledger.
				if err := env.Channel.HandleUpdate(req.Context(), upd); err != nil {
					zap.L().Error("telegram update failed", zap.Error(err))
				}
				writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
			})
		}

		r.Get("/transcripts", func(w http.ResponseWriter, req *http.Request) {
			filter := store.TranscriptFilter{
				OwnerID: req.URL.Query().Get("owner"),
				Status:  model.LinkingStatus(req.URL.Query().Get("status")),
				Limit:   100,
			}
			list, err := env.Store.ListTranscripts(req.Context(), filter)
			if err != nil {
				zap.L().Error("list transcripts", zap.Error(err))
				http.Error(w, `{"error":"storage failure"}`, http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusOK, list)
		})

		r.Get("/transcripts/{id}", func(w http.ResponseWriter, req *http.Request) {
			t, err := env.Store.GetTranscript(req.Context(), chi.URLParam(req, "id"))
			if err != nil {
				writeStoreError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, t)
		})

		r.Get("/transcripts/{id}/history", func(w http.ResponseWriter, req *http.Request) {
			id := chi.URLParam(req, "id")
			if _, err := env.Store.GetTranscript(req.Context(), id); err != nil {
				writeStoreError(w, err)
				return
			}
			attempts, err := env.Store.ListAttempts(req.Context(), id)
			if err != nil {
				writeStoreError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, attempts)
		})

		r.Post("/transcripts/{id}/resolve", func(w http.ResponseWriter, req *http.Request) {
			outcome, err := env.Resolver.Resolve(req.Context(), chi.URLParam(req, "id"))
			if err != nil {
				writeStoreError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, outcome)
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})

		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		if env.Channel != nil && cfg.Resolution.RecheckIntervalMins > 0 {
			interval := time.Duration(cfg.Resolution.RecheckIntervalMins) * time.Minute
			g.Go(func() error {
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for {
					select {
					case <-gctx.Done():
						return nil
					case <-ticker.C:
						if err := env.Channel.Renotify(gctx, interval); err != nil {
							zap.L().Warn("renotify sweep failed", zap.Error(err))
						}
					}
				}
			})
		}

		return g.Wait()
	},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeStoreError(w http.ResponseWriter, err error) {
	if eris.Is(err, store.ErrNotFound) {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}
	zap.L().Error("request failed", zap.Error(err))
	http.Error(w, `{"error":"storage failure"}`, http.StatusInternalServerError)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
