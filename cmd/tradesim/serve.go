package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/tradesim/trade-simulator/internal/api"
	"github.com/tradesim/trade-simulator/internal/metrics"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the polling schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			a, err := newApp(ctx, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()
			return serve(ctx, a)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	ctx, stopJobs := context.WithCancel(ctx)
	defer stopJobs()

	hub := api.NewHub()
	go hub.Run(ctx)

	svc := api.NewService(a.store, a.runner, hub)

	// --- Schedule ---
	sched := cron.New(cron.WithLocation(time.UTC))
	if _, err := sched.AddFunc(a.cfg.PollSchedule, func() { a.cycle(ctx) }); err != nil {
		return err
	}
	sched.Start()
	slog.Info("polling scheduled", "schedule", a.cfg.PollSchedule)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"tradesim"}`))
	})
	r.Handle("/metrics", metrics.Handler())

	// Triggered runs can outlast a short request timeout.
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(2 * time.Minute))
		svc.Routes(r)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:        ":" + a.cfg.Port,
		Handler:     r,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("tradesim listening", "port", a.cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		slog.Error("server error", "err", err)
		stopJobs()
		<-sched.Stop().Done()
		return err
	}

	slog.Info("shutting down tradesim...")
	stopJobs()
	<-sched.Stop().Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	slog.Info("tradesim stopped")
	return nil
}
