package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/sundew-sh/sundew/internal/audit"
	"github.com/sundew-sh/sundew/internal/command"
	"github.com/sundew-sh/sundew/internal/config"
	"github.com/sundew-sh/sundew/internal/feed"
	"github.com/sundew-sh/sundew/internal/handlers"
	"github.com/sundew-sh/sundew/internal/hostkey"
	"github.com/sundew-sh/sundew/internal/logging"
	"github.com/sundew-sh/sundew/internal/policy"
	"github.com/sundew-sh/sundew/internal/server"
	"github.com/sundew-sh/sundew/internal/store"
)

// retentionSchedule is when the store's retention purge runs.
const retentionSchedule = "@daily"

func main() {
	if err := run(); err != nil {
		logrus.WithError(err).Fatal("failed to run sundew")
	}
}

func run() error {
	if err := config.Load(); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := config.Cfg

	if err := logging.Init(cfg.LogLevel, cfg.LogPath); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logging.Close()

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open audit store: %w", err)
	}
	defer st.Close()

	jsonl, err := audit.NewJSONLSink(cfg.AuditLogPath)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}

	// The JSONL file is the durable record; the store gives operators
	// queries and the hub gives them a live stream.
	hub := feed.NewHub()
	pipeline := audit.NewPipeline(audit.MultiSink{jsonl, st.Sink(), hub.Sink()})

	credStore := policy.NewStore()
	pol := policy.New(credStore, cfg.AccessProbability)

	emu := command.NewEmulator()
	if cfg.CommandsFile != "" {
		if err := emu.LoadFile(cfg.CommandsFile); err != nil {
			return fmt.Errorf("load command table: %w", err)
		}
	}

	signer, err := hostkey.Ensure(cfg.DataPath)
	if err != nil {
		return fmt.Errorf("host key init: %w", err)
	}

	srv := server.New(signer, cfg.ServerVersion, pol, pipeline, emu)
	if err := srv.Listen(cfg.ListenAddr); err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddr, err)
	}
	logrus.Infof("sundew listening on %s (access probability %v)",
		cfg.ListenAddr, cfg.AccessProbability)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve()
	}()

	handlers.Store = st
	handlers.Hub = hub
	handlers.CredStore = credStore
	handlers.Pipeline = pipeline

	var adminSrv *http.Server
	if cfg.AdminAddr != "" {
		r := chi.NewRouter()
		r.Use(chimw.Recoverer)
		r.Use(chimw.RealIP)

		r.Get("/health", handlers.HealthCheck)
		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/records", handlers.ListRecords)
			r.Get("/stats", handlers.GetStats)
			r.Get("/feed", handlers.StreamFeed)
		})

		adminSrv = &http.Server{Addr: cfg.AdminAddr, Handler: r}
		go func() {
			logrus.Infof("admin API on %s", cfg.AdminAddr)
			if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logrus.WithError(err).Error("admin server failed")
			}
		}()
	}

	sched := cron.New()
	if _, err := sched.AddFunc(retentionSchedule, func() {
		if _, err := st.PurgeOlderThan(cfg.AuditRetentionDays); err != nil {
			logrus.WithError(err).Error("audit retention purge failed")
		}
	}); err != nil {
		return fmt.Errorf("schedule retention purge: %w", err)
	}
	sched.Start()

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := coordinateShutdown(srv, pipeline, serveErr, sigCtx.Done())
	sched.Stop()

	if adminSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		adminSrv.Shutdown(ctx)
	}

	return runErr
}

// coordinateShutdown blocks until the first of: the accept loop dying, the
// pipeline finishing on its own (always a failure at this point), or an
// interrupt. It then closes the engine before intake, so nothing accepted
// after the decision can enqueue, and returns only after the pipeline has
// drained everything already queued. A plain interrupt is a clean nil; an
// engine or pipeline failure is returned as the run error.
func coordinateShutdown(engine io.Closer, pipeline *audit.Pipeline, serveErr <-chan error, interrupt <-chan struct{}) error {
	var runErr error
	select {
	case err := <-serveErr:
		runErr = err
	case <-pipeline.Done():
		runErr = pipeline.Err()
	case <-interrupt:
		logrus.Info("received interrupt, initiating shutdown")
	}

	engine.Close()

	logrus.Info("finishing audit log writes")
	pipeline.Shutdown()
	<-pipeline.Done()
	logrus.Info("audit log writes finished")

	if runErr == nil {
		runErr = pipeline.Err()
	}
	return runErr
}
