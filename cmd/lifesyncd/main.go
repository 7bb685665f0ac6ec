package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"lifesync/internal/amqp"
	"lifesync/internal/config"
	"lifesync/internal/connectivity"
	"lifesync/internal/httpapi"
	"lifesync/internal/localstore"
	"lifesync/internal/log"
	"lifesync/internal/notify"
	"lifesync/internal/remote"
	"lifesync/internal/remote/httpstore"
	"lifesync/internal/remote/memory"
	"lifesync/internal/sync"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := log.New(log.Config{
		Level:     slog.LevelInfo,
		Component: log.ComponentApp,
	})
	log.SetDefault(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err.Error())
		os.Exit(1)
	}

	local, err := localstore.NewStore(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to open local cache", log.FieldError, err.Error(), "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer local.Close()

	// Choose remote backend (default: memory).
	var (
		store   remote.Store
		watcher remote.Watcher
		prober  connectivity.Prober
	)
	switch cfg.RemoteBackend {
	case "http":
		client, err := httpstore.NewClient(cfg.RemoteBaseURL, cfg.RemoteTimeout)
		if err != nil {
			logger.Error("Failed to initialize remote client", log.FieldError, err.Error())
			os.Exit(1)
		}
		store, watcher, prober = client, client, client.Health
		logger.Info("Initialized http remote backend", "base_url", cfg.RemoteBaseURL)
	default:
		mem := memory.New()
		store, watcher = mem, mem
		prober = func(context.Context) bool { return true }
		logger.Info("Initialized memory remote backend")
	}

	monitor := connectivity.NewMonitor(prober, cfg.ProbeInterval, cfg.ProbeTimeout)

	// Notifications go to the log, and to AMQP when configured.
	var sink notify.Sink = notify.SlogSink{}
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("AMQP unavailable, notifications limited to logs", log.FieldError, err.Error())
		} else {
			defer amqpClient.Close()
			sink = notify.Multi{sink, amqp.NewSink(amqpClient)}
			logger.Info("AMQP notifications enabled", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine := sync.New(sync.Config{
		DocumentID:    cfg.DocumentID,
		RemoteTimeout: cfg.RemoteTimeout,
		FlushRetries:  cfg.FlushRetries,
		FlushBackoff:  cfg.FlushBackoff,
		DerivedTTL:    cfg.DerivedTTL,
	}, local, store, watcher, monitor, sink, nil)

	if err := monitor.Start(ctx); err != nil {
		logger.Error("Failed to start connectivity monitor", log.FieldError, err.Error())
		os.Exit(1)
	}
	if err := engine.Start(ctx); err != nil {
		logger.Error("Failed to start synchronizer", log.FieldError, err.Error())
		os.Exit(1)
	}

	srv := httpapi.NewServer(":"+cfg.Port, engine, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting lifesync server",
			"port", cfg.Port,
			log.FieldDocumentID, cfg.DocumentID,
			"remote_backend", cfg.RemoteBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown signal received")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		engine.Stop()
		if err := monitor.Stop(shutdownCtx); err != nil {
			logger.Warn("Connectivity monitor stop error", log.FieldError, err.Error())
		}
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server error", log.FieldError, err.Error())
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}
