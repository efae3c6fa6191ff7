package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/fileflow/internal/listener"
	"github.com/your-org/fileflow/internal/ops"
	"github.com/your-org/fileflow/internal/watcher"
	"github.com/your-org/fileflow/pkg/config"
	"github.com/your-org/fileflow/pkg/logger"
	"github.com/your-org/fileflow/pkg/natsclient"
	"github.com/your-org/fileflow/pkg/tracing"
)

const serviceName = "file-events-publisher"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logr, err := logger.New(cfg.App.LogLevel, cfg.App.LogFormat)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	traceShutdown, err := tracing.Init(ctx, tracing.Config{
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
		ServiceName: serviceName,
		Version:     cfg.App.Version,
		Environment: cfg.App.Environment,
	})
	if err != nil {
		logr.Fatal("init tracing", zap.Error(err))
	}
	defer traceShutdown(context.Background()) //nolint:errcheck

	if err := os.MkdirAll(cfg.Paths.WatchDir, 0o755); err != nil {
		logr.Fatal("create watch directory", zap.Error(err))
	}

	client := natsclient.New(cfg.NATS.URL, natsclient.Options{
		Name:           serviceName,
		MaxRetries:     cfg.NATS.MaxRetries,
		RetryDelay:     cfg.NATS.RetryDelay,
		ConnectTimeout: cfg.NATS.ConnectTimeout,
		ReconnectWait:  cfg.NATS.ReconnectWait,
		MaxReconnects:  cfg.NATS.MaxReconnects,
		Logger:         logr,
	})
	if err := client.Connect(ctx); err != nil {
		logr.Fatal("connect to nats", zap.Error(err))
	}
	defer client.Close()

	stream := natsclient.StreamSpec{
		Name:     cfg.Stream.Name,
		Subjects: []string{cfg.Stream.Subject},
	}
	if err := client.EnsureStream(ctx, stream); err != nil {
		logr.Fatal("provision stream", zap.Error(err))
	}

	w, err := watcher.New(cfg.Paths.WatchDir, logr)
	if err != nil {
		logr.Fatal("start watcher", zap.Error(err))
	}

	service := listener.New(client, cfg.Stream.Subject, logr)

	opsServer := ops.NewServer(ops.Options{
		Addr:         cfg.Ops.Addr,
		ReadTimeout:  cfg.Ops.ReadTimeout,
		WriteTimeout: cfg.Ops.WriteTimeout,
		IdleTimeout:  cfg.Ops.IdleTimeout,
	}, ops.Probes{
		Healthy: service.Healthy,
		Stats:   func() any { return service.Stats() },
	}, logr)
	opsServer.Start()

	logr.Info("listener started",
		zap.String("watch_dir", cfg.Paths.WatchDir),
		zap.String("stream", cfg.Stream.Name),
		zap.String("subject", cfg.Stream.Subject))

	if err := service.Run(ctx, w.Events()); err != nil {
		logr.Error("listener stopped with error", zap.Error(err))
	}

	if err := w.Close(); err != nil {
		logr.Warn("close watcher", zap.Error(err))
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	opsServer.Shutdown(shutdownCtx)
	logr.Info("listener stopped")
}
