package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/fileflow/internal/monitor"
	"github.com/your-org/fileflow/internal/ops"
	"github.com/your-org/fileflow/pkg/config"
	"github.com/your-org/fileflow/pkg/logger"
	"github.com/your-org/fileflow/pkg/natsclient"
	"github.com/your-org/fileflow/pkg/tracing"
)

const serviceName = "file-events-monitor"

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

	sink, err := monitor.NewFileSink(cfg.Paths.LogFile)
	if err != nil {
		logr.Fatal("init event log", zap.Error(err))
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

	loop := monitor.NewLoop(client, sink, monitor.Options{
		Stream: natsclient.StreamSpec{
			Name:     cfg.Stream.Name,
			Subjects: []string{cfg.Stream.Subject},
		},
		Subject:      cfg.Stream.Subject,
		Consumer:     natsclient.ConsumerSpec{Durable: cfg.Consumer.Durable},
		BatchSize:    cfg.Consumer.BatchSize,
		FetchTimeout: cfg.Consumer.FetchTimeout,
		RetryBackoff: cfg.Consumer.RetryBackoff,
	}, logr)

	opsServer := ops.NewServer(ops.Options{
		Addr:         cfg.Ops.Addr,
		ReadTimeout:  cfg.Ops.ReadTimeout,
		WriteTimeout: cfg.Ops.WriteTimeout,
		IdleTimeout:  cfg.Ops.IdleTimeout,
	}, ops.Probes{
		Healthy: loop.Healthy,
		Stats:   func() any { return loop.Stats() },
	}, logr)
	opsServer.Start()

	logr.Info("monitor started",
		zap.String("stream", cfg.Stream.Name),
		zap.String("durable", cfg.Consumer.Durable),
		zap.String("log_file", sink.Path()))

	if err := loop.Run(ctx); err != nil {
		logr.Error("monitor stopped with error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	opsServer.Shutdown(shutdownCtx)
	logr.Info("monitor stopped")
}
