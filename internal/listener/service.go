package listener

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/your-org/fileflow/internal/events"
	"github.com/your-org/fileflow/pkg/natsclient"
)

// Broker is the transport slice the service publishes through.
type Broker interface {
	Publish(subject string, data []byte, headers map[string]string) error
	IsConnected() bool
}

// Service drains file events from a source channel and publishes each one to
// the stream subject. Run is the only goroutine that touches the broker
// handle.
type Service struct {
	broker  Broker
	subject string
	log     *zap.Logger
	tracer  trace.Tracer

	published atomic.Uint64
	failed    atomic.Uint64
}

func New(broker Broker, subject string, log *zap.Logger) *Service {
	return &Service{
		broker:  broker,
		subject: subject,
		log:     log,
		tracer:  otel.Tracer("listener"),
	}
}

// Run publishes events from src until ctx is cancelled or src is closed.
// Events still queued at cancellation are dropped, not flushed.
func (s *Service) Run(ctx context.Context, src <-chan events.Record) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case rec, ok := <-src:
			if !ok {
				return nil
			}
			s.publish(ctx, rec)
		}
	}
}

func (s *Service) publish(ctx context.Context, rec events.Record) {
	_, span := s.tracer.Start(ctx, "listener.publish", trace.WithAttributes(
		attribute.String("file.path", rec.Path),
		attribute.String("file.operation", string(rec.Operation)),
	))
	defer span.End()

	data, err := rec.Encode()
	if err != nil {
		s.failed.Add(1)
		span.RecordError(err)
		s.log.Error("encode file event", zap.String("path", rec.Path), zap.Error(err))
		return
	}
	headers := map[string]string{natsclient.MsgIDHeader: uuid.NewString()}
	if err := s.broker.Publish(s.subject, data, headers); err != nil {
		s.failed.Add(1)
		span.RecordError(err)
		s.log.Error("publish file event",
			zap.String("subject", s.subject),
			zap.String("path", rec.Path),
			zap.Error(err))
		return
	}
	s.published.Add(1)
	s.log.Info("published file event",
		zap.String("operation", string(rec.Operation)),
		zap.String("path", rec.Path),
		zap.Float64("size_kb", rec.SizeKB))
}

// Healthy reports whether the broker session is open.
func (s *Service) Healthy() bool {
	return s.broker.IsConnected()
}

// Stats is a point-in-time snapshot of the publish counters.
type Stats struct {
	Published uint64 `json:"published"`
	Failed    uint64 `json:"failed"`
}

func (s *Service) Stats() Stats {
	return Stats{
		Published: s.published.Load(),
		Failed:    s.failed.Load(),
	}
}
