package monitor

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/your-org/fileflow/internal/events"
	"github.com/your-org/fileflow/pkg/natsclient"
)

// Broker is the durable-stream slice the loop drives.
type Broker interface {
	Connect(ctx context.Context) error
	IsConnected() bool
	EnsureStream(ctx context.Context, spec natsclient.StreamSpec) error
	EnsureConsumer(ctx context.Context, stream string, spec natsclient.ConsumerSpec) error
	PullSubscribe(subject, durable string) (natsclient.PullConsumer, error)
	Close()
}

// Options fixes the stream topology and polling cadence for a loop.
type Options struct {
	Stream       natsclient.StreamSpec
	Subject      string
	Consumer     natsclient.ConsumerSpec
	BatchSize    int
	FetchTimeout time.Duration
	RetryBackoff time.Duration
}

type state int

const (
	stateDisconnected state = iota
	stateProvisioning
	statePolling
)

// Loop pull-consumes file events and hands each one to the sink,
// acknowledging every delivery. Once running it survives connection loss by
// reconnecting and re-provisioning for as long as its context lives.
type Loop struct {
	broker Broker
	sink   EventSink
	opts   Options
	log    *zap.Logger
	tracer trace.Tracer

	sleep func(ctx context.Context, d time.Duration)

	healthy        atomic.Bool
	fetched        atomic.Uint64
	acked          atomic.Uint64
	decodeFailures atomic.Uint64
	sinkFailures   atomic.Uint64
	reconnects     atomic.Uint64
}

func NewLoop(broker Broker, sink EventSink, opts Options, log *zap.Logger) *Loop {
	if opts.Subject == "" && len(opts.Stream.Subjects) > 0 {
		opts.Subject = opts.Stream.Subjects[0]
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = time.Second
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 2 * time.Second
	}
	return &Loop{
		broker: broker,
		sink:   sink,
		opts:   opts,
		log:    log,
		tracer: otel.Tracer("monitor"),
		sleep:  sleepBackoff,
	}
}

func sleepBackoff(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Run drives the consume state machine until ctx is cancelled, then closes
// the broker session and returns nil. The caller connects before the first
// Run; every later connection loss is retried here indefinitely.
func (l *Loop) Run(ctx context.Context) error {
	st := stateDisconnected
	if l.broker.IsConnected() {
		st = stateProvisioning
	}
	var sub natsclient.PullConsumer
	for {
		if ctx.Err() != nil {
			l.healthy.Store(false)
			l.broker.Close()
			l.log.Info("monitor loop stopped")
			return nil
		}
		switch st {
		case stateDisconnected:
			l.healthy.Store(false)
			l.broker.Close()
			if err := l.broker.Connect(ctx); err != nil {
				l.log.Warn("reconnect failed", zap.Error(err))
				l.sleep(ctx, l.opts.RetryBackoff)
				continue
			}
			l.reconnects.Add(1)
			st = stateProvisioning

		case stateProvisioning:
			sub = nil
			if err := l.provision(ctx); err != nil {
				l.log.Warn("provisioning failed", zap.Error(err))
				l.sleep(ctx, l.opts.RetryBackoff)
				st = stateDisconnected
				continue
			}
			s, err := l.broker.PullSubscribe(l.opts.Subject, l.opts.Consumer.Durable)
			if err != nil {
				l.log.Warn("pull subscribe failed", zap.Error(err))
				l.sleep(ctx, l.opts.RetryBackoff)
				st = stateDisconnected
				continue
			}
			sub = s
			st = statePolling
			l.log.Info("consuming file events",
				zap.String("stream", l.opts.Stream.Name),
				zap.String("durable", l.opts.Consumer.Durable))

		case statePolling:
			l.healthy.Store(true)
			msgs, err := sub.Fetch(l.opts.BatchSize, l.opts.FetchTimeout)
			if err != nil {
				// Consumer deleted, connection closed, whatever the cause:
				// tear down and rebuild the whole session.
				l.log.Warn("fetch failed, reconnecting", zap.Error(err))
				l.sleep(ctx, l.opts.RetryBackoff)
				st = stateDisconnected
				continue
			}
			for _, msg := range msgs {
				l.process(ctx, msg)
			}
		}
	}
}

func (l *Loop) provision(ctx context.Context) error {
	if err := l.broker.EnsureStream(ctx, l.opts.Stream); err != nil {
		return err
	}
	return l.broker.EnsureConsumer(ctx, l.opts.Stream.Name, l.opts.Consumer)
}

// process records one delivery and acknowledges it. Deliveries that cannot
// be decoded or recorded are still acknowledged: redelivering them would
// repeat the same failure and block the stream behind a poison message.
func (l *Loop) process(ctx context.Context, msg natsclient.Msg) {
	l.fetched.Add(1)
	_, span := l.tracer.Start(ctx, "monitor.process")
	defer span.End()

	rec, err := events.Decode(msg.Data())
	switch {
	case err != nil:
		l.decodeFailures.Add(1)
		span.RecordError(err)
		l.log.Error("drop undecodable event",
			zap.ByteString("payload", msg.Data()),
			zap.Error(err))
	default:
		span.SetAttributes(
			attribute.String("file.path", rec.Path),
			attribute.String("file.operation", string(rec.Operation)),
		)
		if err := l.sink.Record(rec); err != nil {
			l.sinkFailures.Add(1)
			span.RecordError(err)
			l.log.Error("record event", zap.String("path", rec.Path), zap.Error(err))
		} else {
			l.log.Info("recorded file event",
				zap.String("operation", string(rec.Operation)),
				zap.String("path", rec.Path))
		}
	}

	if err := msg.Ack(); err != nil {
		l.log.Warn("ack failed", zap.Error(err))
		return
	}
	l.acked.Add(1)
}

// Healthy reports whether the loop is connected and polling.
func (l *Loop) Healthy() bool {
	return l.healthy.Load()
}

// Stats is a point-in-time snapshot of the consume counters.
type Stats struct {
	Fetched        uint64 `json:"fetched"`
	Acked          uint64 `json:"acked"`
	DecodeFailures uint64 `json:"decode_failures"`
	SinkFailures   uint64 `json:"sink_failures"`
	Reconnects     uint64 `json:"reconnects"`
}

func (l *Loop) Stats() Stats {
	return Stats{
		Fetched:        l.fetched.Load(),
		Acked:          l.acked.Load(),
		DecodeFailures: l.decodeFailures.Load(),
		SinkFailures:   l.sinkFailures.Load(),
		Reconnects:     l.reconnects.Load(),
	}
}
