package natsclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// StreamSpec declares a durable stream bound to its subjects.
type StreamSpec struct {
	Name     string
	Subjects []string
}

// AckPolicy selects how a consumer acknowledges deliveries. The zero value
// is explicit per-message acknowledgement.
type AckPolicy int

const (
	AckExplicit AckPolicy = iota
	AckAll
	AckNone
)

func (p AckPolicy) nats() nats.AckPolicy {
	switch p {
	case AckAll:
		return nats.AckAllPolicy
	case AckNone:
		return nats.AckNonePolicy
	default:
		return nats.AckExplicitPolicy
	}
}

// DeliverPolicy selects where a new consumer starts in the stream. The zero
// value delivers only messages published after the consumer was created.
type DeliverPolicy int

const (
	DeliverNew DeliverPolicy = iota
	DeliverAll
	DeliverLast
)

func (p DeliverPolicy) nats() nats.DeliverPolicy {
	switch p {
	case DeliverAll:
		return nats.DeliverAllPolicy
	case DeliverLast:
		return nats.DeliverLastPolicy
	default:
		return nats.DeliverNewPolicy
	}
}

// ConsumerSpec declares a durable pull consumer on a stream.
type ConsumerSpec struct {
	Durable       string
	AckPolicy     AckPolicy
	DeliverPolicy DeliverPolicy
}

// EnsureStream creates the stream when it does not exist yet. An existing
// stream is success as-is; its live configuration is not reconciled against
// spec. Losing the create race to another client is also success.
func (c *Client) EnsureStream(ctx context.Context, spec StreamSpec) error {
	if c.js == nil {
		return ErrNotConnected
	}
	_, err := c.js.StreamInfo(spec.Name, nats.Context(ctx))
	switch {
	case err == nil:
		c.log.Debug("stream exists", zap.String("stream", spec.Name))
		return nil
	case errors.Is(err, nats.ErrStreamNotFound):
		cfg := &nats.StreamConfig{Name: spec.Name, Subjects: spec.Subjects}
		if _, err := c.js.AddStream(cfg, nats.Context(ctx)); err != nil {
			if errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
				return nil
			}
			return fmt.Errorf("create stream %s: %w", spec.Name, err)
		}
		c.log.Info("created stream",
			zap.String("stream", spec.Name),
			zap.Strings("subjects", spec.Subjects))
		return nil
	default:
		return fmt.Errorf("look up stream %s: %w", spec.Name, err)
	}
}

// EnsureConsumer creates the durable consumer on stream when it does not
// exist yet, with the same tolerance for concurrent creators as
// EnsureStream.
func (c *Client) EnsureConsumer(ctx context.Context, stream string, spec ConsumerSpec) error {
	if c.js == nil {
		return ErrNotConnected
	}
	_, err := c.js.ConsumerInfo(stream, spec.Durable, nats.Context(ctx))
	switch {
	case err == nil:
		c.log.Debug("consumer exists",
			zap.String("stream", stream),
			zap.String("durable", spec.Durable))
		return nil
	case errors.Is(err, nats.ErrConsumerNotFound):
		cfg := &nats.ConsumerConfig{
			Durable:       spec.Durable,
			AckPolicy:     spec.AckPolicy.nats(),
			DeliverPolicy: spec.DeliverPolicy.nats(),
		}
		if _, err := c.js.AddConsumer(stream, cfg, nats.Context(ctx)); err != nil {
			if errors.Is(err, nats.ErrConsumerNameAlreadyInUse) {
				return nil
			}
			return fmt.Errorf("create consumer %s on %s: %w", spec.Durable, stream, err)
		}
		c.log.Info("created consumer",
			zap.String("stream", stream),
			zap.String("durable", spec.Durable))
		return nil
	default:
		return fmt.Errorf("look up consumer %s on %s: %w", spec.Durable, stream, err)
	}
}

// Msg is one delivered stream message. Ack marks it processed; an unacked
// message is redelivered after the server's ack wait elapses.
type Msg interface {
	Data() []byte
	Ack() error
}

// PullConsumer fetches bounded batches on demand from a durable pull
// subscription.
type PullConsumer interface {
	Fetch(batch int, maxWait time.Duration) ([]Msg, error)
}

// PullSubscribe binds a pull subscription to an existing durable consumer.
func (c *Client) PullSubscribe(subject, durable string) (PullConsumer, error) {
	if c.js == nil {
		return nil, ErrNotConnected
	}
	sub, err := c.js.PullSubscribe(subject, durable)
	if err != nil {
		return nil, fmt.Errorf("pull subscribe %s as %s: %w", subject, durable, err)
	}
	return &pullSubscription{sub: sub}, nil
}

type pullSubscription struct {
	sub *nats.Subscription
}

// Fetch returns up to batch messages, waiting at most maxWait for the first
// one. An empty stream is not an error: expiring without messages returns a
// nil slice so the caller can poll again.
func (p *pullSubscription) Fetch(batch int, maxWait time.Duration) ([]Msg, error) {
	msgs, err := p.sub.Fetch(batch, nats.MaxWait(maxWait))
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]Msg, len(msgs))
	for i, m := range msgs {
		out[i] = &streamMsg{msg: m}
	}
	return out, nil
}

type streamMsg struct {
	msg *nats.Msg
}

func (m *streamMsg) Data() []byte { return m.msg.Data }

func (m *streamMsg) Ack() error { return m.msg.Ack() }
