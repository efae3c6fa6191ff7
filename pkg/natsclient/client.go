package natsclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// ErrNotConnected is returned by operations that require an open session.
var ErrNotConnected = errors.New("natsclient: not connected")

// MsgIDHeader carries the message id JetStream deduplicates on.
const MsgIDHeader = nats.MsgIdHdr

// Options tunes the connection lifecycle.
type Options struct {
	// Name identifies the client to the server for monitoring.
	Name string
	// MaxRetries bounds the number of connection attempts per Connect call.
	MaxRetries int
	// RetryDelay is the wait after the first failed attempt; it doubles
	// after every further transient failure.
	RetryDelay     time.Duration
	ConnectTimeout time.Duration
	ReconnectWait  time.Duration
	MaxReconnects  int
	Logger         *zap.Logger
}

// conn is the slice of *nats.Conn the client depends on; tests substitute it.
type conn interface {
	JetStream(opts ...nats.JSOpt) (nats.JetStreamContext, error)
	PublishMsg(msg *nats.Msg) error
	IsConnected() bool
	Close()
}

type dialFunc func(url string, opts ...nats.Option) (conn, error)

type sleepFunc func(ctx context.Context, d time.Duration) error

// Client owns one logical session with a NATS server and its JetStream
// context. A client belongs to exactly one task; it is not safe for
// concurrent use.
type Client struct {
	url  string
	opts Options
	log  *zap.Logger

	nc conn
	js nats.JetStreamContext

	dial  dialFunc
	sleep sleepFunc
}

// New builds a disconnected client. Zero option fields fall back to the
// defaults the pipeline was designed around.
func New(url string, opts Options) *Client {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 2 * time.Second
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.ReconnectWait <= 0 {
		opts.ReconnectWait = 2 * time.Second
	}
	if opts.MaxReconnects == 0 {
		opts.MaxReconnects = 5
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		url:   url,
		opts:  opts,
		log:   log,
		dial:  natsDial,
		sleep: sleepContext,
	}
}

func natsDial(url string, opts ...nats.Option) (conn, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return nc, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Connect dials the server and initializes the JetStream context, retrying
// transient failures with exponential backoff. Exhausting MaxRetries
// attempts returns an error the caller treats as fatal; a non-transient
// failure aborts immediately. Connecting an already connected client is a
// no-op.
func (c *Client) Connect(ctx context.Context) error {
	if c.IsConnected() {
		return nil
	}

	delay := c.opts.RetryDelay
	for attempt := 1; ; attempt++ {
		nc, err := c.dial(c.url, c.connectOptions()...)
		if err == nil {
			js, jsErr := nc.JetStream()
			if jsErr != nil {
				nc.Close()
				return fmt.Errorf("jetstream context: %w", jsErr)
			}
			c.nc = nc
			c.js = js
			c.log.Info("connected to nats",
				zap.String("url", c.url),
				zap.String("name", c.opts.Name))
			return nil
		}
		if !Transient(err) {
			return fmt.Errorf("connect to %s: %w", c.url, err)
		}
		if attempt >= c.opts.MaxRetries {
			return fmt.Errorf("connect to %s: %d attempts exhausted: %w", c.url, attempt, err)
		}
		c.log.Warn("connect failed, retrying",
			zap.String("url", c.url),
			zap.Int("attempt", attempt),
			zap.Int("max_retries", c.opts.MaxRetries),
			zap.Duration("retry_in", delay),
			zap.Error(err))
		if sleepErr := c.sleep(ctx, delay); sleepErr != nil {
			return fmt.Errorf("connect to %s: %w", c.url, sleepErr)
		}
		delay *= 2
	}
}

func (c *Client) connectOptions() []nats.Option {
	return []nats.Option{
		nats.Name(c.opts.Name),
		nats.Timeout(c.opts.ConnectTimeout),
		nats.ReconnectWait(c.opts.ReconnectWait),
		nats.MaxReconnects(c.opts.MaxReconnects),
	}
}

// Transient reports whether err is a connection failure worth retrying:
// no servers available, a timeout, or a closed connection.
func Transient(err error) bool {
	if errors.Is(err, nats.ErrNoServers) ||
		errors.Is(err, nats.ErrTimeout) ||
		errors.Is(err, nats.ErrConnectionClosed) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsConnected reports whether the session is currently open. Pure state
// query, no I/O.
func (c *Client) IsConnected() bool {
	return c.nc != nil && c.nc.IsConnected()
}

// Close releases the session. Closing a never-opened or already-closed
// client is a no-op.
func (c *Client) Close() {
	if c.nc == nil {
		return
	}
	c.nc.Close()
	c.nc = nil
	c.js = nil
	c.log.Info("nats connection closed", zap.String("name", c.opts.Name))
}

// Publish sends one message on subject. The send is fire-and-forget at the
// transport level; durability is the bound stream's responsibility once the
// server accepts the message.
func (c *Client) Publish(subject string, data []byte, headers map[string]string) error {
	if c.nc == nil {
		return ErrNotConnected
	}
	msg := &nats.Msg{Subject: subject, Data: data}
	if len(headers) > 0 {
		msg.Header = nats.Header{}
		for k, v := range headers {
			msg.Header.Set(k, v)
		}
	}
	return c.nc.PublishMsg(msg)
}
