package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/your-org/fileflow/internal/events"
	"github.com/your-org/fileflow/pkg/natsclient"
)

type fakeMsg struct {
	data   []byte
	acked  int
	ackErr error
}

func (m *fakeMsg) Data() []byte { return m.data }

func (m *fakeMsg) Ack() error {
	m.acked++
	return m.ackErr
}

// fakePull serves queued batches, an optional one-shot error first, and
// invokes onIdle when drained so tests can stop the loop.
type fakePull struct {
	err     error
	batches [][]natsclient.Msg
	onIdle  func()
	calls   int
}

func (f *fakePull) Fetch(batch int, maxWait time.Duration) ([]natsclient.Msg, error) {
	f.calls++
	if f.err != nil {
		err := f.err
		f.err = nil
		return nil, err
	}
	if len(f.batches) == 0 {
		if f.onIdle != nil {
			f.onIdle()
		}
		return nil, nil
	}
	b := f.batches[0]
	f.batches = f.batches[1:]
	return b, nil
}

type fakeLoopBroker struct {
	connected    bool
	failConnects int
	subs         []natsclient.PullConsumer

	seq          []string
	connectCalls int
	closeCalls   int
	subIdx       int
}

func (f *fakeLoopBroker) Connect(ctx context.Context) error {
	f.connectCalls++
	f.seq = append(f.seq, "connect")
	if f.connectCalls <= f.failConnects {
		return nats.ErrNoServers
	}
	f.connected = true
	return nil
}

func (f *fakeLoopBroker) IsConnected() bool { return f.connected }

func (f *fakeLoopBroker) EnsureStream(ctx context.Context, spec natsclient.StreamSpec) error {
	f.seq = append(f.seq, "stream")
	return nil
}

func (f *fakeLoopBroker) EnsureConsumer(ctx context.Context, stream string, spec natsclient.ConsumerSpec) error {
	f.seq = append(f.seq, "consumer")
	return nil
}

func (f *fakeLoopBroker) PullSubscribe(subject, durable string) (natsclient.PullConsumer, error) {
	f.seq = append(f.seq, "subscribe")
	if f.subIdx >= len(f.subs) {
		return nil, errors.New("no subscription configured")
	}
	s := f.subs[f.subIdx]
	f.subIdx++
	return s, nil
}

func (f *fakeLoopBroker) Close() {
	f.closeCalls++
	f.connected = false
}

type memorySink struct {
	recs []events.Record
	err  error
}

func (s *memorySink) Record(rec events.Record) error {
	if s.err != nil {
		return s.err
	}
	s.recs = append(s.recs, rec)
	return nil
}

func encode(t *testing.T, rec events.Record) []byte {
	t.Helper()
	data, err := rec.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return data
}

func testOptions() Options {
	return Options{
		Stream:   natsclient.StreamSpec{Name: "FILES", Subjects: []string{"file.events"}},
		Consumer: natsclient.ConsumerSpec{Durable: "file-monitor"},
	}
}

func newTestLoop(broker Broker, sink EventSink) *Loop {
	l := NewLoop(broker, sink, testOptions(), zap.NewNop())
	l.sleep = func(context.Context, time.Duration) {}
	return l
}

func TestLoopRecordsAndAcksDeliveries(t *testing.T) {
	added := events.NewAdded("/data/a.txt", 2)
	deleted := events.NewDeleted("/data/a.txt")
	m1 := &fakeMsg{data: encode(t, added)}
	m2 := &fakeMsg{data: encode(t, deleted)}

	ctx, cancel := context.WithCancel(context.Background())
	sub := &fakePull{batches: [][]natsclient.Msg{{m1}, {m2}}, onIdle: cancel}
	broker := &fakeLoopBroker{connected: true, subs: []natsclient.PullConsumer{sub}}
	sink := &memorySink{}
	loop := newTestLoop(broker, sink)

	if err := loop.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(sink.recs) != 2 || sink.recs[0] != added || sink.recs[1] != deleted {
		t.Fatalf("sink recorded %+v, want [%+v %+v]", sink.recs, added, deleted)
	}
	if m1.acked != 1 || m2.acked != 1 {
		t.Fatalf("acks = %d and %d, want 1 and 1", m1.acked, m2.acked)
	}
	stats := loop.Stats()
	if stats.Fetched != 2 || stats.Acked != 2 || stats.Reconnects != 0 {
		t.Fatalf("stats = %+v", stats)
	}
	want := []string{"stream", "consumer", "subscribe"}
	if len(broker.seq) != len(want) {
		t.Fatalf("broker calls = %v, want %v", broker.seq, want)
	}
	for i := range want {
		if broker.seq[i] != want[i] {
			t.Fatalf("broker calls = %v, want %v", broker.seq, want)
		}
	}
	if broker.closeCalls != 1 {
		t.Fatalf("closeCalls = %d, want 1", broker.closeCalls)
	}
	if sub.calls != 3 {
		t.Fatalf("fetch calls = %d, want 3 (two batches, one idle, none after cancel)", sub.calls)
	}
	if loop.Healthy() {
		t.Fatal("Healthy() = true after Run returned")
	}
}

func TestLoopAcksUndecodableDeliveries(t *testing.T) {
	poison := &fakeMsg{data: []byte("not json")}
	ctx, cancel := context.WithCancel(context.Background())
	sub := &fakePull{batches: [][]natsclient.Msg{{poison}}, onIdle: cancel}
	broker := &fakeLoopBroker{connected: true, subs: []natsclient.PullConsumer{sub}}
	sink := &memorySink{}
	loop := newTestLoop(broker, sink)

	if err := loop.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(sink.recs) != 0 {
		t.Fatalf("sink recorded %+v, want nothing", sink.recs)
	}
	if poison.acked != 1 {
		t.Fatalf("poison message acked %d times, want 1", poison.acked)
	}
	stats := loop.Stats()
	if stats.DecodeFailures != 1 || stats.Acked != 1 {
		t.Fatalf("stats = %+v, want 1 decode failure and 1 ack", stats)
	}
}

func TestLoopAcksWhenSinkFails(t *testing.T) {
	msg := &fakeMsg{data: encode(t, events.NewAdded("/data/a.txt", 1))}
	ctx, cancel := context.WithCancel(context.Background())
	sub := &fakePull{batches: [][]natsclient.Msg{{msg}}, onIdle: cancel}
	broker := &fakeLoopBroker{connected: true, subs: []natsclient.PullConsumer{sub}}
	loop := newTestLoop(broker, &memorySink{err: errors.New("disk full")})

	if err := loop.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if msg.acked != 1 {
		t.Fatalf("message acked %d times, want 1", msg.acked)
	}
	stats := loop.Stats()
	if stats.SinkFailures != 1 || stats.Acked != 1 {
		t.Fatalf("stats = %+v, want 1 sink failure and 1 ack", stats)
	}
}

func TestLoopReprovisionsAfterConnectionLoss(t *testing.T) {
	rec := events.NewAdded("/data/a.txt", 1)
	msg := &fakeMsg{data: encode(t, rec)}
	ctx, cancel := context.WithCancel(context.Background())
	broken := &fakePull{err: nats.ErrConnectionClosed}
	healthy := &fakePull{batches: [][]natsclient.Msg{{msg}}, onIdle: cancel}
	broker := &fakeLoopBroker{connected: true, subs: []natsclient.PullConsumer{broken, healthy}}
	sink := &memorySink{}
	loop := newTestLoop(broker, sink)

	if err := loop.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(sink.recs) != 1 || sink.recs[0] != rec {
		t.Fatalf("sink recorded %+v, want [%+v]", sink.recs, rec)
	}
	if got := loop.Stats().Reconnects; got != 1 {
		t.Fatalf("reconnects = %d, want 1", got)
	}
	want := []string{"stream", "consumer", "subscribe", "connect", "stream", "consumer", "subscribe"}
	if len(broker.seq) != len(want) {
		t.Fatalf("broker calls = %v, want %v", broker.seq, want)
	}
	for i := range want {
		if broker.seq[i] != want[i] {
			t.Fatalf("broker calls = %v, want %v", broker.seq, want)
		}
	}
	if broker.closeCalls != 2 {
		t.Fatalf("closeCalls = %d, want 2", broker.closeCalls)
	}
}

func TestLoopKeepsRetryingFailedReconnects(t *testing.T) {
	rec := events.NewAdded("/data/a.txt", 1)
	msg := &fakeMsg{data: encode(t, rec)}
	ctx, cancel := context.WithCancel(context.Background())
	sub := &fakePull{batches: [][]natsclient.Msg{{msg}}, onIdle: cancel}
	broker := &fakeLoopBroker{failConnects: 2, subs: []natsclient.PullConsumer{sub}}
	sink := &memorySink{}
	loop := newTestLoop(broker, sink)
	sleeps := 0
	loop.sleep = func(context.Context, time.Duration) { sleeps++ }

	if err := loop.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if broker.connectCalls != 3 {
		t.Fatalf("connectCalls = %d, want 3", broker.connectCalls)
	}
	if sleeps != 2 {
		t.Fatalf("sleeps = %d, want 2", sleeps)
	}
	if len(sink.recs) != 1 {
		t.Fatalf("sink recorded %+v, want one event", sink.recs)
	}
}

func TestLoopStopsImmediatelyWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	broker := &fakeLoopBroker{connected: true}
	loop := newTestLoop(broker, &memorySink{})

	if err := loop.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if broker.closeCalls != 1 {
		t.Fatalf("closeCalls = %d, want 1", broker.closeCalls)
	}
	if broker.connectCalls != 0 {
		t.Fatalf("connectCalls = %d, want 0", broker.connectCalls)
	}
}
