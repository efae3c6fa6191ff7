package events

import (
	"strings"
	"testing"
	"time"
)

func TestRecordRoundTrip(t *testing.T) {
	records := []Record{
		NewAdded("/x/a.txt", 12.5),
		NewAdded("/x/empty.txt", 0), // empty file: zero is a real observed size
		NewDeleted("/x/gone.txt"),
		{Path: "/y/b.bin", Operation: OpAdded, SizeKB: 0.0009765625, Timestamp: 1700000000.123456},
	}
	for _, in := range records {
		data, err := in.Encode()
		if err != nil {
			t.Fatalf("encode %+v: %v", in, err)
		}
		out, err := Decode(data)
		if err != nil {
			t.Fatalf("decode %s: %v", data, err)
		}
		if out != in {
			t.Fatalf("round trip mismatch: in=%+v out=%+v", in, out)
		}
	}
}

func TestRecordWireFields(t *testing.T) {
	rec := Record{Path: "/x/a.txt", Operation: OpAdded, SizeKB: 12.5, Timestamp: 1700000000}
	data, err := rec.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	wire := string(data)
	for _, field := range []string{`"path":"/x/a.txt"`, `"operation":"added"`, `"file_size":12.5`, `"timestamp":1700000000`} {
		if !strings.Contains(wire, field) {
			t.Fatalf("wire payload %s missing %s", wire, field)
		}
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	payloads := [][]byte{
		[]byte("this is not json"),
		[]byte(`{"path":"","operation":"added","file_size":0,"timestamp":1}`),
		[]byte(`{"path":"/x/a.txt","operation":"modified","file_size":0,"timestamp":1}`),
		[]byte(`{}`),
	}
	for _, p := range payloads {
		if _, err := Decode(p); err == nil {
			t.Fatalf("expected decode failure for %s", p)
		}
	}
}

func TestEncodeRejectsInvalid(t *testing.T) {
	if _, err := (Record{Operation: OpAdded}).Encode(); err == nil {
		t.Fatalf("expected error for empty path")
	}
	if _, err := (Record{Path: "/x", Operation: "renamed"}).Encode(); err == nil {
		t.Fatalf("expected error for unknown operation")
	}
}

func TestRecordTime(t *testing.T) {
	rec := Record{Path: "/x", Operation: OpDeleted, Timestamp: 1700000000.5}
	want := time.Unix(1700000000, int64(500*time.Millisecond))
	if got := rec.Time(); !got.Equal(want) {
		t.Fatalf("time: got %v want %v", got, want)
	}

	before := time.Now().Add(-time.Second)
	stamped := NewDeleted("/x")
	if ts := stamped.Time(); ts.Before(before) || ts.After(time.Now().Add(time.Second)) {
		t.Fatalf("constructor timestamp out of range: %v", ts)
	}
}
