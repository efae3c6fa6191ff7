package events

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Operation classifies a filesystem change.
type Operation string

const (
	OpAdded   Operation = "added"
	OpDeleted Operation = "deleted"
)

// Valid reports whether the operation is one of the enumerated values.
func (o Operation) Valid() bool {
	return o == OpAdded || o == OpDeleted
}

// Record is a single filesystem change event as it travels the wire.
//
// SizeKB is meaningful only for added files; deletions carry 0. Timestamp is
// the producer-side capture time in Unix seconds, kept as a float64 so that
// encoding and decoding round-trip the value exactly.
type Record struct {
	Path      string    `json:"path"`
	Operation Operation `json:"operation"`
	SizeKB    float64   `json:"file_size"`
	Timestamp float64   `json:"timestamp"`
}

// NewAdded builds a record for a created file, stamped with the current time.
func NewAdded(path string, sizeKB float64) Record {
	return Record{
		Path:      path,
		Operation: OpAdded,
		SizeKB:    sizeKB,
		Timestamp: now(),
	}
}

// NewDeleted builds a record for a removed file, stamped with the current time.
func NewDeleted(path string) Record {
	return Record{
		Path:      path,
		Operation: OpDeleted,
		Timestamp: now(),
	}
}

func now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// Time converts the wire timestamp back into a time.Time.
func (r Record) Time() time.Time {
	sec, frac := math.Modf(r.Timestamp)
	return time.Unix(int64(sec), int64(frac*float64(time.Second)))
}

// Validate checks the record invariants: a non-empty path and an enumerated
// operation.
func (r Record) Validate() error {
	if r.Path == "" {
		return fmt.Errorf("event record: empty path")
	}
	if !r.Operation.Valid() {
		return fmt.Errorf("event record: unknown operation %q", r.Operation)
	}
	return nil
}

// Encode serializes the record to its JSON wire form.
func (r Record) Encode() ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(r)
}

// Decode parses a wire payload into a Record. A payload that parses but
// violates the record invariants is a decode failure.
func Decode(data []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return Record{}, fmt.Errorf("decode event record: %w", err)
	}
	if err := r.Validate(); err != nil {
		return Record{}, err
	}
	return r, nil
}
