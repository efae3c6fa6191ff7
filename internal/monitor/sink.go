package monitor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/your-org/fileflow/internal/events"
)

// EventSink records consumed file events somewhere durable.
type EventSink interface {
	Record(rec events.Record) error
}

// FileSink appends one formatted line per event to a log file. The file is
// opened per write, so external rotation or truncation never strands a
// handle.
type FileSink struct {
	path string
}

// NewFileSink creates the sink and the directory holding its log file.
func NewFileSink(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create monitor directory: %w", err)
	}
	return &FileSink{path: path}, nil
}

// Path returns the location of the log file.
func (s *FileSink) Path() string {
	return s.path
}

// Record appends the event as a single human-readable line, stamped with
// the processing time.
func (s *FileSink) Record(rec events.Record) error {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.path, err)
	}
	line := fmt.Sprintf("[%s] File %s: %s, Size: %.2f KB\n",
		time.Now().Format("2006-01-02 15:04:05"),
		strings.ToUpper(string(rec.Operation)),
		rec.Path,
		rec.SizeKB)
	if _, err := f.WriteString(line); err != nil {
		f.Close()
		return fmt.Errorf("append to %s: %w", s.path, err)
	}
	return f.Close()
}
