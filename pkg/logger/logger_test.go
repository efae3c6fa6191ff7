package logger

import "testing"

func TestNewAcceptsKnownLevelsAndFormats(t *testing.T) {
	for _, level := range []string{"debug", "info", "WARN", "error"} {
		for _, format := range []string{"", "json", "console"} {
			if _, err := New(level, format); err != nil {
				t.Fatalf("New(%q, %q): %v", level, format, err)
			}
		}
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New("loud", "json"); err == nil {
		t.Fatal("New accepted an unknown level")
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New("info", "xml"); err == nil {
		t.Fatal("New accepted an unknown format")
	}
}
