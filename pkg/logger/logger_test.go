package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewJSONFormat(t *testing.T) {
	l := New(LoggingConfig{Level: "debug", Format: "json"})
	var buf bytes.Buffer
	l.SetOutput(&buf)

	l.Named("escrow").WithField("escrow_id", "e1").Debug("refunded")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v (%s)", err, buf.String())
	}
	if entry["component"] != "escrow" {
		t.Fatalf("component field missing: %v", entry)
	}
	if entry["escrow_id"] != "e1" {
		t.Fatalf("escrow_id field missing: %v", entry)
	}
	if entry["level"] != "debug" {
		t.Fatalf("unexpected level: %v", entry["level"])
	}
}

func TestInvalidLevelFallsBackToInfo(t *testing.T) {
	l := New(LoggingConfig{Level: "chatty"})
	if got := l.Entry.Logger.GetLevel(); got != logrus.InfoLevel {
		t.Fatalf("expected info level, got %s", got)
	}
}

func TestNamedEmptyReturnsSameLogger(t *testing.T) {
	l := NewDefault("")
	if l.Named("") != l {
		t.Fatalf("Named(\"\") should return the receiver")
	}
}
