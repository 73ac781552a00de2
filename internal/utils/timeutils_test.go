package utils

import (
	"testing"
	"time"
)

func TestParseLogTimestampWithOffset(t *testing.T) {
	ts, err := ParseLogTimestamp("2025-07-25 00:03:47.451678", "[+0100]", nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := time.Date(2025, 7, 24, 23, 3, 47, 451678000, time.UTC)
	if !ts.Equal(want) {
		t.Fatalf("expected %v, got %v", want, ts)
	}
}

func TestParseLogTimestampISO(t *testing.T) {
	ts, err := ParseLogTimestamp("2025-07-25T10:00:00Z", "", nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ts.Hour() != 10 {
		t.Fatalf("unexpected hour %d", ts.Hour())
	}
}

func TestParseLogTimestampRejectsGarbage(t *testing.T) {
	if _, err := ParseLogTimestamp("yesterday", "", nil); err == nil {
		t.Fatalf("expected error")
	}
}

func TestDurationMinutesOrderInsensitive(t *testing.T) {
	a := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	b := a.Add(90 * time.Second)
	if DurationMinutes(b, a) != 1.5 {
		t.Fatalf("expected 1.5 minutes")
	}
}
