package sessioncache

import (
	"errors"
	"testing"
	"time"

	"github.com/lvdashuaibi/bidfeed/internal/apierr"
	"github.com/lvdashuaibi/bidfeed/internal/core"
)

func TestClassifyWindowNotStarted(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	session := core.Session{StartTime: start, EndTime: start.Add(time.Hour)}

	err := classifyWindow(session, start.Add(-time.Minute))
	if !errors.Is(err, apierr.ErrSessionNotStarted) {
		t.Fatalf("classifyWindow() = %v, want ErrSessionNotStarted", err)
	}
}

func TestClassifyWindowEnded(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	session := core.Session{StartTime: start, EndTime: start.Add(time.Hour)}

	err := classifyWindow(session, start.Add(2*time.Hour))
	if !errors.Is(err, apierr.ErrSessionEnded) {
		t.Fatalf("classifyWindow() = %v, want ErrSessionEnded", err)
	}
}

func TestClassifyWindowWithinRangeIsNil(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	session := core.Session{StartTime: start, EndTime: start.Add(time.Hour)}

	if err := classifyWindow(session, start.Add(30*time.Minute)); err != nil {
		t.Fatalf("classifyWindow() = %v, want nil for a moment inside the window", err)
	}
}

func TestClassifyWindowStartIsInclusive(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	session := core.Session{StartTime: start, EndTime: start.Add(time.Hour)}

	if err := classifyWindow(session, start); err != nil {
		t.Fatalf("classifyWindow() at exactly StartTime = %v, want nil", err)
	}
}

func TestClassifyWindowEndIsExclusive(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	session := core.Session{StartTime: start, EndTime: end}

	err := classifyWindow(session, end)
	if !errors.Is(err, apierr.ErrSessionEnded) {
		t.Fatalf("classifyWindow() at exactly EndTime = %v, want ErrSessionEnded (now >= end must fail)", err)
	}

	if err := classifyWindow(session, end.Add(-time.Nanosecond)); err != nil {
		t.Fatalf("classifyWindow() one instant before EndTime = %v, want nil", err)
	}
}
