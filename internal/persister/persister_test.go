package persister

import (
	"testing"

	"go.uber.org/zap"
)

func newTestPersister(maxRetries int) *Persister {
	return &Persister{
		maxRetries: maxRetries,
		retries:    make(map[string]int),
		log:        zap.NewNop(),
	}
}

func TestNoteFailureRequeuesBelowMaxRetries(t *testing.T) {
	p := newTestPersister(3)

	for want := 1; want <= 3; want++ {
		attempts, dropped := p.noteFailure("sess-1")
		if attempts != want {
			t.Fatalf("attempt %d: attempts = %d, want %d", want, attempts, want)
		}
		if dropped {
			t.Fatalf("attempt %d should not be dropped yet (maxRetries=3)", want)
		}
	}
}

func TestNoteFailureDropsPastMaxRetries(t *testing.T) {
	p := newTestPersister(3)

	for i := 0; i < 3; i++ {
		if _, dropped := p.noteFailure("sess-1"); dropped {
			t.Fatalf("attempt %d should not be dropped yet", i+1)
		}
	}

	attempts, dropped := p.noteFailure("sess-1")
	if !dropped {
		t.Fatalf("4th consecutive failure with maxRetries=3 should be dropped")
	}
	if attempts != 4 {
		t.Fatalf("attempts = %d, want 4", attempts)
	}

	if got := p.retries["sess-1"]; got != 0 {
		t.Fatalf("dropped session should have its retry counter reset, got %d", got)
	}
}

func TestNoteFailureTracksSessionsIndependently(t *testing.T) {
	p := newTestPersister(1)

	if _, dropped := p.noteFailure("a"); dropped {
		t.Fatal("first failure for session a should not drop it")
	}
	if _, dropped := p.noteFailure("b"); dropped {
		t.Fatal("session b's first failure should not be affected by session a's count")
	}
}
