package broadcast

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestSubscribeReceivesNotify(t *testing.T) {
	b := New(4, zap.NewNop())
	ch, unsubscribe := b.Subscribe("s1")
	defer unsubscribe()

	b.Notify("s1", Snapshot{SessionID: "s1"})

	select {
	case snap := <-ch:
		if snap.SessionID != "s1" {
			t.Fatalf("got session %q, want s1", snap.SessionID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for notify")
	}
}

func TestNotifyDoesNotBlockOnFullQueue(t *testing.T) {
	b := New(1, zap.NewNop())
	ch, unsubscribe := b.Subscribe("s1")
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Notify("s1", Snapshot{SessionID: "s1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked instead of dropping the overflowing subscriber")
	}
	<-ch // drain whatever made it through before the subscriber was dropped
}

func TestUnsubscribeStopsFurtherDelivery(t *testing.T) {
	b := New(4, zap.NewNop())
	ch, unsubscribe := b.Subscribe("s1")
	unsubscribe()

	b.Notify("s1", Snapshot{SessionID: "s1"})

	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed after unsubscribe")
	}
}

func TestNotifyIsolatedPerSession(t *testing.T) {
	b := New(4, zap.NewNop())
	chA, unsubA := b.Subscribe("a")
	defer unsubA()
	chB, unsubB := b.Subscribe("b")
	defer unsubB()

	b.Notify("a", Snapshot{SessionID: "a"})

	select {
	case <-chA:
	case <-time.After(time.Second):
		t.Fatal("session a should have received its own notify")
	}

	select {
	case <-chB:
		t.Fatal("session b should not receive session a's notify")
	case <-time.After(50 * time.Millisecond):
	}
}
