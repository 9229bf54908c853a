package authcache

import (
	"testing"
	"time"

	"github.com/lvdashuaibi/bidfeed/internal/core"
)

func TestGetMissOnEmptyCache(t *testing.T) {
	c, err := New(4, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Get("nope"); ok {
		t.Fatal("expected miss on empty cache")
	}
}

func TestSetThenGetHits(t *testing.T) {
	c, err := New(4, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	c.Set("tok", core.Principal{UserID: "u1", Weight: 1.5})

	got, ok := c.Get("tok")
	if !ok {
		t.Fatal("expected hit after Set")
	}
	if got.UserID != "u1" || got.Weight != 1.5 {
		t.Fatalf("Get() = %+v, want UserID=u1 Weight=1.5", got)
	}
}

func TestEntryExpiresAfterTTL(t *testing.T) {
	c, err := New(4, time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	frozen := time.Now()
	c.now = func() time.Time { return frozen }
	c.Set("tok", core.Principal{UserID: "u1"})

	c.now = func() time.Time { return frozen.Add(time.Second) }
	if _, ok := c.Get("tok"); ok {
		t.Fatal("expected entry to have expired")
	}
}

func TestInvalidateRemovesEntry(t *testing.T) {
	c, err := New(4, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	c.Set("tok", core.Principal{UserID: "u1"})
	c.Invalidate("tok")
	if _, ok := c.Get("tok"); ok {
		t.Fatal("expected entry to be gone after Invalidate")
	}
}
