package apierr

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestWithDeadlineAppliesOperationTimeout(t *testing.T) {
	dctx, cancel := WithDeadline(context.Background())
	defer cancel()

	deadline, ok := dctx.Deadline()
	if !ok {
		t.Fatal("WithDeadline should attach a deadline")
	}
	if until := time.Until(deadline); until <= 0 || until > OperationTimeout {
		t.Fatalf("deadline %v from now, want within (0, %v]", until, OperationTimeout)
	}
}

func TestWithDeadlineKeepsTighterParentDeadline(t *testing.T) {
	parent, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	dctx, cancel2 := WithDeadline(parent)
	defer cancel2()

	deadline, _ := dctx.Deadline()
	if time.Until(deadline) > time.Second {
		t.Fatalf("WithDeadline should not loosen an already-tighter parent deadline")
	}
}

func TestClassifyTimeoutRewritesDeadlineExceeded(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	got := ClassifyTimeout(ctx, errors.New("dial tcp: i/o timeout"))
	if !errors.Is(got, ErrUpstreamTimeout) {
		t.Fatalf("ClassifyTimeout() = %v, want ErrUpstreamTimeout", got)
	}
}

func TestClassifyTimeoutPassesThroughOtherErrors(t *testing.T) {
	ctx := context.Background()
	original := fmt.Errorf("connection refused")

	got := ClassifyTimeout(ctx, original)
	if !errors.Is(got, original) {
		t.Fatalf("ClassifyTimeout() should pass through a non-deadline error unchanged, got %v", got)
	}
}

func TestClassifyTimeoutNilIsNil(t *testing.T) {
	if err := ClassifyTimeout(context.Background(), nil); err != nil {
		t.Fatalf("ClassifyTimeout(nil) = %v, want nil", err)
	}
}

func TestKindClassifiesDistinctSessionErrors(t *testing.T) {
	cases := []struct {
		err  error
		want error
	}{
		{ErrSessionNotStarted, ErrSessionNotStarted},
		{ErrSessionEnded, ErrSessionEnded},
		{ErrSessionInactive, ErrSessionInactive},
		{fmt.Errorf("wrapped: %w", ErrBidBelowReserve), ErrBidBelowReserve},
		{errors.New("something unmapped"), ErrInternal},
	}
	for _, c := range cases {
		if got := Kind(c.err); !errors.Is(got, c.want) {
			t.Errorf("Kind(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}
