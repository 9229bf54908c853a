// Package apierr defines the sentinel error kinds surfaced across the
// bid pipeline, so every layer (hot store, durable store, bid processor,
// API) reports failures the caller can branch on without string matching.
package apierr

import (
	"context"
	"errors"
	"time"
)

// OperationTimeout is the spec's per-call deadline for any hot-store or
// durable-store round trip. Callers wrap the context they pass down with
// WithDeadline rather than the store clients enforcing it themselves, so a
// caller chaining several store calls in one logical operation can still
// bound the whole chain by a single deadline.
const OperationTimeout = 10 * time.Second

// WithDeadline bounds ctx by OperationTimeout, unless ctx already carries a
// tighter deadline.
func WithDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < OperationTimeout {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, OperationTimeout)
}

// ClassifyTimeout rewraps err as ErrUpstreamTimeout when ctx's deadline is
// what actually caused it to fail, so callers see a distinct error kind
// instead of a generic store-unavailable one.
func ClassifyTimeout(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() == context.DeadlineExceeded {
		return ErrUpstreamTimeout
	}
	return err
}

var (
	ErrAuthFailed          = errors.New("auth_failed")
	ErrSessionNotFound     = errors.New("session_not_found")
	ErrSessionNotStarted   = errors.New("session_not_started")
	ErrSessionEnded        = errors.New("session_ended")
	ErrSessionInactive     = errors.New("session_inactive")
	ErrBidBelowReserve     = errors.New("price_below_reserve")
	ErrUpstreamTimeout     = errors.New("upstream_timeout")
	ErrHotStoreUnavailable = errors.New("hot_store_unavailable")
	ErrDurableUnavailable  = errors.New("durable_store_unavailable")
	ErrInternal            = errors.New("internal_error")
)

// Kind classifies err into one of the sentinel kinds above, defaulting to
// ErrInternal, for callers (e.g. the GraphQL layer) that need a stable
// error code rather than a wrapped message. Checked in order from most to
// least specific: a timed-out hot-store call should classify as
// upstream_timeout, not hot_store_unavailable.
func Kind(err error) error {
	for _, k := range []error{
		ErrAuthFailed,
		ErrSessionNotFound,
		ErrSessionNotStarted,
		ErrSessionEnded,
		ErrSessionInactive,
		ErrBidBelowReserve,
		ErrUpstreamTimeout,
		ErrHotStoreUnavailable,
		ErrDurableUnavailable,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return ErrInternal
}
