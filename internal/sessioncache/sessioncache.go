// Package sessioncache implements the Session Parameter Cache (component
// D): a read-through cache for a session's immutable auction parameters,
// plus a short-TTL cache of its active/ended status so the hot bid path
// rarely needs to touch the durable store at all.
package sessioncache

import (
	"context"
	"fmt"
	"time"

	"github.com/lvdashuaibi/bidfeed/internal/apierr"
	"github.com/lvdashuaibi/bidfeed/internal/core"
	"github.com/lvdashuaibi/bidfeed/internal/durable"
	"github.com/lvdashuaibi/bidfeed/internal/hotstore"
)

// Cache is the read-through session parameter cache.
type Cache struct {
	hot     *hotstore.Client
	durable *durable.Client
}

// New builds a session parameter cache backed by the hot store's cache
// tier and the durable store's read-through miss path.
func New(hot *hotstore.Client, dur *durable.Client) *Cache {
	return &Cache{hot: hot, durable: dur}
}

// Params returns a session's immutable parameters, populating the hot
// store cache on a miss.
func (c *Cache) Params(ctx context.Context, sessionID string) (core.Session, error) {
	dctx, cancel := apierr.WithDeadline(ctx)
	defer cancel()

	if s, found, err := c.hot.GetSessionParams(dctx, sessionID); err == nil && found {
		return s, nil
	}

	s, err := c.durable.GetSession(dctx, sessionID)
	if err != nil {
		return core.Session{}, apierr.ClassifyTimeout(dctx, err)
	}

	if err := c.hot.SetSessionParams(dctx, s); err != nil {
		return s, fmt.Errorf("cache session params after miss: %w", err)
	}
	return s, nil
}

// IsActive reports whether a session currently accepts bids, using the
// short-TTL activity cache and falling back to the durable store's is_active
// flag on a miss.
func (c *Cache) IsActive(ctx context.Context, sessionID string) (bool, error) {
	dctx, cancel := apierr.WithDeadline(ctx)
	defer cancel()

	if active, found, err := c.hot.GetActiveStatus(dctx, sessionID); err == nil && found {
		return active, nil
	}

	s, err := c.durable.GetSession(dctx, sessionID)
	if err != nil {
		return false, apierr.ClassifyTimeout(dctx, err)
	}

	if err := c.hot.SetActiveStatus(dctx, sessionID, s.IsActive); err != nil {
		return s.IsActive, fmt.Errorf("cache active status after miss: %w", err)
	}
	return s.IsActive, nil
}

// RequireActive classifies a session's bidding eligibility at instant now
// into the distinct error kinds spec §7 names, rather than collapsing
// "hasn't started yet", "already ended" and "flagged inactive" into one
// generic error: a session whose window hasn't opened should not read the
// same as one that has already been finalized.
func (c *Cache) RequireActive(ctx context.Context, sessionID string, now time.Time) error {
	session, err := c.Params(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := classifyWindow(session, now); err != nil {
		return err
	}

	active, err := c.IsActive(ctx, sessionID)
	if err != nil {
		return err
	}
	if !active {
		return apierr.ErrSessionInactive
	}
	return nil
}

// classifyWindow reports whether now falls outside a session's bidding
// window, before ever consulting the is_active flag: a session that
// hasn't opened yet and one that has already closed are distinct
// failures from one an operator flagged inactive mid-window.
func classifyWindow(session core.Session, now time.Time) error {
	if now.Before(session.StartTime) {
		return apierr.ErrSessionNotStarted
	}
	if !now.Before(session.EndTime) {
		return apierr.ErrSessionEnded
	}
	return nil
}

// Invalidate drops the cached parameters and status for a session, e.g.
// once it has been finalized.
func (c *Cache) Invalidate(ctx context.Context, sessionID string) error {
	dctx, cancel := apierr.WithDeadline(ctx)
	defer cancel()

	return apierr.ClassifyTimeout(dctx, c.hot.InvalidateSessionCache(dctx, sessionID))
}
