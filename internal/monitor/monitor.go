// Package monitor is the Session Monitor (component H): a leader-elected
// background job that finds sessions past their end time, forces a
// persist cycle, freezes the ranking, marks winners and flips a session's
// active flag. The polling shape is grounded on the original
// session_monitor task; the finalize algorithm itself is authored fresh
// from this system's own rules, since the original's
// finalize_session_results function is referenced but never defined
// anywhere in that codebase (see DESIGN.md).
package monitor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lvdashuaibi/bidfeed/config"
	"github.com/lvdashuaibi/bidfeed/internal/apierr"
	"github.com/lvdashuaibi/bidfeed/internal/broadcast"
	"github.com/lvdashuaibi/bidfeed/internal/core"
	"github.com/lvdashuaibi/bidfeed/internal/durable"
	"github.com/lvdashuaibi/bidfeed/internal/kafka"
	"github.com/lvdashuaibi/bidfeed/internal/leaderelect"
	"github.com/lvdashuaibi/bidfeed/internal/sessioncache"
)

// Persister is the subset of *persister.Persister the monitor depends on.
type Persister interface {
	ForceSession(ctx context.Context, sessionID string) error
}

// Monitor runs the periodic finalize sweep.
type Monitor struct {
	durable     *durable.Client
	sessions    *sessioncache.Cache
	persister   Persister
	producer    *kafka.Producer
	broadcaster *broadcast.Broadcaster
	elector     *leaderelect.Elector
	interval    time.Duration
	stop        chan struct{}
	log         *zap.Logger
}

// New builds a Session Monitor.
func New(dur *durable.Client, sessions *sessioncache.Cache, p Persister, producer *kafka.Producer,
	broadcaster *broadcast.Broadcaster, elector *leaderelect.Elector, cfg config.MonitorConfig, log *zap.Logger) *Monitor {
	return &Monitor{
		durable:     dur,
		sessions:    sessions,
		persister:   p,
		producer:    producer,
		broadcaster: broadcaster,
		elector:     elector,
		interval:    time.Duration(cfg.IntervalSeconds) * time.Second,
		stop:        make(chan struct{}),
		log:         log,
	}
}

// Run starts the periodic sweep loop; call in its own goroutine.
func (m *Monitor) Run(ctx context.Context) {
	go m.elector.Run()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if m.elector.IsLeader() {
				m.sweep(ctx)
			}
		case <-m.stop:
			m.elector.Stop()
			return
		case <-ctx.Done():
			m.elector.Stop()
			return
		}
	}
}

// Stop ends the sweep loop.
func (m *Monitor) Stop() { close(m.stop) }

func (m *Monitor) sweep(ctx context.Context) {
	dctx, cancel := apierr.WithDeadline(ctx)
	expired, err := m.durable.ExpiredActiveSessions(dctx, time.Now())
	cancel()
	if err != nil {
		m.log.Error("failed to list expired sessions", zap.Error(apierr.ClassifyTimeout(dctx, err)))
		return
	}

	for _, session := range expired {
		if _, err := m.Finalize(ctx, session.ID); err != nil {
			m.log.Error("failed to finalize session", zap.String("sessionId", session.ID), zap.Error(err))
		}
	}
}

// Finalize freezes a session's ranking and marks it ended. It is
// idempotent: if the session's rankings were already written (is_active
// already false), it returns the previously computed final price without
// recomputing anything.
func (m *Monitor) Finalize(ctx context.Context, sessionID string) (float64, error) {
	dctx, cancel := apierr.WithDeadline(ctx)
	defer cancel()

	session, err := m.durable.GetSession(dctx, sessionID)
	if err != nil {
		return 0, apierr.ClassifyTimeout(dctx, err)
	}
	if !session.IsActive {
		if session.FinalPrice != nil {
			return *session.FinalPrice, nil
		}
		return 0, nil
	}

	// Force every pending bid for this session into the durable store
	// before freezing the ranking, so a straggling batch-persist cycle
	// can never finalize against stale data.
	if err := m.persister.ForceSession(ctx, sessionID); err != nil {
		return 0, err
	}

	bids, err := m.durable.AllBids(dctx, sessionID)
	if err != nil {
		return 0, apierr.ClassifyTimeout(dctx, err)
	}
	core.SortBids(bids)

	finalPrice := core.FinalPrice(bids, session.Inventory, session.Reserve)
	rankings := buildFinalRankings(sessionID, bids, session.Inventory)

	if err := m.durable.WriteFinalRankings(dctx, sessionID, rankings, finalPrice); err != nil {
		return 0, apierr.ClassifyTimeout(dctx, err)
	}

	if err := m.sessions.Invalidate(ctx, sessionID); err != nil {
		m.log.Warn("failed to invalidate session cache after finalize", zap.String("sessionId", sessionID), zap.Error(err))
	}

	evt := core.SessionEnded{SessionID: sessionID, FinalPrice: finalPrice, EndedAt: time.Now()}
	if err := m.producer.PublishSessionEnded(ctx, evt); err != nil {
		m.log.Warn("failed to publish session ended event", zap.String("sessionId", sessionID), zap.Error(err))
	}

	m.broadcaster.Notify(sessionID, broadcast.Snapshot{
		SessionID: sessionID,
		Entries:   finalEntries(rankings),
		Ended:     true,
	})

	return finalPrice, nil
}

// buildFinalRankings freezes sorted bids into ranks 1..N, marking the
// first inventory ranks as winners. Callers must sort bids with
// core.SortBids first so ties resolve under the pinned tie-break rule.
func buildFinalRankings(sessionID string, bids []core.BidRecord, inventory int) []core.FinalRanking {
	rankings := make([]core.FinalRanking, len(bids))
	for i, b := range bids {
		rankings[i] = core.FinalRanking{
			SessionID: sessionID,
			Rank:      i + 1,
			UserID:    b.UserID,
			Price:     b.Price,
			Score:     b.Score,
			IsWinner:  i < inventory,
		}
	}
	return rankings
}

func finalEntries(rankings []core.FinalRanking) []core.LeaderboardEntry {
	out := make([]core.LeaderboardEntry, len(rankings))
	for i, r := range rankings {
		out[i] = core.LeaderboardEntry{Rank: r.Rank, UserID: r.UserID, Price: r.Price, Score: r.Score, IsWinner: r.IsWinner}
	}
	return out
}
