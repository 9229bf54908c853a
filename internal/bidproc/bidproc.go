// Package bidproc is the Bid Processor (component E): the hot write path
// that validates, scores and commits a single bid, then fans the result
// out to Kafka and the local Push Broadcaster. Orchestration shape is
// grounded on the teacher's vote service (validate -> external write ->
// publish with a synchronous fallback on publish failure -> cache
// invalidation); the scoring and validation rules themselves come from
// this system's own auction semantics.
package bidproc

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lvdashuaibi/bidfeed/internal/apierr"
	"github.com/lvdashuaibi/bidfeed/internal/broadcast"
	"github.com/lvdashuaibi/bidfeed/internal/core"
	"github.com/lvdashuaibi/bidfeed/internal/durable"
	"github.com/lvdashuaibi/bidfeed/internal/hotstore"
	"github.com/lvdashuaibi/bidfeed/internal/kafka"
	"github.com/lvdashuaibi/bidfeed/internal/sessioncache"
)

// Processor implements the bid write path.
type Processor struct {
	sessions    *sessioncache.Cache
	hot         *hotstore.Client
	durable     *durable.Client
	producer    *kafka.Producer
	broadcaster *broadcast.Broadcaster
	log         *zap.Logger
}

// New builds a Bid Processor from its dependencies.
func New(sessions *sessioncache.Cache, hot *hotstore.Client, dur *durable.Client,
	producer *kafka.Producer, broadcaster *broadcast.Broadcaster, log *zap.Logger) *Processor {
	return &Processor{
		sessions:    sessions,
		hot:         hot,
		durable:     dur,
		producer:    producer,
		broadcaster: broadcaster,
		log:         log,
	}
}

// Result is what a caller gets back after a bid commits.
type Result struct {
	Rank  int64
	Score float64
}

// SubmitBid runs the full write path for one bid: session must be active,
// price must clear the reserve, score is computed from the caller's
// weight and bid speed, the bid is written to the hot store in one
// pipelined round trip, and the change is fanned out for anyone watching
// this session's leaderboard.
func (p *Processor) SubmitBid(ctx context.Context, principal core.Principal, sessionID string, price float64, now time.Time) (Result, error) {
	session, err := p.sessions.Params(ctx, sessionID)
	if err != nil {
		return Result{}, err
	}
	if err := p.sessions.RequireActive(ctx, sessionID, now); err != nil {
		return Result{}, err
	}
	if price < session.Reserve {
		return Result{}, fmt.Errorf("%w: price %.2f below reserve %.2f", apierr.ErrBidBelowReserve, price, session.Reserve)
	}

	responseTime := now.Sub(session.StartTime).Seconds()
	if responseTime < 0 {
		responseTime = 0
	}
	score := core.Score(session.Alpha, session.Beta, session.Gamma, price, responseTime, principal.Weight)

	rec := core.BidRecord{
		SessionID:    sessionID,
		UserID:       principal.UserID,
		Price:        price,
		Score:        score,
		ResponseTime: responseTime,
		Weight:       principal.Weight,
		UpdatedAt:    now,
	}

	dctx, cancel := apierr.WithDeadline(ctx)
	rank, err := p.hot.UpsertBid(dctx, rec)
	cancel()
	if err != nil {
		return Result{}, apierr.ClassifyTimeout(dctx, err)
	}

	evt := core.BidAccepted{SessionID: sessionID, UserID: principal.UserID, Price: price, Score: score, AcceptedAt: now}
	if err := p.producer.PublishBidAccepted(ctx, evt); err != nil {
		p.log.Warn("bid accepted publish failed, falling back to synchronous durable write",
			zap.String("sessionId", sessionID), zap.Error(err))
		fctx, fcancel := apierr.WithDeadline(ctx)
		durErr := p.durable.BatchUpsertBids(fctx, []core.BidRecord{rec})
		fcancel()
		if durErr != nil {
			p.log.Error("synchronous durable fallback also failed", zap.Error(apierr.ClassifyTimeout(fctx, durErr)))
		}
	}

	p.notifyLocal(ctx, sessionID, session.Inventory)

	return Result{Rank: rank, Score: score}, nil
}

const broadcastWindowSize = 20

func (p *Processor) notifyLocal(ctx context.Context, sessionID string, inventory int) {
	dctx, cancel := apierr.WithDeadline(ctx)
	top, err := p.hot.TopN(dctx, sessionID, broadcastWindowSize)
	cancel()
	if err != nil {
		p.log.Warn("failed to build broadcast snapshot", zap.String("sessionId", sessionID), zap.Error(err))
		return
	}
	core.SortBids(top)
	entries := toEntries(top, inventory)
	p.broadcaster.Notify(sessionID, broadcast.Snapshot{SessionID: sessionID, Entries: entries})
}

// toEntries converts a ranked slice of bids, best first, into leaderboard
// entries with rank and is_winner (rank <= inventory) attached.
func toEntries(bids []core.BidRecord, inventory int) []core.LeaderboardEntry {
	out := make([]core.LeaderboardEntry, len(bids))
	for i, b := range bids {
		rank := i + 1
		out[i] = core.LeaderboardEntry{Rank: rank, UserID: b.UserID, Price: b.Price, Score: b.Score, IsWinner: rank <= inventory}
	}
	return out
}
