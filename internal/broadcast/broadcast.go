// Package broadcast implements the Push Broadcaster (component I): a
// per-session registry of bounded subscriber channels, plus a relay that
// forwards bid-accepted and session-ended events published by other
// instances into this process's local subscribers.
package broadcast

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/lvdashuaibi/bidfeed/internal/core"
	"github.com/lvdashuaibi/bidfeed/internal/kafka"
)

// Snapshot is what a subscriber receives on every leaderboard-affecting
// change: enough to redraw without a follow-up query.
type Snapshot struct {
	SessionID string             `json:"sessionId"`
	Entries   []core.LeaderboardEntry `json:"entries"`
	Ended     bool               `json:"ended"`
}

type subscriber struct {
	id string
	ch chan Snapshot
}

// Broadcaster fans out leaderboard snapshots to per-session subscriber
// channels. Notify never blocks: a subscriber whose queue is full is
// dropped and its channel closed, the same backpressure policy sketched
// in the finalex broadcaster reference, expressed with plain buffered
// channels rather than a lock-free ring buffer.
type Broadcaster struct {
	mu          sync.Mutex
	subscribers map[string][]*subscriber
	queueDepth  int
	nextID      uint64
	log         *zap.Logger
}

// New builds a Broadcaster whose subscriber channels each buffer up to
// queueDepth snapshots before the subscriber is dropped.
func New(queueDepth int, log *zap.Logger) *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[string][]*subscriber),
		queueDepth:  queueDepth,
		log:         log,
	}
}

// Subscribe registers a new listener for a session's updates, returning a
// receive-only channel and an unsubscribe function.
func (b *Broadcaster) Subscribe(sessionID string) (<-chan Snapshot, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &subscriber{id: sessionID + ":" + strconv.FormatUint(b.nextID, 10), ch: make(chan Snapshot, b.queueDepth)}
	b.subscribers[sessionID] = append(b.subscribers[sessionID], sub)

	unsubscribe := func() { b.unsubscribe(sessionID, sub) }
	return sub.ch, unsubscribe
}

func (b *Broadcaster) unsubscribe(sessionID string, target *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[sessionID]
	for i, s := range subs {
		if s == target {
			close(s.ch)
			b.subscribers[sessionID] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Notify pushes a snapshot to every subscriber of a session. A subscriber
// whose channel is full is dropped rather than allowed to stall the
// broadcaster.
func (b *Broadcaster) Notify(sessionID string, snap Snapshot) {
	b.mu.Lock()
	subs := append([]*subscriber(nil), b.subscribers[sessionID]...)
	b.mu.Unlock()

	var dropped []*subscriber
	for _, sub := range subs {
		select {
		case sub.ch <- snap:
		default:
			dropped = append(dropped, sub)
		}
	}

	if len(dropped) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, d := range dropped {
		subs := b.subscribers[sessionID]
		for i, s := range subs {
			if s == d {
				close(s.ch)
				b.subscribers[sessionID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
	if b.log != nil && len(dropped) > 0 {
		b.log.Warn("dropped slow subscribers", zap.String("sessionId", sessionID), zap.Int("count", len(dropped)))
	}
}

// RelayBidAccepted wires the given consumer so events published by other
// instances feed into this process's local Notify calls. build maps a
// decoded event into the snapshot a subscriber should see; it takes the
// consumer's context and can fail, since rebuilding a full leaderboard
// snapshot for a cross-instance event means a real store round trip rather
// than reading fields already in hand.
func (b *Broadcaster) RelayBidAccepted(ctx context.Context, consumer *kafka.Consumer, build func(context.Context, core.BidAccepted) (Snapshot, error)) {
	consumer.Start(ctx, func(_, value []byte) error {
		var evt core.BidAccepted
		if err := json.Unmarshal(value, &evt); err != nil {
			return err
		}
		snap, err := build(ctx, evt)
		if err != nil {
			if b.log != nil {
				b.log.Warn("failed to rebuild leaderboard snapshot for relay", zap.String("sessionId", evt.SessionID), zap.Error(err))
			}
			return nil
		}
		b.Notify(evt.SessionID, snap)
		return nil
	})
}

// RelaySessionEnded wires a session-lifecycle consumer the same way.
func (b *Broadcaster) RelaySessionEnded(ctx context.Context, consumer *kafka.Consumer, build func(core.SessionEnded) Snapshot) {
	consumer.Start(ctx, func(_, value []byte) error {
		var evt core.SessionEnded
		if err := json.Unmarshal(value, &evt); err != nil {
			return err
		}
		b.Notify(evt.SessionID, build(evt))
		return nil
	})
}
