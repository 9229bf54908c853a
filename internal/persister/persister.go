// Package persister is the Batch Persister (component G): a leader-elected
// background job that periodically snapshots the hot store's dirty-session
// set and flushes each session's bid metadata into the durable store.
// Grounded on the original batch_persist task (cursor SCAN, defensive
// decode, bulk upsert, retry-by-readding-to-the-dirty-set on failure) and
// on the teacher's ticket-producer leader election for the singleton-job
// shape.
package persister

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lvdashuaibi/bidfeed/config"
	"github.com/lvdashuaibi/bidfeed/internal/apierr"
	"github.com/lvdashuaibi/bidfeed/internal/core"
	"github.com/lvdashuaibi/bidfeed/internal/durable"
	"github.com/lvdashuaibi/bidfeed/internal/hotstore"
	"github.com/lvdashuaibi/bidfeed/internal/leaderelect"
)

// Persister runs the periodic dirty-session sweep.
type Persister struct {
	hot        *hotstore.Client
	durable    *durable.Client
	elector    *leaderelect.Elector
	interval   time.Duration
	maxRetries int
	scanCount  int64
	stop       chan struct{}
	log        *zap.Logger

	// retries counts consecutive sweep failures per session, so a session
	// whose durable write keeps failing gets surfaced to the error log and
	// dropped instead of being requeued forever. Only touched from the
	// single sweep goroutine, so it needs no lock.
	retries map[string]int
}

// New builds a Batch Persister; elector determines whether this instance
// runs the periodic sweep.
func New(hot *hotstore.Client, dur *durable.Client, elector *leaderelect.Elector, cfg config.PersisterConfig, log *zap.Logger) *Persister {
	interval := time.Duration(cfg.IntervalSeconds) * time.Second
	scanCount := cfg.ScanCount
	if scanCount <= 0 {
		scanCount = 200
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Persister{
		hot:        hot,
		durable:    dur,
		elector:    elector,
		interval:   interval,
		maxRetries: maxRetries,
		scanCount:  scanCount,
		stop:       make(chan struct{}),
		log:        log,
		retries:    make(map[string]int),
	}
}

// Run starts the periodic sweep loop; call in its own goroutine.
func (p *Persister) Run(ctx context.Context) {
	go p.elector.Run()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if p.elector.IsLeader() {
				p.sweep(ctx)
			}
		case <-p.stop:
			p.elector.Stop()
			return
		case <-ctx.Done():
			p.elector.Stop()
			return
		}
	}
}

// Stop ends the sweep loop.
func (p *Persister) Stop() { close(p.stop) }

func (p *Persister) sweep(ctx context.Context) {
	dctx, cancel := apierr.WithDeadline(ctx)
	sessions, err := p.hot.SnapshotAndClearDirtySessions(dctx)
	cancel()
	if err != nil {
		p.log.Error("failed to snapshot dirty sessions", zap.Error(apierr.ClassifyTimeout(dctx, err)))
		return
	}

	for _, sessionID := range sessions {
		if err := p.persistSession(ctx, sessionID); err != nil {
			attempts, dropped := p.noteFailure(sessionID)
			if dropped {
				p.log.Error("persisting session failed too many times, dropping",
					zap.String("sessionId", sessionID), zap.Int("attempts", attempts), zap.Error(err))
				continue
			}
			p.log.Warn("persisting session failed, requeueing",
				zap.String("sessionId", sessionID), zap.Int("attempt", attempts), zap.Error(err))
			rctx, rcancel := apierr.WithDeadline(ctx)
			readdErr := p.hot.ReaddDirtySession(rctx, sessionID)
			rcancel()
			if readdErr != nil {
				p.log.Error("failed to requeue dirty session", zap.String("sessionId", sessionID), zap.Error(apierr.ClassifyTimeout(rctx, readdErr)))
			}
			continue
		}
		delete(p.retries, sessionID)
	}
}

// noteFailure records one more failed persist attempt for sessionID and
// reports whether it has now exceeded maxRetries. A dropped session's
// counter is reset so a later, independent run of failures starts fresh.
func (p *Persister) noteFailure(sessionID string) (attempts int, dropped bool) {
	p.retries[sessionID]++
	attempts = p.retries[sessionID]
	if attempts > p.maxRetries {
		delete(p.retries, sessionID)
		return attempts, true
	}
	return attempts, false
}

// ForceSession immediately persists a single session's bid metadata,
// bypassing the dirty-set and the leadership check, so the Session Monitor
// can guarantee every bid is durable before it freezes a session's
// rankings.
func (p *Persister) ForceSession(ctx context.Context, sessionID string) error {
	return p.persistSession(ctx, sessionID)
}

func (p *Persister) persistSession(ctx context.Context, sessionID string) error {
	dctx, cancel := apierr.WithDeadline(ctx)
	defer cancel()

	var cursor uint64
	var bids []core.BidRecord
	var keys []string

	for {
		batch, next, err := p.hot.ScanBidMetadataKeys(dctx, sessionID, cursor, p.scanCount)
		if err != nil {
			return apierr.ClassifyTimeout(dctx, err)
		}
		for _, key := range batch {
			rec, found, err := p.hot.GetBidMetadataByKey(dctx, sessionID, key)
			if err != nil || !found {
				continue
			}
			bids = append(bids, rec)
			keys = append(keys, key)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	if len(bids) == 0 {
		return nil
	}

	if err := p.durable.BatchUpsertBids(dctx, bids); err != nil {
		return apierr.ClassifyTimeout(dctx, err)
	}

	// The bid_metadata: hashes are scratch state scoped to this scan alone:
	// the leaderboard read path serves entries out of the separate bid:
	// hash (see hotstore.multiGetBidMetadata), so deleting these now that
	// their records are durable blinds no live reader and keeps a
	// long-running session's dirty cycles bounded to its new bids only.
	if err := p.hot.DeleteBidMetadataKeys(dctx, keys); err != nil {
		p.log.Warn("failed to delete persisted bid metadata keys",
			zap.String("sessionId", sessionID), zap.Error(err))
	}
	return nil
}
