// Package leaderelect generalizes the teacher's ticket-producer election
// pattern (isProducer / tryAcquireProducerLock / maintainProducerLock)
// into a reusable helper so the Batch Persister and Session Monitor can
// each run as a singleton across a multi-instance deployment without
// duplicating the lock-maintenance goroutine.
package leaderelect

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/lvdashuaibi/bidfeed/internal/lock"
)

// Elector maintains leadership of a single named lock, re-attempting
// acquisition on every checkInterval tick so a crashed leader's lease
// expiring lets another instance take over within one interval.
type Elector struct {
	l             lock.Lock
	lockName      string
	lockTimeout   time.Duration
	checkInterval time.Duration
	stop          chan struct{}
	leader        atomic.Bool
	log           *zap.Logger
}

// New builds an Elector for lockName. checkInterval should be shorter
// than lockTimeout so leadership is refreshed well before it would
// otherwise expire.
func New(l lock.Lock, lockName string, lockTimeout, checkInterval time.Duration, log *zap.Logger) *Elector {
	return &Elector{
		l:             l,
		lockName:      lockName,
		lockTimeout:   lockTimeout,
		checkInterval: checkInterval,
		stop:          make(chan struct{}),
		log:           log,
	}
}

// Run starts the election loop; call in its own goroutine. IsLeader can be
// polled at any time afterward.
func (e *Elector) Run() {
	ticker := time.NewTicker(e.checkInterval)
	defer ticker.Stop()

	e.tryAcquire()
	for {
		select {
		case <-ticker.C:
			e.tryAcquire()
		case <-e.stop:
			return
		}
	}
}

func (e *Elector) tryAcquire() {
	if e.leader.Load() {
		if ok, err := e.l.RefreshLock(e.lockName, e.lockTimeout); err == nil && ok {
			return
		}
		e.leader.Store(false)
	}

	acquired, err := e.l.AcquireLock(e.lockName, e.lockTimeout)
	if err != nil {
		e.log.Warn("leader election attempt failed", zap.String("lock", e.lockName), zap.Error(err))
		return
	}
	e.leader.Store(acquired)
}

// IsLeader reports whether this instance currently holds the lock, per the
// most recent election attempt.
func (e *Elector) IsLeader() bool {
	return e.leader.Load()
}

// Stop ends the election loop and releases the lock if held.
func (e *Elector) Stop() {
	close(e.stop)
	e.l.ReleaseLock(e.lockName)
}
