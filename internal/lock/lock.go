// Package lock provides the mutual-exclusion primitive leaderelect.Elector
// builds singleton background jobs on top of: the Batch Persister and the
// Session Monitor each need exactly one instance running at a time across
// a multi-instance bidfeed deployment, and this package is where "exactly
// one" gets enforced.
package lock

import (
	"time"
)

// Lock is a named, lease-based distributed mutex. A held lock must be
// refreshed before its timeout elapses or another instance is free to
// take it over, which is what lets a crashed leader's slot be reclaimed
// without an operator intervening.
type Lock interface {
	// AcquireLock attempts to take ownership of lockName for timeout,
	// reporting false (not an error) when another instance already holds
	// it.
	AcquireLock(lockName string, timeout time.Duration) (bool, error)

	// RefreshLock extends a currently-held lock's timeout. It reports
	// false once the lock has been lost, e.g. because a refresh cycle was
	// missed for too long.
	RefreshLock(lockName string, timeout time.Duration) (bool, error)

	// ReleaseLock gives up a held lock immediately, letting the next
	// election cycle elsewhere succeed without waiting out the timeout.
	ReleaseLock(lockName string) error

	// ReleaseAllLocks releases every lock this client currently holds,
	// used on shutdown.
	ReleaseAllLocks()

	// Close releases every held lock and tears down the underlying
	// client connection(s).
	Close() error
}
