package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/lvdashuaibi/bidfeed/config"
)

// etcdLeaseSeconds is the lease TTL etcd itself tracks; it is refreshed
// well before expiry by keepAlive, independent of the caller's own
// RefreshLock cadence.
const etcdLeaseSeconds = 10

// EtcdLock implements Lock as a lease-backed key under /locks/, the
// election primitive leaderelect uses for the Batch Persister and Session
// Monitor singleton jobs.
type EtcdLock struct {
	client *clientv3.Client
	mu     sync.Mutex
	held   map[string]*heldLease
}

type heldLease struct {
	leaseID clientv3.LeaseID
	key     string
	cancel  context.CancelFunc // stops the background keepAlive loop
}

// NewETCDLock dials etcd using the process-wide config and returns a Lock
// ready to arbitrate leadership for named locks.
func NewETCDLock() (*EtcdLock, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   config.AppConfig.ETCD.Endpoints,
		DialTimeout: config.AppConfig.ETCD.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("dial etcd: %w", err)
	}

	return &EtcdLock{
		client: cli,
		held:   make(map[string]*heldLease),
	}, nil
}

// AcquireLock creates a lease and races a compare-and-swap put against any
// other holder of the same key, so only one instance's transaction
// succeeds.
func (el *EtcdLock) AcquireLock(lockName string, timeout time.Duration) (bool, error) {
	el.mu.Lock()
	defer el.mu.Unlock()

	if _, ok := el.held[lockName]; ok {
		return false, fmt.Errorf("lock %s already held by this instance", lockName)
	}

	key := fmt.Sprintf("/locks/%s", lockName)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)

	lease := clientv3.NewLease(el.client)
	grantResp, err := lease.Grant(ctx, etcdLeaseSeconds)
	if err != nil {
		cancel()
		return false, fmt.Errorf("grant lease: %w", err)
	}

	txn := el.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, "", clientv3.WithLease(grantResp.ID))).
		Else()

	txnResp, err := txn.Commit()
	if err != nil {
		cancel()
		lease.Revoke(context.Background(), grantResp.ID)
		return false, fmt.Errorf("commit acquire transaction: %w", err)
	}

	if !txnResp.Succeeded {
		cancel()
		lease.Revoke(context.Background(), grantResp.ID)
		return false, nil
	}

	keepAliveCtx, keepAliveCancel := context.WithCancel(context.Background())
	go el.keepAlive(keepAliveCtx, grantResp.ID)

	el.held[lockName] = &heldLease{
		leaseID: grantResp.ID,
		key:     key,
		cancel:  keepAliveCancel,
	}

	cancel()
	return true, nil
}

// RefreshLock issues one keepalive against the held lease. A missing
// lease (rpctypes.ErrLeaseNotFound) means the lock was already lost, which
// is reported as a plain false rather than an error so callers like
// leaderelect.Elector can treat it as "not leader anymore" without special
// casing.
func (el *EtcdLock) RefreshLock(lockName string, timeout time.Duration) (bool, error) {
	el.mu.Lock()
	defer el.mu.Unlock()

	entry, ok := el.held[lockName]
	if !ok {
		return false, fmt.Errorf("lock %s not held by this instance", lockName)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	_, err := clientv3.NewLease(el.client).KeepAliveOnce(ctx, entry.leaseID)
	if err != nil {
		if err == rpctypes.ErrLeaseNotFound {
			delete(el.held, lockName)
			return false, nil
		}
		return false, fmt.Errorf("refresh lease: %w", err)
	}

	return true, nil
}

func (el *EtcdLock) ReleaseLock(lockName string) error {
	el.mu.Lock()
	defer el.mu.Unlock()

	return el.release(lockName)
}

func (el *EtcdLock) ReleaseAllLocks() {
	el.mu.Lock()
	defer el.mu.Unlock()

	for lockName := range el.held {
		el.release(lockName)
	}
}

func (el *EtcdLock) Close() error {
	el.ReleaseAllLocks()
	return el.client.Close()
}

// keepAlive refreshes leaseID at half its TTL until the lease is released
// or the calling instance loses interest in it.
func (el *EtcdLock) keepAlive(ctx context.Context, leaseID clientv3.LeaseID) {
	lease := clientv3.NewLease(el.client)
	ticker := time.NewTicker(etcdLeaseSeconds / 2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := lease.KeepAliveOnce(ctx, leaseID); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (el *EtcdLock) release(lockName string) error {
	entry, ok := el.held[lockName]
	if !ok {
		return nil
	}

	entry.cancel()

	if _, err := el.client.Delete(context.Background(), entry.key); err != nil {
		return fmt.Errorf("delete lock key: %w", err)
	}

	if _, err := clientv3.NewLease(el.client).Revoke(context.Background(), entry.leaseID); err != nil {
		return fmt.Errorf("revoke lease: %w", err)
	}

	delete(el.held, lockName)
	return nil
}
