package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/lvdashuaibi/bidfeed/config"
)

// RedLock implements Lock as a Redlock quorum across an odd-sized cluster
// of independent Redis nodes, the alternative to EtcdLock a deployment
// without etcd can select via config.Config.LockBackend.
type RedLock struct {
	clients     []*redis.Client
	addrs       []string
	ctx         context.Context
	held        map[string]string // lock name -> the token this instance holds it with
	retries     int
	clusterSize int
	log         *zap.Logger
}

// NewRedLock dials every address in Redis.LockAddresses as an independent
// client (never a cluster client — Redlock needs nodes that don't
// replicate the same key to each other).
func NewRedLock(log *zap.Logger) (*RedLock, error) {
	ctx := context.Background()
	cfg := config.AppConfig.Redis

	var clients []*redis.Client
	for _, addr := range cfg.LockAddresses {
		client := redis.NewClient(&redis.Options{
			Addr:         addr,
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			MaxRetries:   cfg.MaxRetries,
			DialTimeout:  cfg.Timeout,
			ReadTimeout:  cfg.Timeout,
			WriteTimeout: cfg.Timeout,
		})

		if err := client.Ping(ctx).Err(); err != nil {
			for _, c := range clients {
				c.Close()
			}
			return nil, fmt.Errorf("ping redlock node %s: %w", addr, err)
		}

		clients = append(clients, client)
	}

	return &RedLock{
		clients:     clients,
		addrs:       cfg.LockAddresses,
		ctx:         ctx,
		held:        make(map[string]string),
		retries:     cfg.LockRetryCount,
		clusterSize: len(cfg.LockAddresses),
		log:         log,
	}, nil
}

// AcquireLock runs the Redlock algorithm: try SETNX on every node, and
// declare victory only once a strict majority succeeded within the
// lock's own timeout.
func (r *RedLock) AcquireLock(lockName string, timeout time.Duration) (bool, error) {
	token := fmt.Sprintf("%d-%d", time.Now().UnixNano(), time.Now().Unix())

	for attempt := 0; attempt < r.retries; attempt++ {
		start := time.Now()
		success := 0

		for i, client := range r.clients {
			ok, err := client.SetNX(r.ctx, lockName, token, timeout).Result()
			if err != nil {
				r.log.Warn("redlock node acquire failed", zap.String("addr", r.addrs[i]), zap.String("lock", lockName), zap.Error(err))
				continue
			}
			if ok {
				success++
			}
		}

		validityTime := timeout - time.Since(start)
		if success >= r.quorum() && validityTime > 0 {
			r.held[lockName] = token
			return true, nil
		}

		r.unlockAll(lockName, token)
		time.Sleep(100 * time.Millisecond)
	}

	return false, nil
}

// RefreshLock extends a held lock's timeout on every node via a
// compare-and-expire script, so this instance never renews a key another
// instance has since taken over.
func (r *RedLock) RefreshLock(lockName string, timeout time.Duration) (bool, error) {
	token, held := r.held[lockName]
	if !held {
		return false, fmt.Errorf("lock %s not held by this instance", lockName)
	}

	success := 0
	for i, client := range r.clients {
		result, err := client.Eval(r.ctx, compareAndExpireScript, []string{lockName}, token, timeout.Milliseconds()).Result()
		if err != nil {
			r.log.Warn("redlock node refresh failed", zap.String("addr", r.addrs[i]), zap.String("lock", lockName), zap.Error(err))
			continue
		}
		if n, ok := result.(int64); ok && n == 1 {
			success++
		}
	}

	if success >= r.quorum() {
		return true, nil
	}

	delete(r.held, lockName)
	return false, nil
}

// ReleaseLock drops a held lock on every node.
func (r *RedLock) ReleaseLock(lockName string) error {
	token, held := r.held[lockName]
	if !held {
		return fmt.Errorf("lock %s not held by this instance", lockName)
	}

	r.unlockAll(lockName, token)
	delete(r.held, lockName)
	return nil
}

// ReleaseAllLocks drops every lock this instance currently holds, used on
// shutdown.
func (r *RedLock) ReleaseAllLocks() {
	for name, token := range r.held {
		r.unlockAll(name, token)
	}
	r.held = make(map[string]string)
}

// Close releases every held lock and closes every node connection.
func (r *RedLock) Close() error {
	r.ReleaseAllLocks()
	for i, client := range r.clients {
		if err := client.Close(); err != nil {
			r.log.Warn("failed to close redlock node connection", zap.String("addr", r.addrs[i]), zap.Error(err))
		}
	}
	return nil
}

func (r *RedLock) quorum() int { return r.clusterSize/2 + 1 }

// compareAndExpireScript and compareAndDeleteScript only touch a key when
// it still holds the caller's own token, so a refresh or release can never
// clobber a lock another instance has since acquired.
const compareAndExpireScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end
`

const compareAndDeleteScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

func (r *RedLock) unlockAll(lockName, token string) {
	for i, client := range r.clients {
		if _, err := client.Eval(r.ctx, compareAndDeleteScript, []string{lockName}, token).Result(); err != nil {
			r.log.Warn("redlock node release failed", zap.String("addr", r.addrs[i]), zap.String("lock", lockName), zap.Error(err))
		}
	}
}
