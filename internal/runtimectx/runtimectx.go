// Package runtimectx builds and tears down every piece of process-wide
// state a bidfeed instance needs, in the order spec'd for startup: durable
// pool, hot store pool, session parameter cache, token cache, broadcaster,
// then the leader-elected background jobs. Grounded on the teacher's
// cmd/main.go, which does the same sequential construct-then-defer-close
// wiring inline; this generalizes it into a reusable struct so cmd/main.go
// stays a thin entrypoint.
package runtimectx

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lvdashuaibi/bidfeed/config"
	"github.com/lvdashuaibi/bidfeed/internal/auth"
	"github.com/lvdashuaibi/bidfeed/internal/authcache"
	"github.com/lvdashuaibi/bidfeed/internal/bidproc"
	"github.com/lvdashuaibi/bidfeed/internal/broadcast"
	"github.com/lvdashuaibi/bidfeed/internal/core"
	"github.com/lvdashuaibi/bidfeed/internal/durable"
	"github.com/lvdashuaibi/bidfeed/internal/hotstore"
	intkafka "github.com/lvdashuaibi/bidfeed/internal/kafka"
	"github.com/lvdashuaibi/bidfeed/internal/leaderboard"
	"github.com/lvdashuaibi/bidfeed/internal/leaderelect"
	"github.com/lvdashuaibi/bidfeed/internal/lock"
	"github.com/lvdashuaibi/bidfeed/internal/monitor"
	"github.com/lvdashuaibi/bidfeed/internal/persister"
	"github.com/lvdashuaibi/bidfeed/internal/sessioncache"
)

const (
	persisterLockName = "bidfeed:persister:leader"
	monitorLockName   = "bidfeed:monitor:leader"

	// relayPageSize matches the local Bid Processor's own broadcast window,
	// so a subscriber sees the same shape of snapshot regardless of which
	// instance accepted the bid that triggered it.
	relayPageSize = 20
)

// Context holds every long-lived dependency a bidfeed instance wires up
// once at startup.
type Context struct {
	Log         *zap.Logger
	Durable     *durable.Client
	Hot         *hotstore.Client
	Sessions    *sessioncache.Cache
	TokenCache  *authcache.Cache
	Issuer      *auth.Issuer
	Broadcaster *broadcast.Broadcaster
	Producer    *intkafka.Producer
	BidProc     *bidproc.Processor
	Leaderboard *leaderboard.Reader
	Persister   *persister.Persister
	Monitor     *monitor.Monitor

	electionLock    lock.Lock
	bidRelay    *intkafka.Consumer
	sessRelay   *intkafka.Consumer
	cancelJobs  context.CancelFunc
}

// New builds the full runtime context in spec order: durable store, hot
// store, session param cache, token cache, broadcaster, then the
// leader-elected background jobs and their Kafka relay consumers.
func New(ctx context.Context, cfg *config.Config, tokenSecret string, log *zap.Logger) (*Context, error) {
	durableClient, err := durable.New(cfg.MySQL)
	if err != nil {
		return nil, fmt.Errorf("init durable store: %w", err)
	}

	hotClient, err := hotstore.New(cfg.Redis)
	if err != nil {
		durableClient.Close()
		return nil, fmt.Errorf("init hot store: %w", err)
	}

	sessions := sessioncache.New(hotClient, durableClient)

	tokenCache, err := authcache.New(cfg.TokenCache.MaxEntries, cfg.TokenCache.TokenTTL)
	if err != nil {
		hotClient.Close()
		durableClient.Close()
		return nil, fmt.Errorf("init token cache: %w", err)
	}
	issuer := auth.NewIssuer(tokenSecret, cfg.TokenCache.TokenTTL)

	broadcaster := broadcast.New(cfg.Broadcaster.SubscriberQueueDepth, log)

	electionLock, err := newElectionLock(cfg, log)
	if err != nil {
		hotClient.Close()
		durableClient.Close()
		return nil, fmt.Errorf("init election lock client: %w", err)
	}

	producer := intkafka.NewProducer(cfg.Kafka, log)

	bidProcessor := bidproc.New(sessions, hotClient, durableClient, producer, broadcaster, log)
	leaderboardReader := leaderboard.New(hotClient, durableClient, sessions)

	persisterElector := leaderelect.New(electionLock, persisterLockName, cfg.Redis.LockTimeout, 5*time.Second, log)
	batchPersister := persister.New(hotClient, durableClient, persisterElector, cfg.Persister, log)

	monitorElector := leaderelect.New(electionLock, monitorLockName, cfg.Redis.LockTimeout, 5*time.Second, log)
	sessionMonitor := monitor.New(durableClient, sessions, batchPersister, producer, broadcaster, monitorElector, cfg.Monitor, log)

	jobsCtx, cancelJobs := context.WithCancel(ctx)
	go batchPersister.Run(jobsCtx)
	go sessionMonitor.Run(jobsCtx)

	bidRelay, err := intkafka.NewConsumer(jobsCtx, cfg.Kafka, cfg.Kafka.BidTopic, log)
	if err != nil {
		cancelJobs()
		producer.Close()
		electionLock.Close()
		hotClient.Close()
		durableClient.Close()
		return nil, fmt.Errorf("init bid relay consumer: %w", err)
	}
	broadcaster.RelayBidAccepted(jobsCtx, bidRelay, func(relayCtx context.Context, evt core.BidAccepted) (broadcast.Snapshot, error) {
		page, err := leaderboardReader.Page(relayCtx, evt.SessionID, 1, relayPageSize)
		if err != nil {
			return broadcast.Snapshot{}, err
		}
		return broadcast.Snapshot{SessionID: evt.SessionID, Entries: page.Entries}, nil
	})

	sessRelay, err := intkafka.NewConsumer(jobsCtx, cfg.Kafka, cfg.Kafka.SessionTopic, log)
	if err != nil {
		cancelJobs()
		bidRelay.Stop()
		producer.Close()
		electionLock.Close()
		hotClient.Close()
		durableClient.Close()
		return nil, fmt.Errorf("init session relay consumer: %w", err)
	}
	broadcaster.RelaySessionEnded(jobsCtx, sessRelay, func(evt core.SessionEnded) broadcast.Snapshot {
		return broadcast.Snapshot{SessionID: evt.SessionID, Ended: true}
	})

	return &Context{
		Log:         log,
		Durable:     durableClient,
		Hot:         hotClient,
		Sessions:    sessions,
		TokenCache:  tokenCache,
		Issuer:      issuer,
		Broadcaster: broadcaster,
		Producer:    producer,
		BidProc:     bidProcessor,
		Leaderboard: leaderboardReader,
		Persister:   batchPersister,
		Monitor:     sessionMonitor,
		electionLock:    electionLock,
		bidRelay:    bidRelay,
		sessRelay:   sessRelay,
		cancelJobs:  cancelJobs,
	}, nil
}

// newElectionLock builds the Lock backend leaderelect.Elector arbitrates
// leadership through, selected by cfg.LockBackend: "redis" for a Redlock
// quorum across cfg.Redis.LockAddresses, anything else (including empty)
// for etcd.
func newElectionLock(cfg *config.Config, log *zap.Logger) (lock.Lock, error) {
	if cfg.LockBackend == "redis" {
		return lock.NewRedLock(log)
	}
	return lock.NewETCDLock()
}

// Close tears the runtime context down in the reverse of its build order.
func (c *Context) Close() {
	c.cancelJobs()
	c.Persister.Stop()
	c.Monitor.Stop()
	c.bidRelay.Stop()
	c.sessRelay.Stop()
	c.Producer.Close()
	c.electionLock.Close()
	c.Hot.Close()
	c.Durable.Close()
}
