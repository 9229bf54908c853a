// Package hotstore is the Hot Store Client (component B): a typed façade
// over Redis exposing exactly the sorted-set, hash, set and string
// primitives the bid pipeline needs, plus one Lua script for an atomic
// snapshot-and-clear of the dirty-session set. Adapted from the ticket
// cache in the teacher's repository package: same preload-script /
// EVALSHA / NOSCRIPT-reload pattern, same pipelined multi-field writes.
package hotstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/lvdashuaibi/bidfeed/config"
	"github.com/lvdashuaibi/bidfeed/internal/apierr"
	"github.com/lvdashuaibi/bidfeed/internal/core"
)

const (
	rankingKeyPrefix      = "ranking:"
	priceRankingKeyPrefix = "price_ranking:"
	liveBidKeyPrefix      = "bid:"
	bidMetaKeyPrefix      = "bid_metadata:"
	sessionParamsPrefix   = "session:params:"
	sessionActivePrefix   = "session:active:"
	dirtySessionsSetKey   = "dirty_sessions"

	// snapshotAndClearDirtySessionsScript atomically reads every member of
	// the dirty-session set and empties it, so the Batch Persister never
	// races a bid processor's concurrent SADD against its own read.
	snapshotAndClearDirtySessionsScript = `
		local members = redis.call('SMEMBERS', KEYS[1])
		redis.call('DEL', KEYS[1])
		return members
	`
)

func rankingKey(sessionID string) string      { return rankingKeyPrefix + sessionID }
func priceRankingKey(sessionID string) string { return priceRankingKeyPrefix + sessionID }

// liveBidKey is the read-serving hash a leaderboard page reads from.
// bidMetaKey is the persister-facing twin the Batch Persister sweeps and
// drains into the durable store; both are written on every upsert so the
// persister never has to compete with the read path for the same key.
func liveBidKey(sessionID, userID string) string {
	return liveBidKeyPrefix + sessionID + ":" + userID
}
func bidMetaKey(sessionID, userID string) string {
	return bidMetaKeyPrefix + sessionID + ":" + userID
}
func bidMetaKeyPattern(sessionID string) string { return bidMetaKeyPrefix + sessionID + ":*" }
func sessionParamsKey(sessionID string) string  { return sessionParamsPrefix + sessionID }
func sessionActiveKey(sessionID string) string  { return sessionActivePrefix + sessionID }

// Client wraps a Redis connection pool sized for the hot bid path.
type Client struct {
	rdb          *redis.Client
	scriptHashes map[string]string
	bidTTL       time.Duration
	sessionTTL   time.Duration
	activeTTL    time.Duration
	endedTTL     time.Duration
}

// New dials the hot store and preloads its Lua scripts.
func New(cfg config.RedisConfig) (*Client, error) {
	ctx := context.Background()

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.DataAddress,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", apierr.ErrHotStoreUnavailable, err)
	}

	c := &Client{
		rdb:          rdb,
		scriptHashes: make(map[string]string),
		bidTTL:       cfg.BidMetadataTTL,
		sessionTTL:   cfg.SessionTTL,
		activeTTL:    cfg.ActiveStatusTTL,
		endedTTL:     cfg.EndedStatusTTL,
	}

	if err := c.preloadScripts(ctx); err != nil {
		return nil, fmt.Errorf("preload hot store scripts: %w", err)
	}

	return c, nil
}

func (c *Client) preloadScripts(ctx context.Context) error {
	sha, err := c.rdb.ScriptLoad(ctx, snapshotAndClearDirtySessionsScript).Result()
	if err != nil {
		return fmt.Errorf("load snapshot-and-clear script: %w", err)
	}
	c.scriptHashes["snapshotAndClearDirtySessions"] = sha
	return nil
}

// Close releases the underlying connection pool.
func (c *Client) Close() error { return c.rdb.Close() }

// PoolStats reports the Redis connection pool's current utilization, used
// by the admin pool-status endpoint's health scoring.
func (c *Client) PoolStats() *redis.PoolStats { return c.rdb.PoolStats() }

// UpsertBid atomically writes a bid's ranking entry, price-ranking entry
// and both bid hashes in a single pipelined round trip, refreshing every
// key's TTL, and marks the session dirty for the next batch persist cycle.
// The ranking set's score is the raw bid score, unperturbed: a Redis sorted
// set only tie-breaks equal scores by member name, so exact tie order
// (score desc, then earliest update, then user id) is re-established by
// core.SortBids over whatever bounded window a caller fetches, not baked
// into the stored score itself.
func (c *Client) UpsertBid(ctx context.Context, rec core.BidRecord) (rank int64, err error) {
	fields := map[string]interface{}{
		"userId":       rec.UserID,
		"price":        rec.Price,
		"score":        rec.Score,
		"responseTime": rec.ResponseTime,
		"weight":       rec.Weight,
		"updatedAt":    rec.UpdatedAt.Format(time.RFC3339Nano),
	}

	pipe := c.rdb.TxPipeline()
	pipe.ZAdd(ctx, rankingKey(rec.SessionID), &redis.Z{Score: rec.Score, Member: rec.UserID})
	pipe.Expire(ctx, rankingKey(rec.SessionID), c.sessionTTL)
	pipe.ZAdd(ctx, priceRankingKey(rec.SessionID), &redis.Z{Score: rec.Price, Member: rec.UserID})
	pipe.Expire(ctx, priceRankingKey(rec.SessionID), c.sessionTTL)
	pipe.HSet(ctx, liveBidKey(rec.SessionID, rec.UserID), fields)
	pipe.Expire(ctx, liveBidKey(rec.SessionID, rec.UserID), c.bidTTL)
	pipe.HSet(ctx, bidMetaKey(rec.SessionID, rec.UserID), fields)
	pipe.Expire(ctx, bidMetaKey(rec.SessionID, rec.UserID), c.bidTTL)
	pipe.SAdd(ctx, dirtySessionsSetKey, rec.SessionID)
	rankCmd := pipe.ZRevRank(ctx, rankingKey(rec.SessionID), rec.UserID)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("%w: upsert bid: %v", apierr.ErrHotStoreUnavailable, err)
	}

	r, err := rankCmd.Result()
	if err != nil {
		return 0, fmt.Errorf("%w: read rank after upsert: %v", apierr.ErrHotStoreUnavailable, err)
	}
	return r + 1, nil // ZREVRANK is 0-based
}

// HighestPrice returns the highest submitted price across every bidder on a
// session, in O(log n), by reading the top of the price_ranking set instead
// of scanning every bid the way a full-board fetch would.
func (c *Client) HighestPrice(ctx context.Context, sessionID string) (price float64, found bool, err error) {
	z, err := c.rdb.ZRevRangeWithScores(ctx, priceRankingKey(sessionID), 0, 0).Result()
	if err != nil {
		return 0, false, fmt.Errorf("%w: highest price: %v", apierr.ErrHotStoreUnavailable, err)
	}
	if len(z) == 0 {
		return 0, false, nil
	}
	return z[0].Score, true, nil
}

// TopN returns the top n ranked entries for a session, best first.
func (c *Client) TopN(ctx context.Context, sessionID string, n int64) ([]core.BidRecord, error) {
	if n <= 0 {
		return nil, nil
	}
	members, err := c.rdb.ZRevRange(ctx, rankingKey(sessionID), 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: top-n range: %v", apierr.ErrHotStoreUnavailable, err)
	}
	return c.multiGetBidMetadata(ctx, sessionID, members)
}

// Page returns entries [start, stop] (inclusive, 0-based, best first).
func (c *Client) Page(ctx context.Context, sessionID string, start, stop int64) ([]core.BidRecord, error) {
	members, err := c.rdb.ZRevRange(ctx, rankingKey(sessionID), start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: page range: %v", apierr.ErrHotStoreUnavailable, err)
	}
	return c.multiGetBidMetadata(ctx, sessionID, members)
}

// Count returns the number of bidders currently on a session's board.
func (c *Client) Count(ctx context.Context, sessionID string) (int64, error) {
	n, err := c.rdb.ZCard(ctx, rankingKey(sessionID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: card: %v", apierr.ErrHotStoreUnavailable, err)
	}
	return n, nil
}

// Rank returns the caller's 1-based rank, and whether they have a bid at all.
func (c *Client) Rank(ctx context.Context, sessionID, userID string) (int64, bool, error) {
	r, err := c.rdb.ZRevRank(ctx, rankingKey(sessionID), userID).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%w: rank: %v", apierr.ErrHotStoreUnavailable, err)
	}
	return r + 1, true, nil
}

func (c *Client) multiGetBidMetadata(ctx context.Context, sessionID string, userIDs []string) ([]core.BidRecord, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	pipe := c.rdb.Pipeline()
	cmds := make(map[string]*redis.StringStringMapCmd, len(userIDs))
	for _, uid := range userIDs {
		cmds[uid] = pipe.HGetAll(ctx, liveBidKey(sessionID, uid))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("%w: multiget bid metadata: %v", apierr.ErrHotStoreUnavailable, err)
	}

	out := make([]core.BidRecord, 0, len(userIDs))
	for _, uid := range userIDs {
		data, err := cmds[uid].Result()
		if err != nil || len(data) == 0 {
			continue
		}
		rec, err := decodeBidRecord(sessionID, uid, data)
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func decodeBidRecord(sessionID, userID string, data map[string]string) (core.BidRecord, error) {
	rec := core.BidRecord{SessionID: sessionID, UserID: userID}
	if _, err := fmt.Sscanf(data["price"], "%f", &rec.Price); err != nil {
		return rec, fmt.Errorf("parse price: %w", err)
	}
	if _, err := fmt.Sscanf(data["score"], "%f", &rec.Score); err != nil {
		return rec, fmt.Errorf("parse score: %w", err)
	}
	fmt.Sscanf(data["responseTime"], "%f", &rec.ResponseTime)
	fmt.Sscanf(data["weight"], "%f", &rec.Weight)
	if data["updatedAt"] != "" {
		t, err := time.Parse(time.RFC3339Nano, data["updatedAt"])
		if err == nil {
			rec.UpdatedAt = t
		}
	}
	return rec, nil
}

// ScanBidMetadataKeys walks bid_metadata:{sessionID}:* with a cursor-based
// SCAN, never the blocking KEYS command, so the persister's sweep never
// stalls the hot path.
func (c *Client) ScanBidMetadataKeys(ctx context.Context, sessionID string, cursor uint64, count int64) ([]string, uint64, error) {
	keys, next, err := c.rdb.Scan(ctx, cursor, bidMetaKeyPattern(sessionID), count).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: scan bid metadata: %v", apierr.ErrHotStoreUnavailable, err)
	}
	return keys, next, nil
}

// GetBidMetadataByKey reads and decodes a single bid_metadata hash by its
// raw key, as produced by ScanBidMetadataKeys.
func (c *Client) GetBidMetadataByKey(ctx context.Context, sessionID, key string) (core.BidRecord, bool, error) {
	data, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return core.BidRecord{}, false, fmt.Errorf("%w: get bid metadata: %v", apierr.ErrHotStoreUnavailable, err)
	}
	if len(data) == 0 {
		return core.BidRecord{}, false, nil
	}
	userID := data["userId"]
	rec, err := decodeBidRecord(sessionID, userID, data)
	if err != nil {
		return core.BidRecord{}, false, err
	}
	return rec, true, nil
}

// DeleteBidMetadataKeys removes the given bid_metadata: hashes once the
// persister has durably upserted the records they held, so a session that
// keeps receiving bids doesn't force every dirty cycle to re-scan and
// re-upsert its entire bidding history.
func (c *Client) DeleteBidMetadataKeys(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: delete bid metadata: %v", apierr.ErrHotStoreUnavailable, err)
	}
	return nil
}

// SnapshotAndClearDirtySessions atomically reads and empties the
// dirty-session set via a preloaded Lua script, reloading it on NOSCRIPT.
func (c *Client) SnapshotAndClearDirtySessions(ctx context.Context) ([]string, error) {
	sha, ok := c.scriptHashes["snapshotAndClearDirtySessions"]
	if !ok {
		return nil, fmt.Errorf("snapshot-and-clear script not preloaded")
	}

	result, err := c.rdb.EvalSha(ctx, sha, []string{dirtySessionsSetKey}).Result()
	if err != nil {
		if isNoScript(err) {
			sha, err = c.rdb.ScriptLoad(ctx, snapshotAndClearDirtySessionsScript).Result()
			if err != nil {
				return nil, fmt.Errorf("reload snapshot-and-clear script: %w", err)
			}
			c.scriptHashes["snapshotAndClearDirtySessions"] = sha
			result, err = c.rdb.EvalSha(ctx, sha, []string{dirtySessionsSetKey}).Result()
			if err != nil {
				return nil, fmt.Errorf("%w: snapshot-and-clear: %v", apierr.ErrHotStoreUnavailable, err)
			}
		} else {
			return nil, fmt.Errorf("%w: snapshot-and-clear: %v", apierr.ErrHotStoreUnavailable, err)
		}
	}

	raw, ok := result.([]interface{})
	if !ok {
		return nil, fmt.Errorf("snapshot-and-clear script returned unexpected type")
	}
	sessions := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			sessions = append(sessions, s)
		}
	}
	return sessions, nil
}

// ReaddDirtySession puts a session back on the dirty set, used when a
// persist attempt fails and must be retried on the next cycle.
func (c *Client) ReaddDirtySession(ctx context.Context, sessionID string) error {
	if err := c.rdb.SAdd(ctx, dirtySessionsSetKey, sessionID).Err(); err != nil {
		return fmt.Errorf("%w: readd dirty session: %v", apierr.ErrHotStoreUnavailable, err)
	}
	return nil
}

func isNoScript(err error) bool {
	return err != nil && len(err.Error()) >= 8 && err.Error()[:8] == "NOSCRIPT"
}

// SetSessionParams caches a session's immutable auction parameters.
func (c *Client) SetSessionParams(ctx context.Context, s core.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session params: %w", err)
	}
	if err := c.rdb.Set(ctx, sessionParamsKey(s.ID), data, c.sessionTTL).Err(); err != nil {
		return fmt.Errorf("%w: set session params: %v", apierr.ErrHotStoreUnavailable, err)
	}
	return nil
}

// GetSessionParams reads a cached session, reporting a cache miss rather
// than an error when absent.
func (c *Client) GetSessionParams(ctx context.Context, sessionID string) (core.Session, bool, error) {
	data, err := c.rdb.Get(ctx, sessionParamsKey(sessionID)).Result()
	if err == redis.Nil {
		return core.Session{}, false, nil
	}
	if err != nil {
		return core.Session{}, false, fmt.Errorf("%w: get session params: %v", apierr.ErrHotStoreUnavailable, err)
	}
	var s core.Session
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return core.Session{}, false, fmt.Errorf("unmarshal session params: %w", err)
	}
	return s, true, nil
}

// SetActiveStatus caches a session's activity flag with a short TTL when
// active and a longer one once ended, so a just-finalized session doesn't
// need a database hit on every subsequent read.
func (c *Client) SetActiveStatus(ctx context.Context, sessionID string, active bool) error {
	ttl := c.endedTTL
	value := "0"
	if active {
		ttl = c.activeTTL
		value = "1"
	}
	if err := c.rdb.Set(ctx, sessionActiveKey(sessionID), value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: set active status: %v", apierr.ErrHotStoreUnavailable, err)
	}
	return nil
}

// GetActiveStatus reads a cached activity flag.
func (c *Client) GetActiveStatus(ctx context.Context, sessionID string) (active bool, found bool, err error) {
	v, err := c.rdb.Get(ctx, sessionActiveKey(sessionID)).Result()
	if err == redis.Nil {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("%w: get active status: %v", apierr.ErrHotStoreUnavailable, err)
	}
	return v == "1", true, nil
}

// InvalidateSessionCache drops both the parameter and activity caches for
// a session, used once the Session Monitor finalizes it.
func (c *Client) InvalidateSessionCache(ctx context.Context, sessionID string) error {
	if err := c.rdb.Del(ctx, sessionParamsKey(sessionID), sessionActiveKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("%w: invalidate session cache: %v", apierr.ErrHotStoreUnavailable, err)
	}
	return nil
}
