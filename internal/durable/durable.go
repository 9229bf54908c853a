// Package durable is the Durable Store Client (component C): the MySQL
// system of record for sessions, persisted bids and final rankings.
// Adapted from the teacher's repository package, generalized to support
// two pool profiles (proxied vs. direct) and a multi-row batch upsert for
// the Batch Persister.
package durable

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/lvdashuaibi/bidfeed/config"
	"github.com/lvdashuaibi/bidfeed/internal/apierr"
	"github.com/lvdashuaibi/bidfeed/internal/core"
)

// Client wraps master/slave *sql.DB handles, pool-tuned per the deployment's
// proxy mode.
type Client struct {
	masterDB   *sql.DB
	slaveDB    *sql.DB
	chunkSize  int
}

// New opens the durable store's master and slave connections, applying the
// proxied or direct pool profile from cfg. Direct connections keep a
// conservative ceiling and pre-ping the master when DirectPrePing is set;
// proxied connections never pre-ping, trusting the proxy's own pooling,
// and can run a much larger local pool.
func New(cfg config.MySQLConfig) (*Client, error) {
	maxOpen, maxIdle := cfg.MaxOpenConns, cfg.MaxIdleConns
	if !cfg.ProxyMode {
		maxOpen, maxIdle = cfg.DirectMaxOpen, cfg.DirectMaxIdle
	}

	masterDB, err := sql.Open("mysql", cfg.Master)
	if err != nil {
		return nil, fmt.Errorf("open master: %w", err)
	}
	masterDB.SetMaxOpenConns(maxOpen)
	masterDB.SetMaxIdleConns(maxIdle)
	masterDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if !cfg.ProxyMode && cfg.DirectPrePing {
		if err := masterDB.Ping(); err != nil {
			return nil, fmt.Errorf("%w: ping master: %v", apierr.ErrDurableUnavailable, err)
		}
	}

	slaveDB, err := sql.Open("mysql", cfg.Slave)
	if err != nil {
		return nil, fmt.Errorf("open slave: %w", err)
	}
	slaveDB.SetMaxOpenConns(maxOpen)
	slaveDB.SetMaxIdleConns(maxIdle)
	slaveDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := slaveDB.Ping(); err != nil {
		slaveDB = masterDB
	}

	chunk := cfg.BatchUpsertChunk
	if chunk <= 0 {
		chunk = 200
	}

	return &Client{masterDB: masterDB, slaveDB: slaveDB, chunkSize: chunk}, nil
}

// PoolStats reports the master pool's current utilization, used by the
// admin pool-status endpoint's health scoring.
func (c *Client) PoolStats() sql.DBStats {
	return c.masterDB.Stats()
}

// Close releases both connection pools.
func (c *Client) Close() {
	if c.masterDB != nil {
		c.masterDB.Close()
	}
	if c.slaveDB != nil && c.slaveDB != c.masterDB {
		c.slaveDB.Close()
	}
}

// GetSession reads a session's immutable parameters and current status.
func (c *Client) GetSession(ctx context.Context, sessionID string) (core.Session, error) {
	query := `SELECT id, alpha, beta, gamma, reserve, inventory, start_time, end_time, is_active, final_price
	          FROM sessions WHERE id = ?`
	var s core.Session
	var finalPrice sql.NullFloat64
	err := c.slaveDB.QueryRowContext(ctx, query, sessionID).Scan(
		&s.ID, &s.Alpha, &s.Beta, &s.Gamma, &s.Reserve, &s.Inventory,
		&s.StartTime, &s.EndTime, &s.IsActive, &finalPrice,
	)
	if err == sql.ErrNoRows {
		return core.Session{}, apierr.ErrSessionNotFound
	}
	if err != nil {
		return core.Session{}, fmt.Errorf("%w: get session: %v", apierr.ErrDurableUnavailable, err)
	}
	if finalPrice.Valid {
		s.FinalPrice = &finalPrice.Float64
	}
	return s, nil
}

// CreateSession inserts a new auction session.
func (c *Client) CreateSession(ctx context.Context, s core.Session) error {
	query := `INSERT INTO sessions (id, alpha, beta, gamma, reserve, inventory, start_time, end_time, is_active)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := c.masterDB.ExecContext(ctx, query,
		s.ID, s.Alpha, s.Beta, s.Gamma, s.Reserve, s.Inventory, s.StartTime, s.EndTime, s.IsActive,
	)
	if err != nil {
		return fmt.Errorf("%w: create session: %v", apierr.ErrDurableUnavailable, err)
	}
	return nil
}

// ExpiredActiveSessions returns sessions still marked active whose end
// time has already passed, for the Session Monitor to finalize.
func (c *Client) ExpiredActiveSessions(ctx context.Context, now time.Time) ([]core.Session, error) {
	query := `SELECT id, alpha, beta, gamma, reserve, inventory, start_time, end_time, is_active
	          FROM sessions WHERE is_active = TRUE AND end_time <= ?`
	rows, err := c.slaveDB.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("%w: expired sessions: %v", apierr.ErrDurableUnavailable, err)
	}
	defer rows.Close()

	var out []core.Session
	for rows.Next() {
		var s core.Session
		if err := rows.Scan(&s.ID, &s.Alpha, &s.Beta, &s.Gamma, &s.Reserve, &s.Inventory,
			&s.StartTime, &s.EndTime, &s.IsActive); err != nil {
			return nil, fmt.Errorf("scan expired session: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// BatchUpsertBids idempotently writes a batch of bids in chunks of at most
// c.chunkSize rows per statement, using the multi-row MySQL equivalent of
// ON CONFLICT DO UPDATE.
func (c *Client) BatchUpsertBids(ctx context.Context, bids []core.BidRecord) error {
	for start := 0; start < len(bids); start += c.chunkSize {
		end := start + c.chunkSize
		if end > len(bids) {
			end = len(bids)
		}
		if err := c.upsertBidChunk(ctx, bids[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) upsertBidChunk(ctx context.Context, chunk []core.BidRecord) error {
	if len(chunk) == 0 {
		return nil
	}

	placeholders := make([]string, 0, len(chunk))
	args := make([]interface{}, 0, len(chunk)*6)
	for _, b := range chunk {
		placeholders = append(placeholders, "(?, ?, ?, ?, ?, ?)")
		args = append(args, b.SessionID, b.UserID, b.Price, b.Score, b.ResponseTime, b.UpdatedAt)
	}

	query := fmt.Sprintf(`INSERT INTO bids (session_id, user_id, price, score, response_time, updated_at)
	          VALUES %s
	          ON DUPLICATE KEY UPDATE
	            price = VALUES(price),
	            score = VALUES(score),
	            response_time = VALUES(response_time),
	            updated_at = VALUES(updated_at)`, strings.Join(placeholders, ", "))

	if _, err := c.masterDB.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: batch upsert bids: %v", apierr.ErrDurableUnavailable, err)
	}
	return nil
}

// AllBids reads every persisted bid for a session, used as the leaderboard
// read path's fallback when the hot store's scoreboard is empty.
func (c *Client) AllBids(ctx context.Context, sessionID string) ([]core.BidRecord, error) {
	query := `SELECT session_id, user_id, price, score, response_time, updated_at
	          FROM bids WHERE session_id = ?`
	rows, err := c.slaveDB.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: all bids: %v", apierr.ErrDurableUnavailable, err)
	}
	defer rows.Close()

	var out []core.BidRecord
	for rows.Next() {
		var b core.BidRecord
		if err := rows.Scan(&b.SessionID, &b.UserID, &b.Price, &b.Score, &b.ResponseTime, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan bid: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// WriteFinalRankings transactionally replaces a session's ranking rows,
// sets its final price, and flips is_active to false. Safe to call more
// than once for the same session: it always overwrites with the same
// deterministic input, so a retried finalize after a partial failure
// converges rather than duplicating rows.
func (c *Client) WriteFinalRankings(ctx context.Context, sessionID string, rankings []core.FinalRanking, finalPrice float64) error {
	tx, err := c.masterDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin finalize tx: %v", apierr.ErrDurableUnavailable, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM final_rankings WHERE session_id = ?`, sessionID); err != nil {
		tx.Rollback()
		return fmt.Errorf("%w: clear prior rankings: %v", apierr.ErrDurableUnavailable, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO final_rankings
	          (session_id, rank, user_id, price, score, is_winner) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("%w: prepare ranking insert: %v", apierr.ErrDurableUnavailable, err)
	}
	defer stmt.Close()

	for _, r := range rankings {
		if _, err := stmt.ExecContext(ctx, r.SessionID, r.Rank, r.UserID, r.Price, r.Score, r.IsWinner); err != nil {
			tx.Rollback()
			return fmt.Errorf("%w: insert ranking row: %v", apierr.ErrDurableUnavailable, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET is_active = FALSE, final_price = ? WHERE id = ?`, finalPrice, sessionID); err != nil {
		tx.Rollback()
		return fmt.Errorf("%w: finalize session row: %v", apierr.ErrDurableUnavailable, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit finalize tx: %v", apierr.ErrDurableUnavailable, err)
	}
	return nil
}

// FinalRankings reads back a session's frozen results in rank order.
func (c *Client) FinalRankings(ctx context.Context, sessionID string) ([]core.FinalRanking, error) {
	query := `SELECT session_id, rank, user_id, price, score, is_winner
	          FROM final_rankings WHERE session_id = ? ORDER BY rank ASC`
	rows, err := c.slaveDB.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: final rankings: %v", apierr.ErrDurableUnavailable, err)
	}
	defer rows.Close()

	var out []core.FinalRanking
	for rows.Next() {
		var r core.FinalRanking
		if err := rows.Scan(&r.SessionID, &r.Rank, &r.UserID, &r.Price, &r.Score, &r.IsWinner); err != nil {
			return nil, fmt.Errorf("scan final ranking: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
