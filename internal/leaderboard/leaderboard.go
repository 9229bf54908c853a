// Package leaderboard is the Leaderboard Reader (component F): the paged,
// O(1)-round-trip read path over a session's scoreboard, plus a durable
// store fallback for sessions whose hot store entry has expired or was
// never populated. Grounded on the original bidding service's
// get_leaderboard, with the highest-bid ambiguity deliberately resolved
// as "max price across every bidder on the board", read from the hot
// store's price ranking set rather than from the fetched page or only the
// top entry (see DESIGN.md).
package leaderboard

import (
	"context"

	"github.com/lvdashuaibi/bidfeed/internal/apierr"
	"github.com/lvdashuaibi/bidfeed/internal/core"
	"github.com/lvdashuaibi/bidfeed/internal/durable"
	"github.com/lvdashuaibi/bidfeed/internal/hotstore"
	"github.com/lvdashuaibi/bidfeed/internal/sessioncache"
)

// Reader serves leaderboard pages.
type Reader struct {
	hot      *hotstore.Client
	durable  *durable.Client
	sessions *sessioncache.Cache
}

// New builds a Leaderboard Reader.
func New(hot *hotstore.Client, dur *durable.Client, sessions *sessioncache.Cache) *Reader {
	return &Reader{hot: hot, durable: dur, sessions: sessions}
}

// Page returns a 1-based page of the leaderboard (page 1 is the top),
// falling back to the durable store when the hot store's scoreboard is
// empty (e.g. it expired between the session ending and a client asking
// for it). Every read is a bounded range query against the hot store's
// ranking set, never a full-board fetch: the page window and the top-K
// window used to compute the threshold score are both sized independently
// of how many bidders the session actually has.
func (r *Reader) Page(ctx context.Context, sessionID string, page, pageSize int) (core.LeaderboardPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 1
	}

	dctx, cancel := apierr.WithDeadline(ctx)
	defer cancel()

	session, err := r.sessions.Params(dctx, sessionID)
	if err != nil {
		return core.LeaderboardPage{}, err
	}

	total, err := r.hot.Count(dctx, sessionID)
	if err != nil {
		return core.LeaderboardPage{}, apierr.ClassifyTimeout(dctx, err)
	}

	start := (page - 1) * pageSize
	if total == 0 {
		return r.pageFromDurable(dctx, session, start, pageSize)
	}

	pageBids, err := r.hot.Page(dctx, sessionID, int64(start), int64(start+pageSize-1))
	if err != nil {
		return core.LeaderboardPage{}, apierr.ClassifyTimeout(dctx, err)
	}
	core.SortBids(pageBids)

	threshold, err := r.thresholdScore(dctx, sessionID, session.Inventory, int(total))
	if err != nil {
		return core.LeaderboardPage{}, apierr.ClassifyTimeout(dctx, err)
	}

	highest, found, err := r.hot.HighestPrice(dctx, sessionID)
	if err != nil {
		return core.LeaderboardPage{}, apierr.ClassifyTimeout(dctx, err)
	}
	if !found {
		highest = 0
	}

	return core.LeaderboardPage{
		Entries:        buildEntries(pageBids, start, session.Inventory),
		TotalBidders:   int(total),
		HighestBid:     highest,
		ThresholdScore: threshold,
	}, nil
}

// buildEntries converts a sorted, already-windowed slice of bids into
// leaderboard entries, numbering ranks from start+1 and marking winners
// as rank <= inventory.
func buildEntries(bids []core.BidRecord, start, inventory int) []core.LeaderboardEntry {
	entries := make([]core.LeaderboardEntry, len(bids))
	for i, b := range bids {
		rank := start + i + 1
		entries[i] = core.LeaderboardEntry{
			Rank:     rank,
			UserID:   b.UserID,
			Price:    b.Price,
			Score:    b.Score,
			IsWinner: rank <= inventory,
		}
	}
	return entries
}

// thresholdScore fetches only the top-K window (K = session inventory),
// bounded regardless of how many bidders the session has, to answer the
// score a new bid must clear to be provisionally winning.
func (r *Reader) thresholdScore(ctx context.Context, sessionID string, inventory, total int) (*float64, error) {
	if total < inventory {
		return nil, nil
	}
	topK, err := r.hot.Page(ctx, sessionID, 0, int64(inventory-1))
	if err != nil {
		return nil, err
	}
	core.SortBids(topK)
	return core.ThresholdScore(topK, inventory), nil
}

// pageFromDurable rebuilds a page from the durable store when the hot
// store's scoreboard has expired or was never populated. This path is only
// reached once a session's cached scoreboard is gone, so it fetches every
// bid rather than a bounded window.
func (r *Reader) pageFromDurable(ctx context.Context, session core.Session, start, pageSize int) (core.LeaderboardPage, error) {
	all, err := r.durable.AllBids(ctx, session.ID)
	if err != nil {
		return core.LeaderboardPage{}, apierr.ClassifyTimeout(ctx, err)
	}
	core.SortBids(all)

	end := start + pageSize
	if start > len(all) {
		start = len(all)
	}
	if end > len(all) {
		end = len(all)
	}
	pageBids := all[start:end]

	return core.LeaderboardPage{
		Entries:        buildEntries(pageBids, start, session.Inventory),
		TotalBidders:   len(all),
		HighestBid:     core.HighestBid(all),
		ThresholdScore: core.ThresholdScore(all, session.Inventory),
	}, nil
}
