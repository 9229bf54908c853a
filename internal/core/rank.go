package core

import (
	"sort"
)

// CompareBids reports whether a ranks strictly ahead of b under the pinned
// tie-break rule: higher score wins; equal scores favor the earlier
// update; remaining ties favor the lexicographically smaller user id.
func CompareBids(a, b BidRecord) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.Before(b.UpdatedAt)
	}
	return a.UserID < b.UserID
}

// SortBids orders bids in place, best-ranked first.
func SortBids(bids []BidRecord) {
	sort.SliceStable(bids, func(i, j int) bool { return CompareBids(bids[i], bids[j]) })
}
