package monitor

import (
	"testing"

	"github.com/lvdashuaibi/bidfeed/internal/core"
)

func TestBuildFinalRankingsScenarioS5(t *testing.T) {
	bids := []core.BidRecord{
		{UserID: "a", Score: 800, Price: 500},
		{UserID: "b", Score: 700, Price: 400},
		{UserID: "c", Score: 650, Price: 300},
	}
	core.SortBids(bids)

	rankings := buildFinalRankings("sess-1", bids, 2)

	want := map[string]bool{"a": true, "b": true, "c": false}
	for _, r := range rankings {
		if r.IsWinner != want[r.UserID] {
			t.Errorf("user %s: IsWinner = %v, want %v", r.UserID, r.IsWinner, want[r.UserID])
		}
		if r.SessionID != "sess-1" {
			t.Errorf("user %s: SessionID = %q, want sess-1", r.UserID, r.SessionID)
		}
	}
	if rankings[2].Rank != 3 {
		t.Fatalf("last-place rank = %d, want 3", rankings[2].Rank)
	}
}

func TestBuildFinalRankingsIsIdempotentGivenSameInput(t *testing.T) {
	bids := []core.BidRecord{{UserID: "solo", Score: 100, Price: 50}}

	first := buildFinalRankings("s", bids, 1)
	second := buildFinalRankings("s", bids, 1)

	if len(first) != len(second) || first[0] != second[0] {
		t.Fatalf("re-running finalization on the same bids must produce identical rankings, got %+v and %+v", first, second)
	}
}

func TestFinalEntriesPropagatesIsWinner(t *testing.T) {
	rankings := []core.FinalRanking{
		{Rank: 1, UserID: "a", Score: 800, Price: 500, IsWinner: true},
		{Rank: 2, UserID: "b", Score: 650, Price: 300, IsWinner: false},
	}

	entries := finalEntries(rankings)

	if !entries[0].IsWinner || entries[1].IsWinner {
		t.Fatalf("finalEntries must carry IsWinner through unchanged, got %+v", entries)
	}
}
