package bidproc

import (
	"testing"

	"github.com/lvdashuaibi/bidfeed/internal/core"
)

func TestToEntriesMarksWinnersUpToInventory(t *testing.T) {
	bids := []core.BidRecord{
		{UserID: "a", Score: 900, Price: 500},
		{UserID: "b", Score: 800, Price: 400},
		{UserID: "c", Score: 700, Price: 300},
	}

	entries := toEntries(bids, 2)

	want := map[string]bool{"a": true, "b": true, "c": false}
	for _, e := range entries {
		if e.IsWinner != want[e.UserID] {
			t.Errorf("entry %s: IsWinner = %v, want %v", e.UserID, e.IsWinner, want[e.UserID])
		}
	}
	if entries[0].Rank != 1 || entries[2].Rank != 3 {
		t.Fatalf("ranks should be assigned by position: got %d and %d", entries[0].Rank, entries[2].Rank)
	}
}

func TestToEntriesEveryoneWinsWhenInventoryExceedsBidders(t *testing.T) {
	bids := []core.BidRecord{{UserID: "solo", Score: 100, Price: 50}}
	entries := toEntries(bids, 5)
	if len(entries) != 1 || !entries[0].IsWinner {
		t.Fatalf("sole bidder under an uncleared inventory should be a winner, got %+v", entries)
	}
}
