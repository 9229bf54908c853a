package leaderboard

import (
	"testing"

	"github.com/lvdashuaibi/bidfeed/internal/core"
)

func TestBuildEntriesNumbersRanksFromPageOffset(t *testing.T) {
	bids := []core.BidRecord{
		{UserID: "c", Score: 700, Price: 300},
		{UserID: "d", Score: 600, Price: 250},
	}

	entries := buildEntries(bids, 2, 2)

	if entries[0].Rank != 3 || entries[1].Rank != 4 {
		t.Fatalf("ranks starting at offset 2 should be 3 and 4, got %d and %d", entries[0].Rank, entries[1].Rank)
	}
	if entries[0].IsWinner || entries[1].IsWinner {
		t.Fatalf("ranks 3 and 4 should not be winners with inventory 2, got %+v", entries)
	}
}

func TestBuildEntriesMarksWinnersWithinInventory(t *testing.T) {
	bids := []core.BidRecord{
		{UserID: "a", Score: 900, Price: 500},
		{UserID: "b", Score: 800, Price: 400},
	}

	entries := buildEntries(bids, 0, 2)

	if !entries[0].IsWinner || !entries[1].IsWinner {
		t.Fatalf("both entries should win with inventory 2, got %+v", entries)
	}
}
