package core

import (
	"testing"
	"time"
)

func TestScoreScenarioS1(t *testing.T) {
	got := Score(0.5, 1000, 2, 250, 1, 1.0)
	want := 627.0
	if got != want {
		t.Fatalf("Score() = %v, want %v", got, want)
	}
}

func TestThresholdScoreNilBelowInventory(t *testing.T) {
	bids := []BidRecord{
		{UserID: "a", Score: 627.0},
		{UserID: "b", Score: 500.0},
	}
	SortBids(bids)
	if got := ThresholdScore(bids, 5); got != nil {
		t.Fatalf("ThresholdScore() = %v, want nil for fewer than inventory bids", *got)
	}
}

func TestThresholdScoreAtInventoryPosition(t *testing.T) {
	bids := []BidRecord{
		{UserID: "a", Score: 900},
		{UserID: "b", Score: 800},
		{UserID: "c", Score: 700},
	}
	SortBids(bids)
	got := ThresholdScore(bids, 2)
	if got == nil || *got != 800 {
		t.Fatalf("ThresholdScore() = %v, want 800", got)
	}
}

func TestFinalPriceFallsBackToReserve(t *testing.T) {
	bids := []BidRecord{{UserID: "a", Price: 300}}
	if got := FinalPrice(bids, 5, 200); got != 200 {
		t.Fatalf("FinalPrice() = %v, want reserve 200", got)
	}
}

func TestFinalPriceIsKthPrice(t *testing.T) {
	bids := []BidRecord{
		{UserID: "a", Score: 900, Price: 500},
		{UserID: "b", Score: 800, Price: 400},
		{UserID: "c", Score: 700, Price: 300},
	}
	SortBids(bids)
	if got := FinalPrice(bids, 2, 200); got != 400 {
		t.Fatalf("FinalPrice() = %v, want 400", got)
	}
}

func TestHighestBidIsMaxAcrossAllBidders(t *testing.T) {
	bids := []BidRecord{
		{UserID: "a", Score: 900, Price: 500},
		{UserID: "b", Score: 800, Price: 950},
	}
	if got := HighestBid(bids); got != 950 {
		t.Fatalf("HighestBid() = %v, want 950 (max across all, not just rank 1)", got)
	}
}

func TestScoreScenarioS2ReBidReplacesEntry(t *testing.T) {
	first := Score(0.5, 1000, 2, 250, 1, 1.0)
	if first != 627.0 {
		t.Fatalf("first bid score = %v, want 627.0", first)
	}
	second := Score(0.5, 1000, 2, 300, 3, 1.0)
	if second != 402.0 {
		t.Fatalf("re-bid score = %v, want 402.0", second)
	}
	bids := []BidRecord{{UserID: "u", Score: second}}
	if got := ThresholdScore(bids, 1); got == nil || *got != 402.0 {
		t.Fatalf("scoreboard should hold the re-bid's score, got %v", got)
	}
}

func TestScoreScenarioS3TieBrokenByUserID(t *testing.T) {
	now := time.Now()
	u1 := BidRecord{UserID: "u1", Price: 200, UpdatedAt: now}
	u2 := BidRecord{UserID: "u2", Price: 200, UpdatedAt: now}
	u1.Score = Score(0.5, 1000, 2, 200, 1, 1.0)
	u2.Score = Score(0.5, 1000, 2, 200, 1, 1.0)
	if u1.Score != 602.0 || u2.Score != 602.0 {
		t.Fatalf("both bids should score 602.0, got %v and %v", u1.Score, u2.Score)
	}

	bids := []BidRecord{u2, u1}
	SortBids(bids)
	if bids[0].UserID != "u1" || bids[1].UserID != "u2" {
		t.Fatalf("tied scores should order by user id ascending, got %v then %v", bids[0].UserID, bids[1].UserID)
	}
	if got := ThresholdScore(bids, 2); got == nil || *got != 602.0 {
		t.Fatalf("both tied bidders should clear the K=2 threshold at 602.0, got %v", got)
	}
}

func TestFinalRankingScenarioS5(t *testing.T) {
	bids := []BidRecord{
		{UserID: "a", Score: 800, Price: 500},
		{UserID: "b", Score: 700, Price: 400},
		{UserID: "c", Score: 650, Price: 300},
	}
	SortBids(bids)

	if got := FinalPrice(bids, 2, 200); got != 400 {
		t.Fatalf("final price should be the K=2 winner's price 400, got %v", got)
	}

	wantWinner := map[string]bool{"a": true, "b": true, "c": false}
	for i, b := range bids {
		isWinner := i < 2
		if isWinner != wantWinner[b.UserID] {
			t.Fatalf("rank %d (%s): isWinner = %v, want %v", i+1, b.UserID, isWinner, wantWinner[b.UserID])
		}
	}
}

func TestCompareBidsTieBreakOrder(t *testing.T) {
	now := time.Now()
	a := BidRecord{UserID: "zeta", Score: 100, UpdatedAt: now}
	b := BidRecord{UserID: "alpha", Score: 100, UpdatedAt: now}
	if CompareBids(a, b) {
		t.Fatal("equal score and timestamp should tie-break on UserID lexicographically")
	}
	if !CompareBids(b, a) {
		t.Fatal("alpha should rank ahead of zeta on lexicographic tie-break")
	}

	earlier := BidRecord{UserID: "z", Score: 100, UpdatedAt: now}
	later := BidRecord{UserID: "a", Score: 100, UpdatedAt: now.Add(time.Second)}
	if !CompareBids(earlier, later) {
		t.Fatal("earlier update should rank ahead despite lexicographically larger user id")
	}
}
