package hotstore

import "testing"

func TestLiveBidAndMetadataKeysAreDistinct(t *testing.T) {
	live := liveBidKey("sess-1", "user-1")
	meta := bidMetaKey("sess-1", "user-1")

	if live == meta {
		t.Fatalf("live bid key and metadata key must be distinct stable keys, both were %q", live)
	}
	if live != "bid:sess-1:user-1" {
		t.Errorf("liveBidKey() = %q, want bid:sess-1:user-1", live)
	}
	if meta != "bid_metadata:sess-1:user-1" {
		t.Errorf("bidMetaKey() = %q, want bid_metadata:sess-1:user-1", meta)
	}
}

func TestBidMetaKeyPatternMatchesItsOwnKeys(t *testing.T) {
	pattern := bidMetaKeyPattern("sess-1")
	if pattern != "bid_metadata:sess-1:*" {
		t.Fatalf("bidMetaKeyPattern() = %q, want bid_metadata:sess-1:*", pattern)
	}
}

func TestPriceRankingKeyIsSeparateFromScoreRankingKey(t *testing.T) {
	if priceRankingKey("s") == rankingKey("s") {
		t.Fatal("price_ranking and ranking must be separate sorted sets")
	}
}
