// Package core holds the domain types and pure algorithms shared by every
// other package in this module: scoring, tie-breaking and the plain structs
// that flow between the hot store, the durable store and the API layer.
package core

import "time"

// Principal is an authenticated caller, reconstructed either from the
// Token Cache or from a validated bearer token.
type Principal struct {
	UserID string  `json:"userId"`
	Weight float64 `json:"weight"`
}

// Session holds the immutable auction parameters read once from the
// durable store and cached thereafter.
type Session struct {
	ID          string    `json:"id"`
	Alpha       float64   `json:"alpha"`
	Beta        float64   `json:"beta"`
	Gamma       float64   `json:"gamma"`
	Reserve     float64   `json:"reserve"`
	Inventory   int       `json:"inventory"`
	StartTime   time.Time `json:"startTime"`
	EndTime     time.Time `json:"endTime"`
	IsActive    bool      `json:"isActive"`
	FinalPrice  *float64  `json:"finalPrice,omitempty"`
}

// BidRecord is a single accepted bid, as stored in the hot store's bid
// metadata hash and, eventually, in the durable bids table.
type BidRecord struct {
	SessionID    string    `json:"sessionId"`
	UserID       string    `json:"userId"`
	Price        float64   `json:"price"`
	Score        float64   `json:"score"`
	ResponseTime float64   `json:"responseTimeSeconds"`
	Weight       float64   `json:"weight"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// LeaderboardEntry is one ranked row returned by a leaderboard page.
// IsWinner is set on every read, not only at finalization: rank <= K,
// where K is the session's inventory.
type LeaderboardEntry struct {
	Rank     int     `json:"rank"`
	UserID   string  `json:"userId"`
	Price    float64 `json:"price"`
	Score    float64 `json:"score"`
	IsWinner bool    `json:"isWinner"`
}

// LeaderboardPage is the full result of a leaderboard read.
type LeaderboardPage struct {
	Entries       []LeaderboardEntry `json:"entries"`
	TotalBidders  int                `json:"totalBidders"`
	HighestBid    float64            `json:"highestBid"`
	ThresholdScore *float64          `json:"thresholdScore"`
}

// FinalRanking is one row of a frozen, finalized session's results.
type FinalRanking struct {
	SessionID string  `json:"sessionId"`
	Rank      int     `json:"rank"`
	UserID    string  `json:"userId"`
	Price     float64 `json:"price"`
	Score     float64 `json:"score"`
	IsWinner  bool    `json:"isWinner"`
}

// BidAccepted is the event published to the bids topic after a bid commits,
// consumed by other instances' Push Broadcasters.
type BidAccepted struct {
	SessionID string    `json:"sessionId"`
	UserID    string    `json:"userId"`
	Price     float64   `json:"price"`
	Score     float64   `json:"score"`
	AcceptedAt time.Time `json:"acceptedAt"`
}

// SessionEnded is published when the Session Monitor finalizes a session,
// so other instances' subscribers can be notified without a shared registry.
type SessionEnded struct {
	SessionID  string    `json:"sessionId"`
	FinalPrice float64   `json:"finalPrice"`
	EndedAt    time.Time `json:"endedAt"`
}
