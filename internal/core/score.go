package core

// Score computes a bid's ranking score: price weighted by alpha, bid speed
// weighted by beta (faster response, larger contribution), and bidder
// reputation weighted by gamma.
//
//	score = alpha*price + beta/(responseTimeSeconds+1) + gamma*weight
func Score(alpha, beta, gamma, price, responseTimeSeconds, weight float64) float64 {
	return alpha*price + beta/(responseTimeSeconds+1) + gamma*weight
}

// FinalPrice is the Kth-ranked (inventory-th) winner's price, or the
// reserve price when fewer than `inventory` bids were placed.
func FinalPrice(sorted []BidRecord, inventory int, reserve float64) float64 {
	if len(sorted) < inventory {
		return reserve
	}
	return sorted[inventory-1].Price
}

// ThresholdScore is the score at the inventory-th position, the minimum a
// new bid must clear to be provisionally winning. It is nil when fewer
// than `inventory` bids exist yet.
func ThresholdScore(sorted []BidRecord, inventory int) *float64 {
	if len(sorted) < inventory {
		return nil
	}
	v := sorted[inventory-1].Score
	return &v
}

// HighestBid is the maximum price across the given bids, or 0 when bids is
// empty. The leaderboard's durable fallback passes it every persisted bid
// of a session, so the result covers all bidders, not one page.
func HighestBid(bids []BidRecord) float64 {
	var max float64
	for i, b := range bids {
		if i == 0 || b.Price > max {
			max = b.Price
		}
	}
	return max
}
