package domain

import "time"

// Position is one principal's single stake in a market. It is keyed by
// (MarketID, Owner) and is never merged with a later stake.
type Position struct {
	MarketID     MarketID   `json:"market_id"`
	Owner        Principal  `json:"owner"`
	Side         Side       `json:"side"`
	Stake        uint64     `json:"stake"`
	Claimed      bool       `json:"claimed"`
	Payout       uint64     `json:"payout,omitempty"`
	Fee          uint64     `json:"fee,omitempty"`
	CreatedBlock uint64     `json:"created_block"`
	CreatedAt    time.Time  `json:"created_at"`
	ClaimedAt    *time.Time `json:"claimed_at,omitempty"`
}

// Payout is the split of a winning position's share of the pool.
type Payout struct {
	Winnings uint64 `json:"winnings"`
	Fee      uint64 `json:"fee"`
	Amount   uint64 `json:"amount"`
}
