package domain

import "time"

// MaxFeeRate is the upper bound of Settings.FeeRate, in percent.
const MaxFeeRate = 100

// Settings is the engine-wide configuration record. Admin is fixed when the
// ledger is bootstrapped; every other field changes only through the
// administrator's setters, and each change bumps Version.
type Settings struct {
	Admin        Principal `json:"admin"`
	Reporter     Principal `json:"reporter"`
	MinimumStake uint64    `json:"minimum_stake"`
	FeeRate      uint64    `json:"fee_rate"`
	NextMarketID MarketID  `json:"next_market_id"`
	Version      uint64    `json:"version"`
	UpdatedAt    time.Time `json:"updated_at"`
}
