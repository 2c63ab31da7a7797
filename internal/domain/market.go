package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MarketID is assigned sequentially from Settings.NextMarketID, starting at 0.
type MarketID uint64

func (id MarketID) String() string { return strconv.FormatUint(uint64(id), 10) }

// ParseMarketID parses a decimal market id.
func ParseMarketID(s string) (MarketID, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: market id %q", ErrInvalidParameter, s)
	}
	return MarketID(n), nil
}

// Side is the outcome a position backs.
type Side string

const (
	SideUp   Side = "up"
	SideDown Side = "down"
)

// ParseSide accepts "up"/"down" in any case.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToLower(strings.TrimSpace(s))) {
	case SideUp:
		return SideUp, nil
	case SideDown:
		return SideDown, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSide, s)
	}
}

// Valid reports whether s is Up or Down.
func (s Side) Valid() bool { return s == SideUp || s == SideDown }

// MarketState is derived from the resolved flag and the logical clock.
type MarketState string

const (
	MarketStatePending            MarketState = "pending"
	MarketStateOpen               MarketState = "open"
	MarketStateAwaitingResolution MarketState = "awaiting_resolution"
	MarketStateResolved           MarketState = "resolved"
)

// Market is a single up/down prediction between two block heights.
type Market struct {
	ID            MarketID   `json:"id"`
	StartPrice    uint64     `json:"start_price"`
	EndPrice      uint64     `json:"end_price"`
	TotalUp       uint64     `json:"total_up_stake"`
	TotalDown     uint64     `json:"total_down_stake"`
	StartBlock    uint64     `json:"start_block"`
	EndBlock      uint64     `json:"end_block"`
	Resolved      bool       `json:"resolved"`
	ResolvedBlock uint64     `json:"resolved_block,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
}

// State returns the lifecycle state at the given clock height. Pending is
// reported before the start block; it accepts nothing, like a closed market.
func (m Market) State(height uint64) MarketState {
	switch {
	case m.Resolved:
		return MarketStateResolved
	case height >= m.EndBlock:
		return MarketStateAwaitingResolution
	case height < m.StartBlock:
		return MarketStatePending
	default:
		return MarketStateOpen
	}
}

// WinningSide is Up only when the end price is strictly above the start
// price. A tie settles Down. Only meaningful once Resolved is true.
func (m Market) WinningSide() Side {
	if m.EndPrice > m.StartPrice {
		return SideUp
	}
	return SideDown
}

// SideTotal returns the stake total recorded for s.
func (m Market) SideTotal(s Side) uint64 {
	if s == SideUp {
		return m.TotalUp
	}
	return m.TotalDown
}

// AddStake adds amount to the total of side s.
func (m *Market) AddStake(s Side, amount uint64) error {
	var err error
	switch s {
	case SideUp:
		m.TotalUp, err = AddAmount(m.TotalUp, amount)
	case SideDown:
		m.TotalDown, err = AddAmount(m.TotalDown, amount)
	default:
		return fmt.Errorf("%w: %q", ErrInvalidSide, s)
	}
	return err
}

// MarketView is a market together with its state at a given height.
type MarketView struct {
	Market
	State  MarketState `json:"state"`
	Height uint64      `json:"height"`
}

// Supersedes reports whether m reflects every committed write that o does.
// Stake totals only grow and resolution is one-way, so any two snapshots of
// the same market are ordered.
func (m Market) Supersedes(o Market) bool {
	if o.Resolved && !m.Resolved {
		return false
	}
	return m.TotalUp >= o.TotalUp && m.TotalDown >= o.TotalDown
}
