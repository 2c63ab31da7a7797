package domain

import (
	"fmt"
	"time"
)

// EventType names a committed state change.
type EventType string

const (
	EventMarketCreated   EventType = "market_created"
	EventStakeSubmitted  EventType = "stake_submitted"
	EventMarketResolved  EventType = "market_resolved"
	EventPositionClaimed EventType = "position_claimed"
	EventSettingsChanged EventType = "settings_changed"
	EventFeesWithdrawn   EventType = "fees_withdrawn"
	EventDeposit         EventType = "deposit"
)

// Event is published on the signal bus after a transaction commits.
type Event struct {
	Type     EventType      `json:"type"`
	MarketID *MarketID      `json:"market_id,omitempty"`
	Actor    Principal      `json:"actor"`
	Height   uint64         `json:"height"`
	Payload  map[string]any `json:"payload,omitempty"`
	At       time.Time      `json:"at"`
}

// Channel returns the pub/sub channel the event is published on.
func (e Event) Channel() string {
	if e.MarketID != nil {
		return fmt.Sprintf("ch:market:%d", *e.MarketID)
	}
	return "ch:config"
}

// EventStream is the durable stream every event is appended to.
const EventStream = "events"
