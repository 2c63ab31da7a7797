package notify

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/motunrayo-ayo/bit-oracle/internal/domain"
)

// amountKeys are payload fields holding base-unit amounts.
var amountKeys = map[string]bool{
	"amount":            true,
	"payout":            true,
	"fee":               true,
	"total_up":          true,
	"total_down":        true,
	"balance":           true,
	"custody_remaining": true,
	"minimum_stake":     true,
	"winnings":          true,
}

// Formatter renders events for humans. Amounts are shown in display units:
// base units shifted left by Decimals and suffixed with Unit.
type Formatter struct {
	Decimals int32
	Unit     string
}

// Amount formats a base-unit amount given as a decimal string.
func (f Formatter) Amount(base string) string {
	d, err := decimal.NewFromString(base)
	if err != nil {
		return base
	}
	s := d.Shift(-f.Decimals).String()
	if f.Unit != "" {
		s += " " + f.Unit
	}
	return s
}

// Render returns a title and body for e.
func (f Formatter) Render(e domain.Event) (title, body string) {
	switch e.Type {
	case domain.EventMarketResolved:
		title = fmt.Sprintf("Market %s resolved", marketRef(e))
	case domain.EventMarketCreated:
		title = fmt.Sprintf("Market %s created", marketRef(e))
	case domain.EventPositionClaimed:
		title = fmt.Sprintf("Claim on market %s", marketRef(e))
	case domain.EventStakeSubmitted:
		title = fmt.Sprintf("Stake on market %s", marketRef(e))
	case domain.EventFeesWithdrawn:
		title = "Fees withdrawn"
	case domain.EventSettingsChanged:
		title = "Settings changed"
	case domain.EventDeposit:
		title = "Deposit"
	default:
		title = string(e.Type)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "actor: %s\nheight: %d", e.Actor, e.Height)
	keys := make([]string, 0, len(e.Payload))
	for k := range e.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := fmt.Sprint(e.Payload[k])
		if amountKeys[k] {
			v = f.Amount(v)
		}
		fmt.Fprintf(&b, "\n%s: %s", k, v)
	}
	return title, b.String()
}

func marketRef(e domain.Event) string {
	if e.MarketID == nil {
		return "?"
	}
	return "#" + e.MarketID.String()
}
