package engine

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/motunrayo-ayo/bit-oracle/internal/domain"
)

// ComputePayout splits a winning stake's share of a resolved market's pool.
//
//	winnings = floor(stake * pool / winningTotal)
//	fee      = floor(winnings * feeRate / 100)
//	amount   = winnings - fee
//
// Intermediate products are computed in 256 bits so large stakes cannot
// overflow; a result that does not fit in 64 bits is an error.
func ComputePayout(m domain.Market, side domain.Side, stake, feeRate uint64) (domain.Payout, error) {
	if feeRate > domain.MaxFeeRate {
		return domain.Payout{}, fmt.Errorf("%w: fee rate %d > %d", domain.ErrInvalidParameter, feeRate, domain.MaxFeeRate)
	}
	winningTotal := m.SideTotal(side)
	if winningTotal == 0 || stake > winningTotal {
		// A recorded stake is always part of its side's total.
		return domain.Payout{}, fmt.Errorf("engine: stake %d not covered by %s total %d", stake, side, winningTotal)
	}

	pool := new(uint256.Int).Add(uint256.NewInt(m.TotalUp), uint256.NewInt(m.TotalDown))
	winnings, overflow := new(uint256.Int).MulDivOverflow(uint256.NewInt(stake), pool, uint256.NewInt(winningTotal))
	if overflow || !winnings.IsUint64() {
		return domain.Payout{}, domain.ErrAmountOverflow
	}
	fee, overflow := new(uint256.Int).MulDivOverflow(winnings, uint256.NewInt(feeRate), uint256.NewInt(100))
	if overflow {
		return domain.Payout{}, domain.ErrAmountOverflow
	}

	w, f := winnings.Uint64(), fee.Uint64()
	return domain.Payout{Winnings: w, Fee: f, Amount: w - f}, nil
}
