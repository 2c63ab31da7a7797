package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrUnauthenticated     = errors.New("unauthenticated")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidParameter    = errors.New("invalid parameter")
	ErrInvalidSide         = errors.New("invalid side")
	ErrInvalidStake        = errors.New("invalid stake")
	ErrMarketClosed        = errors.New("market closed")
	ErrAlreadyResolved     = errors.New("market already resolved")
	ErrAlreadyClaimed      = errors.New("position already claimed")
	ErrNotAWinner          = errors.New("position is not on the winning side")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAmountOverflow      = errors.New("amount overflows uint64")
	ErrNotBootstrapped     = errors.New("settings not bootstrapped")
	ErrRateLimited         = errors.New("rate limited")
	ErrLockHeld            = errors.New("lock already held")

	// ErrMarketStillOpen is the MarketClosed-class error returned when a
	// market is resolved before its end block.
	ErrMarketStillOpen = fmt.Errorf("%w: end block not reached", ErrMarketClosed)

	// ErrPositionExists rejects a second stake by the same principal on the
	// same market.
	ErrPositionExists = fmt.Errorf("%w: position", ErrAlreadyExists)
)

// ErrorCode maps an error to the stable code reported by the API. More
// specific errors are matched before the classes they wrap.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidSide):
		return "invalid_side"
	case errors.Is(err, ErrInvalidStake):
		return "invalid_stake"
	case errors.Is(err, ErrInvalidParameter), errors.Is(err, ErrAmountOverflow):
		return "invalid_parameter"
	case errors.Is(err, ErrMarketStillOpen):
		return "market_still_open"
	case errors.Is(err, ErrMarketClosed):
		return "market_closed"
	case errors.Is(err, ErrAlreadyResolved):
		return "already_resolved"
	case errors.Is(err, ErrAlreadyClaimed):
		return "already_claimed"
	case errors.Is(err, ErrPositionExists):
		return "position_exists"
	case errors.Is(err, ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, ErrNotAWinner):
		return "not_a_winner"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrNotBootstrapped):
		return "not_bootstrapped"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	default:
		return "internal"
	}
}
