package domain

import (
	"fmt"
	"math/bits"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Principal identifies a caller. External principals are EIP-55 checksummed
// Ethereum addresses; Custody is the engine's own account.
type Principal string

// Custody is the reserved account that holds every staked amount until it is
// claimed or withdrawn as fees. It can never be produced by ParsePrincipal.
const Custody Principal = "custody"

// ParsePrincipal normalizes a hex address into its checksummed form.
func ParsePrincipal(s string) (Principal, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return "", fmt.Errorf("%w: principal %q is not a hex address", ErrInvalidParameter, s)
	}
	addr := common.HexToAddress(s)
	if addr == (common.Address{}) {
		return "", fmt.Errorf("%w: zero address", ErrInvalidParameter)
	}
	return Principal(addr.Hex()), nil
}

func (p Principal) String() string { return string(p) }

// IsZero reports whether p is the empty principal.
func (p Principal) IsZero() bool { return p == "" }

// AddAmount adds two amounts, failing instead of wrapping.
func AddAmount(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrAmountOverflow
	}
	return sum, nil
}
