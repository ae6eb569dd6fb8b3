package utils

import (
	"fmt"
	"math/big"
)

// ParseAmount parses a non-negative decimal string into a big integer.
// Amounts travel as strings end to end so no precision is ever lost.
func ParseAmount(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	amount, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %q", s)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("negative amount: %q", s)
	}
	return amount, nil
}
