// Package utils holds small address and amount helpers shared across the
// service.
package utils

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var evmAddressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// IsEvmAddress checks if the address is a valid 0x-prefixed EVM address.
func IsEvmAddress(address string) bool {
	return evmAddressPattern.MatchString(address)
}

// NormalizeAddress lowercases an address for storage and comparison.
// Database rows always hold the normalized form.
func NormalizeAddress(address string) string {
	return strings.ToLower(address)
}

// ParseAddress validates and parses an EVM address.
func ParseAddress(address string) (common.Address, error) {
	if !IsEvmAddress(address) {
		return common.Address{}, fmt.Errorf("invalid address: %q", address)
	}
	return common.HexToAddress(address), nil
}

// ParseHash validates and parses a 32-byte 0x-prefixed hash.
func ParseHash(hash string) (common.Hash, error) {
	if len(hash) != 66 || !strings.HasPrefix(hash, "0x") {
		return common.Hash{}, fmt.Errorf("invalid hash: %q", hash)
	}
	for _, c := range hash[2:] {
		if !isHexDigit(c) {
			return common.Hash{}, fmt.Errorf("invalid hash: %q", hash)
		}
	}
	return common.HexToHash(hash), nil
}

func isHexDigit(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
