/**
 * @description
 * Recipient format checks used when resolving settlement routes.
 *
 * @dependencies
 * - github.com/ethereum/go-ethereum/common: Hex address validation and EIP-55 checksums.
 */

package domain

import (
	"net/mail"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// IsAddress reports whether s is a 0x-prefixed 20-byte hex ledger address.
func IsAddress(s string) bool {
	return strings.HasPrefix(s, "0x") && common.IsHexAddress(s)
}

// NormalizeAddress returns the checksummed form of a valid address.
func NormalizeAddress(s string) string {
	if !IsAddress(s) {
		return s
	}
	return common.HexToAddress(s).Hex()
}

// IsEmail reports whether s is a bare email address.
func IsEmail(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || strings.ContainsAny(s, " <>") {
		return false
	}
	parsed, err := mail.ParseAddress(s)
	return err == nil && parsed.Address == s
}
