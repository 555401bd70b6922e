// Package ethsig verifies Ethereum signed messages (EIP-191 "personal_sign").
package ethsig

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrBadSignature = errors.New("ethsig: malformed signature")
	ErrBadAddress   = errors.New("ethsig: malformed address")
)

// signatureLength is r (32) + s (32) + v (1).
const signatureLength = 65

// PersonalHash returns the EIP-191 digest wallets sign for personal_sign:
// keccak256("\x19Ethereum Signed Message:\n" + len(msg) + msg).
func PersonalHash(message string) []byte {
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	return crypto.Keccak256([]byte(prefixed))
}

// RecoverAddress recovers the signing address from a personal_sign signature
// over message. The signature is the 65-byte hex form wallets emit, with or
// without a 0x prefix; v may be 0/1 or the legacy 27/28.
func RecoverAddress(message, signature string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if len(sig) != signatureLength {
		return common.Address{}, fmt.Errorf("%w: got %d bytes, want %d", ErrBadSignature, len(sig), signatureLength)
	}

	// Normalise the recovery id: geth expects 0/1, wallets send 27/28.
	if sig[64] >= 27 {
		sig = append(append([]byte{}, sig[:64]...), sig[64]-27)
	}

	pubKey, err := crypto.SigToPub(PersonalHash(message), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}

	return crypto.PubkeyToAddress(*pubKey), nil
}

// ParseAddress validates and canonicalises a hex wallet address.
func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, ErrBadAddress
	}
	return common.HexToAddress(s), nil
}

// AddressesEqual compares two hex addresses case-insensitively on their
// canonical form. EIP-55 checksum casing never affects equality here.
func AddressesEqual(a, b string) bool {
	if !common.IsHexAddress(a) || !common.IsHexAddress(b) {
		return false
	}
	return common.HexToAddress(a) == common.HexToAddress(b)
}
