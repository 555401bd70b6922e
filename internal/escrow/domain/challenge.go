package domain

import (
	"fmt"
	"time"
)

// DefaultChallengeTTL bounds how long a login challenge may be signed.
const DefaultChallengeTTL = 5 * time.Minute

// AuthChallenge is a single-use login challenge bound to a wallet address.
// It moves unconsumed -> consumed exactly once; expired or consumed
// challenges are rejected on verification, which is the replay protection.
type AuthChallenge struct {
	ID         string
	Nonce      string // high-entropy, unique
	Address    string // canonical checksummed hex of the claimed wallet
	Message    string // exact text the client must sign
	IssuedAt   time.Time
	ExpiresAt  time.Time
	ConsumedAt *time.Time
}

// Expired reports whether the challenge can no longer be verified.
func (c AuthChallenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// Consumed reports whether the challenge was already verified once.
func (c AuthChallenge) Consumed() bool { return c.ConsumedAt != nil }

// ChallengeMessage renders the exact text the wallet must sign. The nonce and
// issue timestamp are baked into the message so a signature can never be
// replayed against a different challenge.
func ChallengeMessage(issuer, address, nonce string, issuedAt time.Time) string {
	return fmt.Sprintf(
		"%s wants you to sign in with your wallet.\n\nAddress: %s\nNonce: %s\nIssued At: %s",
		issuer, address, nonce, issuedAt.UTC().Format(time.RFC3339),
	)
}
