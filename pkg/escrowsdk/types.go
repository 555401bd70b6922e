package escrowsdk

import (
	"time"

	"github.com/hawkerhall/escrow/pkg/jwtx"
)

// ErrorResponse is the standard error envelope every endpoint returns on
// failure.
type ErrorResponse struct {
	// Error is a stable machine-readable code (e.g. "invalid_request",
	// "conflict").
	Error string `json:"error"`

	// ErrorDescription is a human-readable description of the error.
	ErrorDescription string `json:"error_description"`
}

// ChallengeRequest asks for a login challenge for a wallet address.
type ChallengeRequest struct {
	Address string `json:"address"`
}

// ChallengeResponse carries the message the wallet must sign.
type ChallengeResponse struct {
	ChallengeID string    `json:"challenge_id"`
	Address     string    `json:"address"`
	Message     string    `json:"message"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// VerifyRequest trades a signed challenge for a session.
type VerifyRequest struct {
	Address   string `json:"address"`
	Message   string `json:"message"`
	Signature string `json:"signature"` // 65-byte hex personal_sign signature
}

// VerifyResponse is the minted session.
type VerifyResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"` // always "Bearer"
	ExpiresAt   time.Time `json:"expires_at"`
	UserID      string    `json:"user_id"`
	Role        string    `json:"role"`
	Wallet      string    `json:"wallet"`
}

// CreateOrderRequest opens an escrow order for a listing. Price and seller
// come from the catalogue, so only the listing id is accepted.
type CreateOrderRequest struct {
	ListingID string `json:"listing_id"`
}

// OrderResponse is the API view of an escrow order.
type OrderResponse struct {
	ID            string    `json:"id"`
	ListingID     string    `json:"listing_id"`
	BuyerID       string    `json:"buyer_id"`
	SellerID      string    `json:"seller_id"`
	Amount        int64     `json:"amount"`
	Currency      string    `json:"currency"`
	Status        string    `json:"status"`
	FundingTxHash string    `json:"funding_tx_hash,omitempty"`
	ReleaseTxHash string    `json:"release_tx_hash,omitempty"`
	ReviewReason  string    `json:"review_reason,omitempty"`
	Version       int64     `json:"version"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// OrderListResponse pages through a user's orders.
type OrderListResponse struct {
	Orders []OrderResponse `json:"orders"`
}

// OrderTxResponse is one submitted chain transaction for an order.
type OrderTxResponse struct {
	Kind      string    `json:"kind"`
	TxHash    string    `json:"tx_hash"`
	CreatedAt time.Time `json:"created_at"`
}

// OrderTxListResponse is the order's submitted transaction history.
type OrderTxListResponse struct {
	Transactions []OrderTxResponse `json:"transactions"`
}

// ReleaseRequest optionally folds delivery confirmation into the release
// call. With Confirm true the order may be in FUNDED; otherwise delivery
// must already be confirmed.
type ReleaseRequest struct {
	Confirm bool `json:"confirm,omitempty"`
}

// HealthChecks reports per-dependency status in readiness responses.
type HealthChecks struct {
	Database string `json:"database"`
	Chain    string `json:"chain"`
	Signer   string `json:"signer"`
}

// HealthResponse is the /livez and /readyz body.
type HealthResponse struct {
	Status  string        `json:"status"`
	Uptime  string        `json:"uptime"`
	Version string        `json:"version"`
	Checks  *HealthChecks `json:"checks,omitempty"`
}

// JWKSResponse is the published key set for session verification.
type JWKSResponse = jwtx.JWKS
