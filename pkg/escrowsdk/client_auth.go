package escrowsdk

import (
	"context"
	"net/http"
)

// RequestChallenge asks the service for a login challenge to sign.
func (c *SDKClient) RequestChallenge(ctx context.Context, address string) (*ChallengeResponse, error) {
	resp, err := c.doJSON(ctx, http.MethodPost, "/v1/auth/challenge", ChallengeRequest{Address: address}, "")
	if err != nil {
		return nil, err
	}

	var out ChallengeResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyChallenge trades a signed challenge for an authenticated Session.
func (c *SDKClient) VerifyChallenge(ctx context.Context, address, message, signature string) (*Session, error) {
	resp, err := c.doJSON(ctx, http.MethodPost, "/v1/auth/verify", VerifyRequest{
		Address:   address,
		Message:   message,
		Signature: signature,
	}, "")
	if err != nil {
		return nil, err
	}

	var out VerifyResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}

	return &Session{
		client:      c,
		accessToken: out.AccessToken,
		UserID:      out.UserID,
		Role:        out.Role,
		Wallet:      out.Wallet,
	}, nil
}

// GetJWKS fetches the service's public key set.
func (c *SDKClient) GetJWKS(ctx context.Context) (*JWKSResponse, error) {
	resp, err := c.doJSON(ctx, http.MethodGet, "/.well-known/jwks.json", nil, "")
	if err != nil {
		return nil, err
	}

	var out JWKSResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}
