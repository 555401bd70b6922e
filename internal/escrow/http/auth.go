package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hawkerhall/escrow/internal/escrow/service"
	"github.com/hawkerhall/escrow/pkg/escrowsdk"
	"github.com/hawkerhall/escrow/pkg/httpx"
	"github.com/hawkerhall/escrow/pkg/slogx"
)

// ChallengeHandler issues wallet login challenges.
type ChallengeHandler struct {
	AuthService *service.WalletAuthService
}

func (h *ChallengeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req escrowsdk.ChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	if req.Address == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "address is required")
		return
	}

	c, err := h.AuthService.IssueChallenge(ctx, req.Address)
	if err != nil {
		if errors.Is(err, service.ErrBadWalletAddress) {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Malformed wallet address")
			return
		}
		log.Error("failed to issue challenge", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "Failed to issue challenge")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, escrowsdk.ChallengeResponse{
		ChallengeID: c.ID,
		Address:     c.Address,
		Message:     c.Message,
		ExpiresAt:   c.ExpiresAt,
	})
}

// VerifyHandler trades a signed challenge for a session token.
type VerifyHandler struct {
	AuthService *service.WalletAuthService
}

func (h *VerifyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req escrowsdk.VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	if req.Address == "" || req.Message == "" || req.Signature == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "address, message and signature are required")
		return
	}

	session, err := h.AuthService.Verify(ctx, req.Address, req.Message, req.Signature)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrBadWalletAddress):
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Malformed wallet address")
		case errors.Is(err, service.ErrSignatureMismatch):
			httpx.WriteError(w, http.StatusUnauthorized, "invalid_grant", "Signature does not match the claimed wallet")
		case errors.Is(err, service.ErrNoSuchChallenge):
			httpx.WriteError(w, http.StatusUnauthorized, "invalid_grant", "No challenge matches the signed message")
		case errors.Is(err, service.ErrChallengeExpired):
			httpx.WriteError(w, http.StatusUnauthorized, "invalid_grant", "Challenge has expired, request a new one")
		case errors.Is(err, service.ErrChallengeConsumed):
			httpx.WriteError(w, http.StatusUnauthorized, "invalid_grant", "Challenge has already been used")
		case errors.Is(err, service.ErrUserDeactivated):
			httpx.WriteError(w, http.StatusForbidden, "access_denied", "Account is deactivated")
		default:
			log.Error("failed to verify challenge", "err", err)
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "Failed to verify challenge")
		}
		return
	}

	httpx.WriteJSON(w, http.StatusOK, escrowsdk.VerifyResponse{
		AccessToken: session.Token,
		TokenType:   "Bearer",
		ExpiresAt:   session.ExpiresAt,
		UserID:      session.UserID,
		Role:        string(session.Role),
		Wallet:      session.Wallet,
	})
}
