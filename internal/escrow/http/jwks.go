package http

import (
	"net/http"

	"github.com/hawkerhall/escrow/pkg/escrowsdk"
	"github.com/hawkerhall/escrow/pkg/httpx"
	"github.com/hawkerhall/escrow/pkg/jwtx"
)

// JWKSHandler exposes the JSON Web Key Set for session token verification.
func JWKSHandler(keys *jwtx.KeySet) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, escrowsdk.JWKSResponse(keys.PublicJWKS()))
	}
}
