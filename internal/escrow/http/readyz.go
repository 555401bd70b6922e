package http

import (
	"net/http"
	"time"

	"github.com/hawkerhall/escrow/internal/escrow/chain"
	"github.com/hawkerhall/escrow/internal/escrow/store"
	"github.com/hawkerhall/escrow/pkg/escrowsdk"
	"github.com/hawkerhall/escrow/pkg/httpx"
	"github.com/hawkerhall/escrow/pkg/jwtx"
)

// ReadyzHandler is the readiness probe. It checks the database, the chain
// node and the session signer, and degrades to 503 when any of them is down.
func ReadyzHandler(
	startTime time.Time,
	version string,
	st store.Store,
	ch chain.Client,
	keys *jwtx.KeySet,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := &escrowsdk.HealthChecks{
			Database: "ok",
			Chain:    "ok",
			Signer:   "ok",
		}
		overallStatus := "ok"
		statusCode := http.StatusOK

		if err := st.Ping(r.Context()); err != nil {
			checks.Database = "error: " + err.Error()
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		if err := ch.Ping(r.Context()); err != nil {
			checks.Chain = "error: " + err.Error()
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		if !keys.IsReady() {
			checks.Signer = "error: no keys loaded"
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		httpx.WriteJSON(w, statusCode, escrowsdk.HealthResponse{
			Status:  overallStatus,
			Uptime:  time.Since(startTime).String(),
			Version: version,
			Checks:  checks,
		})
	}
}
