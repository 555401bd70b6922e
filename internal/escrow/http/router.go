package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/hawkerhall/escrow/internal/escrow/chain"
	"github.com/hawkerhall/escrow/internal/escrow/service"
	"github.com/hawkerhall/escrow/internal/escrow/store"
	"github.com/hawkerhall/escrow/pkg/httpx"
	"github.com/hawkerhall/escrow/pkg/jwtx"
	"github.com/hawkerhall/escrow/pkg/slogx"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	keys         *jwtx.KeySet
	verifier     jwtx.Verifier
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	store store.Store
	chain chain.Client

	AuthService *service.WalletAuthService
	Coordinator *service.CoordinatorService
}

func NewRouter(
	keys *jwtx.KeySet,
	verifier jwtx.Verifier,
	buildVersion string,
	st store.Store,
	ch chain.Client,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		keys:         keys,
		verifier:     verifier,
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		chain:        ch,
		logger:       logger,
	}

	// Set default middleware chain
	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerAuth()
	r.registerOrders()
	r.registerSystem()
}

// ServeHTTP implements http.Handler for Router and applies the global
// middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerAuth() {
	// POST /auth/challenge - strict rate limit by IP (unauthenticated,
	// writes a row per call)
	challengeHandler := &ChallengeHandler{AuthService: r.AuthService}
	r.Mux.Handle("POST /v1/auth/challenge",
		httpx.Chain(challengeHandler,
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)

	// POST /auth/verify - strict rate limit by IP (signature brute force)
	verifyHandler := &VerifyHandler{AuthService: r.AuthService}
	r.Mux.Handle("POST /v1/auth/verify",
		httpx.Chain(verifyHandler,
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)

	// GET /jwks.json - public key discovery
	r.Mux.Handle("GET /.well-known/jwks.json",
		httpx.Chain(JWKSHandler(r.keys),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
}

func (r *Router) registerOrders() {
	orders := &OrdersHandler{Coordinator: r.Coordinator}
	actions := &OrderActionsHandler{Coordinator: r.Coordinator}

	authed := func(h http.Handler) http.Handler {
		return httpx.Chain(h,
			httpx.AuthnMiddleware(r.verifier),
			httpx.RateLimitByUser(httpx.ModerateLimit),
		)
	}

	r.Mux.Handle("POST /v1/orders", authed(http.HandlerFunc(orders.HandleCreate)))
	r.Mux.Handle("GET /v1/orders", authed(http.HandlerFunc(orders.HandleList)))
	r.Mux.Handle("GET /v1/orders/{id}", authed(http.HandlerFunc(orders.HandleGet)))
	r.Mux.Handle("GET /v1/orders/{id}/transactions", authed(http.HandlerFunc(orders.HandleTransactions)))

	r.Mux.Handle("POST /v1/orders/{id}/fund", authed(http.HandlerFunc(actions.HandleFund)))
	r.Mux.Handle("POST /v1/orders/{id}/confirm-delivery", authed(http.HandlerFunc(actions.HandleConfirmDelivery)))
	r.Mux.Handle("POST /v1/orders/{id}/release", authed(http.HandlerFunc(actions.HandleRelease)))

	// Refund is the arbiter path; the role gate runs before the handler.
	r.Mux.Handle("POST /v1/orders/{id}/refund",
		httpx.Chain(http.HandlerFunc(actions.HandleRefund),
			httpx.AuthnMiddleware(r.verifier),
			httpx.RequireRole("admin"),
			httpx.RateLimitByUser(httpx.ModerateLimit),
		),
	)
}

func (r *Router) registerSystem() {
	// Health check endpoints - lenient rate limits (monitoring systems may
	// poll frequently)
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.store, r.chain, r.keys),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
}
