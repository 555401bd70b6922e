package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hawkerhall/escrow/internal/escrow/catalog"
	"github.com/hawkerhall/escrow/internal/escrow/chain"
	httpapi "github.com/hawkerhall/escrow/internal/escrow/http"
	"github.com/hawkerhall/escrow/internal/escrow/service"
	"github.com/hawkerhall/escrow/internal/escrow/store"
	"github.com/hawkerhall/escrow/internal/escrow/store/drivers/sqlite"
	"github.com/hawkerhall/escrow/pkg/jwtx"
	"github.com/hawkerhall/escrow/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags. Later problem
	BuildVersion = "v0.1.0"
)

// Application encapsulates the escrow service with all its dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger

	// Core dependencies
	db      store.Store
	chain   chain.Client
	catalog catalog.Catalog
	signer  jwtx.Signer
	keys    *jwtx.KeySet

	// Services
	authService  *service.WalletAuthService
	coordinator  *service.CoordinatorService
	reconciler   *service.ReconcilerService
	housekeeping *service.HousekeepingService

	// HTTP server
	server *http.Server
	router *httpapi.Router
}

// New creates a new Application instance with all dependencies initialized.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "escrow-service",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := app.initDatabase(); err != nil {
		return nil, err
	}
	if err := app.initKeys(); err != nil {
		return nil, err
	}
	if err := app.initChain(); err != nil {
		return nil, err
	}
	app.initCatalog()
	app.initServices()
	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	app.reconciler.Start()
	app.housekeeping.Start()

	app.logger.Info("escrow service starting",
		"port", app.cfg.Port,
		"version", BuildVersion,
		"chain_mode", app.cfg.ChainMode,
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down escrow service...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	// Workers stop after the server so in-flight requests still see a
	// live reconciler.
	if err := app.reconciler.Stop(ctx); err != nil {
		app.logger.Error("error stopping reconciler", "error", err)
	}
	if err := app.housekeeping.Stop(ctx); err != nil {
		app.logger.Error("error stopping housekeeping", "error", err)
	}

	if closer, ok := app.chain.(interface{ Close() }); ok {
		closer.Close()
	}

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("escrow service stopped")
	return nil
}

// initDatabase initializes the database and applies migrations.
func (app *Application) initDatabase() error {
	host := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", app.cfg.DatabaseFile)
	db, err := sqlite.NewStore(host)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

// initKeys loads or generates the session signing key.
func (app *Application) initKeys() error {
	var (
		signer jwtx.Signer
		err    error
	)

	if app.cfg.SigningKeyFile != "" {
		pemKey, readErr := os.ReadFile(app.cfg.SigningKeyFile)
		if readErr != nil {
			return fmt.Errorf("failed to read signing key: %w", readErr)
		}
		signer, err = jwtx.NewSignerEdDSA("escrow-session", pemKey)
	} else {
		app.logger.Warn("no signing key configured, sessions will not survive restarts")
		signer, err = jwtx.NewEphemeralSignerEdDSA("escrow-session")
	}
	if err != nil {
		return fmt.Errorf("failed to initialize session signer: %w", err)
	}
	if err := signer.Validate(); err != nil {
		return err
	}

	keys := jwtx.NewKeySet()
	if err := keys.AddSigner(signer); err != nil {
		return fmt.Errorf("failed to register signing key: %w", err)
	}

	app.signer = signer
	app.keys = keys
	return nil
}

// initChain connects to the escrow contract, or installs the in-memory fake
// for local development.
func (app *Application) initChain() error {
	if app.cfg.ChainMode != "ethereum" {
		app.logger.Warn("using in-memory fake chain, no real escrow will occur")
		app.chain = chain.NewFake()
		return nil
	}

	client, err := chain.NewEthereumClient(
		context.Background(),
		app.cfg.ChainRPCURL,
		app.cfg.ChainContract,
		app.cfg.ChainOperatorKey,
		app.cfg.ChainID,
	)
	if err != nil {
		return fmt.Errorf("failed to initialize chain client: %w", err)
	}

	app.chain = client
	app.logger.Info("chain client connected",
		"rpc_url", app.cfg.ChainRPCURL,
		"contract", app.cfg.ChainContract,
		"chain_id", app.cfg.ChainID,
	)
	return nil
}

func (app *Application) initCatalog() {
	if app.cfg.CatalogBaseURL == "" {
		app.logger.Warn("no catalogue configured, using empty static catalogue")
		app.catalog = catalog.NewStatic()
		return
	}
	app.catalog = catalog.NewHTTPCatalog(app.cfg.CatalogBaseURL)
}

// initServices initializes all business logic services.
func (app *Application) initServices() {
	app.authService = service.NewWalletAuthService(
		app.db,
		app.signer,
		app.logger,
		app.cfg.Issuer,
		app.cfg.Audience,
	)

	app.coordinator = service.NewCoordinatorService(
		app.db,
		app.chain,
		app.catalog,
		app.logger,
	)

	app.reconciler = service.NewReconcilerService(
		app.db,
		app.chain,
		app.coordinator,
		app.logger,
		app.cfg.ReconcileInterval,
	)

	app.housekeeping = service.NewHousekeepingService(
		app.db,
		app.logger,
		app.cfg.HousekeepingInterval,
	)
}

// initHTTP initializes the HTTP router and server.
func (app *Application) initHTTP() {
	verifier := jwtx.NewVerifierEdDSA(app.keys, app.cfg.Issuer, app.cfg.Audience)

	router := httpapi.NewRouter(
		app.keys,
		verifier,
		BuildVersion,
		app.db,
		app.chain,
		app.logger,
	)

	router.AuthService = app.authService
	router.Coordinator = app.coordinator
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
