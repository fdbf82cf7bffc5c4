package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	gatewayhttp "github.com/asoos/integration-gateway/internal/gateway/http"
	"github.com/asoos/integration-gateway/internal/gateway/service"
	"github.com/asoos/integration-gateway/internal/gateway/store"
	"github.com/asoos/integration-gateway/internal/gateway/store/drivers/sqlite"
	"github.com/asoos/integration-gateway/internal/gateway/tools"
	"github.com/asoos/integration-gateway/pkg/jwtx"
	"github.com/asoos/integration-gateway/pkg/metricsx"
	"github.com/asoos/integration-gateway/pkg/slogx"
)

// BuildVersion should be set at build time via ldflags.
var BuildVersion = "v0.1.0"

// Application wires the gateway's dependencies and owns their lifecycle.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db          store.Store
	signer      jwtx.Signer
	keys        *jwtx.KeySet
	verifier    *jwtx.Verifier
	metrics     *metricsx.Metrics
	revocations *service.RevocationCache
	tools       *tools.Registry
	policy      *service.ScopePolicy

	registryService  *service.RegistryService
	authorizeService *service.AuthorizeService
	tokenService     *service.TokenService
	approvalService  *service.ApprovalService
	invokeService    *service.InvokeService
	housekeeping     *service.HousekeepingService

	server *http.Server
	router *gatewayhttp.Router
}

// New creates an Application with all dependencies initialized.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "integration-gateway",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	signer, keys, err := InitKeys(cfg, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize signing keys: %w", err)
	}
	app.signer = signer
	app.keys = keys
	app.verifier = jwtx.NewVerifier(keys, cfg.Issuer)

	app.metrics = metricsx.New()
	app.revocations = service.NewRevocationCache(app.db)
	if err := app.revocations.Warm(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to warm revocation cache: %w", err)
	}

	app.initTools()
	app.initServices()
	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app.housekeeping.Start()
	defer app.housekeeping.Stop()

	app.logger.Info("gateway starting",
		"port", app.cfg.Port,
		"issuer", app.cfg.Issuer,
		"version", BuildVersion,
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := app.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		sweepCtx := slogx.WithContext(ctx, app.logger)
		if err := app.approvalService.RunSweeper(sweepCtx, app.cfg.SweepInterval); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		app.logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
		defer cancel()
		return app.server.Shutdown(shutdownCtx)
	})

	err := g.Wait()

	if cerr := app.db.Close(); cerr != nil {
		app.logger.Error("error closing database", "error", cerr)
		if err == nil {
			err = cerr
		}
	}

	app.logger.Info("gateway stopped")
	return err
}

func (app *Application) initDatabase() error {
	db, err := sqlite.NewStore(app.cfg.DatabaseFile)
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

// initTools builds the tool registry. The document index ships with a small
// built-in corpus until an external one is plugged in.
func (app *Application) initTools() {
	index := tools.NewIndex()
	app.tools = tools.NewRegistry(
		&tools.SearchTool{Index: index},
		&tools.FetchTool{Index: index},
	)
}

func (app *Application) initServices() {
	app.policy = service.DefaultScopePolicy()

	app.registryService = &service.RegistryService{
		Store:  app.db,
		Policy: app.policy,
	}
	app.authorizeService = &service.AuthorizeService{
		Store:   app.db,
		Policy:  app.policy,
		CodeTTL: app.cfg.CodeTTL,
	}
	app.tokenService = &service.TokenService{
		Store:       app.db,
		Signer:      app.signer,
		Verifier:    app.verifier,
		Revocations: app.revocations,
		Metrics:     app.metrics,
		Issuer:      app.cfg.Issuer,
		AccessTTL:   app.cfg.AccessTTL,
		RefreshTTL:  app.cfg.RefreshTTL,
	}
	app.approvalService = &service.ApprovalService{
		Store:   app.db,
		Tools:   app.tools,
		Metrics: app.metrics,
		Timeout: app.cfg.ApprovalTimeout,
	}
	app.invokeService = &service.InvokeService{
		Store:     app.db,
		Tools:     app.tools,
		Approvals: app.approvalService,
		Metrics:   app.metrics,
	}
	app.housekeeping = service.NewHousekeepingService(app.db, app.logger, app.cfg.HousekeepingInterval)
}

func (app *Application) initHTTP() {
	router := gatewayhttp.NewRouter(
		app.keys,
		app.verifier,
		app.revocations,
		app.cfg.Issuer,
		BuildVersion,
		app.db,
		app.metrics,
		app.policy,
		app.tools,
		app.logger,
	)

	router.RegistryService = app.registryService
	router.AuthorizeService = app.authorizeService
	router.TokenService = app.tokenService
	router.ApprovalService = app.approvalService
	router.InvokeService = app.invokeService
	router.ApplyRoutes()

	app.router = router
	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
