package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	_ "github.com/fusehq/fuse-engine/pkg/adapters/sqlinspector/mssql"
	_ "github.com/fusehq/fuse-engine/pkg/adapters/sqlinspector/postgres"

	"github.com/fusehq/fuse-engine/pkg/adapters/sqlinspector"
	"github.com/fusehq/fuse-engine/pkg/config"
	"github.com/fusehq/fuse-engine/pkg/database"
	"github.com/fusehq/fuse-engine/pkg/handlers"
	"github.com/fusehq/fuse-engine/pkg/repositories"
	"github.com/fusehq/fuse-engine/pkg/secrets"
	"github.com/fusehq/fuse-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("database_host", cfg.Database.Host),
		zap.Duration("cache_refresh_interval", cfg.PermissionsCache.RefreshInterval()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	migrationDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		logger.Fatal("Failed to open migration connection", zap.Error(err))
	}
	if err := database.RunMigrations(migrationDB, cfg.Database.MigrationsPath, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}
	_ = migrationDB.Close()

	db, err := database.NewConnection(ctx, &database.Config{URL: cfg.Database.ConnectionString()})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	accountRepo := repositories.NewAccountRepository(db)
	dataStoreRepo := repositories.NewDataStoreRepository(db)
	integrationRepo := repositories.NewSQLIntegrationRepository(db)

	resolver := secrets.NewEnvResolver()
	factory := sqlinspector.NewFactory(sqlinspector.Options{
		Secrets:        resolver,
		ConnectTimeout: cfg.Inspector.ConnectTimeout(),
	})

	snapshots := services.NewSnapshotProvider(accountRepo, dataStoreRepo, integrationRepo)
	cache := services.NewPermissionsCacheService(snapshots, factory, cfg.PermissionsCache, logger)
	actions := services.NewPermissionsActionService(snapshots, factory, cache, accountRepo, resolver, logger)

	go cache.Run(ctx)

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewAccountsHandler(accountRepo, cache, logger).RegisterRoutes(mux)
	handlers.NewDataStoresHandler(dataStoreRepo, logger).RegisterRoutes(mux)
	handlers.NewIntegrationsHandler(integrationRepo, factory, cache, logger).RegisterRoutes(mux)
	handlers.NewPermissionsHandler(cache, actions, logger).RegisterRoutes(mux)

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Server shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("Starting fuse-engine",
		zap.String("addr", server.Addr),
		zap.String("version", cfg.Version))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "local" || env == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
