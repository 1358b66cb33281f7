package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	httpapi "github.com/duerelay/duerelay/internal/api/http"
	appConnection "github.com/duerelay/duerelay/internal/application/connection"
	"github.com/duerelay/duerelay/internal/application/dispatch"
	"github.com/duerelay/duerelay/internal/application/registry"
	"github.com/duerelay/duerelay/internal/application/scheduler"
	"github.com/duerelay/duerelay/internal/application/setup"
	"github.com/duerelay/duerelay/internal/config"
	"github.com/duerelay/duerelay/internal/domain/tenant"
	"github.com/duerelay/duerelay/internal/infrastructure/boltstore"
	"github.com/duerelay/duerelay/internal/infrastructure/gateway"
	"github.com/duerelay/duerelay/internal/infrastructure/postgres"
	"github.com/duerelay/duerelay/internal/infrastructure/sheets"
	"github.com/duerelay/duerelay/internal/infrastructure/sse"
)

const shutdownTimeout = 15 * time.Second

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// infrastructure
	sseHub := sse.NewHub(logger)
	transport := gateway.NewTransport(gateway.Config{
		BaseURL:      cfg.GatewayURL,
		APIKey:       cfg.GatewayAPIKey,
		PollInterval: cfg.GatewayPollInterval,
	}, logger)
	source := sheets.NewSource(sheets.Config{
		Timeout:    cfg.SheetTimeout,
		RetryCount: cfg.SheetRetries,
	}, logger)

	// services
	tenants := registry.New()
	supervisor := appConnection.NewSupervisor(transport, store, tenants, sseHub, appConnection.Config{
		ReconnectBackoff: cfg.ReconnectBackoff,
		MaxAttempts:      cfg.ReconnectMaxAttempts,
	}, logger)
	dispatcher := dispatch.NewService(tenants, source, supervisor, dispatch.Config{
		SendDelay: cfg.SendDelay,
		Location:  cfg.Location,
	}, logger)
	sched := scheduler.New(tenants, dispatcher, scheduler.Config{
		Period:       cfg.SchedulerPeriod,
		StartupDelay: cfg.SchedulerStartupDelay,
		SendHour:     cfg.SendHour,
		Location:     cfg.Location,
	}, logger)
	setupSvc := setup.NewService(tenants, store, supervisor, dispatcher, sched, logger)

	if _, err := setupSvc.Restore(ctx); err != nil {
		return fmt.Errorf("restore error: %w", err)
	}

	// API server
	apiServer := httpapi.NewServer(setupSvc, sched, sseHub, cfg.AdminToken, logger)
	httpServer := &http.Server{
		Addr:        cfg.ServerAddr,
		Handler:     apiServer.Router(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// background loops
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		sched.Run(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ServerAddr).Str("version", Version).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown requested")
	case err := <-serveErr:
		if err != nil {
			logger.Error().Err(err).Msg("http server failed")
		}
		stop()
	}

	// graceful shutdown
	ctxShutdown, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	sseHub.Stop()
	var errs []error
	if err := httpServer.Shutdown(ctxShutdown); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	<-schedDone
	sched.Wait()
	if err := supervisor.Shutdown(ctxShutdown); err != nil {
		errs = append(errs, fmt.Errorf("supervisor shutdown: %w", err))
	}
	logger.Info().Msg("stopped")
	return errors.Join(errs...)
}

// openStore picks postgres when DATABASE_URL is set and a bbolt file
// otherwise.
func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (tenant.Store, func(), error) {
	if !cfg.UsePostgres() {
		store, err := boltstore.Open(cfg.DataDir, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("store error: %w", err)
		}
		logger.Info().Str("data_dir", cfg.DataDir).Msg("using bbolt tenant store")
		return store, func() { _ = store.Close() }, nil
	}

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("db error: %w", err)
	}
	applied, err := postgres.RunMigrations(ctx, pool, cfg.MigrationsDir)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migration error: %w", err)
	}
	logger.Info().Strs("applied", applied).Msg("using postgres tenant store")
	return postgres.NewTenantRepository(pool), pool.Close, nil
}
