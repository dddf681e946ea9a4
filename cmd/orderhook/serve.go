package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cimillas/orderhook/internal/app"
	"github.com/cimillas/orderhook/internal/clock"
	"github.com/cimillas/orderhook/internal/metrics"
	"github.com/cimillas/orderhook/internal/payments"
	"github.com/cimillas/orderhook/internal/storage/postgres"
	transporthttp "github.com/cimillas/orderhook/internal/transport/http"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 5 * time.Second
)

func serveCmd() *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the checkout and webhook HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), port)
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "listen port (overrides PORT)")
	return cmd
}

func runServe(ctx context.Context, portFlag string) error {
	cfg, logger, pool, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	port := cfg.Port
	if portFlag != "" {
		port = portFlag
	}

	clk := clock.NewSystem()
	store := postgres.NewDocumentStore(pool)
	provisioner := app.NewProvisioner(store,
		app.WithStepTimeout(cfg.StorageTimeout),
		app.WithProvisionLogger(logger))

	if cfg.ProvisionOnStart {
		if err := provisioner.EnsureNamespace(ctx, cfg.OrdersDatabaseID, cfg.OrdersCollectionID); err != nil {
			// Order writes provision lazily on first use.
			logger.Warn("startup provisioning failed", "error", err)
		} else {
			logger.Info("orders namespace ready",
				"db_id", cfg.OrdersDatabaseID, "collection_id", cfg.OrdersCollectionID)
		}
	}

	writer := app.NewOrderWriter(store, provisioner, clk,
		app.WithWriteTimeout(cfg.StorageTimeout),
		app.WithWriterLogger(logger))
	events := app.NewWebhookService(writer, cfg.OrdersDatabaseID, cfg.OrdersCollectionID, clk, logger)
	verifier := payments.NewVerifier(cfg.StripeWebhookSecret,
		payments.WithTolerance(cfg.WebhookTolerance),
		payments.WithClock(clk),
		payments.WithLogger(logger))
	checkout := payments.NewCheckoutInitiator(
		payments.NewSessionClient(cfg.StripeSecretKey, cfg.ProviderTimeout), clk, logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(registry)

	handler := transporthttp.NewRouter(transporthttp.RouterDeps{
		Verifier:    verifier,
		Events:      events,
		Checkout:    checkout,
		Health:      pool,
		Metrics:     promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Limiter:     transporthttp.NewClientRateLimiter(cfg.CheckoutRate, cfg.CheckoutBurst),
		CORSOrigins: cfg.CORSOrigins,
		Logger:      logger,
	})

	server := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	logger.Info("orderhook listening", "port", port)

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- server.ListenAndServe()
	}()

	stopCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-stopCtx.Done():
		logger.Info("shutdown signal received, stopping server")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server shutdown error", "error", err)
	}
	logger.Info("server stopped")
	return nil
}
