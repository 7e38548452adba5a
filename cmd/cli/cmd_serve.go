package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sguter90/aranetmaestro/pkg/aranet"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the AranetMaestro server",
	Long: `Start the AranetMaestro server: poll the configured devices, sync their
history, optionally listen for advertisements and serve the HTTP API.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a := mustApp(cmd)
	cfg := a.cfg

	// Run migrations
	dbManager, err := a.database()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	registryManager, err := InitRegistryManager(ctx, a, dbManager)
	if err != nil {
		return err
	}
	defer registryManager.Close()

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		registryManager.Metrics,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if len(cfg.Poller.Devices) > 0 {
		registryManager.PullerService.Start()
	} else {
		a.logger.Warn("no devices configured for polling")
	}

	if cfg.Passive.Enabled {
		if err := startPassive(ctx, a, registryManager); err != nil {
			return err
		}
	}

	// Setup Router
	routeManager := NewRouteManager(dbManager, promRegistry, cfg.Server.APIKey, cfg.Server.CORSOrigins, a.logger)
	routeManager.Setup()

	server := &http.Server{
		Handler:      routeManager.Handler(),
		Addr:         cfg.Server.Addr(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		<-sigChan
		a.logger.Info("Shutdown signal received")

		cancel()
		registryManager.PullerService.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("❌ Server shutdown error", zap.Error(err))
		}
	}()

	a.logger.Info("Starting AranetMaestro server", zap.String("addr", server.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}

	a.logger.Info("✓ Server stopped")
	return nil
}

// startPassive feeds advertised readings to the store, the pushers and the metrics
func startPassive(ctx context.Context, a *app, rm *RegistryManager) error {
	adapter, _, err := a.bluetooth()
	if err != nil {
		return err
	}
	dbManager, err := a.database()
	if err != nil {
		return err
	}

	monitor := aranet.NewPassiveMonitor(adapter, a.cfg.Passive.Options(), a.logger)
	sub := monitor.Subscribe()

	go func() {
		if err := monitor.Start(ctx); err != nil {
			a.logger.Error("❌ Passive monitor failed", zap.Error(err))
		}
	}()

	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case r := <-sub.C:
				handlePassiveReading(ctx, a.logger, r, dbManager, rm.PusherRegistry, rm.Metrics)
			}
		}
	}()

	return nil
}
