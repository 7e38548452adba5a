package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sguter90/aranetmaestro/pkg/aranet"
	"github.com/sguter90/aranetmaestro/pkg/models"
	"github.com/sguter90/aranetmaestro/pkg/pusher"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	watchDevices []string
	watchJSON    bool
	watchStore   bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream readings from advertisements",
	Long: `Listen for Aranet advertisements without connecting and print every
new reading. Devices need smart home integration enabled to advertise values.
Readings are forwarded to the configured pushers.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringSliceVar(&watchDevices, "device", nil, "only watch these addresses or names")
	watchCmd.Flags().BoolVar(&watchJSON, "json", false, "print one JSON object per reading")
	watchCmd.Flags().BoolVar(&watchStore, "store", false, "store readings in the database")
}

func runWatch(cmd *cobra.Command, args []string) error {
	a := mustApp(cmd)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	adapter, _, err := a.bluetooth()
	if err != nil {
		return err
	}

	pushers, err := InitPusherRegistry(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	defer pushers.Close()

	var store readingStore
	if watchStore {
		dm, err := a.database()
		if err != nil {
			return err
		}
		store = dm
	}

	opts := a.cfg.Passive.Options()
	if len(watchDevices) > 0 {
		opts.DeviceFilter = watchDevices
	}
	monitor := aranet.NewPassiveMonitor(adapter, opts, a.logger)
	sub := monitor.Subscribe()
	defer sub.Close()

	go func() {
		if err := monitor.Start(ctx); err != nil {
			a.logger.Error("❌ Passive monitor failed", zap.Error(err))
		}
	}()
	defer monitor.Stop()

	if !watchJSON {
		fmt.Fprintln(os.Stderr, "Watching for advertisements, press Ctrl+C to stop")
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case r := <-sub.C:
			handlePassiveReading(ctx, a.logger, r, store, pushers, nil)
			if watchJSON {
				printJSON(r)
				continue
			}
			fmt.Printf("\n%s  %s (%s, %d dBm)\n", r.ReceivedAt.Local().Format(timeLayout), r.DeviceName, r.DeviceID, r.RSSI)
			printReading(os.Stdout, r.Data.Reading())
		}
	}
}

// readingStore persists readings; *database.DatabaseManager satisfies it
type readingStore interface {
	InsertReading(ctx context.Context, identifier string, reading models.CurrentReading) error
}

// handlePassiveReading stores and forwards one advertised reading. store
// and metrics may be nil.
func handlePassiveReading(ctx context.Context, logger *zap.Logger, r aranet.PassiveReading, store readingStore, pushers *pusher.Registry, metrics *aranet.MetricsCollector) {
	reading := r.Data.Reading()
	reading.CapturedAt = r.ReceivedAt

	if store != nil {
		if err := store.InsertReading(ctx, r.DeviceID, reading); err != nil {
			logger.Error("❌ Error storing reading", zap.String("device", r.DeviceID), zap.Error(err))
		}
	}
	if metrics != nil {
		metrics.ObserveReading(r.DeviceID, r.DeviceName, r.Data.DeviceType, reading)
	}
	if pushers != nil {
		// Failures are logged by the registry
		_ = pushers.PushAll(ctx, pusher.PushedReading{
			DeviceID:   r.DeviceID,
			Name:       r.DeviceName,
			DeviceType: r.Data.DeviceType.String(),
			Source:     pusher.SourceAdvertisement,
			RSSI:       r.RSSI,
			Reading:    reading,
		})
	}
}
