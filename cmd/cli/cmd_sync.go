package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/sguter90/aranetmaestro/pkg/aranet"
	"github.com/sguter90/aranetmaestro/pkg/models"
	"github.com/sguter90/aranetmaestro/pkg/syncer"
	"github.com/spf13/cobra"
)

var (
	syncAllDevices bool
	syncFull       bool
	syncJSON       bool
)

var syncCmd = &cobra.Command{
	Use:   "sync [<device>]",
	Short: "Sync device history into the database",
	Long: `Download the history records added since the last sync and store them.
With --all every device known to the database is synced, one at a time.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().BoolVar(&syncAllDevices, "all", false, "sync every known device")
	syncCmd.Flags().BoolVar(&syncFull, "full", false, "download the whole buffer")
	syncCmd.Flags().BoolVar(&syncJSON, "json", false, "print JSON")
}

func runSync(cmd *cobra.Command, args []string) error {
	if syncAllDevices == (len(args) == 1) {
		return errors.New("specify a device or --all")
	}

	a := mustApp(cmd)
	ctx, cancel := a.commandContext(cmd)
	defer cancel()

	dm, err := a.database()
	if err != nil {
		return err
	}
	reconciler := syncer.NewReconciler(dm, a.logger)

	progress := newProgressPrinter(os.Stderr)
	opts := syncer.SyncOptions{
		Full:    syncFull,
		History: a.cfg.History.Options(),
		Progress: func(p aranet.HistoryProgress) {
			progress.update(p.CurrentParam.String(), p.OverallProgress)
		},
	}

	var (
		results []models.SyncResult
		syncErr error
	)
	if syncAllDevices {
		adapter, scanner, err := a.bluetooth()
		if err != nil {
			return err
		}
		connectOpts := a.connectOptions(scanner)
		dial := func(ctx context.Context, identifier string) (syncer.HistorySource, func() error, error) {
			d, err := aranet.Connect(ctx, adapter, identifier, connectOpts)
			if err != nil {
				return nil, nil, err
			}
			return d, d.Disconnect, nil
		}
		results, syncErr = reconciler.SyncAll(ctx, dial, opts)
	} else {
		syncErr = a.withDevice(ctx, args[0], func(d *aranet.Device) error {
			result, err := reconciler.Sync(ctx, d, d.Address(), opts)
			results = append(results, result)
			return err
		})
	}
	progress.done()

	if syncJSON {
		if err := printJSON(results); err != nil {
			return err
		}
		return syncErr
	}

	printHeader("History Sync")
	for _, r := range results {
		fmt.Printf("\n%s (%s)\n", r.Name, r.DeviceID)
		if r.Error != "" {
			fmt.Printf("    ❌ %s\n", r.Error)
			continue
		}
		fmt.Printf("    On device: %d\n", r.Total)
		fmt.Printf("    Downloaded: %d (from index %d)\n", r.Downloaded, r.Start)
		fmt.Printf("    New records: %d\n", r.Inserted)
	}
	if len(results) == 0 {
		fmt.Println("No devices to sync.")
	}
	printFooter()

	return syncErr
}
