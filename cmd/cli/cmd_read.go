package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sguter90/aranetmaestro/pkg/aranet"
	"github.com/sguter90/aranetmaestro/pkg/models"
	"github.com/sourcegraph/conc/iter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var readJSON bool

var readCmd = &cobra.Command{
	Use:   "read <device>...",
	Short: "Read current values",
	Long: `Connect to one or more devices by address or name, read their current
values and store them. Devices are read concurrently.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRead,
}

func init() {
	rootCmd.AddCommand(readCmd)
	readCmd.Flags().BoolVar(&readJSON, "json", false, "print JSON")
}

type readResult struct {
	DeviceID   string                 `json:"device_id"`
	Name       string                 `json:"name,omitempty"`
	DeviceType string                 `json:"device_type,omitempty"`
	Reading    *models.CurrentReading `json:"reading,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

func runRead(cmd *cobra.Command, args []string) error {
	a := mustApp(cmd)
	ctx, cancel := a.commandContext(cmd)
	defer cancel()

	dm, err := a.optionalDatabase()
	if err != nil {
		a.logger.Warn("readings will not be stored", zap.Error(err))
	}

	mapper := iter.Mapper[string, readResult]{MaxGoroutines: a.cfg.Poller.Concurrency}
	results := mapper.Map(args, func(id *string) readResult {
		return readDevice(ctx, a, *id)
	})

	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
			continue
		}
		if dm == nil {
			continue
		}
		if _, err := dm.UpsertDevice(ctx, r.DeviceID, r.Name); err != nil {
			a.logger.Warn("failed to record device", zap.String("device", r.DeviceID), zap.Error(err))
			continue
		}
		if err := dm.InsertReading(ctx, r.DeviceID, *r.Reading); err != nil {
			a.logger.Error("❌ Error storing reading", zap.String("device", r.DeviceID), zap.Error(err))
		}
	}

	if readJSON {
		if err := printJSON(results); err != nil {
			return err
		}
	} else {
		printHeader("Current Readings")
		for _, r := range results {
			fmt.Printf("\n%s (%s)\n", r.Name, r.DeviceID)
			if r.Error != "" {
				fmt.Printf("    ❌ %s\n", r.Error)
				continue
			}
			fmt.Printf("    Type:        %s\n", r.DeviceType)
			printReading(os.Stdout, *r.Reading)
		}
		printFooter()
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d devices could not be read", failed, len(results))
	}
	return nil
}

func readDevice(ctx context.Context, a *app, id string) readResult {
	result := readResult{DeviceID: id, Name: id}

	err := a.withDevice(ctx, id, func(d *aranet.Device) error {
		// Rows are keyed by address so names and addresses share history
		result.DeviceID = d.Address()
		result.Name = d.Name()
		result.DeviceType = d.Type().String()

		reading, err := d.ReadCurrent(ctx)
		if err != nil {
			return err
		}
		result.Reading = &reading
		return nil
	})
	if err != nil {
		result.Error = err.Error()
		result.Reading = nil
	}
	return result
}
