package main

import (
	"fmt"
	"os"

	"github.com/sguter90/aranetmaestro/pkg/aranet"
	"github.com/sguter90/aranetmaestro/pkg/models"
	"github.com/spf13/cobra"
)

var (
	historyStart uint16
	historyEnd   uint16
	historyJSON  bool
)

var historyCmd = &cobra.Command{
	Use:   "history <device>",
	Short: "Download the history buffer",
	Long: `Download the stored measurement history of a device and print it.
Indices are 1-based; 0 means the start or end of the buffer.`,
	Args: cobra.ExactArgs(1),
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().Uint16Var(&historyStart, "start", 0, "first history index")
	historyCmd.Flags().Uint16Var(&historyEnd, "end", 0, "last history index")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "print JSON")
}

func runHistory(cmd *cobra.Command, args []string) error {
	a := mustApp(cmd)
	ctx, cancel := a.commandContext(cmd)
	defer cancel()

	opts := a.cfg.History.Options()
	opts.StartIndex = historyStart
	opts.EndIndex = historyEnd

	progress := newProgressPrinter(os.Stderr)
	opts.Progress = func(p aranet.HistoryProgress) {
		progress.update(p.CurrentParam.String(), p.OverallProgress)
	}

	var (
		records    []models.HistoryRecord
		deviceType models.DeviceType
		name       string
	)
	err := a.withDevice(ctx, args[0], func(d *aranet.Device) error {
		name = d.Name()
		deviceType = d.Type()

		var err error
		records, err = d.DownloadHistoryWithOptions(ctx, opts)
		return err
	})
	progress.done()
	if err != nil {
		return err
	}

	if historyJSON {
		return printJSON(records)
	}

	printHeader(fmt.Sprintf("History of %s (%d records)", name, len(records)))
	printHistory(deviceType, records)
	printFooter()

	return nil
}

// printHistory prints one row per record with the columns the model measures
func printHistory(t models.DeviceType, records []models.HistoryRecord) {
	switch t {
	case models.DeviceTypeAranet4:
		fmt.Printf("%-19s  %6s  %7s  %8s  %4s\n", "Time", "CO2", "Temp", "Pressure", "Hum")
	case models.DeviceTypeAranetRadon:
		fmt.Printf("%-19s  %6s  %7s  %8s  %4s\n", "Time", "Radon", "Temp", "Pressure", "Hum")
	default:
		fmt.Printf("%-19s  %7s  %4s\n", "Time", "Temp", "Hum")
	}

	for _, r := range records {
		ts := r.Timestamp.Local().Format(timeLayout)
		switch t {
		case models.DeviceTypeAranet4:
			fmt.Printf("%-19s  %6d  %7.2f  %8.1f  %4d\n", ts, r.CO2, r.Temperature, r.Pressure, r.Humidity)
		case models.DeviceTypeAranetRadon:
			var radon uint32
			if r.Radon != nil {
				radon = *r.Radon
			}
			fmt.Printf("%-19s  %6d  %7.2f  %8.1f  %4d\n", ts, radon, r.Temperature, r.Pressure, r.Humidity)
		default:
			fmt.Printf("%-19s  %7.2f  %4d\n", ts, r.Temperature, r.Humidity)
		}
	}
}
