package main

import (
	"fmt"
	"time"

	"github.com/sguter90/aranetmaestro/pkg/aranet"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	scanDuration time.Duration
	scanAll      bool
	scanJSON     bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for Aranet devices",
	Long:  `Scan for nearby Bluetooth LE devices and record the Aranet devices found.`,
	Args:  cobra.NoArgs,
	RunE:  runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().DurationVar(&scanDuration, "duration", 5*time.Second, "scan duration")
	scanCmd.Flags().BoolVar(&scanAll, "all", false, "include non-Aranet devices")
	scanCmd.Flags().BoolVar(&scanJSON, "json", false, "print JSON")
}

func runScan(cmd *cobra.Command, args []string) error {
	a := mustApp(cmd)
	ctx, cancel := a.commandContext(cmd)
	defer cancel()

	_, scanner, err := a.bluetooth()
	if err != nil {
		return err
	}

	devices, err := scanner.Scan(ctx, aranet.ScanOptions{Duration: scanDuration, FilterAranetOnly: !scanAll})
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	if dm, err := a.optionalDatabase(); err != nil {
		a.logger.Warn("devices not recorded", zap.Error(err))
	} else if dm != nil {
		for _, d := range devices {
			if !d.IsAranet {
				continue
			}
			if _, err := dm.UpsertDevice(ctx, d.Address, d.Name); err != nil {
				a.logger.Warn("failed to record device", zap.String("device", d.Address), zap.Error(err))
			}
		}
	}

	if scanJSON {
		return printJSON(devices)
	}

	printHeader(fmt.Sprintf("Discovered Devices (%s scan)", scanDuration))
	for i, d := range devices {
		name := d.Name
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Printf("\n[%d] %s\n", i+1, name)
		fmt.Printf("    Address: %s\n", d.Address)
		fmt.Printf("    RSSI: %d dBm\n", d.RSSI)
		if d.IsAranet {
			fmt.Printf("    Type: %s\n", d.DeviceType)
		}
	}
	if len(devices) == 0 {
		fmt.Println("No devices found.")
	}
	printFooter()

	return nil
}
