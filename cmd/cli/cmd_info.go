package main

import (
	"fmt"

	"github.com/sguter90/aranetmaestro/pkg/aranet"
	"github.com/sguter90/aranetmaestro/pkg/models"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var infoJSON bool

var infoCmd = &cobra.Command{
	Use:   "info <device>",
	Short: "Show device information and settings",
	Args:  cobra.ExactArgs(1),
	RunE:  runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
	infoCmd.Flags().BoolVar(&infoJSON, "json", false, "print JSON")
}

type deviceReport struct {
	Address  string                 `json:"address"`
	Type     string                 `json:"device_type"`
	Protocol string                 `json:"history_protocol"`
	Info     models.DeviceInfo      `json:"info"`
	Settings *models.DeviceSettings `json:"settings,omitempty"`
	Interval string                 `json:"interval,omitempty"`
	Battery  uint8                  `json:"battery"`
	History  models.HistoryInfo     `json:"history"`
}

func runInfo(cmd *cobra.Command, args []string) error {
	a := mustApp(cmd)
	ctx, cancel := a.commandContext(cmd)
	defer cancel()

	var report deviceReport
	var deviceType models.DeviceType

	err := a.withDevice(ctx, args[0], func(d *aranet.Device) error {
		deviceType = d.Type()
		report.Address = d.Address()
		report.Type = d.Type().String()
		report.Protocol = d.HistoryProtocol()

		info, err := d.ReadDeviceInfo(ctx)
		if err != nil {
			return fmt.Errorf("failed to read device info: %w", err)
		}
		report.Info = info

		// Settings and interval are optional on older firmware
		if settings, err := d.ReadSettings(ctx); err == nil {
			report.Settings = &settings
		} else {
			a.logger.Debug("settings unavailable", zap.Error(err))
		}
		if interval, err := d.GetInterval(ctx); err == nil {
			report.Interval = interval.String()
		}

		if report.Battery, err = d.ReadBattery(ctx); err != nil {
			return fmt.Errorf("failed to read battery: %w", err)
		}
		if report.History, err = d.GetHistoryInfo(ctx); err != nil {
			return fmt.Errorf("failed to read history info: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if dm, err := a.optionalDatabase(); err != nil {
		a.logger.Warn("device info not stored", zap.Error(err))
	} else if dm != nil {
		if _, err := dm.UpsertDevice(ctx, report.Address, report.Info.Name); err == nil {
			err = dm.UpdateDeviceInfo(ctx, report.Address, report.Info, deviceType)
			if err != nil {
				a.logger.Warn("failed to store device info", zap.Error(err))
			}
		}
	}

	if infoJSON {
		return printJSON(report)
	}

	printHeader(report.Info.Name)
	fmt.Printf("    Address: %s\n", report.Address)
	fmt.Printf("    Type: %s\n", report.Type)
	fmt.Printf("    Model: %s\n", report.Info.Model)
	fmt.Printf("    Serial: %s\n", report.Info.Serial)
	fmt.Printf("    Firmware: %s\n", report.Info.Firmware)
	fmt.Printf("    Hardware: %s\n", report.Info.Hardware)
	fmt.Printf("    Battery: %d %%\n", report.Battery)
	if report.Interval != "" {
		fmt.Printf("    Interval: %s\n", report.Interval)
	}
	fmt.Printf("    History: %d readings (%s protocol)\n", report.History.TotalReadings, report.Protocol)
	if s := report.Settings; s != nil {
		fmt.Printf("    Smart home integration: %t\n", s.SmartHomeEnabled)
		fmt.Printf("    Bluetooth range: %s\n", s.BluetoothRange)
		fmt.Printf("    Temperature unit: %s\n", s.TemperatureUnit)
		if deviceType == models.DeviceTypeAranetRadon {
			fmt.Printf("    Radon unit: %s\n", s.RadonUnit)
		}
		fmt.Printf("    Buzzer: %t\n", s.BuzzerEnabled)
		fmt.Printf("    Auto calibration: %t\n", s.AutoCalibrationEnabled)
	}
	printFooter()

	return nil
}
