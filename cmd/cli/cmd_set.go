package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sguter90/aranetmaestro/pkg/aranet"
	"github.com/sguter90/aranetmaestro/pkg/models"
	"github.com/spf13/cobra"
)

var setCmd = &cobra.Command{
	Use:   "set <device> interval|smart-home|range <value>",
	Short: "Change a device setting",
	Long: `Change a device setting:

  interval    1, 2, 5 or 10 minutes (e.g. "5" or "5m")
  smart-home  on or off
  range       standard or extended`,
	Args: cobra.ExactArgs(3),
	RunE: runSet,
}

func init() {
	rootCmd.AddCommand(setCmd)
}

func runSet(cmd *cobra.Command, args []string) error {
	id, setting, value := args[0], args[1], args[2]

	// Parse before connecting so a typo fails fast
	var apply func(ctx context.Context, d *aranet.Device) error
	switch setting {
	case "interval":
		interval, err := parseInterval(value)
		if err != nil {
			return err
		}
		apply = func(ctx context.Context, d *aranet.Device) error {
			return d.SetInterval(ctx, interval)
		}
	case "smart-home":
		enabled, err := parseSwitch(value)
		if err != nil {
			return err
		}
		apply = func(ctx context.Context, d *aranet.Device) error {
			return d.SetSmartHome(ctx, enabled)
		}
	case "range":
		r, err := models.ParseBluetoothRange(value)
		if err != nil {
			return err
		}
		apply = func(ctx context.Context, d *aranet.Device) error {
			return d.SetBluetoothRange(ctx, r)
		}
	default:
		return fmt.Errorf("unknown setting %q (valid: interval, smart-home, range)", setting)
	}

	a := mustApp(cmd)
	ctx, cancel := a.commandContext(cmd)
	defer cancel()

	err := a.withDevice(ctx, id, func(d *aranet.Device) error {
		return apply(ctx, d)
	})
	if err != nil {
		return err
	}

	fmt.Printf("✓ %s set to %s\n", setting, value)
	return nil
}

// parseInterval accepts minutes ("5") or a duration ("5m", "300s")
func parseInterval(s string) (models.MeasurementInterval, error) {
	if minutes, err := strconv.Atoi(s); err == nil {
		return models.MeasurementIntervalFromMinutes(minutes)
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q", s)
	}
	return models.MeasurementIntervalFromSeconds(int(d / time.Second))
}

func parseSwitch(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "enable", "enabled":
		return true, nil
	case "off", "disable", "disabled":
		return false, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid switch value %q (valid: on, off)", s)
	}
	return b, nil
}
