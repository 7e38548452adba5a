package main

import (
	"fmt"
	"os"
	"time"

	"github.com/sguter90/aranetmaestro/pkg/api"
	"github.com/sguter90/aranetmaestro/pkg/models"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	remoteURL    string
	remoteAPIKey string
	remoteSince  time.Duration
	remoteLimit  int
	remoteJSON   bool
)

var remoteCmd = &cobra.Command{
	Use:   "remote",
	Short: "Query a running AranetMaestro server",
}

var remoteDevicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List the devices known to the server",
	Args:  cobra.NoArgs,
	RunE:  runRemoteDevices,
}

var remoteLatestCmd = &cobra.Command{
	Use:   "latest <device>",
	Short: "Show the newest stored reading of a device",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemoteLatest,
}

var remoteHistoryCmd = &cobra.Command{
	Use:   "history <device>",
	Short: "Show synced history of a device",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemoteHistory,
}

func init() {
	rootCmd.AddCommand(remoteCmd)
	remoteCmd.AddCommand(remoteDevicesCmd)
	remoteCmd.AddCommand(remoteLatestCmd)
	remoteCmd.AddCommand(remoteHistoryCmd)

	remoteCmd.PersistentFlags().StringVar(&remoteURL, "url", "http://localhost:8080", "server base URL")
	remoteCmd.PersistentFlags().StringVar(&remoteAPIKey, "api-key", os.Getenv("ARANET_API_KEY"), "API key")
	remoteCmd.PersistentFlags().BoolVar(&remoteJSON, "json", false, "print JSON")
	remoteHistoryCmd.Flags().DurationVar(&remoteSince, "since", 24*time.Hour, "how far back to query")
	remoteHistoryCmd.Flags().IntVar(&remoteLimit, "limit", 1000, "max number of records")
}

func remoteClient() *api.Client {
	opts := []api.ClientOption{api.WithTimeout(viper.GetDuration("timeout"))}
	if remoteAPIKey != "" {
		opts = append(opts, api.WithAPIKey(remoteAPIKey))
	}
	return api.NewClient(remoteURL, opts...)
}

func runRemoteDevices(cmd *cobra.Command, args []string) error {
	devices, err := remoteClient().ListDevices()
	if err != nil {
		return err
	}
	if remoteJSON {
		return printJSON(devices)
	}

	printHeader("Devices on " + remoteURL)
	for i, d := range devices {
		fmt.Printf("\n[%d] %s\n", i+1, d.DisplayName())
		fmt.Printf("    Identifier: %s\n", d.Identifier)
		if d.TypeName != "" {
			fmt.Printf("    Type: %s\n", d.TypeName)
		}
		if d.Firmware != "" {
			fmt.Printf("    Firmware: %s\n", d.Firmware)
		}
		fmt.Printf("    Last Seen: %s\n", d.LastSeen.Local().Format(timeLayout))
	}
	if len(devices) == 0 {
		fmt.Println("No devices registered yet.")
	}
	printFooter()

	return nil
}

func runRemoteLatest(cmd *cobra.Command, args []string) error {
	reading, err := remoteClient().GetLatestReading(args[0])
	if api.IsNotFound(err) {
		return fmt.Errorf("no readings stored for %s", args[0])
	}
	if err != nil {
		return err
	}
	if remoteJSON {
		return printJSON(reading)
	}

	printHeader(fmt.Sprintf("%s at %s", args[0], reading.CapturedAt.Local().Format(timeLayout)))
	printReading(os.Stdout, reading.CurrentReading)
	printFooter()

	return nil
}

func runRemoteHistory(cmd *cobra.Command, args []string) error {
	client := remoteClient()

	device, err := client.GetDevice(args[0])
	if err != nil {
		return err
	}

	records, err := client.GetHistory(args[0], api.HistoryOptions{
		Since: time.Now().Add(-remoteSince),
		Limit: remoteLimit,
		Order: "asc",
	})
	if err != nil {
		return err
	}
	if remoteJSON {
		return printJSON(records)
	}

	printHeader(fmt.Sprintf("History of %s (%d records)", device.DisplayName(), len(records)))
	history := make([]models.HistoryRecord, len(records))
	for i, r := range records {
		history[i] = r.HistoryRecord
	}
	printHistory(models.ParseDeviceType(device.TypeName), history)

	if state, err := client.GetSyncState(args[0]); err == nil && state.LastSyncAt != nil {
		fmt.Printf("\nLast sync: %s (%d of %d readings)\n",
			state.LastSyncAt.Local().Format(timeLayout), state.LastHistoryIndex, state.TotalReadings)
	}
	printFooter()

	return nil
}
