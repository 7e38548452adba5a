package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sguter90/aranetmaestro/pkg/config"
	"github.com/sguter90/aranetmaestro/pkg/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const serviceName = "aranetmaestro"

var (
	cfgFile   string
	logLevel  string
	logFormat string
	dsn       string
	timeout   time.Duration
	noStore   bool

	// current is the app of the running command, closed by main
	current *app
)

var rootCmd = &cobra.Command{
	Use:   "aranetmaestro",
	Short: "AranetMaestro - Aranet sensor collection over Bluetooth LE",
	Long: `AranetMaestro reads Aranet4, Aranet2, Aranet Radon and Aranet Radiation
sensors over Bluetooth LE, stores readings and history in PostgreSQL and
forwards them to MQTT and Redis.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml or ./config/config.yaml)")
	flags.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flags.StringVar(&logFormat, "log-format", "console", "log format (json, console)")
	flags.StringVar(&dsn, "dsn", "", "PostgreSQL connection string")
	flags.DurationVar(&timeout, "timeout", 2*time.Minute, "overall timeout of a device command")
	flags.BoolVar(&noStore, "no-store", false, "do not write to the database")

	viper.BindPFlag("log.level", flags.Lookup("log-level"))
	viper.BindPFlag("log.format", flags.Lookup("log-format"))
	viper.BindPFlag("database.dsn", flags.Lookup("dsn"))
	viper.BindPFlag("timeout", flags.Lookup("timeout"))
}

// setup loads the configuration and attaches the app to the command context
func setup(cmd *cobra.Command, args []string) error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, serviceName)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	current = newApp(cfg, log)
	current.storeDisabled = noStore
	cmd.SetContext(withApp(cmd.Context(), current))
	return nil
}

func main() {
	ctx := context.Background()

	err := rootCmd.ExecuteContext(ctx)
	if current != nil {
		current.Close()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
