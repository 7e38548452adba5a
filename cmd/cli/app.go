package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sguter90/aranetmaestro/pkg/aranet"
	"github.com/sguter90/aranetmaestro/pkg/config"
	"github.com/sguter90/aranetmaestro/pkg/database"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type appKey struct{}

// errStoreDisabled is returned by app.database when --no-store is set
var errStoreDisabled = errors.New("database disabled by --no-store")

// app carries the shared state of one CLI invocation. The adapter and
// the database are opened on first use.
type app struct {
	cfg           *config.Config
	logger        *zap.Logger
	storeDisabled bool

	mu        sync.Mutex
	adapter   *aranet.BLEAdapter
	scanner   *aranet.Scanner
	dbManager *database.DatabaseManager
}

func newApp(cfg *config.Config, logger *zap.Logger) *app {
	return &app{cfg: cfg, logger: logger}
}

func withApp(ctx context.Context, a *app) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, appKey{}, a)
}

func appFrom(ctx context.Context) *app {
	if ctx == nil {
		return nil
	}
	a, _ := ctx.Value(appKey{}).(*app)
	return a
}

// mustApp returns the app set up by the root command
func mustApp(cmd *cobra.Command) *app {
	a := appFrom(cmd.Context())
	if a == nil {
		panic("command run without root setup")
	}
	return a
}

// bluetooth returns the enabled default adapter and the shared scanner
func (a *app) bluetooth() (*aranet.BLEAdapter, *aranet.Scanner, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.adapter == nil {
		adapter := aranet.NewBLEAdapter(a.logger)
		if err := adapter.Enable(); err != nil {
			return nil, nil, fmt.Errorf("failed to enable bluetooth adapter: %w", err)
		}
		a.adapter = adapter
		a.scanner = aranet.NewScanner(adapter, a.logger)
	}
	return a.adapter, a.scanner, nil
}

// connectOptions returns the configured connect options sharing the scanner cache
func (a *app) connectOptions(scanner *aranet.Scanner) aranet.ConnectOptions {
	opts := a.cfg.BLE.ConnectOptions()
	opts.Scanner = scanner
	opts.Logger = a.logger
	return opts
}

// withDevice connects to one device, runs fn and disconnects
func (a *app) withDevice(ctx context.Context, identifier string, fn func(*aranet.Device) error) error {
	adapter, scanner, err := a.bluetooth()
	if err != nil {
		return err
	}
	return aranet.WithDevice(ctx, adapter, identifier, a.connectOptions(scanner), fn)
}

// database opens the store and applies pending migrations
func (a *app) database() (*database.DatabaseManager, error) {
	if a.storeDisabled {
		return nil, errStoreDisabled
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.dbManager == nil {
		dm, err := database.Open(a.cfg.Database.ConnectionString(), a.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		if err := dm.Init(); err != nil {
			dm.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		a.dbManager = dm
	}
	return a.dbManager, nil
}

// optionalDatabase returns nil instead of failing when --no-store is set
func (a *app) optionalDatabase() (*database.DatabaseManager, error) {
	dm, err := a.database()
	if errors.Is(err, errStoreDisabled) {
		return nil, nil
	}
	return dm, err
}

// commandContext bounds a device command by --timeout
func (a *app) commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	d := viper.GetDuration("timeout")
	if d <= 0 {
		return context.WithCancel(cmd.Context())
	}
	return context.WithTimeout(cmd.Context(), d)
}

// Close releases the database; the adapter has nothing to release
func (a *app) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.dbManager != nil {
		if err := a.dbManager.Close(); err != nil {
			a.logger.Warn("failed to close database", zap.Error(err))
		}
		a.dbManager = nil
	}
	a.logger.Sync()
}

// reconnecting builds a supervised link for long running commands
func (a *app) reconnecting(identifier string) (*aranet.ReconnectingDevice, error) {
	adapter, scanner, err := a.bluetooth()
	if err != nil {
		return nil, err
	}
	return aranet.NewReconnectingDevice(adapter, identifier, a.connectOptions(scanner), a.cfg.Reconnect.Options())
}
