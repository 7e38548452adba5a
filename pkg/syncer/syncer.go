// Package syncer downloads device history incrementally into the store.
package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sguter90/aranetmaestro/pkg/aranet"
	"github.com/sguter90/aranetmaestro/pkg/models"
	"go.uber.org/zap"
)

// HistorySource is a connected device that history can be read from.
// Both *aranet.Device and *aranet.ReconnectingDevice satisfy it.
type HistorySource interface {
	Name() string
	Type() models.DeviceType
	ReadDeviceInfo(ctx context.Context) (models.DeviceInfo, error)
	GetHistoryInfo(ctx context.Context) (models.HistoryInfo, error)
	DownloadHistoryWithOptions(ctx context.Context, opts aranet.HistoryOptions) ([]models.HistoryRecord, error)
}

// Store is the persistence the reconciler needs
type Store interface {
	UpsertDevice(ctx context.Context, identifier, name string) (uuid.UUID, error)
	UpdateDeviceInfo(ctx context.Context, identifier string, info models.DeviceInfo, deviceType models.DeviceType) error
	ListDevices(ctx context.Context) ([]models.StoredDevice, error)
	CalculateSyncStart(ctx context.Context, identifier string, total uint16) (uint16, error)
	InsertHistory(ctx context.Context, identifier string, records []models.HistoryRecord) (int, error)
	UpdateSyncState(ctx context.Context, identifier string, lastIndex, total uint16) error
}

// Dialer opens a history source for a stored device. release is called
// once the device has been synced.
type Dialer func(ctx context.Context, identifier string) (src HistorySource, release func() error, err error)

// SyncOptions configures one sync run
type SyncOptions struct {
	// Full ignores the stored watermark and downloads the whole buffer
	Full     bool
	Progress func(aranet.HistoryProgress)
	// History carries the download tuning; indices are overwritten
	History aranet.HistoryOptions
}

// Reconciler merges device history into the store
type Reconciler struct {
	Store  Store
	Logger *zap.Logger
}

// NewReconciler creates a reconciler writing to store
func NewReconciler(store Store, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{Store: store, Logger: logger}
}

func (r *Reconciler) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

// Sync downloads the records added since the last successful sync and
// stores them. The watermark only advances after the records are stored.
func (r *Reconciler) Sync(ctx context.Context, dev HistorySource, identifier string, opts SyncOptions) (models.SyncResult, error) {
	log := r.logger().With(zap.String("device", identifier))
	result := models.SyncResult{DeviceID: identifier, Name: dev.Name()}

	if _, err := r.Store.UpsertDevice(ctx, identifier, dev.Name()); err != nil {
		return result, err
	}

	info, err := dev.ReadDeviceInfo(ctx)
	if err != nil {
		if aranet.IsConnectionLost(err) {
			return result, fmt.Errorf("failed to read device info: %w", err)
		}
		log.Warn("failed to read device info", zap.Error(err))
	} else {
		if info.Name != "" {
			result.Name = info.Name
		}
		if err := r.Store.UpdateDeviceInfo(ctx, identifier, info, dev.Type()); err != nil {
			return result, err
		}
	}

	historyInfo, err := dev.GetHistoryInfo(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to read history info: %w", err)
	}
	total := historyInfo.TotalReadings
	result.Total = total

	if total == 0 {
		log.Info("device has no history")
		return result, r.Store.UpdateSyncState(ctx, identifier, 0, 0)
	}

	start := uint16(1)
	if !opts.Full {
		start, err = r.Store.CalculateSyncStart(ctx, identifier, total)
		if err != nil {
			return result, err
		}
	}
	result.Start = start

	if start > total {
		log.Info("already up to date")
		return result, nil
	}

	log.Info("downloading history",
		zap.Uint16("start", start),
		zap.Uint16("end", total),
		zap.Bool("full", opts.Full),
	)

	hopts := opts.History
	hopts.StartIndex = start
	hopts.EndIndex = total
	hopts.Progress = opts.Progress

	records, err := dev.DownloadHistoryWithOptions(ctx, hopts)
	if err != nil {
		return result, fmt.Errorf("failed to download history: %w", err)
	}
	result.Downloaded = len(records)

	inserted, err := r.Store.InsertHistory(ctx, identifier, records)
	if err != nil {
		return result, err
	}
	result.Inserted = inserted

	if err := r.Store.UpdateSyncState(ctx, identifier, total, total); err != nil {
		return result, err
	}

	log.Info("✓ Sync completed",
		zap.Int("downloaded", result.Downloaded),
		zap.Int("inserted", result.Inserted),
	)
	return result, nil
}

// SyncAll syncs every stored device in turn. A failing device does not stop
// the run; its error is recorded in the result and joined into the returned error.
func (r *Reconciler) SyncAll(ctx context.Context, dial Dialer, opts SyncOptions) ([]models.SyncResult, error) {
	devices, err := r.Store.ListDevices(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]models.SyncResult, 0, len(devices))
	var errs []error

	for i, device := range devices {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		r.logger().Info("syncing device",
			zap.String("device", device.Identifier),
			zap.Int("index", i+1),
			zap.Int("total", len(devices)),
		)

		result, err := r.syncOne(ctx, dial, device, opts)
		if err != nil {
			r.logger().Error("❌ Sync failed", zap.String("device", device.Identifier), zap.Error(err))
			result.Error = err.Error()
			errs = append(errs, fmt.Errorf("%s: %w", device.Identifier, err))
		}
		results = append(results, result)
	}

	return results, errors.Join(errs...)
}

func (r *Reconciler) syncOne(ctx context.Context, dial Dialer, device models.StoredDevice, opts SyncOptions) (result models.SyncResult, err error) {
	result = models.SyncResult{DeviceID: device.Identifier, Name: device.Name}

	src, release, err := dial(ctx, device.Identifier)
	if err != nil {
		return result, err
	}
	defer func() {
		if release == nil {
			return
		}
		if rerr := release(); rerr != nil {
			r.logger().Warn("failed to release device", zap.String("device", device.Identifier), zap.Error(rerr))
		}
	}()

	return r.Sync(ctx, src, device.Identifier, opts)
}
