package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sguter90/aranetmaestro/pkg/models"
)

// GetSyncState returns the sync watermark of a device, or nil when the
// device was never synced.
func (dm *DatabaseManager) GetSyncState(ctx context.Context, identifier string) (*models.SyncState, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	return dm.getSyncState(ctx, identifier)
}

func (dm *DatabaseManager) getSyncState(ctx context.Context, identifier string) (*models.SyncState, error) {
	query := `
        SELECT d.identifier, s.last_history_index, s.total_readings, s.last_sync_at
        FROM sync_state s
        JOIN devices d ON s.device_id = d.id
        WHERE d.identifier = $1
    `

	var (
		state       models.SyncState
		last, total int
		syncedAt    sql.NullTime
	)
	err := dm.QueryRowWithHealthCheck(ctx, query, identifier).Scan(&state.DeviceID, &last, &total, &syncedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync state: %w", err)
	}

	state.LastHistoryIndex = uint16(last)
	state.TotalReadings = uint16(total)
	if syncedAt.Valid {
		state.LastSyncAt = &syncedAt.Time
	}
	return &state, nil
}

// UpdateSyncState records a successful sync. lastIndex must not exceed total.
func (dm *DatabaseManager) UpdateSyncState(ctx context.Context, identifier string, lastIndex, total uint16) error {
	if lastIndex > total {
		return fmt.Errorf("last history index %d exceeds total readings %d", lastIndex, total)
	}

	dm.mu.Lock()
	defer dm.mu.Unlock()

	deviceID, err := dm.deviceID(ctx, identifier)
	if err != nil {
		return err
	}

	query := `
        INSERT INTO sync_state (device_id, last_history_index, total_readings, last_sync_at)
        VALUES ($1, $2, $3, CURRENT_TIMESTAMP)
        ON CONFLICT (device_id) DO UPDATE
        SET last_history_index = EXCLUDED.last_history_index,
            total_readings = EXCLUDED.total_readings,
            last_sync_at = EXCLUDED.last_sync_at
    `

	if _, err := dm.ExecWithHealthCheck(ctx, query, deviceID, int(lastIndex), int(total)); err != nil {
		return fmt.Errorf("failed to update sync state: %w", err)
	}
	return nil
}

// CalculateSyncStart returns the first history index to download given the
// device's current total. Index 1 means a full download; a total below the
// stored watermark means the device buffer was reset.
func (dm *DatabaseManager) CalculateSyncStart(ctx context.Context, identifier string, total uint16) (uint16, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	state, err := dm.getSyncState(ctx, identifier)
	if err != nil {
		return 0, err
	}

	return syncStart(state, total), nil
}

func syncStart(state *models.SyncState, total uint16) uint16 {
	if state == nil || state.LastHistoryIndex == 0 || total < state.LastHistoryIndex {
		return 1
	}
	return state.LastHistoryIndex
}
