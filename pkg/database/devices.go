package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sguter90/aranetmaestro/pkg/models"
)

const deviceColumns = `id, identifier, name, device_type, serial, firmware, hardware, first_seen, last_seen`

// UpsertDevice records a device sighting. An empty name keeps the stored one.
func (dm *DatabaseManager) UpsertDevice(ctx context.Context, identifier, name string) (uuid.UUID, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	return dm.upsertDevice(ctx, identifier, name)
}

func (dm *DatabaseManager) upsertDevice(ctx context.Context, identifier, name string) (uuid.UUID, error) {
	query := `
        INSERT INTO devices (identifier, name)
        VALUES ($1, $2)
        ON CONFLICT (identifier) DO UPDATE
        SET name = COALESCE(NULLIF(EXCLUDED.name, ''), devices.name),
            last_seen = CURRENT_TIMESTAMP
        RETURNING id
    `

	var id uuid.UUID
	if err := dm.QueryRowWithHealthCheck(ctx, query, identifier, name).Scan(&id); err != nil {
		return uuid.Nil, fmt.Errorf("failed to upsert device %s: %w", identifier, err)
	}
	return id, nil
}

// UpdateDeviceInfo stores the identity strings read from the device
func (dm *DatabaseManager) UpdateDeviceInfo(ctx context.Context, identifier string, info models.DeviceInfo, deviceType models.DeviceType) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	query := `
        UPDATE devices
        SET name = COALESCE(NULLIF($2, ''), name),
            device_type = $3,
            serial = $4,
            firmware = $5,
            hardware = $6,
            last_seen = CURRENT_TIMESTAMP
        WHERE identifier = $1
    `

	result, err := dm.ExecWithHealthCheck(ctx, query,
		identifier,
		info.Name,
		deviceType.String(),
		info.Serial,
		info.Firmware,
		info.Hardware,
	)
	if err != nil {
		return fmt.Errorf("failed to update device info: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, identifier)
	}
	return nil
}

// GetDevice returns the device row, or nil when the identifier is unknown
func (dm *DatabaseManager) GetDevice(ctx context.Context, identifier string) (*models.StoredDevice, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	query := `SELECT ` + deviceColumns + ` FROM devices WHERE identifier = $1`

	device, err := scanDevice(dm.QueryRowWithHealthCheck(ctx, query, identifier))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	return device, nil
}

// ListDevices returns all known devices ordered by identifier
func (dm *DatabaseManager) ListDevices(ctx context.Context) ([]models.StoredDevice, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	query := `SELECT ` + deviceColumns + ` FROM devices ORDER BY identifier`

	rows, err := dm.QueryWithHealthCheck(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	devices := []models.StoredDevice{}
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, *device)
	}

	return devices, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDevice(row rowScanner) (*models.StoredDevice, error) {
	var d models.StoredDevice
	err := row.Scan(
		&d.ID,
		&d.Identifier,
		&d.Name,
		&d.TypeName,
		&d.Serial,
		&d.Firmware,
		&d.Hardware,
		&d.FirstSeen,
		&d.LastSeen,
	)
	if err != nil {
		return nil, err
	}
	d.DeviceType = models.ParseDeviceType(d.TypeName)
	return &d, nil
}

// deviceID resolves an identifier to its row id
func (dm *DatabaseManager) deviceID(ctx context.Context, identifier string) (uuid.UUID, error) {
	var id uuid.UUID
	err := dm.QueryRowWithHealthCheck(ctx, `SELECT id FROM devices WHERE identifier = $1`, identifier).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, identifier)
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to look up device: %w", err)
	}
	return id, nil
}
