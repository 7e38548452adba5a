package api

import (
	"github.com/sguter90/aranetmaestro/pkg/models"
)

// ListDevices retrieves all known devices
func (c *Client) ListDevices() ([]models.StoredDevice, error) {
	var devices []models.StoredDevice
	if err := c.get("/api/v1/devices", nil, nil, &devices); err != nil {
		return nil, err
	}
	return devices, nil
}

// GetDevice retrieves a device by identifier
func (c *Client) GetDevice(id string) (*models.StoredDevice, error) {
	var device models.StoredDevice
	if err := c.get("/api/v1/devices/{id}", map[string]string{"id": id}, nil, &device); err != nil {
		return nil, err
	}
	return &device, nil
}

// GetLatestReading retrieves the newest stored reading of a device
func (c *Client) GetLatestReading(id string) (*models.StoredReading, error) {
	var reading models.StoredReading
	if err := c.get("/api/v1/devices/{id}/readings/latest", map[string]string{"id": id}, nil, &reading); err != nil {
		return nil, err
	}
	return &reading, nil
}

// GetSyncState retrieves the history sync watermark of a device
func (c *Client) GetSyncState(id string) (*models.SyncState, error) {
	var state models.SyncState
	if err := c.get("/api/v1/devices/{id}/sync", map[string]string{"id": id}, nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}
