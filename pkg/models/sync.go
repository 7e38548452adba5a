package models

import "time"

// SyncState tracks incremental history download progress for a device.
// LastHistoryIndex never exceeds TotalReadings.
type SyncState struct {
	DeviceID         string     `json:"device_id"`
	LastHistoryIndex uint16     `json:"last_history_index"`
	TotalReadings    uint16     `json:"total_readings"`
	LastSyncAt       *time.Time `json:"last_sync_at,omitempty"`
}

// SyncResult reports the outcome of one device sync
type SyncResult struct {
	DeviceID   string `json:"device_id"`
	Name       string `json:"name,omitempty"`
	Start      uint16 `json:"start"`
	Total      uint16 `json:"total_on_device"`
	Downloaded int    `json:"downloaded"`
	Inserted   int    `json:"inserted"`
	Error      string `json:"error,omitempty"`
}
