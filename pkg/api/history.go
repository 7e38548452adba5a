package api

import (
	"strconv"
	"time"

	"github.com/sguter90/aranetmaestro/pkg/models"
)

// HistoryOptions contains options for querying stored history
type HistoryOptions struct {
	Since time.Time
	Until time.Time
	Limit int
	Order string // "asc" or "desc"
}

func (o HistoryOptions) params() map[string]string {
	params := map[string]string{}

	if !o.Since.IsZero() {
		params["since"] = o.Since.Format(time.RFC3339)
	}
	if !o.Until.IsZero() {
		params["until"] = o.Until.Format(time.RFC3339)
	}
	if o.Limit > 0 {
		params["limit"] = strconv.Itoa(o.Limit)
	}
	if o.Order != "" {
		params["order"] = o.Order
	}
	return params
}

// GetHistory retrieves stored history records of a device
func (c *Client) GetHistory(id string, opts HistoryOptions) ([]models.StoredHistoryRecord, error) {
	var records []models.StoredHistoryRecord
	if err := c.get("/api/v1/devices/{id}/history", map[string]string{"id": id}, opts.params(), &records); err != nil {
		return nil, err
	}
	return records, nil
}

// GetHistoryStats retrieves min, max and average per measurement within the window
func (c *Client) GetHistoryStats(id string, opts HistoryOptions) (*models.HistoryStats, error) {
	var stats models.HistoryStats
	if err := c.get("/api/v1/devices/{id}/history/stats", map[string]string{"id": id}, opts.params(), &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}
