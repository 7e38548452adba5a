package api

// HealthStatus represents the API health status
type HealthStatus struct {
	Status    string `json:"status"`
	Database  string `json:"database"`
	Devices   int    `json:"devices"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// Health checks if the API is healthy
func (c *Client) Health() (*HealthStatus, error) {
	var health HealthStatus
	if err := c.get("/health", nil, nil, &health); err != nil {
		return nil, err
	}
	return &health, nil
}
