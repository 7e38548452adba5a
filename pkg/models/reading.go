package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CurrentReading is a snapshot of live sensor values. Only one of
// CO2 > 0, Radon and RadiationRate is meaningful for a given device model.
type CurrentReading struct {
	CO2         uint16  `json:"co2"`
	Temperature float64 `json:"temperature"`
	Pressure    float64 `json:"pressure"`
	Humidity    uint8   `json:"humidity"`
	Battery     uint8   `json:"battery"`
	Status      Status  `json:"status"`
	// Interval is the measurement interval in seconds
	Interval uint16 `json:"interval"`
	// Age is the number of seconds since the values were measured
	Age uint16 `json:"age"`

	Radon       *uint32 `json:"radon,omitempty"`
	RadonAvg24h *uint32 `json:"radon_avg_24h,omitempty"`
	RadonAvg7d  *uint32 `json:"radon_avg_7d,omitempty"`
	RadonAvg30d *uint32 `json:"radon_avg_30d,omitempty"`

	// RadiationRate is in µSv/h
	RadiationRate *float64 `json:"radiation_rate,omitempty"`
	// RadiationTotal is in mSv
	RadiationTotal *float64 `json:"radiation_total,omitempty"`
	// RadiationDuration is the dose accumulation time in seconds
	RadiationDuration *uint64 `json:"radiation_duration,omitempty"`

	CapturedAt time.Time `json:"captured_at"`
}

// MeasuredAt returns the time the device took the measurement
func (r CurrentReading) MeasuredAt() time.Time {
	return r.CapturedAt.Add(-time.Duration(r.Age) * time.Second)
}

// StoredReading is a polled reading stored in the database
type StoredReading struct {
	ID       uuid.UUID `json:"id"`
	DeviceID string    `json:"device_id"`
	CurrentReading
}

// ReadingQuery holds the parameters for reading queries
type ReadingQuery struct {
	DeviceID string
	Since    *time.Time
	Until    *time.Time
	Limit    int
	Offset   int
	Order    string
}

// NewReadingQuery returns a query with the default paging
func NewReadingQuery(deviceID string) ReadingQuery {
	return ReadingQuery{DeviceID: deviceID, Limit: 100, Order: "desc"}
}

// Validate checks if the query parameters are valid
func (q *ReadingQuery) Validate() error {
	return validateWindow(q.Since, q.Until, q.Limit, q.Offset, q.Order)
}

func validateWindow(since, until *time.Time, limit, offset int, order string) error {
	if limit < 1 || limit > 10000 {
		return fmt.Errorf("limit must be between 1 and 10000")
	}

	if offset < 0 {
		return fmt.Errorf("offset must not be negative")
	}

	if order != "asc" && order != "desc" {
		return fmt.Errorf("invalid order: %s (valid: asc, desc)", order)
	}

	if since != nil && until != nil && until.Before(*since) {
		return fmt.Errorf("until must not be before since")
	}

	return nil
}
