package models

import (
	"time"
)

// HistoryParam selects which parameter stream is downloaded from device memory
type HistoryParam uint8

const (
	HistoryParamTemperature HistoryParam = 1
	HistoryParamHumidity    HistoryParam = 2
	HistoryParamPressure    HistoryParam = 3
	HistoryParamCO2         HistoryParam = 4
	// HistoryParamHumidity2 is humidity in tenths of a percent (Aranet2, Radon)
	HistoryParamHumidity2 HistoryParam = 5
	HistoryParamRadon     HistoryParam = 10
)

func (p HistoryParam) String() string {
	switch p {
	case HistoryParamTemperature:
		return "temperature"
	case HistoryParamHumidity:
		return "humidity"
	case HistoryParamPressure:
		return "pressure"
	case HistoryParamCO2:
		return "co2"
	case HistoryParamHumidity2:
		return "humidity2"
	case HistoryParamRadon:
		return "radon"
	}
	return "unknown"
}

// ValueSize returns the number of bytes per sample for this parameter
func (p HistoryParam) ValueSize() int {
	switch p {
	case HistoryParamHumidity:
		return 1
	case HistoryParamRadon:
		return 4
	}
	return 2
}

// HistoryRecord is one archived measurement
type HistoryRecord struct {
	Timestamp      time.Time `json:"timestamp"`
	CO2            uint16    `json:"co2"`
	Temperature    float64   `json:"temperature"`
	Pressure       float64   `json:"pressure"`
	Humidity       uint8     `json:"humidity"`
	Radon          *uint32   `json:"radon,omitempty"`
	RadiationRate  *float64  `json:"radiation_rate,omitempty"`
	RadiationTotal *float64  `json:"radiation_total,omitempty"`
}

// HistoryInfo describes the history buffer currently held by a device
type HistoryInfo struct {
	// TotalReadings is the number of stored samples, indices are 1-based
	TotalReadings      uint16 `json:"total_readings"`
	IntervalSeconds    uint16 `json:"interval_seconds"`
	SecondsSinceUpdate uint16 `json:"seconds_since_update"`
}

// Interval returns the measurement interval as a duration
func (h HistoryInfo) Interval() time.Duration {
	return time.Duration(h.IntervalSeconds) * time.Second
}

// StoredHistoryRecord is a history row in the database
type StoredHistoryRecord struct {
	DeviceID string    `json:"device_id"`
	SyncedAt time.Time `json:"synced_at"`
	HistoryRecord
}

// HistoryQuery holds the parameters for history queries
type HistoryQuery struct {
	DeviceID string
	Since    *time.Time
	Until    *time.Time
	Limit    int
	Offset   int
	Order    string
}

// NewHistoryQuery returns a query with the default paging
func NewHistoryQuery(deviceID string) HistoryQuery {
	return HistoryQuery{DeviceID: deviceID, Limit: 1000, Order: "asc"}
}

// Validate checks if the query parameters are valid
func (q *HistoryQuery) Validate() error {
	return validateWindow(q.Since, q.Until, q.Limit, q.Offset, q.Order)
}

// MeasurementStats summarises one measurement over a query window
type MeasurementStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	Count int     `json:"count"`
}

// HistoryStats summarises history records over a query window
type HistoryStats struct {
	Count        int                         `json:"count"`
	First        *time.Time                  `json:"first,omitempty"`
	Last         *time.Time                  `json:"last,omitempty"`
	Measurements map[string]MeasurementStats `json:"measurements"`
}
