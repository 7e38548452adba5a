package models

import (
	"fmt"
)

// BluetoothRange is the radio transmit range setting
type BluetoothRange uint8

const (
	BluetoothRangeStandard BluetoothRange = 0
	BluetoothRangeExtended BluetoothRange = 1
)

func (r BluetoothRange) String() string {
	if r == BluetoothRangeExtended {
		return "extended"
	}
	return "standard"
}

// ParseBluetoothRange parses "standard" or "extended"
func ParseBluetoothRange(s string) (BluetoothRange, error) {
	switch s {
	case "standard":
		return BluetoothRangeStandard, nil
	case "extended":
		return BluetoothRangeExtended, nil
	}
	return 0, fmt.Errorf("invalid bluetooth range: %s (valid: standard, extended)", s)
}

// TemperatureUnit is the unit shown on the device display
type TemperatureUnit uint8

const (
	TemperatureUnitCelsius TemperatureUnit = iota
	TemperatureUnitFahrenheit
)

func (u TemperatureUnit) String() string {
	if u == TemperatureUnitFahrenheit {
		return "fahrenheit"
	}
	return "celsius"
}

// RadonUnit is the radon unit shown on the device display
type RadonUnit uint8

const (
	RadonUnitBqM3 RadonUnit = iota
	RadonUnitPciL
)

func (u RadonUnit) String() string {
	if u == RadonUnitPciL {
		return "pCi/L"
	}
	return "Bq/m3"
}

// DeviceSettings is decoded from the sensor state characteristic. The
// device is the source of truth; settings are never updated locally.
type DeviceSettings struct {
	DeviceType             DeviceType      `json:"device_type"`
	SmartHomeEnabled       bool            `json:"smart_home_enabled"`
	BluetoothRange         BluetoothRange  `json:"bluetooth_range"`
	TemperatureUnit        TemperatureUnit `json:"temperature_unit"`
	RadonUnit              RadonUnit       `json:"radon_unit"`
	BuzzerEnabled          bool            `json:"buzzer_enabled"`
	AutoCalibrationEnabled bool            `json:"auto_calibration_enabled"`
}

// MeasurementInterval is one of the intervals the device accepts
type MeasurementInterval uint8

const (
	IntervalOneMinute   MeasurementInterval = 1
	IntervalTwoMinutes  MeasurementInterval = 2
	IntervalFiveMinutes MeasurementInterval = 5
	IntervalTenMinutes  MeasurementInterval = 10
)

// MeasurementIntervalFromMinutes validates a minute value
func MeasurementIntervalFromMinutes(minutes int) (MeasurementInterval, error) {
	switch minutes {
	case 1, 2, 5, 10:
		return MeasurementInterval(minutes), nil
	}
	return 0, fmt.Errorf("invalid measurement interval: %d minutes (valid: 1, 2, 5, 10)", minutes)
}

// MeasurementIntervalFromSeconds validates a second value
func MeasurementIntervalFromSeconds(seconds int) (MeasurementInterval, error) {
	if seconds%60 != 0 {
		return 0, fmt.Errorf("invalid measurement interval: %d seconds", seconds)
	}
	return MeasurementIntervalFromMinutes(seconds / 60)
}

// Minutes returns the interval in minutes
func (i MeasurementInterval) Minutes() int {
	return int(i)
}

// Seconds returns the interval in seconds
func (i MeasurementInterval) Seconds() int {
	return int(i) * 60
}

func (i MeasurementInterval) String() string {
	return fmt.Sprintf("%dm", int(i))
}

// CalibrationData is the raw calibration characteristic
type CalibrationData struct {
	Raw       []byte `json:"raw"`
	CO2Offset *int16 `json:"co2_offset,omitempty"`
}
