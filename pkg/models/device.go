package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DeviceType identifies an Aranet model. The values match the discriminant
// byte used in advertisements and in the sensor state characteristic.
type DeviceType uint8

const (
	DeviceTypeUnknown         DeviceType = 0x00
	DeviceTypeAranet4         DeviceType = 0xF1
	DeviceTypeAranet2         DeviceType = 0xF2
	DeviceTypeAranetRadon     DeviceType = 0xF3
	DeviceTypeAranetRadiation DeviceType = 0xF4
)

// DeviceTypeFromByte maps a discriminant byte to a DeviceType
func DeviceTypeFromByte(b byte) (DeviceType, error) {
	switch DeviceType(b) {
	case DeviceTypeAranet4, DeviceTypeAranet2, DeviceTypeAranetRadon, DeviceTypeAranetRadiation:
		return DeviceType(b), nil
	}
	return DeviceTypeUnknown, fmt.Errorf("unknown device type: 0x%02X", b)
}

// DeviceTypeFromName guesses the device type from an advertised name
func DeviceTypeFromName(name string) DeviceType {
	n := strings.ToLower(name)
	switch {
	case strings.Contains(n, "aranet4"):
		return DeviceTypeAranet4
	case strings.Contains(n, "aranet2"):
		return DeviceTypeAranet2
	case strings.Contains(n, "rn+"), strings.Contains(n, "aranetrn"), strings.Contains(n, "radon"):
		return DeviceTypeAranetRadon
	case strings.Contains(n, "radiation"):
		return DeviceTypeAranetRadiation
	}
	return DeviceTypeUnknown
}

// ParseDeviceType parses the String() form, as stored in the database
func ParseDeviceType(s string) DeviceType {
	switch s {
	case "Aranet4":
		return DeviceTypeAranet4
	case "Aranet2":
		return DeviceTypeAranet2
	case "AranetRadon":
		return DeviceTypeAranetRadon
	case "AranetRadiation":
		return DeviceTypeAranetRadiation
	}
	return DeviceTypeUnknown
}

func (t DeviceType) String() string {
	switch t {
	case DeviceTypeAranet4:
		return "Aranet4"
	case DeviceTypeAranet2:
		return "Aranet2"
	case DeviceTypeAranetRadon:
		return "AranetRadon"
	case DeviceTypeAranetRadiation:
		return "AranetRadiation"
	}
	return "Unknown"
}

// HasCO2 reports whether the model carries a CO2 sensor
func (t DeviceType) HasCO2() bool {
	return t == DeviceTypeAranet4
}

// HasPressure reports whether the model carries a barometer
func (t DeviceType) HasPressure() bool {
	return t == DeviceTypeAranet4 || t == DeviceTypeAranetRadon
}

// Status is the CO2 air-quality band shown on the device display
type Status uint8

const (
	StatusError  Status = 0
	StatusGreen  Status = 1
	StatusYellow Status = 2
	StatusRed    Status = 3
)

// StatusFromByte maps a raw status byte, unknown values become StatusError
func StatusFromByte(b byte) Status {
	if b > byte(StatusRed) {
		return StatusError
	}
	return Status(b)
}

func (s Status) String() string {
	switch s {
	case StatusGreen:
		return "GREEN"
	case StatusYellow:
		return "YELLOW"
	case StatusRed:
		return "RED"
	}
	return "ERROR"
}

// ParseStatus parses the String() form
func ParseStatus(s string) Status {
	switch strings.ToUpper(s) {
	case "GREEN":
		return StatusGreen
	case "YELLOW":
		return StatusYellow
	case "RED":
		return StatusRed
	}
	return StatusError
}

// MarshalText encodes the status by name
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name
func (s *Status) UnmarshalText(text []byte) error {
	*s = ParseStatus(string(text))
	return nil
}

// DeviceInfo holds the static identity strings of a device
type DeviceInfo struct {
	Name         string `json:"name"`
	Model        string `json:"model"`
	Serial       string `json:"serial"`
	Firmware     string `json:"firmware"`
	Hardware     string `json:"hardware"`
	Software     string `json:"software"`
	Manufacturer string `json:"manufacturer"`
}

// StoredDevice is a device row in the database
type StoredDevice struct {
	ID         uuid.UUID  `json:"id"`
	Identifier string     `json:"identifier"`
	Name       string     `json:"name,omitempty"`
	DeviceType DeviceType `json:"-"`
	TypeName   string     `json:"device_type,omitempty"`
	Serial     string     `json:"serial,omitempty"`
	Firmware   string     `json:"firmware,omitempty"`
	Hardware   string     `json:"hardware,omitempty"`
	FirstSeen  time.Time  `json:"first_seen"`
	LastSeen   time.Time  `json:"last_seen"`
}

// DisplayName returns the name, falling back to the identifier
func (d StoredDevice) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.Identifier
}
