package models

// AdvertisementData is decoded from the manufacturer data of a BLE
// advertisement. Counter increments with each new measurement.
type AdvertisementData struct {
	DeviceType DeviceType `json:"device_type"`
	Flags      uint8      `json:"flags"`

	CO2           uint16   `json:"co2,omitempty"`
	Temperature   float64  `json:"temperature"`
	Pressure      float64  `json:"pressure,omitempty"`
	Humidity      uint8    `json:"humidity"`
	Battery       uint8    `json:"battery"`
	Status        Status   `json:"status"`
	Interval      uint16   `json:"interval"`
	Age           uint16   `json:"age"`
	Radon         *uint32  `json:"radon,omitempty"`
	RadiationRate *float64 `json:"radiation_rate,omitempty"`
	Counter       *uint8   `json:"counter,omitempty"`
}

// SmartHomeEnabled reports whether the flags byte has integrations enabled
func (a AdvertisementData) SmartHomeEnabled() bool {
	return a.Flags&0x20 != 0
}

// Reading converts the advertisement into a CurrentReading. CapturedAt
// is left for the receiver to set.
func (a AdvertisementData) Reading() CurrentReading {
	return CurrentReading{
		CO2:           a.CO2,
		Temperature:   a.Temperature,
		Pressure:      a.Pressure,
		Humidity:      a.Humidity,
		Battery:       a.Battery,
		Status:        a.Status,
		Interval:      a.Interval,
		Age:           a.Age,
		Radon:         a.Radon,
		RadiationRate: a.RadiationRate,
	}
}
