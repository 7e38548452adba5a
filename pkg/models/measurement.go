package models

// Measurement names for the values an Aranet device reports
const (
	MeasurementCO2            = "co2"
	MeasurementTemperature    = "temperature"
	MeasurementHumidity       = "humidity"
	MeasurementPressure       = "pressure"
	MeasurementBattery        = "battery"
	MeasurementRadon          = "radon"
	MeasurementRadiationRate  = "radiation_rate"
	MeasurementRadiationTotal = "radiation_total"
)

// MeasurementInfo holds metadata about a measurement
type MeasurementInfo struct {
	Name string
	Unit string
	Help string
}

// Measurements is the catalogue of measurements, in display order
var Measurements = []MeasurementInfo{
	{MeasurementCO2, "ppm", "CO2 concentration"},
	{MeasurementTemperature, "celsius", "Temperature"},
	{MeasurementHumidity, "percent", "Relative humidity"},
	{MeasurementPressure, "hpa", "Atmospheric pressure"},
	{MeasurementBattery, "percent", "Battery level"},
	{MeasurementRadon, "bqm3", "Radon concentration"},
	{MeasurementRadiationRate, "usvh", "Radiation dose rate"},
	{MeasurementRadiationTotal, "msv", "Cumulative radiation dose"},
}

// GetMeasurementInfo returns metadata for a measurement name
func GetMeasurementInfo(name string) (MeasurementInfo, bool) {
	for _, m := range Measurements {
		if m.Name == name {
			return m, true
		}
	}
	return MeasurementInfo{}, false
}

// Values flattens a reading into measurement name -> value, skipping
// measurements the device does not carry.
func (r CurrentReading) Values() map[string]float64 {
	v := map[string]float64{
		MeasurementTemperature: r.Temperature,
		MeasurementHumidity:    float64(r.Humidity),
		MeasurementBattery:     float64(r.Battery),
	}
	if r.CO2 > 0 {
		v[MeasurementCO2] = float64(r.CO2)
	}
	if r.Pressure > 0 {
		v[MeasurementPressure] = r.Pressure
	}
	if r.Radon != nil {
		v[MeasurementRadon] = float64(*r.Radon)
	}
	if r.RadiationRate != nil {
		v[MeasurementRadiationRate] = *r.RadiationRate
	}
	if r.RadiationTotal != nil {
		v[MeasurementRadiationTotal] = *r.RadiationTotal
	}
	return v
}

// Values flattens an advertisement the same way as CurrentReading.Values
func (a AdvertisementData) Values() map[string]float64 {
	return a.Reading().Values()
}
