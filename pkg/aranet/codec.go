package aranet

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/sguter90/aranetmaestro/pkg/models"
	"tinygo.org/x/bluetooth"
)

const (
	currentReadingSize   = 13
	basicReadingSize     = 9
	aranet2ReadingSize   = 7
	radonReadingSize     = 18
	radonAveragesSize    = 45
	radiationReadingSize = 28
	settingsSize         = 3

	// radon averages at or above this value are not yet available
	radonAverageUnset = 0xff000000
)

var le = binary.LittleEndian

// DecodeCurrentReading decodes the 13-byte Aranet4 layout:
// co2, temp, pressure, humidity, battery, status, interval, age.
// Trailing bytes are ignored.
func DecodeCurrentReading(b []byte) (models.CurrentReading, error) {
	if len(b) < currentReadingSize {
		return models.CurrentReading{}, shortBuffer("current reading", currentReadingSize, len(b))
	}

	return models.CurrentReading{
		CO2:         le.Uint16(b[0:]),
		Temperature: float64(le.Uint16(b[2:])) / 20,
		Pressure:    float64(le.Uint16(b[4:])) / 10,
		Humidity:    b[6],
		Battery:     b[7],
		Status:      models.StatusFromByte(b[8]),
		Interval:    le.Uint16(b[9:]),
		Age:         le.Uint16(b[11:]),
	}, nil
}

// DecodeBasicReading decodes the short layout of the basic characteristic,
// which lacks interval and age.
func DecodeBasicReading(b []byte) (models.CurrentReading, error) {
	if len(b) < basicReadingSize {
		return models.CurrentReading{}, shortBuffer("basic reading", basicReadingSize, len(b))
	}

	return models.CurrentReading{
		CO2:         le.Uint16(b[0:]),
		Temperature: float64(le.Uint16(b[2:])) / 20,
		Pressure:    float64(le.Uint16(b[4:])) / 10,
		Humidity:    b[6],
		Battery:     b[7],
		Status:      models.StatusFromByte(b[8]),
	}, nil
}

// DecodeAranet2Reading decodes temp, humidity, battery, status, interval
func DecodeAranet2Reading(b []byte) (models.CurrentReading, error) {
	if len(b) < aranet2ReadingSize {
		return models.CurrentReading{}, shortBuffer("Aranet2 reading", aranet2ReadingSize, len(b))
	}

	return models.CurrentReading{
		Temperature: float64(le.Uint16(b[0:])) / 20,
		Humidity:    b[2],
		Battery:     b[3],
		Status:      models.StatusFromByte(b[4]),
		Interval:    le.Uint16(b[5:]),
	}, nil
}

// DecodeRadonReading decodes the Aranet Radon detail characteristic
func DecodeRadonReading(b []byte) (models.CurrentReading, error) {
	if len(b) < radonReadingSize {
		return models.CurrentReading{}, shortBuffer("Aranet Radon reading", radonReadingSize, len(b))
	}

	radon := le.Uint32(b[13:])
	r := models.CurrentReading{
		Interval:    le.Uint16(b[2:]),
		Age:         le.Uint16(b[4:]),
		Battery:     b[6],
		Temperature: float64(le.Uint16(b[7:])) / 20,
		Pressure:    float64(le.Uint16(b[9:])) / 10,
		Humidity:    clampPercent(le.Uint16(b[11:]) / 10),
		Radon:       &radon,
		Status:      models.StatusFromByte(b[17]),
	}

	if len(b) >= radonAveragesSize {
		r.RadonAvg24h = decodeRadonAverage(b[18:])
		r.RadonAvg7d = decodeRadonAverage(b[27:])
		r.RadonAvg30d = decodeRadonAverage(b[36:])
	}

	return r, nil
}

// decodeRadonAverage reads a (state u8, time u32, value u32) block
func decodeRadonAverage(b []byte) *uint32 {
	if b[0] != 1 {
		return nil
	}
	v := le.Uint32(b[5:])
	if v >= radonAverageUnset {
		return nil
	}
	return &v
}

// DecodeRadiationReading decodes the Aranet Radiation detail characteristic
func DecodeRadiationReading(b []byte) (models.CurrentReading, error) {
	if len(b) < radiationReadingSize {
		return models.CurrentReading{}, shortBuffer("Aranet Radiation reading", radiationReadingSize, len(b))
	}

	rate := float64(le.Uint32(b[7:])) / 1000
	total := float64(le.Uint64(b[11:])) / 1_000_000
	duration := le.Uint64(b[19:])

	return models.CurrentReading{
		Interval:          le.Uint16(b[2:]),
		Age:               le.Uint16(b[4:]),
		Battery:           b[6],
		RadiationRate:     &rate,
		RadiationTotal:    &total,
		RadiationDuration: &duration,
		Status:            models.StatusFromByte(b[27]),
	}, nil
}

// DecodeReadingFor decodes bytes read from a current-readings characteristic.
// The layout is chosen by the characteristic that produced the bytes, then by
// device type for the detail characteristics.
func DecodeReadingFor(char bluetooth.UUID, deviceType models.DeviceType, b []byte) (models.CurrentReading, error) {
	switch char {
	case CharCurrentReadingsBasic:
		return DecodeBasicReading(b)
	case CharCurrentReadingsDetail, CharCurrentReadingsDetailAlt:
		switch deviceType {
		case models.DeviceTypeAranet2:
			return DecodeAranet2Reading(b)
		case models.DeviceTypeAranetRadon:
			return DecodeRadonReading(b)
		case models.DeviceTypeAranetRadiation:
			return DecodeRadiationReading(b)
		}
		return DecodeCurrentReading(b)
	}
	return models.CurrentReading{}, &InvalidDataError{Message: fmt.Sprintf("characteristic %s does not carry readings", char)}
}

// settingsLayout maps device-specific bits of the sensor state buffer
type settingsLayout struct {
	// byte1 bit7 means auto-calibration
	autoCalibrationBit bool
	// byte1 bit7 means radon unit pCi/L
	radonUnitBit bool
}

var settingsLayouts = map[models.DeviceType]settingsLayout{
	models.DeviceTypeAranet4:         {autoCalibrationBit: true},
	models.DeviceTypeAranet2:         {},
	models.DeviceTypeAranetRadon:     {radonUnitBit: true},
	models.DeviceTypeAranetRadiation: {},
}

// DecodeSettings decodes the sensor state characteristic. byte0 is the
// device type, byte1 bit0 buzzer, bit5 Celsius, bit7 device dependent,
// byte2 bit1 extended range, bit7 smart home.
func DecodeSettings(b []byte) (models.DeviceSettings, error) {
	if len(b) < settingsSize {
		return models.DeviceSettings{}, shortBuffer("device settings", settingsSize, len(b))
	}

	deviceType, err := models.DeviceTypeFromByte(b[0])
	if err != nil {
		return models.DeviceSettings{}, &InvalidDataError{Message: err.Error()}
	}
	layout := settingsLayouts[deviceType]

	s := models.DeviceSettings{
		DeviceType:       deviceType,
		BuzzerEnabled:    b[1]&0x01 != 0,
		SmartHomeEnabled: b[2]&0x80 != 0,
		TemperatureUnit:  models.TemperatureUnitFahrenheit,
		BluetoothRange:   models.BluetoothRangeStandard,
		RadonUnit:        models.RadonUnitBqM3,
	}
	if b[1]&0x20 != 0 {
		s.TemperatureUnit = models.TemperatureUnitCelsius
	}
	if b[2]&0x02 != 0 {
		s.BluetoothRange = models.BluetoothRangeExtended
	}
	if layout.autoCalibrationBit {
		s.AutoCalibrationEnabled = b[1]&0x80 != 0
	}
	if layout.radonUnitBit && b[1]&0x80 != 0 {
		s.RadonUnit = models.RadonUnitPciL
	}

	return s, nil
}

// DecodeHistoryInfo combines the total, interval and seconds-since-update
// characteristics. A missing or short since-update value decodes as 0.
func DecodeHistoryInfo(total, interval, sinceUpdate []byte) (models.HistoryInfo, error) {
	if len(total) < 2 {
		return models.HistoryInfo{}, shortBuffer("total readings", 2, len(total))
	}
	if len(interval) < 2 {
		return models.HistoryInfo{}, shortBuffer("read interval", 2, len(interval))
	}

	info := models.HistoryInfo{
		TotalReadings:   le.Uint16(total),
		IntervalSeconds: le.Uint16(interval),
	}
	if len(sinceUpdate) >= 2 {
		info.SecondsSinceUpdate = le.Uint16(sinceUpdate)
	}
	return info, nil
}

// DecodeInterval decodes the read interval characteristic
func DecodeInterval(b []byte) (models.MeasurementInterval, error) {
	if len(b) < 2 {
		return 0, shortBuffer("read interval", 2, len(b))
	}
	iv, err := models.MeasurementIntervalFromSeconds(int(le.Uint16(b)))
	if err != nil {
		return 0, &InvalidDataError{Message: err.Error()}
	}
	return iv, nil
}

// DecodeCalibration keeps the raw bytes and extracts the CO2 offset
func DecodeCalibration(b []byte) models.CalibrationData {
	c := models.CalibrationData{Raw: append([]byte(nil), b...)}
	if len(b) >= 4 {
		offset := int16(le.Uint16(b[2:]))
		c.CO2Offset = &offset
	}
	return c
}

// DecodeString decodes a device information string
func DecodeString(b []byte) string {
	return string(bytes.TrimRight(b, "\x00"))
}

// DecodeHistoryValue decodes one sample of a history parameter stream
func DecodeHistoryValue(param models.HistoryParam, b []byte) (float64, error) {
	if len(b) < param.ValueSize() {
		return 0, shortBuffer(param.String()+" value", param.ValueSize(), len(b))
	}

	switch param {
	case models.HistoryParamCO2:
		return float64(le.Uint16(b)), nil
	case models.HistoryParamTemperature:
		return float64(le.Uint16(b)) / 20, nil
	case models.HistoryParamPressure:
		return float64(le.Uint16(b)) / 10, nil
	case models.HistoryParamHumidity:
		return float64(b[0]), nil
	case models.HistoryParamHumidity2:
		return float64(clampPercent(le.Uint16(b) / 10)), nil
	case models.HistoryParamRadon:
		return float64(le.Uint32(b)), nil
	}
	return 0, &InvalidDataError{Message: fmt.Sprintf("unknown history parameter %d", param)}
}

func clampPercent(v uint16) uint8 {
	if v > 100 {
		return 100
	}
	return uint8(v)
}
