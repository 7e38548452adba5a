package parser

import (
	"encoding/binary"

	"github.com/sguter90/aranetmaestro/pkg/models"
)

// Aranet4Parser decodes Aranet4 advertisements:
// type, flags, co2, temp, pressure, humidity, battery, status, interval, age, counter
type Aranet4Parser struct{}

func (p *Aranet4Parser) DeviceType() models.DeviceType { return models.DeviceTypeAranet4 }

func (p *Aranet4Parser) MinLength() int { return 16 }

func (p *Aranet4Parser) Parse(data []byte) (*models.AdvertisementData, error) {
	if err := checkLength(p, data); err != nil {
		return nil, err
	}

	le := binary.LittleEndian
	counter := data[15]
	return &models.AdvertisementData{
		DeviceType:  models.DeviceTypeAranet4,
		Flags:       data[1],
		CO2:         le.Uint16(data[2:]),
		Temperature: float64(le.Uint16(data[4:])) / 20,
		Pressure:    float64(le.Uint16(data[6:])) / 10,
		Humidity:    data[8],
		Battery:     data[9],
		Status:      models.StatusFromByte(data[10]),
		Interval:    le.Uint16(data[11:]),
		Age:         le.Uint16(data[13:]),
		Counter:     &counter,
	}, nil
}
