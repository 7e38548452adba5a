package parser

import (
	"encoding/binary"

	"github.com/sguter90/aranetmaestro/pkg/models"
)

// RadonParser decodes Aranet Radon advertisements
type RadonParser struct{}

func (p *RadonParser) DeviceType() models.DeviceType { return models.DeviceTypeAranetRadon }

func (p *RadonParser) MinLength() int { return 18 }

func (p *RadonParser) Parse(data []byte) (*models.AdvertisementData, error) {
	if err := checkLength(p, data); err != nil {
		return nil, err
	}

	le := binary.LittleEndian
	radon := le.Uint32(data[14:])
	return &models.AdvertisementData{
		DeviceType:  models.DeviceTypeAranetRadon,
		Flags:       data[1],
		Temperature: float64(le.Uint16(data[2:])) / 20,
		Pressure:    float64(le.Uint16(data[4:])) / 10,
		Humidity:    humidityTenths(le.Uint16(data[6:])),
		Battery:     data[8],
		Status:      models.StatusFromByte(data[9]),
		Interval:    le.Uint16(data[10:]),
		Age:         le.Uint16(data[12:]),
		Radon:       &radon,
	}, nil
}
