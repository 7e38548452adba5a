package parser

import (
	"encoding/binary"

	"github.com/sguter90/aranetmaestro/pkg/models"
)

// Aranet2Parser decodes Aranet2 advertisements
type Aranet2Parser struct{}

func (p *Aranet2Parser) DeviceType() models.DeviceType { return models.DeviceTypeAranet2 }

func (p *Aranet2Parser) MinLength() int { return 12 }

func (p *Aranet2Parser) Parse(data []byte) (*models.AdvertisementData, error) {
	if err := checkLength(p, data); err != nil {
		return nil, err
	}

	le := binary.LittleEndian
	return &models.AdvertisementData{
		DeviceType:  models.DeviceTypeAranet2,
		Flags:       data[1],
		Temperature: float64(le.Uint16(data[2:])) / 20,
		Humidity:    humidityTenths(le.Uint16(data[4:])),
		Battery:     data[6],
		Status:      models.StatusFromByte(data[7]),
		Interval:    le.Uint16(data[8:]),
		Age:         le.Uint16(data[10:]),
	}, nil
}
