package parser

import (
	"encoding/binary"

	"github.com/sguter90/aranetmaestro/pkg/models"
)

// RadiationParser decodes Aranet Radiation advertisements. The dose rate
// is sent in nSv/h and reported in µSv/h.
type RadiationParser struct{}

func (p *RadiationParser) DeviceType() models.DeviceType { return models.DeviceTypeAranetRadiation }

func (p *RadiationParser) MinLength() int { return 16 }

func (p *RadiationParser) Parse(data []byte) (*models.AdvertisementData, error) {
	if err := checkLength(p, data); err != nil {
		return nil, err
	}

	le := binary.LittleEndian
	rate := float64(le.Uint32(data[8:])) / 1000
	return &models.AdvertisementData{
		DeviceType:    models.DeviceTypeAranetRadiation,
		Flags:         data[1],
		Battery:       data[2],
		Status:        models.StatusFromByte(data[3]),
		Interval:      le.Uint16(data[4:]),
		Age:           le.Uint16(data[6:]),
		RadiationRate: &rate,
	}, nil
}
