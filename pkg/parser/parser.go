package parser

import (
	"errors"
	"fmt"
	"sort"

	"github.com/sguter90/aranetmaestro/pkg/models"
)

// legacyAdvertisementSize is the payload of older Aranet4 firmware, which
// advertises flags and version without the device type byte.
const legacyAdvertisementSize = 7

// ErrSmartHomeDisabled is returned for advertisements that carry no
// measurements because smart home integration is off.
var ErrSmartHomeDisabled = errors.New("smart home integration disabled")

// Parser decodes the manufacturer data of one device model
type Parser interface {
	// DeviceType returns the discriminant byte this parser handles
	DeviceType() models.DeviceType

	// MinLength returns the shortest payload the parser accepts
	MinLength() int

	// Parse converts a payload, including the type byte, to AdvertisementData
	Parse(data []byte) (*models.AdvertisementData, error)
}

// Error reports a payload that could not be decoded
type Error struct {
	DeviceType models.DeviceType
	Message    string
	Expected   int
	Actual     int
	Err        error
}

func (e *Error) Error() string {
	if e.Expected > 0 {
		return fmt.Sprintf("%s advertisement: %s (expected %d bytes, got %d)", e.DeviceType, e.Message, e.Expected, e.Actual)
	}
	return fmt.Sprintf("%s advertisement: %s", e.DeviceType, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Registry holds all registered parsers
type Registry struct {
	parsers map[models.DeviceType]Parser
}

// NewRegistry creates a new parser registry
func NewRegistry() *Registry {
	return &Registry{
		parsers: make(map[models.DeviceType]Parser),
	}
}

// DefaultRegistry returns a registry with every supported model
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(&Aranet4Parser{})
	r.Register(&Aranet2Parser{})
	r.Register(&RadonParser{})
	r.Register(&RadiationParser{})
	return r
}

// Register adds a parser to the registry
func (r *Registry) Register(p Parser) {
	r.parsers[p.DeviceType()] = p
}

// Get retrieves a parser by device type
func (r *Registry) Get(t models.DeviceType) (Parser, bool) {
	p, ok := r.parsers[t]
	return p, ok
}

// All returns all registered parsers ordered by device type
func (r *Registry) All() []Parser {
	parsers := make([]Parser, 0, len(r.parsers))
	for _, p := range r.parsers {
		parsers = append(parsers, p)
	}
	sort.Slice(parsers, func(i, j int) bool {
		return parsers[i].DeviceType() < parsers[j].DeviceType()
	})
	return parsers
}

// Decode dispatches on the first byte of the payload
func (r *Registry) Decode(data []byte) (*models.AdvertisementData, error) {
	if len(data) == 0 {
		return nil, &Error{Message: "advertisement data is empty"}
	}

	t, err := models.DeviceTypeFromByte(data[0])
	if err != nil {
		if len(data) == legacyAdvertisementSize {
			return nil, &Error{
				DeviceType: models.DeviceTypeAranet4,
				Message:    ErrSmartHomeDisabled.Error(),
				Err:        ErrSmartHomeDisabled,
			}
		}
		return nil, &Error{Message: err.Error()}
	}

	p, ok := r.Get(t)
	if !ok {
		return nil, &Error{DeviceType: t, Message: "no parser registered"}
	}
	if len(data) < p.MinLength() {
		return nil, &Error{DeviceType: t, Message: "payload too short", Expected: p.MinLength(), Actual: len(data)}
	}
	return p.Parse(data)
}

var defaultRegistry = DefaultRegistry()

// Decode decodes a payload with the default registry
func Decode(data []byte) (*models.AdvertisementData, error) {
	return defaultRegistry.Decode(data)
}

func checkLength(p Parser, data []byte) error {
	if len(data) < p.MinLength() {
		return &Error{DeviceType: p.DeviceType(), Message: "payload too short", Expected: p.MinLength(), Actual: len(data)}
	}
	return nil
}

// humidityTenths converts humidity in tenths of a percent to whole percent
func humidityTenths(raw uint16) uint8 {
	return uint8(min(raw/10, 255))
}
