package puller

import (
	"context"
	"sort"
	"sync"

	"github.com/sguter90/aranetmaestro/pkg/aranet"
	"github.com/sguter90/aranetmaestro/pkg/models"
	"github.com/sguter90/aranetmaestro/pkg/syncer"
)

// Puller reads the current values of one device
type Puller interface {
	// Identifier returns the device address or name the puller reads from
	Identifier() string

	// Pull reads the current measurement
	Pull(ctx context.Context) (*models.CurrentReading, error)
}

// HistoryPuller is a Puller whose device history can also be synced
type HistoryPuller interface {
	Puller
	HistorySource() syncer.HistorySource
}

// PullerRegistry holds the pullers keyed by identifier
type PullerRegistry struct {
	mu      sync.RWMutex
	pullers map[string]Puller
}

// NewPullerRegistry creates a new puller registry
func NewPullerRegistry() *PullerRegistry {
	return &PullerRegistry{
		pullers: make(map[string]Puller),
	}
}

// Register adds a puller to the registry
func (r *PullerRegistry) Register(p Puller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pullers[p.Identifier()] = p
}

// Remove drops the puller of a device
func (r *PullerRegistry) Remove(identifier string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pullers, identifier)
}

// Get retrieves a puller by identifier
func (r *PullerRegistry) Get(identifier string) (Puller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pullers[identifier]
	return p, ok
}

// All returns all registered pullers ordered by identifier
func (r *PullerRegistry) All() []Puller {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pullers := make([]Puller, 0, len(r.pullers))
	for _, p := range r.pullers {
		pullers = append(pullers, p)
	}
	sort.Slice(pullers, func(i, j int) bool {
		return pullers[i].Identifier() < pullers[j].Identifier()
	})
	return pullers
}

// DevicePuller pulls from an Aranet device through a reconnecting link.
// The link is opened on the first pull and kept between pulls.
type DevicePuller struct {
	device *aranet.ReconnectingDevice
}

// NewDevicePuller wraps a reconnecting device
func NewDevicePuller(device *aranet.ReconnectingDevice) *DevicePuller {
	return &DevicePuller{device: device}
}

// Identifier returns the device identifier
func (p *DevicePuller) Identifier() string {
	return p.device.Identifier()
}

// Pull reads the current measurement
func (p *DevicePuller) Pull(ctx context.Context) (*models.CurrentReading, error) {
	reading, err := p.device.ReadCurrent(ctx)
	if err != nil {
		return nil, err
	}
	return &reading, nil
}

// HistorySource returns the device for history syncs
func (p *DevicePuller) HistorySource() syncer.HistorySource {
	return p.device
}

// Device returns the underlying reconnecting device
func (p *DevicePuller) Device() *aranet.ReconnectingDevice {
	return p.device
}

// Close disconnects the device
func (p *DevicePuller) Close() error {
	return p.device.Disconnect()
}
