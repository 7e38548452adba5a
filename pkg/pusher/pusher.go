package pusher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sguter90/aranetmaestro/pkg/models"
	"go.uber.org/zap"
)

// Reading sources
const (
	SourcePoll          = "poll"
	SourceAdvertisement = "advertisement"
)

// PushedReading is one reading handed to the outbound sinks
type PushedReading struct {
	DeviceID   string                `json:"device_id"`
	Name       string                `json:"name,omitempty"`
	DeviceType string                `json:"device_type,omitempty"`
	Source     string                `json:"source"`
	RSSI       int16                 `json:"rssi,omitempty"`
	Reading    models.CurrentReading `json:"reading"`
	PushedAt   time.Time             `json:"pushed_at"`
}

// Pusher forwards readings to an external system
type Pusher interface {
	// Name identifies the sink, e.g. "mqtt"
	Name() string

	// Push delivers one reading
	Push(ctx context.Context, reading PushedReading) error

	// Close releases the connection to the external system
	Close() error
}

// Registry holds all registered pushers
type Registry struct {
	mu      sync.RWMutex
	pushers map[string]Pusher
	logger  *zap.Logger
}

// NewRegistry creates a new pusher registry
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		pushers: make(map[string]Pusher),
		logger:  logger,
	}
}

// Register adds a pusher, replacing one with the same name
func (r *Registry) Register(p Pusher) {
	if p == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.pushers[p.Name()] = p
}

// Get retrieves a pusher by name
func (r *Registry) Get(name string) (Pusher, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.pushers[name]
	return p, ok
}

// All returns all registered pushers ordered by name
func (r *Registry) All() []Pusher {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pushers := make([]Pusher, 0, len(r.pushers))
	for _, p := range r.pushers {
		pushers = append(pushers, p)
	}
	sort.Slice(pushers, func(i, j int) bool {
		return pushers[i].Name() < pushers[j].Name()
	})
	return pushers
}

// PushAll hands reading to every pusher. A failing pusher does not stop
// the others; failures are logged and returned joined.
func (r *Registry) PushAll(ctx context.Context, reading PushedReading) error {
	if reading.PushedAt.IsZero() {
		reading.PushedAt = time.Now().UTC()
	}

	var errs []error
	for _, p := range r.All() {
		if err := p.Push(ctx, reading); err != nil {
			r.logger.Error("❌ Push failed",
				zap.String("pusher", p.Name()),
				zap.String("device", reading.DeviceID),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every pusher
func (r *Registry) Close() error {
	var errs []error
	for _, p := range r.All() {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}
