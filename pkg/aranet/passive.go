package aranet

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sguter90/aranetmaestro/pkg/models"
	"github.com/sguter90/aranetmaestro/pkg/parser"
	"go.uber.org/zap"
)

// PassiveMonitorOptions configures the passive monitor
type PassiveMonitorOptions struct {
	ScanDuration time.Duration
	// ScanInterval is the pause between scans
	ScanInterval    time.Duration
	ChannelCapacity int
	Deduplicate     bool
	// MaxReadingAge re-emits an unchanged reading after this long
	MaxReadingAge time.Duration
	// DeviceFilter limits the monitor to these addresses or names
	DeviceFilter []string
}

// DefaultPassiveMonitorOptions returns the standard monitor settings
func DefaultPassiveMonitorOptions() PassiveMonitorOptions {
	return PassiveMonitorOptions{
		ScanDuration:    5 * time.Second,
		ScanInterval:    time.Second,
		ChannelCapacity: 100,
		Deduplicate:     true,
		MaxReadingAge:   time.Minute,
	}
}

// PassiveReading is a reading received from an advertisement
type PassiveReading struct {
	DeviceID   string                   `json:"device_id"`
	DeviceName string                   `json:"device_name,omitempty"`
	RSSI       int16                    `json:"rssi"`
	Data       models.AdvertisementData `json:"data"`
	ReceivedAt time.Time                `json:"received_at"`
}

// Subscription receives passive readings. When the buffer is full the
// oldest reading is dropped.
type Subscription struct {
	C <-chan PassiveReading

	ch      chan PassiveReading
	monitor *PassiveMonitor
	dropped atomic.Uint64
	once    sync.Once
}

// Dropped returns the number of readings lost to a full buffer
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unsubscribes and closes C
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.monitor.unsubscribe(s)
	})
}

// send expects the monitor lock to be held
func (s *Subscription) send(r PassiveReading) {
	for {
		select {
		case s.ch <- r:
			return
		default:
		}
		select {
		case <-s.ch:
			s.dropped.Add(1)
		default:
		}
	}
}

type cachedAdvertisement struct {
	data models.AdvertisementData
	at   time.Time
}

// PassiveMonitor turns advertisements into readings without connecting.
// Devices must have smart home integration enabled.
type PassiveMonitor struct {
	adapter Adapter
	opts    PassiveMonitorOptions
	parsers *parser.Registry
	logger  *zap.Logger

	mu          sync.Mutex
	subscribers map[*Subscription]struct{}
	cache       map[string]cachedAdvertisement

	stopOnce sync.Once
	stopChan chan struct{}
}

// NewPassiveMonitor creates a monitor on top of adapter
func NewPassiveMonitor(adapter Adapter, opts PassiveMonitorOptions, logger *zap.Logger) *PassiveMonitor {
	def := DefaultPassiveMonitorOptions()
	if opts.ScanDuration <= 0 {
		opts.ScanDuration = def.ScanDuration
	}
	if opts.ChannelCapacity <= 0 {
		opts.ChannelCapacity = def.ChannelCapacity
	}
	if opts.MaxReadingAge <= 0 {
		opts.MaxReadingAge = def.MaxReadingAge
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PassiveMonitor{
		adapter:     adapter,
		opts:        opts,
		parsers:     parser.DefaultRegistry(),
		logger:      logger,
		subscribers: make(map[*Subscription]struct{}),
		cache:       make(map[string]cachedAdvertisement),
		stopChan:    make(chan struct{}),
	}
}

// Subscribe registers a new receiver
func (m *PassiveMonitor) Subscribe() *Subscription {
	ch := make(chan PassiveReading, m.opts.ChannelCapacity)
	s := &Subscription{C: ch, ch: ch, monitor: m}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers[s] = struct{}{}
	return s
}

func (m *PassiveMonitor) unsubscribe(s *Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subscribers[s]; ok {
		delete(m.subscribers, s)
		close(s.ch)
	}
}

// Start scans until ctx is cancelled or Stop is called
func (m *PassiveMonitor) Start(ctx context.Context) error {
	m.logger.Info("✓ Passive monitor started",
		zap.Duration("scan_duration", m.opts.ScanDuration),
		zap.Duration("scan_interval", m.opts.ScanInterval),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-m.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		err := m.adapter.Scan(ctx, m.opts.ScanDuration, func(adv Advertisement) {
			data, ok := adv.AranetPayload()
			if !ok {
				return
			}
			if _, err := m.ProcessAdvertisement(adv.Address, adv.Name, adv.RSSI, data); err != nil {
				m.logger.Debug("ignoring advertisement", zap.String("device", adv.Address), zap.Error(err))
			}
		})
		if ctx.Err() != nil {
			m.logger.Info("Passive monitor stopped")
			return nil
		}
		if err != nil {
			m.logger.Warn("passive scan failed", zap.Error(err))
		}
		if err := sleepContext(ctx, m.opts.ScanInterval); err != nil {
			m.logger.Info("Passive monitor stopped")
			return nil
		}
	}
}

// Stop ends a running Start loop
func (m *PassiveMonitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
	})
}

// ProcessAdvertisement decodes one payload and broadcasts it when it
// passes the filter and deduplication. It reports whether the reading
// was emitted.
func (m *PassiveMonitor) ProcessAdvertisement(identifier, name string, rssi int16, data []byte) (bool, error) {
	if !m.accepts(identifier, name) {
		return false, nil
	}

	adv, err := m.parsers.Decode(data)
	if err != nil {
		var perr *parser.Error
		if errors.As(err, &perr) {
			return false, &InvalidDataError{Message: perr.Message, Expected: perr.Expected, Actual: perr.Actual}
		}
		return false, err
	}

	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.opts.Deduplicate {
		if prev, ok := m.cache[identifier]; ok && !shouldEmit(prev, *adv, now, m.opts.MaxReadingAge) {
			return false, nil
		}
	}
	m.cache[identifier] = cachedAdvertisement{data: *adv, at: now}

	reading := PassiveReading{
		DeviceID:   identifier,
		DeviceName: name,
		RSSI:       rssi,
		Data:       *adv,
		ReceivedAt: now,
	}
	for s := range m.subscribers {
		s.send(reading)
	}
	return true, nil
}

// Latest returns the last advertisement accepted for each device
func (m *PassiveMonitor) Latest() map[string]models.AdvertisementData {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]models.AdvertisementData, len(m.cache))
	for id, c := range m.cache {
		out[id] = c.data
	}
	return out
}

func (m *PassiveMonitor) accepts(identifier, name string) bool {
	if len(m.opts.DeviceFilter) == 0 {
		return true
	}
	for _, f := range m.opts.DeviceFilter {
		if strings.EqualFold(f, identifier) || (name != "" && strings.EqualFold(f, name)) {
			return true
		}
	}
	return false
}

func shouldEmit(prev cachedAdvertisement, next models.AdvertisementData, now time.Time, maxAge time.Duration) bool {
	if now.Sub(prev.at) > maxAge {
		return true
	}
	p := prev.data
	if p.CO2 != next.CO2 ||
		p.Temperature != next.Temperature ||
		p.Humidity != next.Humidity ||
		p.Pressure != next.Pressure ||
		p.Battery != next.Battery ||
		!equalPtr(p.Radon, next.Radon) ||
		!equalPtr(p.RadiationRate, next.RadiationRate) {
		return true
	}
	return !equalPtr(p.Counter, next.Counter)
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
