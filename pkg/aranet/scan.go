package aranet

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sguter90/aranetmaestro/pkg/models"
	"go.uber.org/zap"
)

// ScanOptions configures a discovery scan
type ScanOptions struct {
	Duration         time.Duration
	FilterAranetOnly bool
}

// DefaultScanOptions scans for five seconds and keeps Aranet devices only
func DefaultScanOptions() ScanOptions {
	return ScanOptions{Duration: 5 * time.Second, FilterAranetOnly: true}
}

// DiscoveredDevice is a device seen during a scan
type DiscoveredDevice struct {
	Name             string            `json:"name,omitempty"`
	Address          string            `json:"address"`
	RSSI             int16             `json:"rssi"`
	DeviceType       models.DeviceType `json:"device_type"`
	IsAranet         bool              `json:"is_aranet"`
	ManufacturerData []byte            `json:"manufacturer_data,omitempty"`
	LastSeen         time.Time         `json:"last_seen"`
}

// Identifier returns the address used to connect to the device
func (d DiscoveredDevice) Identifier() string {
	return d.Address
}

// Matches reports whether identifier selects this device by address or name
func (d DiscoveredDevice) Matches(identifier string) bool {
	id := strings.ToLower(strings.TrimSpace(identifier))
	if id == "" {
		return false
	}
	if strings.ToLower(d.Address) == id {
		return true
	}
	name := strings.ToLower(d.Name)
	return name != "" && (name == id || strings.Contains(name, id))
}

// FindProgressKind is the kind of a FindProgress event
type FindProgressKind int

const (
	FindCacheHit FindProgressKind = iota
	FindScanAttempt
	FindFound
	FindRetryNeeded
)

// FindProgress is emitted while locating a device
type FindProgress struct {
	Kind     FindProgressKind
	Attempt  int
	Total    int
	Duration time.Duration
}

// FindOptions configures Scanner.Find
type FindOptions struct {
	Attempts     int
	ScanDuration time.Duration
	Progress     func(FindProgress)
}

// DefaultFindOptions makes three scan attempts
func DefaultFindOptions() FindOptions {
	return FindOptions{Attempts: 3, ScanDuration: 5 * time.Second}
}

const (
	minAttemptDuration = 2 * time.Second
	deviceCacheTTL     = time.Minute
)

// Scanner discovers devices and remembers recently seen ones
type Scanner struct {
	adapter Adapter
	logger  *zap.Logger

	mu   sync.Mutex
	seen map[string]DiscoveredDevice
}

// NewScanner creates a scanner on top of adapter
func NewScanner(adapter Adapter, logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{
		adapter: adapter,
		logger:  logger,
		seen:    make(map[string]DiscoveredDevice),
	}
}

// Scan collects devices advertising during opts.Duration
func (s *Scanner) Scan(ctx context.Context, opts ScanOptions) ([]DiscoveredDevice, error) {
	s.logger.Info("starting BLE scan", zap.Duration("duration", opts.Duration))

	found := make(map[string]DiscoveredDevice)
	var order []string
	err := s.adapter.Scan(ctx, opts.Duration, func(adv Advertisement) {
		d := discoveredFrom(adv)
		prev, seen := found[d.Address]
		if seen {
			d = mergeDiscovered(prev, d)
		}
		if opts.FilterAranetOnly && !d.IsAranet {
			return
		}
		if !seen {
			order = append(order, d.Address)
		}
		found[d.Address] = d
	})
	if err != nil {
		return nil, err
	}

	devices := make([]DiscoveredDevice, 0, len(order))
	for _, addr := range order {
		devices = append(devices, found[addr])
	}
	s.remember(devices)

	s.logger.Info("✓ scan complete", zap.Int("devices", len(devices)))
	return devices, nil
}

// ScanWithRetry repeats Scan on errors, and on empty results when
// retryOnEmpty is set, backing off from 500ms up to 5s.
func (s *Scanner) ScanWithRetry(ctx context.Context, opts ScanOptions, maxRetries int, retryOnEmpty bool) ([]DiscoveredDevice, error) {
	delay := 500 * time.Millisecond
	for attempt := 0; ; attempt++ {
		devices, err := s.Scan(ctx, opts)
		switch {
		case err == nil && (len(devices) > 0 || !retryOnEmpty || attempt >= maxRetries):
			return devices, nil
		case err != nil && attempt >= maxRetries:
			return nil, err
		case err != nil:
			s.logger.Warn("scan failed, retrying", zap.Error(err), zap.Int("attempt", attempt+1), zap.Int("max_retries", maxRetries))
		default:
			s.logger.Warn("no devices found, retrying", zap.Int("attempt", attempt+1), zap.Int("max_retries", maxRetries))
		}

		if err := sleepContext(ctx, delay); err != nil {
			return nil, err
		}
		delay = min(delay*2, 5*time.Second)
	}
}

// Find locates a device by address or name. A device seen recently is
// returned without scanning; otherwise up to opts.Attempts scans are made,
// each longer than the last.
func (s *Scanner) Find(ctx context.Context, identifier string, opts FindOptions) (DiscoveredDevice, error) {
	report := func(p FindProgress) {
		if opts.Progress != nil {
			opts.Progress(p)
		}
	}

	if d, ok := s.cached(identifier); ok {
		s.logger.Debug("found device in cache", zap.String("device", identifier))
		report(FindProgress{Kind: FindCacheHit})
		return d, nil
	}

	attempts := max(opts.Attempts, 1)
	base := max(opts.ScanDuration/2, minAttemptDuration)

	for attempt := 1; attempt <= attempts; attempt++ {
		d := base * time.Duration(attempt)
		report(FindProgress{Kind: FindScanAttempt, Attempt: attempt, Total: attempts, Duration: d})
		s.logger.Info("scanning for device",
			zap.String("device", identifier),
			zap.Int("attempt", attempt),
			zap.Int("total", attempts),
			zap.Duration("duration", d),
		)

		match, err := s.scanFor(ctx, identifier, d)
		if err != nil {
			return DiscoveredDevice{}, err
		}
		if match != nil {
			report(FindProgress{Kind: FindFound, Attempt: attempt})
			return *match, nil
		}
		if attempt < attempts {
			report(FindProgress{Kind: FindRetryNeeded, Attempt: attempt})
		}
	}

	return DiscoveredDevice{}, &DeviceNotFoundError{Reason: NotFoundNoMatch, Identifier: identifier}
}

// scanFor scans until the device shows up or d elapses
func (s *Scanner) scanFor(ctx context.Context, identifier string, d time.Duration) (*DiscoveredDevice, error) {
	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var match *DiscoveredDevice
	err := s.adapter.Scan(scanCtx, d, func(adv Advertisement) {
		if match != nil {
			return
		}
		dev := discoveredFrom(adv)
		if dev.Matches(identifier) {
			match = &dev
			cancel()
		}
	})
	if match != nil {
		s.remember([]DiscoveredDevice{*match})
		return match, nil
	}
	if err != nil && ctx.Err() == nil && scanCtx.Err() == nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return nil, nil
}

func (s *Scanner) remember(devices []DiscoveredDevice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range devices {
		s.seen[d.Address] = d
	}
}

func (s *Scanner) cached(identifier string) (DiscoveredDevice, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for addr, d := range s.seen {
		if time.Since(d.LastSeen) > deviceCacheTTL {
			delete(s.seen, addr)
			continue
		}
		if d.Matches(identifier) {
			return d, true
		}
	}
	return DiscoveredDevice{}, false
}

func discoveredFrom(adv Advertisement) DiscoveredDevice {
	d := DiscoveredDevice{
		Name:       adv.Name,
		Address:    adv.Address,
		RSSI:       adv.RSSI,
		DeviceType: models.DeviceTypeFromName(adv.Name),
		LastSeen:   adv.ReceivedAt,
	}
	if d.LastSeen.IsZero() {
		d.LastSeen = time.Now()
	}

	if data, ok := adv.AranetPayload(); ok {
		d.IsAranet = true
		d.ManufacturerData = data
		if d.DeviceType == models.DeviceTypeUnknown && len(data) > 0 {
			if dt, err := models.DeviceTypeFromByte(data[0]); err == nil {
				d.DeviceType = dt
			}
		}
	}
	for _, u := range adv.ServiceUUIDs {
		if IsAranetService(u) {
			d.IsAranet = true
		}
	}
	if strings.Contains(strings.ToLower(adv.Name), "aranet") {
		d.IsAranet = true
	}
	return d
}

// mergeDiscovered updates prev with a later advertisement of the same
// address. Scan responses often omit the name or manufacturer data, so
// identity carries over while RSSI and LastSeen follow next.
func mergeDiscovered(prev, next DiscoveredDevice) DiscoveredDevice {
	if next.Name == "" {
		next.Name = prev.Name
	}
	if next.ManufacturerData == nil {
		next.ManufacturerData = prev.ManufacturerData
	}
	if next.DeviceType == models.DeviceTypeUnknown {
		next.DeviceType = prev.DeviceType
	}
	next.IsAranet = next.IsAranet || prev.IsAranet
	return next
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
