package aranet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"
)

// maxAttributeSize is the largest value a GATT attribute can hold
const maxAttributeSize = 512

// BLEAdapter implements Adapter on top of the system Bluetooth stack
type BLEAdapter struct {
	adapter *bluetooth.Adapter
	logger  *zap.Logger

	mu      sync.Mutex // serializes scans
	enabled bool
}

// NewBLEAdapter wraps the default system adapter
func NewBLEAdapter(logger *zap.Logger) *BLEAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BLEAdapter{
		adapter: bluetooth.DefaultAdapter,
		logger:  logger,
	}
}

// Enable initializes the BLE stack once
func (a *BLEAdapter) Enable() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enableLocked()
}

func (a *BLEAdapter) enableLocked() error {
	if a.enabled {
		return nil
	}
	a.logger.Info("initializing BLE adapter")
	if err := a.adapter.Enable(); err != nil {
		return &DeviceNotFoundError{Reason: NotFoundNoAdapter, Err: err}
	}
	a.enabled = true
	return nil
}

// Scan reports advertisements until d elapses or ctx is done
func (a *BLEAdapter) Scan(ctx context.Context, d time.Duration, fn func(Advertisement)) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.enableLocked(); err != nil {
		return err
	}

	scanCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan struct{})
	go func() {
		select {
		case <-scanCtx.Done():
			if err := a.adapter.StopScan(); err != nil {
				a.logger.Debug("failed to stop BLE scan", zap.Error(err))
			}
		case <-done:
		}
	}()
	defer close(done)

	err := a.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		adv := Advertisement{
			Address:          strings.ToUpper(result.Address.String()),
			Name:             result.LocalName(),
			RSSI:             result.RSSI,
			ManufacturerData: make(map[uint16][]byte),
			ReceivedAt:       time.Now(),
		}
		for _, md := range result.ManufacturerData() {
			adv.ManufacturerData[md.CompanyID] = append([]byte(nil), md.Data...)
		}
		for _, svc := range []bluetooth.UUID{ServiceNew, ServiceOld} {
			if result.HasServiceUUID(svc) {
				adv.ServiceUUIDs = append(adv.ServiceUUIDs, svc)
			}
		}
		fn(adv)
	})
	if err != nil {
		return fmt.Errorf("failed to start BLE scan: %w", err)
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

// Connect opens a link and resolves the characteristics the core uses
func (a *BLEAdapter) Connect(ctx context.Context, address string) (Peripheral, error) {
	if err := a.Enable(); err != nil {
		return nil, err
	}

	var addr bluetooth.Address
	addr.Set(address)

	device, err := runWithContext(ctx, "connect", func() (bluetooth.Device, error) {
		return a.adapter.Connect(addr, bluetooth.ConnectionParams{})
	})
	if err != nil {
		reason := ConnFailureOther
		var timeout *TimeoutError
		if errors.As(err, &timeout) {
			reason = ConnFailureTimeout
		}
		return nil, &ConnectionError{DeviceID: address, Reason: reason, Err: err}
	}

	p := &blePeripheral{
		address: address,
		device:  device,
		chars:   make(map[bluetooth.UUID]bluetooth.DeviceCharacteristic),
	}
	if err := p.discover(ctx); err != nil {
		_ = device.Disconnect()
		return nil, &ConnectionError{DeviceID: address, Reason: ConnFailureRejected, Err: err}
	}

	a.logger.Debug("connected", zap.String("device", address), zap.Int("characteristics", len(p.chars)))
	return p, nil
}

type blePeripheral struct {
	address string
	device  bluetooth.Device

	mu    sync.Mutex
	chars map[bluetooth.UUID]bluetooth.DeviceCharacteristic
}

func (p *blePeripheral) discover(ctx context.Context) error {
	services, err := runWithContext(ctx, "discover services", func() ([]bluetooth.DeviceService, error) {
		return p.device.DiscoverServices(nil)
	})
	if err != nil {
		return fmt.Errorf("failed to discover services: %w", err)
	}

	for _, svc := range services {
		if !wantedService(svc.UUID()) {
			continue
		}
		chars, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			return fmt.Errorf("failed to discover characteristics of %s: %w", svc.UUID(), err)
		}
		for _, c := range chars {
			p.chars[c.UUID()] = c
		}
	}

	if len(p.chars) == 0 {
		return fmt.Errorf("no Aranet services found")
	}
	return nil
}

func wantedService(u bluetooth.UUID) bool {
	for _, s := range discoveryServices {
		if s == u {
			return true
		}
	}
	return false
}

func (p *blePeripheral) Address() string {
	return p.address
}

func (p *blePeripheral) Characteristics() []bluetooth.UUID {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]bluetooth.UUID, 0, len(p.chars))
	for u := range p.chars {
		out = append(out, u)
	}
	return out
}

func (p *blePeripheral) lookup(u bluetooth.UUID) (bluetooth.DeviceCharacteristic, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.chars[u]
	if !ok {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("%w: %s", ErrCharacteristicNotFound, u)
	}
	return c, nil
}

func (p *blePeripheral) Read(ctx context.Context, u bluetooth.UUID) ([]byte, error) {
	c, err := p.lookup(u)
	if err != nil {
		return nil, err
	}

	return runWithContext(ctx, "read "+u.String(), func() ([]byte, error) {
		buf := make([]byte, maxAttributeSize)
		n, err := c.Read(buf)
		if err != nil {
			return nil, &ConnectionError{DeviceID: p.address, Reason: ConnFailureLinkLost, Err: err}
		}
		return buf[:n], nil
	})
}

func (p *blePeripheral) Write(ctx context.Context, u bluetooth.UUID, data []byte) error {
	c, err := p.lookup(u)
	if err != nil {
		return err
	}

	// tinygo only offers an acknowledged Write on darwin and windows. On
	// Linux the write is unacknowledged, so success means it was queued.
	_, err = runWithContext(ctx, "write "+u.String(), func() (int, error) {
		n, err := c.WriteWithoutResponse(data)
		if err != nil {
			return n, &ConnectionError{DeviceID: p.address, Reason: ConnFailureLinkLost, Err: err}
		}
		return n, nil
	})
	if err != nil {
		return &WriteError{UUID: u.String(), Err: err}
	}
	return nil
}

func (p *blePeripheral) Subscribe(ctx context.Context, u bluetooth.UUID, fn func([]byte)) (func() error, error) {
	c, err := p.lookup(u)
	if err != nil {
		return nil, err
	}

	_, err = runWithContext(ctx, "subscribe "+u.String(), func() (struct{}, error) {
		return struct{}{}, c.EnableNotifications(func(buf []byte) {
			fn(append([]byte(nil), buf...))
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enable notifications on %s: %w", u, err)
	}

	return func() error {
		return c.EnableNotifications(nil)
	}, nil
}

func (p *blePeripheral) Disconnect() error {
	return p.device.Disconnect()
}
