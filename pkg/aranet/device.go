package aranet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sguter90/aranetmaestro/pkg/models"
	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"
)

// ConnectionState is the lifecycle state of a device link
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	}
	return "disconnected"
}

// ConnectOptions configures Connect
type ConnectOptions struct {
	// Timeout bounds link establishment, discovery excluded
	Timeout time.Duration
	// OperationTimeout bounds every characteristic read and write
	OperationTimeout time.Duration
	Find             FindOptions
	// Scanner is reused across connects so recently seen devices skip the scan
	Scanner *Scanner
	Logger  *zap.Logger
	Metrics *ConnectionMetrics
}

// DefaultConnectOptions returns the standard timeouts
func DefaultConnectOptions() ConnectOptions {
	return ConnectOptions{
		Timeout:          15 * time.Second,
		OperationTimeout: 10 * time.Second,
		Find:             DefaultFindOptions(),
	}
}

func (o ConnectOptions) withDefaults(adapter Adapter) ConnectOptions {
	def := DefaultConnectOptions()
	if o.Timeout <= 0 {
		o.Timeout = def.Timeout
	}
	if o.OperationTimeout <= 0 {
		o.OperationTimeout = def.OperationTimeout
	}
	if o.Find.Attempts <= 0 {
		o.Find.Attempts = def.Find.Attempts
	}
	if o.Find.ScanDuration <= 0 {
		o.Find.ScanDuration = def.Find.ScanDuration
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Metrics == nil {
		o.Metrics = NewConnectionMetrics()
	}
	if o.Scanner == nil {
		o.Scanner = NewScanner(adapter, o.Logger)
	}
	return o
}

// Device is an open link to one Aranet device. Operations on a Device are
// serialized; use separate devices for parallel work.
type Device struct {
	mu sync.Mutex

	peripheral Peripheral
	identifier string
	address    string
	name       string
	rssi       int16
	deviceType models.DeviceType
	chars      map[bluetooth.UUID]struct{}
	history    historyProtocol

	state     atomic.Int32
	opTimeout time.Duration
	metrics   *ConnectionMetrics
	logger    *zap.Logger
}

// Connect finds the device by address or name and opens a link to it
func Connect(ctx context.Context, adapter Adapter, identifier string, opts ConnectOptions) (*Device, error) {
	opts = opts.withDefaults(adapter)
	logger := opts.Logger.With(zap.String("device", identifier))

	found, err := opts.Scanner.Find(ctx, identifier, opts.Find)
	if err != nil {
		return nil, err
	}

	d := &Device{
		identifier: identifier,
		address:    found.Address,
		name:       found.Name,
		rssi:       found.RSSI,
		deviceType: found.DeviceType,
		opTimeout:  opts.OperationTimeout,
		metrics:    opts.Metrics,
		logger:     logger,
	}
	d.setState(StateConnecting)

	connCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	start := time.Now()
	p, err := adapter.Connect(connCtx, found.Address)
	d.metrics.Connect.Record(time.Since(start), err)
	if err != nil {
		d.setState(StateDisconnected)
		logger.Warn("❌ connection failed", zap.Error(err))
		return nil, asConnectionError(identifier, err)
	}

	d.peripheral = p
	d.chars = make(map[bluetooth.UUID]struct{})
	for _, u := range p.Characteristics() {
		d.chars[u] = struct{}{}
	}
	d.setState(StateConnected)
	d.metrics.markConnected(time.Now())

	d.detectType(ctx)
	if d.hasChar(CharHistoryV2) {
		d.history = v2Protocol{}
	} else {
		d.history = v1Protocol{}
	}

	logger.Info("✓ connected",
		zap.String("address", d.address),
		zap.String("name", d.name),
		zap.Stringer("type", d.deviceType),
		zap.String("history_protocol", d.history.name()),
	)
	return d, nil
}

func asConnectionError(identifier string, err error) error {
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return err
	}
	reason := ConnFailureOther
	var timeout *TimeoutError
	if errors.As(err, &timeout) || errors.Is(err, context.DeadlineExceeded) {
		reason = ConnFailureTimeout
	}
	return &ConnectionError{DeviceID: identifier, Reason: reason, Err: err}
}

// detectType fills in the device type and name when the advertisement did
// not carry them, first from the GAP name, then from the sensor state.
func (d *Device) detectType(ctx context.Context) {
	if d.name == "" || d.deviceType == models.DeviceTypeUnknown {
		if b, err := d.read(ctx, CharDeviceName); err == nil {
			if name := DecodeString(b); name != "" {
				if d.name == "" {
					d.name = name
				}
				if d.deviceType == models.DeviceTypeUnknown {
					d.deviceType = models.DeviceTypeFromName(name)
				}
			}
		}
	}
	if d.deviceType != models.DeviceTypeUnknown {
		return
	}
	if b, err := d.read(ctx, CharSensorState); err == nil && len(b) > 0 {
		if t, err := models.DeviceTypeFromByte(b[0]); err == nil {
			d.deviceType = t
			return
		}
	}
	if d.hasChar(CharCurrentReadingsDetail) {
		d.deviceType = models.DeviceTypeAranet4
	}
}

func (d *Device) setState(s ConnectionState) {
	d.state.Store(int32(s))
}

// State returns the link state
func (d *Device) State() ConnectionState {
	return ConnectionState(d.state.Load())
}

// IsConnected reports whether the link is up
func (d *Device) IsConnected() bool {
	return d.State() == StateConnected
}

// Identifier returns the address or name the device was connected with
func (d *Device) Identifier() string { return d.identifier }

// Address returns the Bluetooth address
func (d *Device) Address() string { return d.address }

// Name returns the advertised or GAP device name
func (d *Device) Name() string { return d.name }

// Type returns the detected model
func (d *Device) Type() models.DeviceType { return d.deviceType }

// ReadRSSI returns the signal strength of the last advertisement seen
func (d *Device) ReadRSSI() int16 { return d.rssi }

// Metrics returns the link counters
func (d *Device) Metrics() *ConnectionMetrics { return d.metrics }

// HistoryProtocol returns "v1" or "v2"
func (d *Device) HistoryProtocol() string { return d.history.name() }

func (d *Device) hasChar(u bluetooth.UUID) bool {
	_, ok := d.chars[u]
	return ok
}

// ReadCharacteristic reads a raw characteristic value
func (d *Device) ReadCharacteristic(ctx context.Context, char bluetooth.UUID) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.read(ctx, char)
}

// WriteCharacteristic writes a raw characteristic value
func (d *Device) WriteCharacteristic(ctx context.Context, char bluetooth.UUID, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.write(ctx, char, data)
}

// read and write expect d.mu to be held by the caller

func (d *Device) read(ctx context.Context, char bluetooth.UUID) ([]byte, error) {
	if !d.IsConnected() {
		return nil, ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, d.opTimeout)
	defer cancel()

	start := time.Now()
	b, err := d.peripheral.Read(ctx, char)
	d.metrics.Reads.Record(time.Since(start), err)
	if err != nil {
		d.checkLinkLost(err)
		return nil, err
	}
	d.metrics.bytesRead.Add(uint64(len(b)))
	return b, nil
}

func (d *Device) write(ctx context.Context, char bluetooth.UUID, data []byte) error {
	if !d.IsConnected() {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, d.opTimeout)
	defer cancel()

	start := time.Now()
	err := d.peripheral.Write(ctx, char, data)
	d.metrics.Writes.Record(time.Since(start), err)
	if err != nil {
		d.checkLinkLost(err)
		return err
	}
	d.metrics.bytesWritten.Add(uint64(len(data)))
	return nil
}

func (d *Device) subscribe(ctx context.Context, char bluetooth.UUID, fn func([]byte)) (func() error, error) {
	if !d.IsConnected() {
		return nil, ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, d.opTimeout)
	defer cancel()

	unsubscribe, err := d.peripheral.Subscribe(ctx, char, fn)
	if err != nil {
		d.checkLinkLost(err)
		return nil, err
	}
	return unsubscribe, nil
}

func (d *Device) checkLinkLost(err error) {
	if IsConnectionLost(err) && d.IsConnected() {
		d.logger.Warn("link lost", zap.Error(err))
		d.setState(StateDisconnected)
		d.metrics.markDisconnected()
	}
}

// currentReadingChars is the read order for current values
var currentReadingChars = []bluetooth.UUID{
	CharCurrentReadingsDetail,
	CharCurrentReadingsDetailAlt,
	CharCurrentReadingsBasic,
}

// ReadCurrent reads the live sensor values
func (d *Device) ReadCurrent(ctx context.Context) (models.CurrentReading, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var lastErr error
	for _, char := range currentReadingChars {
		b, err := d.read(ctx, char)
		if errors.Is(err, ErrCharacteristicNotFound) {
			lastErr = err
			continue
		}
		if err != nil {
			return models.CurrentReading{}, err
		}
		r, err := DecodeReadingFor(char, d.deviceType, b)
		if err != nil {
			return models.CurrentReading{}, err
		}
		r.CapturedAt = time.Now().UTC()
		return r, nil
	}
	return models.CurrentReading{}, lastErr
}

// ReadDeviceInfo reads the identity strings. Missing characteristics
// yield empty fields.
func (d *Device) ReadDeviceInfo(ctx context.Context) (models.DeviceInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var info models.DeviceInfo
	fields := []struct {
		char bluetooth.UUID
		dst  *string
	}{
		{CharDeviceName, &info.Name},
		{CharModelNumber, &info.Model},
		{CharSerialNumber, &info.Serial},
		{CharFirmwareRevision, &info.Firmware},
		{CharHardwareRevision, &info.Hardware},
		{CharSoftwareRevision, &info.Software},
		{CharManufacturerName, &info.Manufacturer},
	}
	for _, f := range fields {
		b, err := d.read(ctx, f.char)
		if errors.Is(err, ErrCharacteristicNotFound) {
			continue
		}
		if err != nil {
			return models.DeviceInfo{}, fmt.Errorf("failed to read device info: %w", err)
		}
		*f.dst = DecodeString(b)
	}
	if info.Name == "" {
		info.Name = d.name
	}
	return info, nil
}

// ReadBattery reads the battery level in percent. Devices without the
// battery service report it in the current readings.
func (d *Device) ReadBattery(ctx context.Context) (uint8, error) {
	d.mu.Lock()
	b, err := d.read(ctx, CharBatteryLevel)
	d.mu.Unlock()

	if errors.Is(err, ErrCharacteristicNotFound) {
		r, err := d.ReadCurrent(ctx)
		if err != nil {
			return 0, err
		}
		return r.Battery, nil
	}
	if err != nil {
		return 0, err
	}
	if len(b) < 1 {
		return 0, shortBuffer("battery level", 1, len(b))
	}
	return clampPercent(uint16(b[0])), nil
}

// Disconnect closes the link. Calling it again is a no-op.
func (d *Device) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.peripheral == nil {
		return nil
	}
	p := d.peripheral
	d.peripheral = nil
	d.setState(StateDisconnected)
	d.metrics.markDisconnected()

	start := time.Now()
	err := p.Disconnect()
	d.metrics.Disconnect.Record(time.Since(start), err)
	if err != nil {
		return &ConnectionError{DeviceID: d.identifier, Reason: ConnFailureOther, Err: err}
	}
	d.logger.Info("disconnected")
	return nil
}
