package aranet

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"
	"github.com/sguter90/aranetmaestro/pkg/models"
	"go.uber.org/zap"
)

// ReconnectOptions configures the reconnection backoff
type ReconnectOptions struct {
	// MaxAttempts is the number of dials per reconnect, 0 means unlimited
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Exponential  bool
}

// DefaultReconnectOptions makes five attempts from 1s doubling up to 60s
func DefaultReconnectOptions() ReconnectOptions {
	return ReconnectOptions{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		MaxDelay:     time.Minute,
		Multiplier:   2.0,
		Exponential:  true,
	}
}

// UnlimitedReconnectOptions retries until cancelled
func UnlimitedReconnectOptions() ReconnectOptions {
	o := DefaultReconnectOptions()
	o.MaxAttempts = 0
	return o
}

// FixedDelayReconnectOptions waits delay between every attempt
func FixedDelayReconnectOptions(delay time.Duration, maxAttempts int) ReconnectOptions {
	return ReconnectOptions{
		MaxAttempts:  maxAttempts,
		InitialDelay: delay,
		MaxDelay:     delay,
		Multiplier:   1.0,
		Exponential:  false,
	}
}

// Validate checks the option values
func (o ReconnectOptions) Validate() error {
	if o.MaxAttempts < 0 {
		return &ConfigError{Message: "max attempts must not be negative"}
	}
	if o.Multiplier < 1.0 {
		return &ConfigError{Message: "multiplier must be >= 1.0"}
	}
	if o.InitialDelay <= 0 {
		return &ConfigError{Message: "initial delay must be positive"}
	}
	if o.MaxDelay < o.InitialDelay {
		return &ConfigError{Message: "max delay must be >= initial delay"}
	}
	return nil
}

// DelayForAttempt returns the wait before the zero-based attempt n
func (o ReconnectOptions) DelayForAttempt(n int) time.Duration {
	if !o.Exponential || n <= 0 {
		return min(o.InitialDelay, o.MaxDelay)
	}
	b := &backoff.Backoff{
		Min:    o.InitialDelay,
		Max:    o.MaxDelay,
		Factor: o.Multiplier,
	}
	return b.ForAttempt(float64(n))
}

// ReconnectingDevice keeps a device link alive. Operations that fail
// because the link dropped reconnect with backoff and are retried once.
type ReconnectingDevice struct {
	adapter     Adapter
	identifier  string
	connectOpts ConnectOptions
	opts        ReconnectOptions
	events      chan<- DeviceEvent
	logger      *zap.Logger

	mu     sync.Mutex
	device *Device
	state  ConnectionState

	// reconnectMu allows one reconnect loop at a time
	reconnectMu sync.Mutex
	cancelMu    sync.Mutex
	cancel      context.CancelFunc

	reconnects atomic.Uint64
}

// NewReconnectingDevice creates a supervisor for identifier. No link is
// opened until Connect or the first operation.
func NewReconnectingDevice(adapter Adapter, identifier string, connectOpts ConnectOptions, opts ReconnectOptions) (*ReconnectingDevice, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	connectOpts = connectOpts.withDefaults(adapter)

	return &ReconnectingDevice{
		adapter:     adapter,
		identifier:  identifier,
		connectOpts: connectOpts,
		opts:        opts,
		logger:      connectOpts.Logger.With(zap.String("device", identifier)),
		state:       StateDisconnected,
	}, nil
}

// SetEvents registers a channel for lifecycle events. Sends never block.
func (r *ReconnectingDevice) SetEvents(ch chan<- DeviceEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = ch
}

func (r *ReconnectingDevice) emit(ev DeviceEvent) {
	r.mu.Lock()
	ch := r.events
	r.mu.Unlock()
	ev.Identifier = r.identifier
	emitEvent(ch, ev)
}

// Identifier returns the supervised device identifier
func (r *ReconnectingDevice) Identifier() string { return r.identifier }

// State returns the supervisor state
func (r *ReconnectingDevice) State() ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateConnected && (r.device == nil || !r.device.IsConnected()) {
		return StateDisconnected
	}
	return r.state
}

// ReconnectCount returns the number of successful reconnects
func (r *ReconnectingDevice) ReconnectCount() uint64 {
	return r.reconnects.Load()
}

// Metrics returns the counters shared by every link of this device
func (r *ReconnectingDevice) Metrics() *ConnectionMetrics {
	return r.connectOpts.Metrics
}

// Device returns the current link, nil when disconnected
func (r *ReconnectingDevice) Device() *Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.device
}

// Connect opens the initial link with a single attempt
func (r *ReconnectingDevice) Connect(ctx context.Context) error {
	r.setState(StateConnecting)
	d, err := Connect(ctx, r.adapter, r.identifier, r.connectOpts)
	if err != nil {
		r.setState(StateDisconnected)
		return err
	}
	r.setDevice(d)
	return nil
}

func (r *ReconnectingDevice) setState(s ConnectionState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = s
}

func (r *ReconnectingDevice) setDevice(d *Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.device = d
	r.state = StateConnected
}

// Disconnect closes the current link and cancels a running reconnect
func (r *ReconnectingDevice) Disconnect() error {
	r.CancelReconnect()

	r.mu.Lock()
	d := r.device
	r.device = nil
	r.state = StateDisconnected
	r.mu.Unlock()

	if d == nil {
		return nil
	}
	return d.Disconnect()
}

// CancelReconnect stops a running reconnect loop
func (r *ReconnectingDevice) CancelReconnect() {
	r.cancelMu.Lock()
	defer r.cancelMu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
}

// Reconnect dials with backoff until a link is up, the attempts are
// exhausted or the loop is cancelled.
func (r *ReconnectingDevice) Reconnect(ctx context.Context) error {
	r.reconnectMu.Lock()
	defer r.reconnectMu.Unlock()

	if d := r.Device(); d != nil && d.IsConnected() {
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancelMu.Lock()
	r.cancel = cancel
	r.cancelMu.Unlock()
	defer func() {
		r.cancelMu.Lock()
		r.cancel = nil
		r.cancelMu.Unlock()
		cancel()
	}()

	r.mu.Lock()
	stale := r.device
	r.device = nil
	r.state = StateReconnecting
	r.mu.Unlock()
	if stale != nil {
		if err := stale.Disconnect(); err != nil {
			r.logger.Debug("failed to release stale link", zap.Error(err))
		}
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		if r.opts.MaxAttempts > 0 && attempt > r.opts.MaxAttempts {
			r.setState(StateFailed)
			err := &ReconnectError{Identifier: r.identifier, Attempts: attempt - 1, Err: lastErr}
			r.emit(DeviceEvent{Kind: EventReconnectFailed, Attempt: attempt - 1, Err: err})
			r.logger.Error("❌ reconnect failed", zap.Int("attempts", attempt-1), zap.Error(lastErr))
			return err
		}

		delay := r.opts.DelayForAttempt(attempt - 1)
		r.emit(DeviceEvent{Kind: EventReconnectStarted, Attempt: attempt})
		r.logger.Info("reconnecting", zap.Int("attempt", attempt), zap.Duration("delay", delay))

		if err := sleepContext(loopCtx, delay); err != nil {
			r.setState(StateDisconnected)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return ErrCancelled
		}

		start := time.Now()
		d, err := Connect(loopCtx, r.adapter, r.identifier, r.connectOpts)
		r.connectOpts.Metrics.Reconnects.Record(time.Since(start), err)
		if err == nil {
			r.setDevice(d)
			r.reconnects.Add(1)
			r.emit(DeviceEvent{Kind: EventReconnectSucceeded, Attempt: attempt})
			r.logger.Info("✓ reconnected", zap.Int("attempt", attempt))
			return nil
		}
		if loopCtx.Err() != nil {
			r.setState(StateDisconnected)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return ErrCancelled
		}
		lastErr = err
		r.logger.Warn("reconnect attempt failed", zap.Int("attempt", attempt), zap.Error(err))
	}
}

// withDevice runs fn on a live link. A lost link is re-established and
// fn is retried once.
func withDevice[T any](ctx context.Context, r *ReconnectingDevice, fn func(*Device) (T, error)) (T, error) {
	var zero T

	d := r.Device()
	if d == nil || !d.IsConnected() {
		if err := r.Reconnect(ctx); err != nil {
			return zero, err
		}
		if d = r.Device(); d == nil {
			return zero, ErrNotConnected
		}
	}

	v, err := fn(d)
	if err == nil || !IsConnectionLost(err) {
		return v, err
	}

	r.logger.Warn("connection lost during operation", zap.Error(err))
	r.emit(DeviceEvent{Kind: EventDisconnected, Err: err})
	if rerr := r.Reconnect(ctx); rerr != nil {
		// keep the link-lost cause visible to errors.As
		var re *ReconnectError
		if errors.As(rerr, &re) {
			return zero, &ReconnectError{Identifier: re.Identifier, Attempts: re.Attempts, Err: errors.Join(err, re.Err)}
		}
		return zero, rerr
	}
	if d = r.Device(); d == nil {
		return zero, ErrNotConnected
	}
	return fn(d)
}

// errOnly adapts an error-returning operation to withDevice
func errOnly(fn func(*Device) error) func(*Device) (struct{}, error) {
	return func(d *Device) (struct{}, error) {
		return struct{}{}, fn(d)
	}
}

// ReadCurrent reads the live sensor values
func (r *ReconnectingDevice) ReadCurrent(ctx context.Context) (models.CurrentReading, error) {
	return withDevice(ctx, r, func(d *Device) (models.CurrentReading, error) {
		return d.ReadCurrent(ctx)
	})
}

// ReadDeviceInfo reads the identity strings
func (r *ReconnectingDevice) ReadDeviceInfo(ctx context.Context) (models.DeviceInfo, error) {
	return withDevice(ctx, r, func(d *Device) (models.DeviceInfo, error) {
		return d.ReadDeviceInfo(ctx)
	})
}

// ReadBattery reads the battery level
func (r *ReconnectingDevice) ReadBattery(ctx context.Context) (uint8, error) {
	return withDevice(ctx, r, func(d *Device) (uint8, error) {
		return d.ReadBattery(ctx)
	})
}

// GetHistoryInfo reads the history buffer description
func (r *ReconnectingDevice) GetHistoryInfo(ctx context.Context) (models.HistoryInfo, error) {
	return withDevice(ctx, r, func(d *Device) (models.HistoryInfo, error) {
		return d.GetHistoryInfo(ctx)
	})
}

// DownloadHistoryWithOptions downloads history records
func (r *ReconnectingDevice) DownloadHistoryWithOptions(ctx context.Context, opts HistoryOptions) ([]models.HistoryRecord, error) {
	return withDevice(ctx, r, func(d *Device) ([]models.HistoryRecord, error) {
		return d.DownloadHistoryWithOptions(ctx, opts)
	})
}

// GetInterval reads the measurement interval
func (r *ReconnectingDevice) GetInterval(ctx context.Context) (models.MeasurementInterval, error) {
	return withDevice(ctx, r, func(d *Device) (models.MeasurementInterval, error) {
		return d.GetInterval(ctx)
	})
}

// SetInterval changes the measurement interval
func (r *ReconnectingDevice) SetInterval(ctx context.Context, interval models.MeasurementInterval) error {
	if _, err := EncodeSetInterval(interval); err != nil {
		return err
	}
	_, err := withDevice(ctx, r, errOnly(func(d *Device) error {
		return d.SetInterval(ctx, interval)
	}))
	return err
}

// SetSmartHome enables or disables smart home integration
func (r *ReconnectingDevice) SetSmartHome(ctx context.Context, enabled bool) error {
	_, err := withDevice(ctx, r, errOnly(func(d *Device) error {
		return d.SetSmartHome(ctx, enabled)
	}))
	return err
}

// SetBluetoothRange changes the radio range
func (r *ReconnectingDevice) SetBluetoothRange(ctx context.Context, br models.BluetoothRange) error {
	_, err := withDevice(ctx, r, errOnly(func(d *Device) error {
		return d.SetBluetoothRange(ctx, br)
	}))
	return err
}

// ReadSettings reads the sensor state flags
func (r *ReconnectingDevice) ReadSettings(ctx context.Context) (models.DeviceSettings, error) {
	return withDevice(ctx, r, func(d *Device) (models.DeviceSettings, error) {
		return d.ReadSettings(ctx)
	})
}

// ReadCalibration reads the calibration data
func (r *ReconnectingDevice) ReadCalibration(ctx context.Context) (models.CalibrationData, error) {
	return withDevice(ctx, r, func(d *Device) (models.CalibrationData, error) {
		return d.ReadCalibration(ctx)
	})
}

// Name returns the device name once a link has been opened
func (r *ReconnectingDevice) Name() string {
	if d := r.Device(); d != nil {
		return d.Name()
	}
	return ""
}

// Type returns the detected model once a link has been opened
func (r *ReconnectingDevice) Type() models.DeviceType {
	if d := r.Device(); d != nil {
		return d.Type()
	}
	return models.DeviceTypeUnknown
}
