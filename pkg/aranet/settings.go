package aranet

import (
	"context"
	"fmt"

	"github.com/sguter90/aranetmaestro/pkg/models"
	"go.uber.org/zap"
)

// GetInterval reads the configured measurement interval
func (d *Device) GetInterval(ctx context.Context) (models.MeasurementInterval, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	b, err := d.read(ctx, CharReadInterval)
	if err != nil {
		return 0, fmt.Errorf("failed to read interval: %w", err)
	}
	return DecodeInterval(b)
}

// SetInterval changes the measurement interval. The value is validated
// before anything is sent to the device.
func (d *Device) SetInterval(ctx context.Context, interval models.MeasurementInterval) error {
	cmd, err := EncodeSetInterval(interval)
	if err != nil {
		return err
	}
	return d.command(ctx, "interval", interval.String(), cmd)
}

// SetSmartHome enables or disables smart home integration, which controls
// whether measurements are broadcast in advertisements.
func (d *Device) SetSmartHome(ctx context.Context, enabled bool) error {
	return d.command(ctx, "smart_home", fmt.Sprint(enabled), EncodeSetSmartHome(enabled))
}

// SetBluetoothRange switches between standard and extended range
func (d *Device) SetBluetoothRange(ctx context.Context, r models.BluetoothRange) error {
	return d.command(ctx, "bluetooth_range", r.String(), EncodeSetBluetoothRange(r))
}

func (d *Device) command(ctx context.Context, setting, value string, cmd []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.write(ctx, CharCommand, cmd); err != nil {
		return fmt.Errorf("failed to set %s: %w", setting, err)
	}
	d.logger.Info("✓ setting updated", zap.String("setting", setting), zap.String("value", value))
	return nil
}

// ReadSettings reads the sensor state flags
func (d *Device) ReadSettings(ctx context.Context) (models.DeviceSettings, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	b, err := d.read(ctx, CharSensorState)
	if err != nil {
		return models.DeviceSettings{}, fmt.Errorf("failed to read settings: %w", err)
	}
	return DecodeSettings(b)
}

// ReadCalibration reads the raw calibration data
func (d *Device) ReadCalibration(ctx context.Context) (models.CalibrationData, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	b, err := d.read(ctx, CharCalibration)
	if err != nil {
		return models.CalibrationData{}, fmt.Errorf("failed to read calibration: %w", err)
	}
	return DecodeCalibration(b), nil
}
