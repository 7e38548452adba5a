package aranet

import (
	"context"

	"go.uber.org/zap"
)

// WithDevice connects, runs fn and disconnects on every exit path,
// including panics in fn.
func WithDevice(ctx context.Context, adapter Adapter, identifier string, opts ConnectOptions, fn func(*Device) error) (err error) {
	d, err := Connect(ctx, adapter, identifier, opts)
	if err != nil {
		return err
	}
	defer func() {
		if derr := d.Disconnect(); derr != nil {
			d.logger.Warn("failed to disconnect", zap.Error(derr))
			if err == nil {
				err = derr
			}
		}
	}()
	return fn(d)
}
