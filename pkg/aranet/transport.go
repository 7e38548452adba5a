package aranet

import (
	"context"
	"time"

	"tinygo.org/x/bluetooth"
)

// Advertisement is one received BLE advertisement
type Advertisement struct {
	Address string
	Name    string
	RSSI    int16
	// ManufacturerData maps company id to payload
	ManufacturerData map[uint16][]byte
	ServiceUUIDs     []bluetooth.UUID
	ReceivedAt       time.Time
}

// AranetPayload returns the manufacturer data of the Aranet company id
func (a Advertisement) AranetPayload() ([]byte, bool) {
	data, ok := a.ManufacturerData[ManufacturerID]
	return data, ok
}

// Adapter is the Bluetooth capability the core depends on
type Adapter interface {
	// Scan reports advertisements to fn until d elapses or ctx is done
	Scan(ctx context.Context, d time.Duration, fn func(Advertisement)) error
	// Connect opens a link to the device with the given address
	Connect(ctx context.Context, address string) (Peripheral, error)
}

// Peripheral is one open link to a device
type Peripheral interface {
	Address() string
	// Characteristics lists the characteristics discovered after connecting
	Characteristics() []bluetooth.UUID
	Read(ctx context.Context, char bluetooth.UUID) ([]byte, error)
	Write(ctx context.Context, char bluetooth.UUID, data []byte) error
	// Subscribe enables notifications; the returned func disables them
	Subscribe(ctx context.Context, char bluetooth.UUID, fn func([]byte)) (func() error, error)
	Disconnect() error
}

// runWithContext runs fn on its own goroutine so blocking driver calls can
// be abandoned when ctx is done.
func runWithContext[T any](ctx context.Context, op string, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	start := time.Now()
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		if ctx.Err() == context.DeadlineExceeded {
			return zero, &TimeoutError{Operation: op, Duration: time.Since(start).Round(time.Millisecond)}
		}
		return zero, ctx.Err()
	}
}
