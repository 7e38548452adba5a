package aranet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

type fakeWrite struct {
	char bluetooth.UUID
	data []byte
}

// fakePeripheral is scripted per characteristic
type fakePeripheral struct {
	mu sync.Mutex

	address string
	values  map[bluetooth.UUID][]byte
	// reads, when set for a characteristic, replaces values
	reads map[bluetooth.UUID]func() ([]byte, error)
	// onWrite reacts to commands, e.g. by emitting notifications
	onWrite func(p *fakePeripheral, char bluetooth.UUID, data []byte)

	writes       []fakeWrite
	subscribers  map[bluetooth.UUID]func([]byte)
	disconnects  int
	disconnected bool
}

func newFakePeripheral(address string) *fakePeripheral {
	return &fakePeripheral{
		address:     address,
		values:      make(map[bluetooth.UUID][]byte),
		reads:       make(map[bluetooth.UUID]func() ([]byte, error)),
		subscribers: make(map[bluetooth.UUID]func([]byte)),
	}
}

func (p *fakePeripheral) set(char bluetooth.UUID, b []byte) *fakePeripheral {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[char] = b
	return p
}

func (p *fakePeripheral) Address() string { return p.address }

func (p *fakePeripheral) Characteristics() []bluetooth.UUID {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []bluetooth.UUID
	for u := range p.values {
		out = append(out, u)
	}
	for u := range p.reads {
		if _, ok := p.values[u]; !ok {
			out = append(out, u)
		}
	}
	return out
}

func (p *fakePeripheral) Read(ctx context.Context, char bluetooth.UUID) ([]byte, error) {
	p.mu.Lock()
	if p.disconnected {
		p.mu.Unlock()
		return nil, &ConnectionError{DeviceID: p.address, Reason: ConnFailureLinkLost}
	}
	fn, scripted := p.reads[char]
	b, ok := p.values[char]
	p.mu.Unlock()

	if scripted {
		return fn()
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCharacteristicNotFound, char)
	}
	return append([]byte(nil), b...), nil
}

func (p *fakePeripheral) Write(ctx context.Context, char bluetooth.UUID, data []byte) error {
	p.mu.Lock()
	if p.disconnected {
		p.mu.Unlock()
		return &ConnectionError{DeviceID: p.address, Reason: ConnFailureLinkLost}
	}
	p.writes = append(p.writes, fakeWrite{char: char, data: append([]byte(nil), data...)})
	onWrite := p.onWrite
	p.mu.Unlock()

	if onWrite != nil {
		onWrite(p, char, data)
	}
	return nil
}

func (p *fakePeripheral) Subscribe(ctx context.Context, char bluetooth.UUID, fn func([]byte)) (func() error, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribers[char] = fn
	return func() error {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subscribers, char)
		return nil
	}, nil
}

func (p *fakePeripheral) notify(char bluetooth.UUID, b []byte) {
	p.mu.Lock()
	fn := p.subscribers[char]
	p.mu.Unlock()
	if fn != nil {
		fn(b)
	}
}

func (p *fakePeripheral) Disconnect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnects++
	p.disconnected = true
	return nil
}

// drop simulates the device going out of range
func (p *fakePeripheral) drop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnected = true
}

func (p *fakePeripheral) writesTo(char bluetooth.UUID) [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out [][]byte
	for _, w := range p.writes {
		if w.char == char {
			out = append(out, w.data)
		}
	}
	return out
}

// fakeAdapter advertises a fixed set of devices
type fakeAdapter struct {
	mu sync.Mutex

	ads []Advertisement
	// dial returns the peripheral for an address; nil means use peripherals
	dial        func(address string) (Peripheral, error)
	peripherals map[string]*fakePeripheral
	scans       int
	connects    int
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{peripherals: make(map[string]*fakePeripheral)}
}

func (a *fakeAdapter) advertise(adv Advertisement) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if adv.ReceivedAt.IsZero() {
		adv.ReceivedAt = time.Now()
	}
	a.ads = append(a.ads, adv)
}

// addDevice advertises an Aranet4 and registers its peripheral
func (a *fakeAdapter) addDevice(address, name string, p *fakePeripheral) {
	a.advertise(Advertisement{
		Address:          address,
		Name:             name,
		RSSI:             -60,
		ManufacturerData: map[uint16][]byte{ManufacturerID: {0x21, 0x00}},
	})
	a.mu.Lock()
	defer a.mu.Unlock()
	a.peripherals[address] = p
}

func (a *fakeAdapter) Scan(ctx context.Context, d time.Duration, fn func(Advertisement)) error {
	a.mu.Lock()
	a.scans++
	ads := append([]Advertisement(nil), a.ads...)
	a.mu.Unlock()

	for _, adv := range ads {
		if ctx.Err() != nil {
			return nil
		}
		fn(adv)
	}
	return nil
}

func (a *fakeAdapter) Connect(ctx context.Context, address string) (Peripheral, error) {
	a.mu.Lock()
	a.connects++
	dial := a.dial
	p, ok := a.peripherals[address]
	a.mu.Unlock()

	if dial != nil {
		return dial(address)
	}
	if !ok {
		return nil, &ConnectionError{DeviceID: address, Reason: ConnFailureOutOfRange}
	}
	p.mu.Lock()
	p.disconnected = false
	p.mu.Unlock()
	return p, nil
}

func (a *fakeAdapter) connectCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connects
}

// aranet4Peripheral returns a peripheral with the Aranet4 characteristic set
func aranet4Peripheral(address string) *fakePeripheral {
	return newFakePeripheral(address).
		set(CharCurrentReadingsDetail, []byte{0x20, 0x03, 0xC2, 0x01, 0x94, 0x27, 45, 85, 1, 0x2C, 0x01, 0x78, 0x00}).
		set(CharDeviceName, []byte("Aranet4 1A2B3\x00")).
		set(CharModelNumber, []byte("Aranet4")).
		set(CharSerialNumber, []byte("1234567")).
		set(CharFirmwareRevision, []byte("v1.4.19")).
		set(CharManufacturerName, []byte("SAF Tehnika")).
		set(CharBatteryLevel, []byte{85}).
		set(CharSensorState, []byte{0xF1, 0b10100001, 0b10000010}).
		set(CharReadInterval, []byte{0x2C, 0x01}).
		set(CharCommand, nil)
}

func testConnectOptions() ConnectOptions {
	return ConnectOptions{
		Timeout:          time.Second,
		OperationTimeout: time.Second,
		Find:             FindOptions{Attempts: 1, ScanDuration: time.Millisecond},
	}
}
