package aranet

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func aranet4Advertisement(counter byte, co2 uint16) []byte {
	b := []byte{0xF1, 0x22, 0, 0, 0xC2, 0x01, 0x94, 0x27, 45, 85, 1, 0x2C, 0x01, 0x78, 0x00, counter}
	le.PutUint16(b[2:], co2)
	return b
}

func TestPassiveMonitor_Deduplicates(t *testing.T) {
	m := NewPassiveMonitor(newFakeAdapter(), DefaultPassiveMonitorOptions(), nil)
	sub := m.Subscribe()
	defer sub.Close()

	emitted, err := m.ProcessAdvertisement(testAddress, "Aranet4 1A2B3", -60, aranet4Advertisement(5, 800))
	require.NoError(t, err)
	assert.True(t, emitted)

	emitted, err = m.ProcessAdvertisement(testAddress, "Aranet4 1A2B3", -61, aranet4Advertisement(5, 800))
	require.NoError(t, err)
	assert.False(t, emitted)

	emitted, err = m.ProcessAdvertisement(testAddress, "Aranet4 1A2B3", -60, aranet4Advertisement(6, 800))
	require.NoError(t, err)
	assert.True(t, emitted)

	require.Len(t, sub.C, 2)
	first := <-sub.C
	assert.Equal(t, testAddress, first.DeviceID)
	assert.Equal(t, uint16(800), first.Data.CO2)
	second := <-sub.C
	assert.Equal(t, uint8(6), *second.Data.Counter)
}

func TestPassiveMonitor_EmitsOnChangeAndAge(t *testing.T) {
	opts := DefaultPassiveMonitorOptions()
	opts.MaxReadingAge = 20 * time.Millisecond
	m := NewPassiveMonitor(newFakeAdapter(), opts, nil)

	emit := func(data []byte) bool {
		ok, err := m.ProcessAdvertisement(testAddress, "", 0, data)
		require.NoError(t, err)
		return ok
	}

	assert.True(t, emit(aranet4Advertisement(1, 800)))
	assert.True(t, emit(aranet4Advertisement(1, 810)))
	assert.False(t, emit(aranet4Advertisement(1, 810)))

	time.Sleep(30 * time.Millisecond)
	assert.True(t, emit(aranet4Advertisement(1, 810)))
}

func TestPassiveMonitor_NoDeduplication(t *testing.T) {
	opts := DefaultPassiveMonitorOptions()
	opts.Deduplicate = false
	m := NewPassiveMonitor(newFakeAdapter(), opts, nil)

	for i := 0; i < 3; i++ {
		ok, err := m.ProcessAdvertisement(testAddress, "", 0, aranet4Advertisement(1, 800))
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestPassiveMonitor_DropsOldest(t *testing.T) {
	opts := DefaultPassiveMonitorOptions()
	opts.ChannelCapacity = 2
	m := NewPassiveMonitor(newFakeAdapter(), opts, nil)
	sub := m.Subscribe()
	defer sub.Close()

	for c := byte(1); c <= 5; c++ {
		_, err := m.ProcessAdvertisement(testAddress, "", 0, aranet4Advertisement(c, 800))
		require.NoError(t, err)
	}

	assert.Equal(t, uint64(3), sub.Dropped())
	assert.Equal(t, uint8(4), *(<-sub.C).Data.Counter)
	assert.Equal(t, uint8(5), *(<-sub.C).Data.Counter)
}

func TestPassiveMonitor_Filter(t *testing.T) {
	opts := DefaultPassiveMonitorOptions()
	opts.DeviceFilter = []string{"Aranet4 1A2B3"}
	m := NewPassiveMonitor(newFakeAdapter(), opts, nil)

	ok, err := m.ProcessAdvertisement("AA:00:00:00:00:09", "Aranet4 ZZZZZ", 0, aranet4Advertisement(1, 800))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = m.ProcessAdvertisement(testAddress, "aranet4 1a2b3", 0, aranet4Advertisement(1, 800))
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Len(t, m.Latest(), 1)
}

func TestPassiveMonitor_InvalidPayload(t *testing.T) {
	m := NewPassiveMonitor(newFakeAdapter(), DefaultPassiveMonitorOptions(), nil)

	_, err := m.ProcessAdvertisement(testAddress, "", 0, []byte{0x21, 0x00, 0x01, 0x04, 0x01, 0x00, 0x0C})

	var invalid *InvalidDataError
	require.True(t, errors.As(err, &invalid))
	assert.Contains(t, invalid.Message, "smart home integration disabled")
}

func TestPassiveMonitor_SubscriptionClose(t *testing.T) {
	m := NewPassiveMonitor(newFakeAdapter(), DefaultPassiveMonitorOptions(), nil)
	sub := m.Subscribe()
	sub.Close()
	sub.Close()

	_, ok := <-sub.C
	assert.False(t, ok)

	_, err := m.ProcessAdvertisement(testAddress, "", 0, aranet4Advertisement(1, 800))
	assert.NoError(t, err)
}

func TestPassiveMonitor_Start(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.advertise(Advertisement{
		Address:          testAddress,
		Name:             "Aranet4 1A2B3",
		ManufacturerData: map[uint16][]byte{ManufacturerID: aranet4Advertisement(9, 650)},
	})
	adapter.advertise(Advertisement{Address: "AA:00:00:00:00:05", Name: "Other"})

	opts := DefaultPassiveMonitorOptions()
	opts.ScanInterval = time.Millisecond
	m := NewPassiveMonitor(adapter, opts, nil)
	sub := m.Subscribe()
	defer sub.Close()

	done := make(chan error, 1)
	go func() { done <- m.Start(context.Background()) }()

	select {
	case r := <-sub.C:
		assert.Equal(t, uint16(650), r.Data.CO2)
	case <-time.After(time.Second):
		t.Fatal("Expected a passive reading")
	}

	m.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Expected monitor to stop")
	}
}
