package aranet

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sguter90/aranetmaestro/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tinygo.org/x/bluetooth"
)

func TestScanner_Scan(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.advertise(Advertisement{Address: "AA:00:00:00:00:01", Name: "Aranet4 1A2B3", RSSI: -50})
	adapter.advertise(Advertisement{Address: "AA:00:00:00:00:02", ManufacturerData: map[uint16][]byte{ManufacturerID: {0xF2, 0x00}}})
	adapter.advertise(Advertisement{Address: "AA:00:00:00:00:03", ServiceUUIDs: []bluetooth.UUID{ServiceNew}})
	adapter.advertise(Advertisement{Address: "AA:00:00:00:00:04", Name: "Headphones"})
	adapter.advertise(Advertisement{Address: "AA:00:00:00:00:01", RSSI: -40})

	s := NewScanner(adapter, nil)

	devices, err := s.Scan(context.Background(), DefaultScanOptions())
	require.NoError(t, err)
	require.Len(t, devices, 3)

	assert.Equal(t, "Aranet4 1A2B3", devices[0].Name)
	assert.Equal(t, int16(-40), devices[0].RSSI)
	assert.Equal(t, models.DeviceTypeAranet4, devices[0].DeviceType)
	assert.Equal(t, models.DeviceTypeAranet2, devices[1].DeviceType)
	assert.True(t, devices[2].IsAranet)

	all, err := s.Scan(context.Background(), ScanOptions{Duration: time.Millisecond})
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestScanner_Scan_MergesScanResponse(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.advertise(Advertisement{
		Address:          "AA:00:00:00:00:02",
		RSSI:             -70,
		ManufacturerData: map[uint16][]byte{ManufacturerID: {0xF2, 0x00}},
	})
	adapter.advertise(Advertisement{Address: "AA:00:00:00:00:02", Name: "Aranet2 2C3D4", RSSI: -65})
	adapter.advertise(Advertisement{Address: "AA:00:00:00:00:02", RSSI: -60})

	devices, err := NewScanner(adapter, nil).Scan(context.Background(), DefaultScanOptions())
	require.NoError(t, err)
	require.Len(t, devices, 1)

	d := devices[0]
	assert.Equal(t, int16(-60), d.RSSI)
	assert.Equal(t, "Aranet2 2C3D4", d.Name)
	assert.Equal(t, models.DeviceTypeAranet2, d.DeviceType)
	assert.True(t, d.IsAranet)
	assert.Equal(t, []byte{0xF2, 0x00}, d.ManufacturerData)
}

func TestScanner_ScanWithRetry(t *testing.T) {
	adapter := newFakeAdapter()
	s := NewScanner(adapter, nil)

	devices, err := s.ScanWithRetry(context.Background(), DefaultScanOptions(), 1, true)
	require.NoError(t, err)
	assert.Empty(t, devices)
	assert.Equal(t, 2, adapter.scans)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.ScanWithRetry(ctx, DefaultScanOptions(), 3, true)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScanner_Find(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.advertise(Advertisement{Address: testAddress, Name: "Aranet4 1A2B3"})
	s := NewScanner(adapter, nil)

	var events []FindProgress
	opts := FindOptions{Attempts: 3, ScanDuration: time.Millisecond, Progress: func(p FindProgress) {
		events = append(events, p)
	}}

	d, err := s.Find(context.Background(), "1A2B3", opts)
	require.NoError(t, err)
	assert.Equal(t, testAddress, d.Address)
	require.Len(t, events, 2)
	assert.Equal(t, FindScanAttempt, events[0].Kind)
	assert.Equal(t, minAttemptDuration, events[0].Duration)
	assert.Equal(t, FindFound, events[1].Kind)

	events = nil
	_, err = s.Find(context.Background(), testAddress, opts)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, FindCacheHit, events[0].Kind)
	assert.Equal(t, 1, adapter.scans)
}

func TestScanner_FindExhausted(t *testing.T) {
	adapter := newFakeAdapter()
	s := NewScanner(adapter, nil)

	var kinds []FindProgressKind
	var durations []time.Duration
	_, err := s.Find(context.Background(), "missing", FindOptions{Attempts: 3, ScanDuration: 6 * time.Second, Progress: func(p FindProgress) {
		kinds = append(kinds, p.Kind)
		if p.Kind == FindScanAttempt {
			durations = append(durations, p.Duration)
		}
	}})

	var notFound *DeviceNotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, NotFoundNoMatch, notFound.Reason)
	assert.Equal(t, []FindProgressKind{FindScanAttempt, FindRetryNeeded, FindScanAttempt, FindRetryNeeded, FindScanAttempt}, kinds)
	assert.Equal(t, []time.Duration{3 * time.Second, 6 * time.Second, 9 * time.Second}, durations)
	assert.Equal(t, 3, adapter.scans)
}

func TestDiscoveredDevice_Matches(t *testing.T) {
	d := DiscoveredDevice{Address: "AA:BB:CC:DD:EE:FF", Name: "Aranet4 1A2B3"}

	assert.True(t, d.Matches("aa:bb:cc:dd:ee:ff"))
	assert.True(t, d.Matches("ARANET4 1A2B3"))
	assert.True(t, d.Matches("1a2b3"))
	assert.False(t, d.Matches("Aranet2"))
	assert.False(t, d.Matches(""))
}
