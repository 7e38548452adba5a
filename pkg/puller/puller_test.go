package puller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sguter90/aranetmaestro/pkg/aranet"
	"github.com/sguter90/aranetmaestro/pkg/models"
	"github.com/sguter90/aranetmaestro/pkg/pusher"
	"github.com/sguter90/aranetmaestro/pkg/syncer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	_ Puller        = (*DevicePuller)(nil)
	_ HistoryPuller = (*DevicePuller)(nil)
	_ Syncer        = (*syncer.Reconciler)(nil)
)

// MockPuller is a mock implementation of the Puller interface for testing
type MockPuller struct {
	identifier string
	reading    *models.CurrentReading
	err        error
	delay      time.Duration

	mu        sync.Mutex
	pullCalls int
	closed    bool
}

func NewMockPuller(identifier string) *MockPuller {
	return &MockPuller{
		identifier: identifier,
		reading:    &models.CurrentReading{CO2: 600, Temperature: 21.5, Humidity: 40, Status: models.StatusGreen},
	}
}

func (m *MockPuller) Identifier() string {
	return m.identifier
}

func (m *MockPuller) Pull(ctx context.Context) (*models.CurrentReading, error) {
	m.mu.Lock()
	m.pullCalls++
	m.mu.Unlock()

	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.reading, nil
}

func (m *MockPuller) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MockPuller) PullCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pullCalls
}

// mockHistoryPuller also exposes a history source
type mockHistoryPuller struct {
	*MockPuller
}

func (m *mockHistoryPuller) HistorySource() syncer.HistorySource {
	return nil
}

type fakeStore struct {
	mu       sync.Mutex
	readings map[string][]models.CurrentReading
	err      error
}

func newFakeStore() *fakeStore {
	return &fakeStore{readings: make(map[string][]models.CurrentReading)}
}

func (s *fakeStore) InsertReading(ctx context.Context, identifier string, reading models.CurrentReading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.readings[identifier] = append(s.readings[identifier], reading)
	return nil
}

func (s *fakeStore) count(identifier string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.readings[identifier])
}

type fakeSyncer struct {
	mu     sync.Mutex
	synced []string
	err    error
}

func (f *fakeSyncer) Sync(ctx context.Context, dev syncer.HistorySource, identifier string, opts syncer.SyncOptions) (models.SyncResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return models.SyncResult{}, f.err
	}
	f.synced = append(f.synced, identifier)
	return models.SyncResult{DeviceID: identifier, Inserted: 3}, nil
}

type recordingPusher struct {
	mu     sync.Mutex
	pushed []pusher.PushedReading
}

func (p *recordingPusher) Name() string { return "recording" }

func (p *recordingPusher) Push(ctx context.Context, r pusher.PushedReading) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushed = append(p.pushed, r)
	return nil
}

func (p *recordingPusher) Close() error { return nil }

// failingAdapter never finds a device
type failingAdapter struct{}

func (failingAdapter) Scan(ctx context.Context, d time.Duration, fn func(aranet.Advertisement)) error {
	return errors.New("adapter powered off")
}

func (failingAdapter) Connect(ctx context.Context, address string) (aranet.Peripheral, error) {
	return nil, errors.New("adapter powered off")
}

func TestPullerRegistry_Register_Overwrite(t *testing.T) {
	registry := NewPullerRegistry()

	first := NewMockPuller("AA:BB")
	second := NewMockPuller("AA:BB")
	registry.Register(first)
	registry.Register(second)

	got, ok := registry.Get("AA:BB")
	if !ok {
		t.Fatal("Expected puller to be registered")
	}
	if got != second {
		t.Error("Expected second registration to overwrite the first")
	}
	if len(registry.All()) != 1 {
		t.Errorf("Expected 1 puller, got %d", len(registry.All()))
	}
}

func TestPullerRegistry_Get(t *testing.T) {
	registry := NewPullerRegistry()
	registry.Register(NewMockPuller("AA:BB"))

	if _, ok := registry.Get("AA:BB"); !ok {
		t.Error("Expected to find registered puller")
	}
	if _, ok := registry.Get("CC:DD"); ok {
		t.Error("Expected unknown identifier to be missing")
	}
}

func TestPullerRegistry_All(t *testing.T) {
	registry := NewPullerRegistry()
	registry.Register(NewMockPuller("Aranet4 2"))
	registry.Register(NewMockPuller("Aranet4 1"))
	registry.Register(NewMockPuller("Aranet2 9"))

	all := registry.All()
	require.Len(t, all, 3)
	assert.Equal(t, "Aranet2 9", all[0].Identifier())
	assert.Equal(t, "Aranet4 1", all[1].Identifier())
	assert.Equal(t, "Aranet4 2", all[2].Identifier())
}

func TestPullerRegistry_All_Empty(t *testing.T) {
	registry := NewPullerRegistry()

	all := registry.All()
	if all == nil {
		t.Error("Expected empty slice, got nil")
	}
	if len(all) != 0 {
		t.Errorf("Expected 0 pullers, got %d", len(all))
	}
}

func TestPullerRegistry_Remove(t *testing.T) {
	registry := NewPullerRegistry()
	registry.Register(NewMockPuller("AA:BB"))
	registry.Remove("AA:BB")

	if _, ok := registry.Get("AA:BB"); ok {
		t.Error("Expected puller to be removed")
	}
}

func TestPullerRegistry_ConcurrentAccess(t *testing.T) {
	registry := NewPullerRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			registry.Register(NewMockPuller(fmt.Sprintf("device-%d", i)))
		}(i)
		go func() {
			defer wg.Done()
			_ = registry.All()
		}()
	}
	wg.Wait()

	if len(registry.All()) != 20 {
		t.Errorf("Expected 20 pullers, got %d", len(registry.All()))
	}
}

func TestPullerService_PullAll(t *testing.T) {
	registry := NewPullerRegistry()
	a := NewMockPuller("AA:BB")
	b := NewMockPuller("CC:DD")
	registry.Register(a)
	registry.Register(b)

	rec := &recordingPusher{}
	pushers := pusher.NewRegistry(zap.NewNop())
	pushers.Register(rec)

	store := newFakeStore()
	var observed []string
	var mu sync.Mutex

	svc := NewPullerService(store, registry, pushers, ServiceOptions{Concurrency: 2}, zap.NewNop())
	svc.OnReading(func(identifier string, reading models.CurrentReading) {
		mu.Lock()
		defer mu.Unlock()
		observed = append(observed, identifier)
	})

	require.NoError(t, svc.PullAll(context.Background()))

	assert.Equal(t, 1, a.PullCalls())
	assert.Equal(t, 1, b.PullCalls())
	assert.Equal(t, 1, store.count("AA:BB"))
	assert.Equal(t, 1, store.count("CC:DD"))
	assert.ElementsMatch(t, []string{"AA:BB", "CC:DD"}, observed)

	require.Len(t, rec.pushed, 2)
	for _, p := range rec.pushed {
		assert.Equal(t, pusher.SourcePoll, p.Source)
		assert.Equal(t, uint16(600), p.Reading.CO2)
	}
}

func TestPullerService_PullAll_DeviceError(t *testing.T) {
	registry := NewPullerRegistry()
	good := NewMockPuller("AA:BB")
	bad := NewMockPuller("CC:DD")
	bad.err = &aranet.TimeoutError{Operation: "read current", Duration: time.Second}
	registry.Register(good)
	registry.Register(bad)

	store := newFakeStore()
	svc := NewPullerService(store, registry, nil, ServiceOptions{}, zap.NewNop())

	err := svc.PullAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CC:DD")

	var timeout *aranet.TimeoutError
	assert.ErrorAs(t, err, &timeout)

	assert.Equal(t, 1, store.count("AA:BB"))
	assert.Equal(t, 0, store.count("CC:DD"))
}

func TestPullerService_PullAll_StoreError(t *testing.T) {
	registry := NewPullerRegistry()
	registry.Register(NewMockPuller("AA:BB"))

	rec := &recordingPusher{}
	pushers := pusher.NewRegistry(zap.NewNop())
	pushers.Register(rec)

	store := newFakeStore()
	store.err = errors.New("database unavailable")

	svc := NewPullerService(store, registry, pushers, ServiceOptions{}, zap.NewNop())

	err := svc.PullAll(context.Background())
	require.Error(t, err)
	assert.Empty(t, rec.pushed, "readings that failed to store must not be pushed")
}

func TestPullerService_PullTimeout(t *testing.T) {
	registry := NewPullerRegistry()
	slow := NewMockPuller("AA:BB")
	slow.delay = time.Second
	registry.Register(slow)

	svc := NewPullerService(newFakeStore(), registry, nil, ServiceOptions{PullTimeout: 20 * time.Millisecond}, zap.NewNop())

	start := time.Now()
	err := svc.PullAll(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestPullerService_SyncAll(t *testing.T) {
	registry := NewPullerRegistry()
	registry.Register(&mockHistoryPuller{NewMockPuller("AA:BB")})
	registry.Register(NewMockPuller("CC:DD"))

	svc := NewPullerService(newFakeStore(), registry, nil, ServiceOptions{}, zap.NewNop())

	require.Error(t, svc.SyncAll(context.Background()), "sync without a syncer")

	fs := &fakeSyncer{}
	svc.SetSyncer(fs)
	require.NoError(t, svc.SyncAll(context.Background()))
	assert.Equal(t, []string{"AA:BB"}, fs.synced)

	fs.err = errors.New("history download failed")
	err := svc.SyncAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AA:BB")
}

func TestPullerService_StartStop(t *testing.T) {
	registry := NewPullerRegistry()
	p := &mockHistoryPuller{NewMockPuller("AA:BB")}
	registry.Register(p)

	store := newFakeStore()
	fs := &fakeSyncer{}
	svc := NewPullerService(store, registry, nil, ServiceOptions{Interval: 10 * time.Millisecond, SyncEvery: 1}, zap.NewNop())
	svc.SetSyncer(fs)

	svc.Start()
	assert.Eventually(t, func() bool {
		return store.count("AA:BB") >= 2
	}, time.Second, 5*time.Millisecond)

	svc.Stop()
	calls := p.PullCalls()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, p.PullCalls(), "no pulls after Stop")

	fs.mu.Lock()
	assert.NotEmpty(t, fs.synced)
	fs.mu.Unlock()

	// Stop is idempotent
	svc.Stop()
}

func TestPullerService_Close(t *testing.T) {
	registry := NewPullerRegistry()
	p := NewMockPuller("AA:BB")
	registry.Register(p)

	svc := NewPullerService(newFakeStore(), registry, nil, ServiceOptions{Interval: time.Hour}, zap.NewNop())
	svc.Start()
	require.NoError(t, svc.Close())

	p.mu.Lock()
	defer p.mu.Unlock()
	assert.True(t, p.closed)
}

func TestDevicePuller_PullError(t *testing.T) {
	dev, err := aranet.NewReconnectingDevice(
		failingAdapter{},
		"AA:BB:CC:DD:EE:FF",
		aranet.ConnectOptions{Find: aranet.FindOptions{Attempts: 1, ScanDuration: time.Millisecond}},
		aranet.FixedDelayReconnectOptions(time.Millisecond, 1),
	)
	require.NoError(t, err)

	p := NewDevicePuller(dev)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", p.Identifier())
	assert.Same(t, dev, p.Device())
	assert.NotNil(t, p.HistorySource())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reading, err := p.Pull(ctx)
	assert.Error(t, err)
	assert.Nil(t, reading)
	assert.NoError(t, p.Close())
}
