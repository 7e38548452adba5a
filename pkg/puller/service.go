package puller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sguter90/aranetmaestro/pkg/models"
	"github.com/sguter90/aranetmaestro/pkg/pusher"
	"github.com/sguter90/aranetmaestro/pkg/syncer"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// Store persists pulled readings
type Store interface {
	InsertReading(ctx context.Context, identifier string, reading models.CurrentReading) error
}

// Syncer downloads device history; *syncer.Reconciler satisfies it
type Syncer interface {
	Sync(ctx context.Context, dev syncer.HistorySource, identifier string, opts syncer.SyncOptions) (models.SyncResult, error)
}

// ServiceOptions configures the polling loop
type ServiceOptions struct {
	Interval time.Duration
	// Concurrency bounds the number of devices pulled at once
	Concurrency int
	// PullTimeout bounds one device pull including reconnects
	PullTimeout time.Duration
	// SyncEvery runs a history sync every n ticks; zero disables syncing
	SyncEvery int
	Sync      syncer.SyncOptions
}

// DefaultServiceOptions polls every minute and syncs history hourly
func DefaultServiceOptions() ServiceOptions {
	return ServiceOptions{
		Interval:    time.Minute,
		Concurrency: 4,
		PullTimeout: 30 * time.Second,
		SyncEvery:   60,
	}
}

// PullerService manages periodic pulling from registered devices
type PullerService struct {
	store          Store
	pullerRegistry *PullerRegistry
	pushers        *pusher.Registry
	syncer         Syncer
	onReading      func(identifier string, reading models.CurrentReading)
	opts           ServiceOptions
	logger         *zap.Logger

	stopChan chan struct{}
	stopOnce sync.Once
	started  atomic.Bool
	done     chan struct{}
	ticks    int
}

// NewPullerService creates a new PullerService. pushers may be nil.
func NewPullerService(store Store, registry *PullerRegistry, pushers *pusher.Registry, opts ServiceOptions, logger *zap.Logger) *PullerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultServiceOptions()
	if opts.Interval <= 0 {
		opts.Interval = def.Interval
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = def.Concurrency
	}
	if opts.PullTimeout <= 0 {
		opts.PullTimeout = def.PullTimeout
	}

	return &PullerService{
		store:          store,
		pullerRegistry: registry,
		pushers:        pushers,
		opts:           opts,
		logger:         logger,
		stopChan:       make(chan struct{}),
		done:           make(chan struct{}),
	}
}

// SetSyncer enables the scheduled history sync
func (ps *PullerService) SetSyncer(s Syncer) {
	ps.syncer = s
}

// OnReading registers a hook called for every stored reading
func (ps *PullerService) OnReading(fn func(identifier string, reading models.CurrentReading)) {
	ps.onReading = fn
}

// Start begins the periodic pulling service
func (ps *PullerService) Start() {
	if !ps.started.CompareAndSwap(false, true) {
		return
	}
	go ps.run()
	ps.logger.Info("✓ Puller service started",
		zap.Duration("interval", ps.opts.Interval),
		zap.Int("devices", len(ps.pullerRegistry.All())),
	)
}

// Stop halts the pulling service and waits for the running tick to finish
func (ps *PullerService) Stop() {
	ps.stopOnce.Do(func() {
		close(ps.stopChan)
		if ps.started.Load() {
			<-ps.done
		}
		ps.logger.Info("✓ Puller service stopped")
	})
}

// run executes the pulling loop
func (ps *PullerService) run() {
	defer close(ps.done)

	ticker := time.NewTicker(ps.opts.Interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-ps.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	// Pull immediately on start
	ps.tick(ctx)

	for {
		select {
		case <-ps.stopChan:
			return
		case <-ticker.C:
			ps.tick(ctx)
		}
	}
}

func (ps *PullerService) tick(ctx context.Context) {
	ps.ticks++

	if err := ps.PullAll(ctx); err != nil {
		ps.logger.Warn("some devices could not be pulled", zap.Error(err))
	}

	if ps.syncer != nil && ps.opts.SyncEvery > 0 && ps.ticks%ps.opts.SyncEvery == 0 {
		if err := ps.SyncAll(ctx); err != nil {
			ps.logger.Warn("some devices could not be synced", zap.Error(err))
		}
	}
}

// PullAll pulls every registered device concurrently, stores the readings
// and hands them to the pushers.
func (ps *PullerService) PullAll(ctx context.Context) error {
	p := pool.New().WithErrors().WithMaxGoroutines(ps.opts.Concurrency)

	for _, puller := range ps.pullerRegistry.All() {
		puller := puller
		p.Go(func() error {
			return ps.pull(ctx, puller)
		})
	}

	return p.Wait()
}

func (ps *PullerService) pull(ctx context.Context, p Puller) error {
	id := p.Identifier()

	ctx, cancel := context.WithTimeout(ctx, ps.opts.PullTimeout)
	defer cancel()

	reading, err := p.Pull(ctx)
	if err != nil {
		ps.logger.Error("❌ Error pulling from device", zap.String("device", id), zap.Error(err))
		return fmt.Errorf("%s: %w", id, err)
	}
	if reading == nil {
		return fmt.Errorf("%s: no reading received", id)
	}

	if err := ps.store.InsertReading(ctx, id, *reading); err != nil {
		ps.logger.Error("❌ Error storing reading", zap.String("device", id), zap.Error(err))
		return fmt.Errorf("%s: %w", id, err)
	}

	if ps.onReading != nil {
		ps.onReading(id, *reading)
	}

	if ps.pushers != nil {
		pushed := pusher.PushedReading{DeviceID: id, Source: pusher.SourcePoll, Reading: *reading}
		if dp, ok := p.(*DevicePuller); ok {
			pushed.Name = dp.Device().Name()
			pushed.DeviceType = dp.Device().Type().String()
		}
		// Push failures are logged by the registry and do not fail the pull
		_ = ps.pushers.PushAll(ctx, pushed)
	}

	ps.logger.Info("✓ Pulled reading", zap.String("device", id))
	return nil
}

// SyncAll runs a history sync for every puller that supports it, one at a time
func (ps *PullerService) SyncAll(ctx context.Context) error {
	if ps.syncer == nil {
		return errors.New("history sync not configured")
	}

	var errs []error
	for _, p := range ps.pullerRegistry.All() {
		hp, ok := p.(HistoryPuller)
		if !ok {
			continue
		}
		result, err := ps.syncer.Sync(ctx, hp.HistorySource(), hp.Identifier(), ps.opts.Sync)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", hp.Identifier(), err))
			continue
		}
		ps.logger.Info("✓ Synced history",
			zap.String("device", hp.Identifier()),
			zap.Int("inserted", result.Inserted),
		)
	}
	return errors.Join(errs...)
}

// Close stops the service and releases every puller that holds a connection
func (ps *PullerService) Close() error {
	ps.Stop()

	var errs []error
	for _, p := range ps.pullerRegistry.All() {
		if c, ok := p.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
