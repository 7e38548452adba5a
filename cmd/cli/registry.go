package main

import (
	"context"
	"fmt"

	"github.com/sguter90/aranetmaestro/pkg/aranet"
	"github.com/sguter90/aranetmaestro/pkg/config"
	"github.com/sguter90/aranetmaestro/pkg/database"
	"github.com/sguter90/aranetmaestro/pkg/models"
	"github.com/sguter90/aranetmaestro/pkg/puller"
	"github.com/sguter90/aranetmaestro/pkg/pusher"
	"github.com/sguter90/aranetmaestro/pkg/pusher/mqtt"
	"github.com/sguter90/aranetmaestro/pkg/pusher/redis"
	"github.com/sguter90/aranetmaestro/pkg/syncer"
	"go.uber.org/zap"
)

// RegistryManager holds the pushers, the polled devices and the service
// that drives them.
type RegistryManager struct {
	PusherRegistry *pusher.Registry
	PullerRegistry *puller.PullerRegistry
	PullerService  *puller.PullerService
	Metrics        *aranet.MetricsCollector
}

// InitPusherRegistry connects the enabled pushers
func InitPusherRegistry(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*pusher.Registry, error) {
	registry := pusher.NewRegistry(logger)

	if cfg.MQTT.Enabled {
		p, err := mqtt.New(cfg.MQTT.PusherConfig(), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to start mqtt pusher: %w", err)
		}
		logger.Info("✓ Registering pusher", zap.String("pusher", p.Name()), zap.String("broker", cfg.MQTT.Broker))
		registry.Register(p)
	}

	if cfg.Redis.Enabled {
		p, err := redis.New(ctx, cfg.Redis.PusherConfig(), logger)
		if err != nil {
			registry.Close()
			return nil, fmt.Errorf("failed to start redis pusher: %w", err)
		}
		logger.Info("✓ Registering pusher", zap.String("pusher", p.Name()), zap.String("addr", cfg.Redis.Addr))
		registry.Register(p)
	}

	return registry, nil
}

// InitRegistryManager registers a puller per configured device and wires
// the polling service to the store, the pushers and the metrics.
func InitRegistryManager(ctx context.Context, a *app, dm *database.DatabaseManager) (*RegistryManager, error) {
	pusherRegistry, err := InitPusherRegistry(ctx, a.cfg, a.logger)
	if err != nil {
		return nil, err
	}

	metrics := aranet.NewMetricsCollector()
	pullerRegistry := puller.NewPullerRegistry()

	for _, id := range a.cfg.Poller.Devices {
		device, err := a.reconnecting(id)
		if err != nil {
			pusherRegistry.Close()
			return nil, fmt.Errorf("failed to set up device %s: %w", id, err)
		}
		a.logger.Info("✓ Registering puller", zap.String("device", id))
		metrics.TrackDevice(id, device.Metrics())
		pullerRegistry.Register(puller.NewDevicePuller(device))
	}

	opts := a.cfg.Poller.ServiceOptions()
	opts.Sync = syncer.SyncOptions{History: a.cfg.History.Options()}

	pullerService := puller.NewPullerService(dm, pullerRegistry, pusherRegistry, opts, a.logger)
	pullerService.SetSyncer(syncer.NewReconciler(dm, a.logger))
	pullerService.OnReading(func(identifier string, reading models.CurrentReading) {
		name, deviceType := identifier, models.DeviceTypeUnknown
		if p, ok := pullerRegistry.Get(identifier); ok {
			if dp, ok := p.(*puller.DevicePuller); ok {
				name, deviceType = dp.Device().Name(), dp.Device().Type()
			}
		}
		metrics.ObserveReading(identifier, name, deviceType, reading)
	})

	return &RegistryManager{
		PusherRegistry: pusherRegistry,
		PullerRegistry: pullerRegistry,
		PullerService:  pullerService,
		Metrics:        metrics,
	}, nil
}

// Close stops polling, disconnects the devices and closes the pushers
func (rm *RegistryManager) Close() error {
	err := rm.PullerService.Close()
	if perr := rm.PusherRegistry.Close(); perr != nil && err == nil {
		err = perr
	}
	return err
}
