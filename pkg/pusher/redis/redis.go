// Package redis caches the latest reading of each device in Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sguter90/aranetmaestro/pkg/pusher"
	"go.uber.org/zap"
)

// Config holds the Redis connection settings
type Config struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces all keys
	Prefix string
	// TTL expires a device's latest reading; zero keeps it forever
	TTL time.Duration
}

// Pusher stores <prefix>:latest:<device> and the <prefix>:devices set
type Pusher struct {
	client *goredis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// New connects to Redis and verifies the connection
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Pusher, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "aranet"
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("✓ Connected to Redis", zap.String("addr", cfg.Addr))
	return &Pusher{client: client, prefix: cfg.Prefix, ttl: cfg.TTL, logger: logger}, nil
}

// Name returns "redis"
func (p *Pusher) Name() string {
	return "redis"
}

func (p *Pusher) latestKey(deviceID string) string {
	return p.prefix + ":latest:" + deviceID
}

func (p *Pusher) devicesKey() string {
	return p.prefix + ":devices"
}

// Push stores the reading as the device's latest
func (p *Pusher) Push(ctx context.Context, reading pusher.PushedReading) error {
	payload, err := json.Marshal(reading)
	if err != nil {
		return fmt.Errorf("failed to encode reading: %w", err)
	}

	_, err = p.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, p.latestKey(reading.DeviceID), payload, p.ttl)
		pipe.SAdd(ctx, p.devicesKey(), reading.DeviceID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store reading: %w", err)
	}
	return nil
}

// Latest returns the cached reading of a device, or nil when there is none
func (p *Pusher) Latest(ctx context.Context, deviceID string) (*pusher.PushedReading, error) {
	payload, err := p.client.Get(ctx, p.latestKey(deviceID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest reading: %w", err)
	}

	var reading pusher.PushedReading
	if err := json.Unmarshal(payload, &reading); err != nil {
		return nil, fmt.Errorf("failed to decode reading: %w", err)
	}
	return &reading, nil
}

// Devices returns the ids of all devices that were ever pushed
func (p *Pusher) Devices(ctx context.Context) ([]string, error) {
	ids, err := p.client.SMembers(ctx, p.devicesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close closes the Redis connection
func (p *Pusher) Close() error {
	return p.client.Close()
}
