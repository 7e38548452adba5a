// Package mqtt publishes readings to an MQTT broker.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/sguter90/aranetmaestro/pkg/pusher"
	"go.uber.org/zap"
)

// Config holds the broker connection settings
type Config struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	TopicPrefix    string
	QoS            byte
	Retain         bool
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.ClientID == "" {
		c.ClientID = "aranetmaestro-" + uuid.NewString()
	}
	if c.TopicPrefix == "" {
		c.TopicPrefix = "aranet"
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 5 * time.Second
	}
	return c
}

// client is the part of paho.Client the pusher uses
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// Pusher publishes readings as JSON to <prefix>/<device>/reading
type Pusher struct {
	client client
	cfg    Config
	logger *zap.Logger
}

// New connects to the broker
func New(cfg Config, logger *zap.Logger) (*Pusher, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt broker is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Warn("MQTT connection lost", zap.Error(err))
	})
	opts.SetOnConnectHandler(func(_ paho.Client) {
		logger.Info("✓ Connected to MQTT broker", zap.String("broker", cfg.Broker))
	})

	c := paho.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		return nil, fmt.Errorf("timed out connecting to MQTT broker %s", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}

	return newPusher(c, cfg, logger), nil
}

func newPusher(c client, cfg Config, logger *zap.Logger) *Pusher {
	return &Pusher{client: c, cfg: cfg.withDefaults(), logger: logger}
}

// Name returns "mqtt"
func (p *Pusher) Name() string {
	return "mqtt"
}

// Topic returns the topic readings of deviceID are published to
func (p *Pusher) Topic(deviceID string) string {
	return p.cfg.TopicPrefix + "/" + topicSafe(deviceID) + "/reading"
}

// topicSafe replaces characters with a meaning in MQTT topic filters
func topicSafe(s string) string {
	return strings.NewReplacer("/", "_", "+", "_", "#", "_", " ", "_").Replace(s)
}

// Push publishes the reading and waits for the broker to acknowledge it
func (p *Pusher) Push(ctx context.Context, reading pusher.PushedReading) error {
	payload, err := json.Marshal(reading)
	if err != nil {
		return fmt.Errorf("failed to encode reading: %w", err)
	}

	topic := p.Topic(reading.DeviceID)
	token := p.client.Publish(topic, p.cfg.QoS, p.cfg.Retain, payload)

	timeout := p.cfg.PublishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("timed out publishing to %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, err)
	}

	p.logger.Debug("published reading", zap.String("topic", topic))
	return nil
}

// Close disconnects, waiting up to 250ms for in-flight messages
func (p *Pusher) Close() error {
	p.client.Disconnect(250)
	return nil
}
