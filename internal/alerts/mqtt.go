package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConfig selects the broker alerts are published to.
type MQTTConfig struct {
	Broker   string // host:port or a full URL
	ClientID string
	Username string
	Password string
	QoS      byte
}

// MQTTPublisher publishes payloads to an MQTT broker.
type MQTTPublisher struct {
	client mqtt.Client
	qos    byte
	logger *slog.Logger

	mu        sync.RWMutex
	connected bool
}

// DialMQTT connects to the broker. The client reconnects on its own after
// the first successful connection.
func DialMQTT(cfg MQTTConfig, logger *slog.Logger) (*MQTTPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &MQTTPublisher{qos: cfg.QoS, logger: logger.With("component", "mqtt")}

	broker := cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		p.setConnected(true)
		p.logger.Info("mqtt connection established", "broker", broker)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		p.setConnected(false)
		p.logger.Warn("mqtt connection lost, will auto-reconnect", "error", err)
	}

	p.client = mqtt.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}
	p.setConnected(true)
	return p, nil
}

// Publish sends one payload and waits for the broker acknowledgement or
// the context deadline.
func (p *MQTTPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	if !p.IsConnected() {
		return fmt.Errorf("mqtt not connected")
	}
	token := p.client.Publish(topic, p.qos, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return fmt.Errorf("publish %s: %w", topic, ctx.Err())
	}
}

// IsConnected reports the last known connection state.
func (p *MQTTPublisher) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected
}

func (p *MQTTPublisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() error {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
	}
	p.setConnected(false)
	return nil
}

// MQTTSink publishes each event as JSON on <topic>/<client_id>/<alert>.
type MQTTSink struct {
	pub   publisher
	topic string
}

type publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// NewMQTTSink creates a sink on top of a connected publisher.
func NewMQTTSink(pub *MQTTPublisher, topic string) *MQTTSink {
	return &MQTTSink{pub: pub, topic: topic}
}

// Name implements Sink.
func (s *MQTTSink) Name() string { return "mqtt" }

// Topic returns the topic an event is published on.
func (s *MQTTSink) Topic(ev Event) string {
	return s.topic + "/" + ev.ClientID + "/" + ev.Alert
}

// Send implements Sink.
func (s *MQTTSink) Send(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	return s.pub.Publish(ctx, s.Topic(ev), payload)
}
