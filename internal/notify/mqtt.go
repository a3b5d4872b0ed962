package notify

import (
	"context"
	"fmt"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MQTTConfig carries the broker settings for the MQTT notifier.
type MQTTConfig struct {
	Broker         string
	ClientID       string
	TopicPrefix    string
	PublishTimeout time.Duration
}

// MQTTNotifier publishes events to an external broker so dashboards and
// pagers outside the process see merged records. QoS 0, unordered: a
// missed notification is recovered by the next sync, not by the broker.
type MQTTNotifier struct {
	client  MQTT.Client
	prefix  string
	timeout time.Duration
}

func NewMQTTNotifier(cfg MQTTConfig) (*MQTTNotifier, error) {
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "wardsync-" + uuid.NewString()[:8]
	}

	opts := MQTT.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetOrderMatters(false)
	opts.SetOnConnectHandler(func(MQTT.Client) {
		zap.S().Infof("connected to MQTT broker %s", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ MQTT.Client, err error) {
		zap.S().Warnf("connection lost to MQTT broker %s: %v", cfg.Broker, err)
	})

	client := MQTT.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to MQTT broker %s: %w", cfg.Broker, token.Error())
	}

	return &MQTTNotifier{
		client:  client,
		prefix:  cfg.TopicPrefix,
		timeout: cfg.PublishTimeout,
	}, nil
}

func (m *MQTTNotifier) Publish(_ context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event for %s: %w", ev.EntityID, err)
	}

	topic := ev.Topic
	if m.prefix != "" {
		topic = m.prefix + "/" + topic
	}

	token := m.client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(m.timeout) {
		return fmt.Errorf("publish to %s timed out after %s", topic, m.timeout)
	}
	return token.Error()
}

func (m *MQTTNotifier) Close() {
	m.client.Disconnect(250)
}
