// Package publish fans pose events out to live consumers over MQTT,
// WebSocket and ZeroMQ.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/andresmejia3/posecast/internal/types"
)

const (
	mqttConnectTimeout = 5 * time.Second
	mqttPublishTimeout = 2 * time.Second
	mqttQoS            = 0
)

// MQTT publishes each event as JSON to a single topic.
type MQTT struct {
	client    mqtt.Client
	topic     string
	log       *logrus.Entry
	published atomic.Uint64
}

// NewMQTT connects to broker. The client reconnects on its own after the
// first successful connection.
func NewMQTT(broker, topic, clientID string, log *logrus.Logger) (*MQTT, error) {
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	entry := log.WithFields(logrus.Fields{"sink": "mqtt", "broker": broker})

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		entry.Info("mqtt connection established")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		entry.WithError(err).Warn("mqtt connection lost, will auto-reconnect")
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}
	return newMQTT(client, topic, entry), nil
}

func newMQTT(client mqtt.Client, topic string, log *logrus.Entry) *MQTT {
	return &MQTT{client: client, topic: topic, log: log}
}

func (m *MQTT) Publish(_ context.Context, event types.PoseEvent) error {
	if !m.client.IsConnected() {
		return fmt.Errorf("mqtt not connected")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	token := m.client.Publish(m.topic, mqttQoS, false, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}

	m.published.Add(1)
	m.log.WithFields(logrus.Fields{"topic": m.topic, "size": len(payload)}).Debug("event published")
	return nil
}

// Published reports how many events reached the broker.
func (m *MQTT) Published() uint64 { return m.published.Load() }

func (m *MQTT) Close() error {
	m.client.Disconnect(250)
	return nil
}
