// Package publisher pushes status snapshots to the MQTT broker for
// home-automation consumers.
package publisher

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"tibberwatch/internal/config"
	"tibberwatch/pkg/models"
)

// Publisher handles publishing to the MQTT broker.
type Publisher struct {
	client    mqtt.Client
	rootTopic string
	logger    *zap.Logger
}

// New connects to the broker. Delivery is fire-and-forget QoS 0; the
// paho client handles reconnection on its own.
func New(cfg config.MQTTConfig, rootTopic string, logger *zap.Logger) (*Publisher, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt broker address is required")
	}

	clientID := "tibberwatch-" + uuid.NewString()[:8]

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", cfg.Broker))
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connecting to MQTT broker: %w", token.Error())
	}
	logger.Info("connected to MQTT broker",
		zap.String("broker", cfg.Broker),
		zap.String("client_id", clientID))

	return &Publisher{
		client:    client,
		rootTopic: rootTopic,
		logger:    logger,
	}, nil
}

// PublishStatus serializes a site snapshot under <root>/<site>.
func (p *Publisher) PublishStatus(site string, status models.SiteStatus) error {
	payload, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("encoding status for %s: %w", site, err)
	}
	return p.Publish(site, string(payload))
}

// Publish sends a raw payload under <root>/<topic>, fire-and-forget.
func (p *Publisher) Publish(topic string, payload string) error {
	fullTopic := p.rootTopic + "/" + topic
	token := p.client.Publish(fullTopic, 0, false, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", fullTopic, token.Error())
	}
	p.logger.Debug("published", zap.String("topic", fullTopic))
	return nil
}

// Close disconnects from the MQTT broker.
func (p *Publisher) Close() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}
