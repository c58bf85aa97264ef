// v0
// internal/ingest/mqtt.go
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConfig describes the broker subscription used when devices publish
// straight to MQTT instead of Kafka.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Topic    string
	QoS      byte
}

// MQTTSource subscribes to a topic filter with manual acknowledgments so a
// message is only acked once it has been processed.
type MQTTSource struct {
	client mqtt.Client
	log    *slog.Logger
	ch     chan mqtt.Message
	done   chan struct{}
	once   sync.Once
}

// NewMQTTSource connects and subscribes. The subscription is renewed on every
// reconnect.
func NewMQTTSource(cfg MQTTConfig, log *slog.Logger) (*MQTTSource, error) {
	if cfg.Broker == "" || cfg.Topic == "" {
		return nil, fmt.Errorf("mqtt broker and topic are required")
	}
	if log == nil {
		log = slog.Default()
	}
	s := newMQTTSource(log)

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetCleanSession(false).
		SetAutoReconnect(true).
		SetOrderMatters(true).
		SetAutoAckDisabled(true).
		SetConnectTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		token := c.Subscribe(cfg.Topic, cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
			s.deliver(msg)
		})
		if !token.WaitTimeout(10*time.Second) || token.Error() != nil {
			log.Error("mqtt_subscribe_failed", slog.String("topic", cfg.Topic), slog.Any("err", token.Error()))
			return
		}
		log.Info("mqtt_subscribed", slog.String("topic", cfg.Topic), slog.Int("qos", int(cfg.QoS)))
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn("mqtt_connection_lost", slog.Any("err", err))
	})

	s.client = mqtt.NewClient(opts)
	token := s.client.Connect()
	if !token.WaitTimeout(15 * time.Second) {
		return nil, fmt.Errorf("mqtt connect %s: timeout", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, err)
	}
	log.Info("mqtt_source_ready", slog.String("broker", cfg.Broker), slog.String("client_id", cfg.ClientID))
	return s, nil
}

func newMQTTSource(log *slog.Logger) *MQTTSource {
	return &MQTTSource{log: log, ch: make(chan mqtt.Message), done: make(chan struct{})}
}

// deliver blocks the paho router until Fetch takes the message, keeping
// messages in arrival order.
func (s *MQTTSource) deliver(msg mqtt.Message) {
	select {
	case s.ch <- msg:
	case <-s.done:
	}
}

// Fetch returns the next message; its Commit acks it to the broker.
func (s *MQTTSource) Fetch(ctx context.Context) (Delivery, error) {
	select {
	case <-ctx.Done():
		return Delivery{}, ctx.Err()
	case <-s.done:
		return Delivery{}, ErrClosed
	case msg := <-s.ch:
		return Delivery{
			Source: "mqtt",
			Topic:  msg.Topic(),
			Offset: int64(msg.MessageID()),
			Value:  msg.Payload(),
			commit: func(context.Context) error {
				msg.Ack()
				return nil
			},
		}, nil
	}
}

// Close stops deliveries and disconnects.
func (s *MQTTSource) Close() error {
	s.once.Do(func() {
		close(s.done)
		if s.client != nil && s.client.IsConnected() {
			s.client.Disconnect(250)
		}
	})
	return nil
}
