package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/banshee-data/activity.report/internal/dispatch"
)

// Publisher is the part of mqtt.Client the sink uses.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTConfig configures the broker connection and topics.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	// TopicPrefix is prepended to "/activity" and "/fall".
	TopicPrefix string
	QoS         byte
	Timeout     time.Duration
}

const defaultMQTTTimeout = 5 * time.Second

// DialMQTT connects to the configured broker.
func DialMQTT(cfg MQTTConfig) (mqtt.Client, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt broker address is empty")
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetCleanSession(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultMQTTTimeout
	}
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, fmt.Errorf("timed out connecting to MQTT broker %s", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	return client, nil
}

// MQTTSink publishes activities and fall alerts as JSON. Fall alerts are
// published at QoS 1 at least; activities use the configured QoS.
type MQTTSink struct {
	pub           Publisher
	activityTopic string
	fallTopic     string
	qos           byte
	timeout       time.Duration
}

// NewMQTTSink creates a sink publishing through pub.
func NewMQTTSink(pub Publisher, cfg MQTTConfig) *MQTTSink {
	prefix := strings.TrimSuffix(cfg.TopicPrefix, "/")
	if prefix == "" {
		prefix = "activity"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultMQTTTimeout
	}
	return &MQTTSink{
		pub:           pub,
		activityTopic: prefix + "/activity",
		fallTopic:     prefix + "/fall",
		qos:           cfg.QoS,
		timeout:       timeout,
	}
}

// ActivityDetected implements dispatch.Observer.
func (s *MQTTSink) ActivityDetected(ctx context.Context, ev dispatch.Event) error {
	return s.publish(ctx, s.activityTopic, s.qos, false, ev)
}

// NotifyFall implements dispatch.Alerter.
func (s *MQTTSink) NotifyFall(ctx context.Context, a dispatch.FallAlert) error {
	return s.publish(ctx, s.fallTopic, max(s.qos, 1), false, a)
}

func (s *MQTTSink) publish(ctx context.Context, topic string, qos byte, retained bool, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", topic, err)
	}

	token := s.pub.Publish(topic, qos, retained, payload)
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("timed out publishing to topic %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, err)
	}
	return nil
}
