package ingress

import (
	"bytes"
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/roadbuddy/fleetwatch/internal/config"
)

const mqttDisconnectQuiesce = 250 // ms

// MQTTSubscriber feeds telemetry published on a topic filter into an Ingress.
type MQTTSubscriber struct {
	cfg      config.MQTTConfig
	ingress  *Ingress
	recorder Recorder
	logger   *zap.Logger
	client   mqtt.Client
}

// Recorder observes the outcome of every submission. err is nil for accepted
// updates.
type Recorder interface {
	Record(ctx context.Context, source string, u Update, err error)
}

// SetRecorder registers r to observe every message.
func (s *MQTTSubscriber) SetRecorder(r Recorder) {
	s.recorder = r
}

// NewMQTTSubscriber prepares a subscriber; Run connects it.
func NewMQTTSubscriber(cfg config.MQTTConfig, in *Ingress, logger *zap.Logger) *MQTTSubscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &MQTTSubscriber{
		cfg:     cfg,
		ingress: in,
		logger:  logger.Named("mqtt").With(zap.String("broker", cfg.Broker), zap.String("topic", cfg.Topic)),
	}

	opts := mqtt.NewClientOptions()
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
	opts.SetConnectTimeout(10 * time.Second)
	// Resubscribe on every (re)connect; clean sessions drop subscriptions.
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		if err := s.subscribe(c); err != nil {
			s.logger.Error("subscribe failed", zap.Error(err))
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.logger.Warn("connection lost", zap.Error(err))
	})

	s.client = mqtt.NewClient(opts)
	return s
}

// Run connects and consumes until ctx is done.
func (s *MQTTSubscriber) Run(ctx context.Context) error {
	token := s.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		// Stop the pending attempt and the auto-reconnect loop behind it.
		s.client.Disconnect(mqttDisconnectQuiesce)
		s.logger.Info("mqtt ingress cancelled before connecting")
		return nil
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	s.logger.Info("mqtt ingress connected")

	<-ctx.Done()

	if t := s.client.Unsubscribe(s.cfg.Topic); t.WaitTimeout(time.Second) && t.Error() != nil {
		s.logger.Debug("unsubscribe failed", zap.Error(t.Error()))
	}
	s.client.Disconnect(mqttDisconnectQuiesce)
	s.logger.Info("mqtt ingress stopped")
	return nil
}

func (s *MQTTSubscriber) subscribe(c mqtt.Client) error {
	token := c.Subscribe(s.cfg.Topic, s.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		if err := s.HandleMessage(msg.Topic(), msg.Payload()); err != nil {
			s.logger.Warn("dropped mqtt telemetry", zap.String("message_topic", msg.Topic()), zap.Error(err))
		}
	})
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("timed out subscribing to %s", s.cfg.Topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", s.cfg.Topic, err)
	}
	return nil
}

// HandleMessage ingests one MQTT payload. The payload has the same shape as
// the HTTP PUT body.
func (s *MQTTSubscriber) HandleMessage(topic string, payload []byte) error {
	ctx := context.Background()
	u, err := DecodeUpdate(bytes.NewReader(payload))
	if err == nil {
		_, err = s.ingress.ingest(ctx, SourceMQTT, u)
	}
	if s.recorder != nil {
		s.recorder.Record(ctx, SourceMQTT, u, err)
	}
	if err != nil {
		return fmt.Errorf("topic %s: %w", topic, err)
	}
	return nil
}
