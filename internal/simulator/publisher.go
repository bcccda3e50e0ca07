package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-resty/resty/v2"

	"github.com/roadbuddy/fleetwatch/internal/config"
	"github.com/roadbuddy/fleetwatch/internal/ingress"
)

// TelemetryPath is the ingest route on a fleetwatch server.
const TelemetryPath = "/api/v1/drivers/telemetry"

// Publisher delivers one update.
type Publisher interface {
	Publish(ctx context.Context, u ingress.Update) error
}

var (
	_ Publisher = (*HTTPPublisher)(nil)
	_ Publisher = (*MQTTPublisher)(nil)
)

// HTTPPublisher PUTs updates to a fleetwatch server.
type HTTPPublisher struct {
	client *resty.Client
}

// NewHTTPPublisher returns a publisher for the server at baseURL. A non-empty
// token is sent as a bearer token.
func NewHTTPPublisher(baseURL, token string) *HTTPPublisher {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(5 * time.Second).
		SetHeader("Content-Type", "application/json")
	if token != "" {
		client.SetAuthToken(token)
	}
	return &HTTPPublisher{client: client}
}

type errorBody struct {
	Error string `json:"error"`
}

// Publish sends u and fails on any non-2xx answer.
func (p *HTTPPublisher) Publish(ctx context.Context, u ingress.Update) error {
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(u).
		SetError(&errorBody{}).
		Put(TelemetryPath)
	if err != nil {
		return fmt.Errorf("failed to publish telemetry: %w", err)
	}
	if resp.IsError() {
		if body, ok := resp.Error().(*errorBody); ok && body.Error != "" {
			return fmt.Errorf("telemetry rejected: status %d: %s", resp.StatusCode(), body.Error)
		}
		return fmt.Errorf("telemetry rejected: status %d", resp.StatusCode())
	}
	return nil
}

// MQTTPublisher publishes updates to the ingress topic.
type MQTTPublisher struct {
	client mqtt.Client
	topic  string
	qos    byte
}

// NewMQTTPublisher prepares a publisher for cfg.Broker. Connect must be
// called before Publish.
func NewMQTTPublisher(cfg config.MQTTConfig) *MQTTPublisher {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID + "-sim")
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(10 * time.Second)

	return &MQTTPublisher{client: mqtt.NewClient(opts), topic: cfg.Topic, qos: cfg.QoS}
}

// Connect dials the broker.
func (p *MQTTPublisher) Connect(ctx context.Context) error {
	token := p.client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("failed to connect to MQTT broker: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Publish sends u to the vehicle's topic.
func (p *MQTTPublisher) Publish(ctx context.Context, u ingress.Update) error {
	payload, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("failed to encode telemetry: %w", err)
	}

	id := ""
	if u.DriverID != nil {
		id = *u.DriverID
	}
	token := p.client.Publish(TopicFor(p.topic, id), p.qos, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}

// TopicFor fills the first single-level wildcard of filter with vehicleID.
// Filters without one are used as is.
func TopicFor(filter, vehicleID string) string {
	return strings.Replace(filter, "+", vehicleID, 1)
}
