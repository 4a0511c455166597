package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aj9599/submeter-billing/logger"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const (
	EventReadingSubmitted = "reading.submitted"
	EventReadingApproved  = "reading.approved"
	EventReadingRejected  = "reading.rejected"
	EventStatementsSaved  = "statement.saved"
)

// EventPublisher announces completed domain transitions. Publishing is best
// effort: a failed publish is logged and never undoes the transition.
type EventPublisher interface {
	Publish(ctx context.Context, adminID int64, event string, payload interface{})
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, int64, string, interface{}) {}

type eventEnvelope struct {
	Event      string      `json:"event"`
	AdminID    int64       `json:"admin_id"`
	OccurredAt time.Time   `json:"occurred_at"`
	Payload    interface{} `json:"payload"`
}

// MQTTPublisher publishes events to <prefix>/<adminID>/<event>, where the
// mobile app's notification bridge picks them up.
type MQTTPublisher struct {
	client  mqtt.Client
	prefix  string
	timeout time.Duration
}

func NewMQTTPublisher(broker, clientID, prefix string, timeout time.Duration) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(timeout).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.L().Warn("mqtt connection lost", zap.Error(err))
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, fmt.Errorf("connect to mqtt broker %s: timed out", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to mqtt broker %s: %w", broker, err)
	}

	logger.L().Info("connected to mqtt broker", zap.String("broker", broker))
	return &MQTTPublisher{client: client, prefix: strings.Trim(prefix, "/"), timeout: timeout}, nil
}

func (p *MQTTPublisher) Topic(adminID int64, event string) string {
	return fmt.Sprintf("%s/%d/%s", p.prefix, adminID, strings.ReplaceAll(event, ".", "/"))
}

func (p *MQTTPublisher) Publish(ctx context.Context, adminID int64, event string, payload interface{}) {
	log := logger.FromContext(ctx).Named("events")

	body, err := json.Marshal(eventEnvelope{
		Event:      event,
		AdminID:    adminID,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	})
	if err != nil {
		log.Error("failed to encode event", zap.String("event", event), zap.Error(err))
		return
	}

	topic := p.Topic(adminID, event)
	token := p.client.Publish(topic, 1, false, body)
	if !token.WaitTimeout(p.timeout) {
		log.Warn("event publish timed out", zap.String("topic", topic))
		return
	}
	if err := token.Error(); err != nil {
		log.Warn("event publish failed", zap.String("topic", topic), zap.Error(err))
	}
}

func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}
