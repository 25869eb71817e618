package app

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/treelight/internal/config"
	"github.com/dokzlo13/treelight/internal/eventbus"
	"github.com/dokzlo13/treelight/internal/mqtt"
)

// TransportService connects the MQTT client to the event bus.
type TransportService struct {
	bus    *eventbus.Bus
	Client *mqtt.Client
}

// NewTransportService creates the MQTT client for the configured broker.
func NewTransportService(cfg *config.Config, bus *eventbus.Bus) *TransportService {
	s := &TransportService{bus: bus}
	s.Client = mqtt.New(mqtt.Config{
		Server:         cfg.MQTT.Server,
		ClientID:       cfg.MQTT.ClientID,
		Topic:          cfg.MQTT.Topic,
		Username:       cfg.MQTT.Username,
		Password:       cfg.MQTT.Password,
		QoS:            cfg.MQTT.QoS,
		ConnectTimeout: cfg.MQTT.ConnectTimeout.Duration(),
		MinBackoff:     cfg.MQTT.MinRetryBackoff.Duration(),
		MaxBackoff:     cfg.MQTT.MaxRetryBackoff.Duration(),
		Multiplier:     cfg.MQTT.RetryMultiplier,
		MaxReconnects:  cfg.MQTT.MaxReconnects,
	}, s)
	return s
}

// Start runs the MQTT session in the background.
// onFatalError is called if the broker cannot be reached within the configured attempts.
func (s *TransportService) Start(ctx context.Context, onFatalError func(error)) {
	go func() {
		if err := s.Client.Run(ctx); err != nil {
			onFatalError(err)
		}
	}()
}

// HandleMessage implements mqtt.Handler.
func (s *TransportService) HandleMessage(topic string, payload []byte) {
	id := uuid.NewString()
	if !s.bus.Publish(eventbus.Event{
		Type:     eventbus.EventTypeMessage,
		ID:       id,
		Source:   eventbus.SourceMQTT,
		Topic:    topic,
		Payload:  payload,
		Received: time.Now(),
	}) {
		log.Warn().Str("message_id", id).Str("topic", topic).Msg("Inbound message dropped")
	}
}

// HandleConnected implements mqtt.Handler.
func (s *TransportService) HandleConnected() {
	id := uuid.NewString()
	if !s.bus.Publish(eventbus.Event{
		Type:     eventbus.EventTypeConnected,
		ID:       id,
		Source:   eventbus.SourceMQTT,
		Received: time.Now(),
	}) {
		log.Warn().Str("event_id", id).Msg("Connected event dropped, lights restore on the next command")
	}
}

// Publish implements Publisher.
func (s *TransportService) Publish(topic string, payload []byte) error {
	return s.Client.Publish(topic, payload)
}

// IsConnected reports broker connectivity for readiness checks.
func (s *TransportService) IsConnected() bool {
	return s.Client.IsConnected()
}
