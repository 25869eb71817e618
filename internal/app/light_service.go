package app

import (
	"errors"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/treelight/internal/command"
	"github.com/dokzlo13/treelight/internal/eventbus"
	"github.com/dokzlo13/treelight/internal/ledger"
	"github.com/dokzlo13/treelight/internal/light"
)

// Publisher sends outbound payloads to the transport.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Recorder appends to the command ledger.
type Recorder interface {
	Append(entry ledger.Entry) error
}

// LightService owns the light controller and applies inbound messages to it.
// All controller access happens on the event bus dispatcher.
type LightService struct {
	controller  *light.Controller
	publisher   Publisher
	recorder    Recorder
	statusTopic string
	limiter     *rate.Limiter // nil = unlimited

	latest atomic.Pointer[light.StatusReport]
}

// NewLightService creates a LightService. rateLimitRPS <= 0 disables throttling.
func NewLightService(controller *light.Controller, publisher Publisher, recorder Recorder, statusTopic string, rateLimitRPS float64) *LightService {
	s := &LightService{
		controller:  controller,
		publisher:   publisher,
		recorder:    recorder,
		statusTopic: statusTopic,
	}
	if rateLimitRPS > 0 {
		burst := int(rateLimitRPS)
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(rateLimitRPS), burst)
	}
	s.storeSnapshot()
	return s
}

// Start darkens the fixture and blinks green until the broker connects.
// Must be called before events are published to the bus.
func (s *LightService) Start() {
	if err := s.controller.Off(); err != nil {
		log.Warn().Err(err).Msg("Failed to clear lights")
	}
	if err := s.controller.Indicate(light.Green); err != nil {
		log.Warn().Err(err).Msg("Failed to show connecting indicator")
	}
}

// Subscribe registers the service's handlers on the bus.
func (s *LightService) Subscribe(bus *eventbus.Bus) {
	bus.Subscribe(eventbus.EventTypeMessage, s.HandleMessage)
	bus.Subscribe(eventbus.EventTypeConnected, s.HandleConnected)
}

// Snapshot returns the status as of the last handled event. Safe for concurrent use.
func (s *LightService) Snapshot() light.StatusReport {
	return *s.latest.Load()
}

// HandleConnected restores the light state over the connecting indicator.
func (s *LightService) HandleConnected(eventbus.Event) {
	if err := s.controller.Render(); err != nil {
		log.Error().Err(err).Msg("Failed to render lights")
	}
}

// HandleMessage decodes and applies one inbound message.
func (s *LightService) HandleMessage(e eventbus.Event) {
	logger := log.With().
		Str("message_id", e.ID).
		Str("source", e.Source).
		Str("topic", e.Topic).
		Logger()

	entry := ledger.Entry{
		MessageID: e.ID,
		Source:    e.Source,
		Topic:     e.Topic,
		Payload:   string(e.Payload),
	}

	if s.limiter != nil && !s.limiter.Allow() {
		logger.Warn().Msg("Rate limit exceeded, dropping message")
		entry.EventType = ledger.EventCommandIgnored
		entry.Detail = "rate limited"
		s.record(logger, entry)
		return
	}

	cmd, err := command.Decode(e.Payload)
	if err != nil {
		logger.Warn().Err(err).Str("payload", string(e.Payload)).Msg("Could not decode message")
		entry.EventType = ledger.EventCommandRejected
		entry.Detail = err.Error()
		s.record(logger, entry)
		return
	}
	entry.Detail = cmd.String()

	if _, ok := cmd.(command.Unrecognized); ok {
		logger.Info().Str("payload", string(e.Payload)).Msg("Message not handled")
		entry.EventType = ledger.EventCommandIgnored
		s.record(logger, entry)
		return
	}

	report, err := s.controller.Apply(cmd)
	s.storeSnapshot()
	if err != nil {
		var renderErr *light.RenderError
		if errors.As(err, &renderErr) {
			logger.Error().Err(err).Str("command", cmd.String()).Msg("Failed to render lights")
			entry.EventType = ledger.EventRenderFailed
			entry.Detail = cmd.String() + ": " + err.Error()
			s.record(logger, entry)
			return
		}
		logger.Warn().Err(err).Str("command", cmd.String()).Msg("Command not applied")
		entry.EventType = ledger.EventCommandIgnored
		entry.Detail = err.Error()
		s.record(logger, entry)
		return
	}

	logger.Debug().Str("command", cmd.String()).Msg("Command applied")
	entry.EventType = ledger.EventCommandApplied
	s.record(logger, entry)

	if report != nil {
		s.publishStatus(logger, e.ID, *report)
	}
}

func (s *LightService) publishStatus(logger zerolog.Logger, messageID string, report light.StatusReport) {
	data, err := report.Encode()
	if err != nil {
		logger.Error().Err(err).Msg("Failed to encode status")
		return
	}

	logger.Info().
		Int("red", report.Red).
		Int("green", report.Green).
		Int("blue", report.Blue).
		Int("purple", report.Purple).
		Int("white", report.White).
		Bool("special", report.Special).
		Msg("Sending current status")

	if err := s.publisher.Publish(s.statusTopic, data); err != nil {
		logger.Error().Err(err).Str("status_topic", s.statusTopic).Msg("Failed to publish status")
		return
	}

	s.record(logger, ledger.Entry{
		EventType: ledger.EventStatusPublished,
		MessageID: messageID,
		Topic:     s.statusTopic,
		Payload:   string(data),
	})
}

func (s *LightService) storeSnapshot() {
	snapshot := s.controller.Snapshot()
	s.latest.Store(&snapshot)
}

func (s *LightService) record(logger zerolog.Logger, entry ledger.Entry) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.Append(entry); err != nil {
		logger.Warn().Err(err).Str("event_type", string(entry.EventType)).Msg("Failed to record ledger entry")
	}
}
