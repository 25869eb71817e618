// Package mqtt connects treelight to its MQTT broker.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
)

var (
	// ErrMaxReconnectsExceeded is returned when the maximum number of connect attempts is exceeded.
	ErrMaxReconnectsExceeded = errors.New("max reconnects exceeded")
	// ErrNotConnected is returned by Publish while the broker is unreachable.
	ErrNotConnected = errors.New("not connected to broker")
	// ErrTimeout is returned when the broker does not acknowledge in time.
	ErrTimeout = errors.New("broker did not respond in time")
)

// Config contains broker and reconnection settings.
type Config struct {
	Server         string
	ClientID       string
	Topic          string
	Username       string
	Password       string
	QoS            byte
	ConnectTimeout time.Duration

	MinBackoff    time.Duration // Minimum backoff between connect attempts
	MaxBackoff    time.Duration // Maximum backoff between connect attempts
	Multiplier    float64       // Backoff multiplier
	MaxReconnects int           // Max connect attempts, 0 = infinite
}

// Handler receives traffic from the subscribed topic.
// Both methods are called from paho goroutines and must not block.
type Handler interface {
	HandleMessage(topic string, payload []byte)
	HandleConnected()
}

// newClient is replaced in tests.
var newClient = paho.NewClient

// Client is a subscribed MQTT session.
type Client struct {
	cfg     Config
	handler Handler
	client  paho.Client
}

// New creates a client. Nothing is sent until Run.
func New(cfg Config, handler Handler) *Client {
	c := &Client{cfg: cfg, handler: handler}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Server).
		SetClientID(cfg.ClientID).
		SetCleanSession(true).
		SetOrderMatters(true).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(cfg.MaxBackoff).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warn().Err(err).Str("server", cfg.Server).Msg("MQTT connection lost, reconnecting")
		}).
		SetReconnectingHandler(func(_ paho.Client, _ *paho.ClientOptions) {
			log.Debug().Str("server", cfg.Server).Msg("MQTT reconnecting")
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	c.client = newClient(opts)
	return c
}

// Run connects with exponential backoff and holds the session until ctx is cancelled.
// After the first connection paho reconnects on its own and onConnect resubscribes.
// Returns ErrMaxReconnectsExceeded if max reconnects is exceeded.
func (c *Client) Run(ctx context.Context) error {
	retryCount := 0
	currentBackoff := c.cfg.MinBackoff

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		err := c.connect()
		if err == nil {
			break
		}

		retryCount++

		// Check if we exceeded max reconnects
		if c.cfg.MaxReconnects > 0 && retryCount > c.cfg.MaxReconnects {
			log.Error().
				Int("max_reconnects", c.cfg.MaxReconnects).
				Msg("MQTT: max reconnects exceeded, terminating")
			return ErrMaxReconnectsExceeded
		}

		log.Warn().
			Err(err).
			Str("server", c.cfg.Server).
			Dur("backoff", currentBackoff).
			Int("retry", retryCount).
			Int("max_reconnects", c.cfg.MaxReconnects).
			Msg("MQTT connect failed, retrying")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(currentBackoff):
		}

		currentBackoff = nextBackoff(currentBackoff, c.cfg.Multiplier, c.cfg.MaxBackoff)
	}

	<-ctx.Done()
	c.client.Disconnect(250)
	log.Info().Str("server", c.cfg.Server).Msg("MQTT disconnected")
	return nil
}

// nextBackoff calculates the next backoff with multiplier, capped at max
func nextBackoff(current time.Duration, multiplier float64, max time.Duration) time.Duration {
	next := time.Duration(float64(current) * multiplier)
	if next > max {
		next = max
	}
	return next
}

func (c *Client) connect() error {
	token := c.client.Connect()
	if !token.WaitTimeout(c.cfg.ConnectTimeout) {
		return ErrTimeout
	}
	return token.Error()
}

// onConnect runs on every (re)connect; the session is clean so the subscription is renewed.
func (c *Client) onConnect(client paho.Client) {
	token := client.Subscribe(c.cfg.Topic, c.cfg.QoS, c.onMessage)
	if !token.WaitTimeout(c.cfg.ConnectTimeout) {
		log.Error().Str("topic", c.cfg.Topic).Msg("MQTT subscribe timed out")
		return
	}
	if err := token.Error(); err != nil {
		log.Error().Err(err).Str("topic", c.cfg.Topic).Msg("MQTT subscribe failed")
		return
	}

	log.Info().
		Str("server", c.cfg.Server).
		Str("client_id", c.cfg.ClientID).
		Str("topic", c.cfg.Topic).
		Msg("Connected and subscribed")
	c.handler.HandleConnected()
}

func (c *Client) onMessage(_ paho.Client, msg paho.Message) {
	log.Debug().
		Str("topic", msg.Topic()).
		Int("bytes", len(msg.Payload())).
		Msg("Received MQTT message")
	c.handler.HandleMessage(msg.Topic(), msg.Payload())
}

// Publish sends payload to topic and waits for the broker to accept it.
func (c *Client) Publish(topic string, payload []byte) error {
	if !c.client.IsConnectionOpen() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, c.cfg.QoS, false, payload)
	if !token.WaitTimeout(c.cfg.ConnectTimeout) {
		return fmt.Errorf("publish to %s: %w", topic, ErrTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// IsConnected reports whether the broker connection is currently up.
func (c *Client) IsConnected() bool {
	return c.client.IsConnectionOpen()
}
