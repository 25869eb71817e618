package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/treelight/internal/config"
	"github.com/dokzlo13/treelight/internal/light"
)

// App runs the fixture until its context ends or the broker gives up.
type App struct {
	cfg      *config.Config
	services *Services
	ctx      context.Context
	cancel   context.CancelFunc
}

// New builds the services over outputs without starting them.
func New(cfg *config.Config, outputs light.Outputs) (*App, error) {
	services, err := NewServices(cfg, outputs)
	if err != nil {
		return nil, err
	}
	return &App{cfg: cfg, services: services}, nil
}

// Start brings the fixture online. Cancelling ctx, or a fatal transport
// error, ends Wait.
func (a *App) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	err := a.services.Start(a.ctx, func(err error) {
		log.Error().Err(err).Msg("Broker unreachable, shutting down")
		a.cancel()
	})
	if err != nil {
		return err
	}

	log.Info().
		Str("server", a.cfg.MQTT.Server).
		Str("topic", a.cfg.MQTT.Topic).
		Str("status_topic", a.cfg.MQTT.GetStatusTopic()).
		Str("pwm_driver", a.cfg.PWM.Driver).
		Msg("treelight started")
	return nil
}

// Wait blocks until the fixture is told to stop.
func (a *App) Wait() {
	if a.ctx == nil {
		return
	}
	<-a.ctx.Done()
}

// Stop drains pending commands and closes the ledger.
func (a *App) Stop() error {
	log.Info().Msg("Shutting down...")
	if a.cancel != nil {
		a.cancel()
	}
	if a.services == nil {
		return nil
	}
	return a.services.Stop()
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	return ctx
}
