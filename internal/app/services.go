package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/treelight/internal/config"
	"github.com/dokzlo13/treelight/internal/db"
	"github.com/dokzlo13/treelight/internal/eventbus"
	"github.com/dokzlo13/treelight/internal/httpapi"
	"github.com/dokzlo13/treelight/internal/ledger"
	"github.com/dokzlo13/treelight/internal/light"
)

// Services holds the running pieces of the fixture: the ledger, the bus whose
// dispatcher owns the light controller, the broker transport and the HTTP API.
type Services struct {
	cfg *config.Config

	DB     *db.DB
	Ledger *ledger.Ledger
	Bus    *eventbus.Bus

	Light     *LightService
	Transport *TransportService
	HTTP      *httpapi.Server
}

// NewServices opens the ledger and builds the controller over outputs, which
// Startup already acquired for the lifetime of the process.
func NewServices(cfg *config.Config, outputs light.Outputs) (*Services, error) {
	s := &Services{cfg: cfg}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	s.Ledger = ledger.New(database.DB)

	controller := light.New(outputs)

	s.Bus = eventbus.New()
	s.Transport = NewTransportService(cfg, s.Bus)
	s.Light = NewLightService(controller, s.Transport, s.Ledger, cfg.MQTT.GetStatusTopic(), cfg.MQTT.RateLimitRPS)

	if cfg.HTTP.Enabled {
		opts := httpapi.Options{
			Addr:              cfg.HTTP.Addr(),
			Status:            s.Light,
			Ready:             s.Transport,
			History:           s.Ledger,
			WebsocketInterval: cfg.HTTP.WebsocketInterval.Duration(),
		}
		if cfg.HTTP.CommandEndpoint {
			opts.Bus = s.Bus
		}
		s.HTTP = httpapi.NewServer(opts)
	}

	return s, nil
}

// Start darkens the fixture, then brings up the transport, the HTTP API and
// ledger retention. onFatalError is called if the broker stays unreachable.
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	// Lights off and connecting indicator before any event can arrive
	s.Light.Start()
	s.Light.Subscribe(s.Bus)

	s.Transport.Start(ctx, onFatalError)

	if s.HTTP != nil {
		go func() {
			if err := s.HTTP.Run(ctx, s.cfg.GetShutdownTimeout()); err != nil {
				log.Error().Err(err).Msg("HTTP server error")
			}
		}()
	}

	go s.runLedgerCleanup(ctx)

	return nil
}

// runLedgerCleanup applies the retention policy periodically.
func (s *Services) runLedgerCleanup(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Ledger.CleanupInterval.Duration())
	defer ticker.Stop()

	for {
		deleted, err := s.Ledger.DeleteOlderThan(s.cfg.Ledger.Retention())
		if err != nil {
			log.Warn().Err(err).Msg("Ledger cleanup failed")
		} else if deleted > 0 {
			log.Info().Int64("deleted", deleted).Msg("Ledger cleanup completed")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Stop drains the bus and closes the database.
func (s *Services) Stop() error {
	if s.Bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.GetShutdownTimeout())
		defer cancel()
		s.Bus.Close(ctx)
	}
	s.Close()
	return nil
}

// Close closes the database.
func (s *Services) Close() {
	if s.DB != nil {
		s.DB.Close()
	}
}
