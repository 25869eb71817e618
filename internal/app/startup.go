package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/treelight/internal/config"
	"github.com/dokzlo13/treelight/internal/light"
	"github.com/dokzlo13/treelight/internal/pwm"
)

// ConfigRetryInterval is how often an unusable configuration is read again.
const ConfigRetryInterval = 10 * time.Second

// Startup obtains a valid configuration before the services are built.
//
// While the configuration is unusable the fixture shows why: blue blinks when
// required settings are missing, white blinks when the file cannot be read or
// parsed. The outputs come from the first configuration that parses, so a file
// that is unreadable from the very first attempt is only logged.
type Startup struct {
	path     string
	interval time.Duration
	onLoad   func(*config.Config)

	load func(path string) (*config.Config, error)
	open func(config.PWMConfig) (light.Outputs, error)

	outputs    light.Outputs
	controller *light.Controller
}

// NewStartup creates a Startup for the config file at path.
// onLoad, if set, is called with every configuration that parses.
func NewStartup(path string, onLoad func(*config.Config)) *Startup {
	return &Startup{
		path:     path,
		interval: ConfigRetryInterval,
		onLoad:   onLoad,
		load:     config.Load,
		open:     openOutputs,
	}
}

// Run retries until the configuration validates or ctx is cancelled.
// It returns the configuration and the outputs opened for it.
func (s *Startup) Run(ctx context.Context) (*config.Config, light.Outputs, error) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, light.Outputs{}, ctx.Err()
		case <-timer.C:
		}

		cfg, err := s.attempt()
		if err == nil {
			return cfg, s.outputs, nil
		}
		log.Error().Err(err).Str("config", s.path).Dur("retry_in", s.interval).Msg("Configuration unusable")
		timer.Reset(s.interval)
	}
}

func (s *Startup) attempt() (*config.Config, error) {
	cfg, err := s.load(s.path)
	if err != nil {
		s.indicate(light.White)
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if s.onLoad != nil {
		s.onLoad(cfg)
	}

	if s.controller == nil {
		outputs, err := s.open(cfg.PWM)
		if err != nil {
			return nil, err
		}
		s.outputs = outputs
		s.controller = light.New(outputs)
	}

	if err := cfg.Validate(); err != nil {
		s.indicate(light.Blue)
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (s *Startup) indicate(ch light.Channel) {
	if s.controller == nil {
		return
	}
	if err := s.controller.Off(); err != nil {
		log.Warn().Err(err).Msg("Failed to clear lights")
	}
	if err := s.controller.Indicate(ch); err != nil {
		log.Warn().Err(err).Str("channel", ch.String()).Msg("Failed to show configuration indicator")
	}
}

func openOutputs(cfg config.PWMConfig) (light.Outputs, error) {
	pwmCfg := pwm.Config{Driver: cfg.Driver, Chip: cfg.Chip}
	for _, ch := range light.Channels {
		pwmCfg.Indexes = append(pwmCfg.Indexes, cfg.Channels[ch.String()])
		pwmCfg.Names = append(pwmCfg.Names, ch.String())
	}

	opened, err := pwm.Open(pwmCfg)
	if err != nil {
		return light.Outputs{}, fmt.Errorf("failed to open pwm outputs: %w", err)
	}

	var outputs light.Outputs
	copy(outputs[:], opened)
	return outputs, nil
}
