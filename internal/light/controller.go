package light

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/treelight/internal/command"
	"github.com/dokzlo13/treelight/internal/pwm"
)

// ErrUnsupportedCommand is returned by Apply for commands that carry no action.
var ErrUnsupportedCommand = errors.New("unsupported command")

// RenderError reports a PWM write that failed for one channel.
type RenderError struct {
	Channel Channel
	Err     error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %s: %v", e.Channel, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// Outputs holds one PWM output per channel, indexed by Channel.
type Outputs [NumChannels]pwm.Output

// Controller owns the light state and the PWM outputs it is rendered onto.
// It is not safe for concurrent use; a single goroutine must own it.
type Controller struct {
	outputs Outputs
	state   State

	// actual is the drive last written successfully per channel;
	// known[ch] is false when the output's drive is unknown.
	actual [NumChannels]Drive
	known  [NumChannels]bool
}

// New creates a controller in manual mode with every channel at zero.
// The outputs are not written until Render, Off or Indicate is called.
func New(outputs Outputs) *Controller {
	return &Controller{outputs: outputs}
}

// Apply executes a command.
// A status request returns a report; state changes return nil.
// A render error leaves the new state in place, the next Render retries it.
func (c *Controller) Apply(cmd command.Command) (*StatusReport, error) {
	switch cmd := cmd.(type) {
	case command.StatusRequest:
		report := c.Snapshot()
		return &report, nil

	case command.SetColor:
		c.state = State{
			Mode: ModeManual,
			Levels: Levels{
				Red:    Clamp(cmd.Red),
				Green:  Clamp(cmd.Green),
				Blue:   Clamp(cmd.Blue),
				Purple: Clamp(cmd.Purple),
				White:  Clamp(cmd.White),
			},
		}
		log.Info().
			Uints8("levels", c.state.Levels[:]).
			Msg("Setting colours")
		return nil, c.Render()

	case command.SetSpecial:
		// levels are not retained, a later SetColor supplies all five
		c.state = State{Mode: ModeSpecial}
		log.Info().Msg("Setting special pattern")
		return nil, c.Render()

	default:
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedCommand, cmd)
	}
}

// Snapshot returns the state as it is reported externally.
func (c *Controller) Snapshot() StatusReport {
	return reportFor(c.state)
}

// State returns a copy of the canonical state.
func (c *Controller) State() State {
	return c.state
}

// Render writes the current state to every output whose drive differs from it.
// All channels are attempted; failures are joined into the returned error.
func (c *Controller) Render() error {
	desired := c.desired()

	var errs []error
	for _, ch := range Channels {
		if c.known[ch] && c.actual[ch] == desired[ch] {
			continue
		}
		if err := c.drive(ch, desired[ch]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Indicate blinks a single channel as a status indicator without changing state.
// The next Render restores the channel.
func (c *Controller) Indicate(ch Channel) error {
	return c.drive(ch, IndicatorDrive)
}

// Off darkens every output without changing state.
func (c *Controller) Off() error {
	var errs []error
	for _, ch := range Channels {
		if err := c.drive(ch, Drive{FrequencyHz: PulseHz}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// desired computes the per-channel drive for the current state.
func (c *Controller) desired() [NumChannels]Drive {
	if c.state.Mode == ModeSpecial {
		return SpecialPattern
	}

	var d [NumChannels]Drive
	for _, ch := range Channels {
		d[ch] = Drive{
			FrequencyHz: SteadyHz,
			Duty:        uint16(c.state.Levels[ch]) * pwm.DutyScale,
		}
	}
	return d
}

func (c *Controller) drive(ch Channel, d Drive) error {
	out := c.outputs[ch]
	if out == nil {
		return &RenderError{Channel: ch, Err: errors.New("no output configured")}
	}

	// forget the channel until both writes land
	c.known[ch] = false

	if err := out.SetFrequency(d.FrequencyHz); err != nil {
		return &RenderError{Channel: ch, Err: err}
	}
	if err := out.SetDuty(d.Duty); err != nil {
		return &RenderError{Channel: ch, Err: err}
	}

	c.actual[ch] = d
	c.known[ch] = true
	return nil
}
