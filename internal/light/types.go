// Package light owns the fixture's light state and renders it onto PWM outputs.
package light

import (
	"encoding/json"

	"github.com/dokzlo13/treelight/internal/command"
)

// Channel identifies one of the five light outputs.
type Channel int

const (
	Red Channel = iota
	Green
	Blue
	Purple
	White

	NumChannels = 5
)

// Channels lists every channel in output order.
var Channels = [NumChannels]Channel{Red, Green, Blue, Purple, White}

// String returns the channel's configuration and wire name.
func (c Channel) String() string {
	switch c {
	case Red:
		return "red"
	case Green:
		return "green"
	case Blue:
		return "blue"
	case Purple:
		return "purple"
	case White:
		return "white"
	default:
		return "unknown"
	}
}

// Mode is the rendering mode of the fixture.
type Mode int

const (
	ModeManual Mode = iota
	ModeSpecial
)

// String returns a human-readable name for the mode.
func (m Mode) String() string {
	switch m {
	case ModeManual:
		return "manual"
	case ModeSpecial:
		return "special"
	default:
		return "unknown"
	}
}

// Levels holds one perceived brightness (0..255) per channel.
type Levels [NumChannels]uint8

// State is the canonical light state.
// Levels are only meaningful in ModeManual.
type State struct {
	Mode   Mode
	Levels Levels
}

// Drive is what a single PWM output is told to do.
type Drive struct {
	FrequencyHz uint32
	Duty        uint16
}

// Frequencies used when rendering.
const (
	SteadyHz = 1000
	PulseHz  = 1
)

// IndicatorDrive blinks a channel about once a second at half duty.
var IndicatorDrive = Drive{FrequencyHz: PulseHz, Duty: 500}

// SpecialPattern is the fixed special-mode drive per channel: white held high,
// red, green and blue pulsing slowly with staggered duties, purple dark.
var SpecialPattern = [NumChannels]Drive{
	Red:    {FrequencyHz: PulseHz, Duty: 250},
	Green:  {FrequencyHz: PulseHz, Duty: 500},
	Blue:   {FrequencyHz: PulseHz, Duty: 750},
	Purple: {FrequencyHz: SteadyHz, Duty: 0},
	White:  {FrequencyHz: SteadyHz, Duty: 1000},
}

// StatusReport is the outbound status message.
type StatusReport struct {
	Status  string `json:"status"`
	Red     int    `json:"red"`
	Green   int    `json:"green"`
	Blue    int    `json:"blue"`
	Purple  int    `json:"purple"`
	White   int    `json:"white"`
	Special bool   `json:"special"`
}

// Encode serializes the report for publishing.
func (r StatusReport) Encode() ([]byte, error) {
	return json.Marshal(r)
}

func reportFor(state State) StatusReport {
	report := StatusReport{Status: command.ValueColour}
	if state.Mode == ModeSpecial {
		report.Special = true
		return report
	}
	report.Red = int(state.Levels[Red])
	report.Green = int(state.Levels[Green])
	report.Blue = int(state.Levels[Blue])
	report.Purple = int(state.Levels[Purple])
	report.White = int(state.Levels[White])
	return report
}

// Clamp limits a received intensity to 0..255.
func Clamp(v int64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
