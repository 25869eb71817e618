package pwm

import (
	"github.com/rs/zerolog/log"
)

// Memory is an in-process Output that remembers what it was told.
// It stands in for hardware on hosts without a PWM controller.
type Memory struct {
	name      string
	frequency uint32
	duty      uint16
	writes    int

	// Fail, when set, is returned by every write until cleared.
	Fail error
}

// NewMemory creates a Memory output with the given name for logging.
func NewMemory(name string) *Memory {
	return &Memory{name: name}
}

// SetFrequency implements Output.
func (m *Memory) SetFrequency(hz uint32) error {
	if m.Fail != nil {
		return m.Fail
	}
	if hz == 0 {
		return ErrInvalidFrequency
	}
	m.frequency = hz
	m.writes++
	log.Debug().Str("output", m.name).Uint32("hz", hz).Msg("PWM frequency set")
	return nil
}

// SetDuty implements Output.
func (m *Memory) SetDuty(duty uint16) error {
	if m.Fail != nil {
		return m.Fail
	}
	m.duty = clampDuty(duty)
	m.writes++
	log.Debug().Str("output", m.name).Uint16("duty", m.duty).Msg("PWM duty set")
	return nil
}

// Frequency returns the last frequency written.
func (m *Memory) Frequency() uint32 { return m.frequency }

// Duty returns the last duty written.
func (m *Memory) Duty() uint16 { return m.duty }

// Writes returns how many successful writes the output has seen.
func (m *Memory) Writes() int { return m.writes }
