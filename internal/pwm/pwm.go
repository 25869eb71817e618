// Package pwm provides the pulse width modulation outputs driven by the light controller.
package pwm

import (
	"errors"
	"fmt"
)

// MaxDuty is the top of the duty range every Output accepts (10-bit, 0..1023).
const MaxDuty = 1023

// DutyScale maps a 0..255 brightness onto the 0..1023 duty range.
const DutyScale = 4

// ErrInvalidFrequency is returned for a zero frequency.
var ErrInvalidFrequency = errors.New("pwm: frequency must be positive")

// Output is a single PWM channel.
// Implementations are owned by one caller and need not be safe for concurrent use.
type Output interface {
	SetFrequency(hz uint32) error
	SetDuty(duty uint16) error
}

// Driver names accepted by Open.
const (
	DriverMemory = "memory"
	DriverSysfs  = "sysfs"
)

// Config selects the driver and the per-output hardware channel index.
type Config struct {
	Driver  string
	Chip    int
	Indexes []int // one per output, in output order
	Names   []string
}

// Open creates one Output per configured index.
func Open(cfg Config) ([]Output, error) {
	outputs := make([]Output, 0, len(cfg.Indexes))

	for i, idx := range cfg.Indexes {
		name := fmt.Sprintf("pwm%d", idx)
		if i < len(cfg.Names) {
			name = cfg.Names[i]
		}

		switch cfg.Driver {
		case DriverMemory, "":
			outputs = append(outputs, NewMemory(name))
		case DriverSysfs:
			out, err := OpenSysfs(SysfsRoot, cfg.Chip, idx)
			if err != nil {
				return nil, fmt.Errorf("failed to open %s: %w", name, err)
			}
			outputs = append(outputs, out)
		default:
			return nil, fmt.Errorf("unknown pwm driver %q", cfg.Driver)
		}
	}

	return outputs, nil
}

func clampDuty(duty uint16) uint16 {
	if duty > MaxDuty {
		return MaxDuty
	}
	return duty
}
