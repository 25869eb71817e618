package pwm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// SysfsRoot is where the kernel exposes PWM chips.
const SysfsRoot = "/sys/class/pwm"

// Sysfs drives a PWM channel through the Linux sysfs interface.
type Sysfs struct {
	dir      string
	periodNs uint64
	duty     uint16
	enabled  bool
}

// OpenSysfs exports channel index of pwmchip<chip> under root if needed.
func OpenSysfs(root string, chip, index int) (*Sysfs, error) {
	chipDir := filepath.Join(root, fmt.Sprintf("pwmchip%d", chip))
	dir := filepath.Join(chipDir, fmt.Sprintf("pwm%d", index))

	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		if err := writeValue(filepath.Join(chipDir, "export"), strconv.Itoa(index)); err != nil {
			return nil, fmt.Errorf("failed to export channel: %w", err)
		}
		// udev may need a moment to create the channel directory
		for i := 0; i < 20; i++ {
			if _, err := os.Stat(dir); err == nil {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
	}

	return &Sysfs{dir: dir}, nil
}

// SetFrequency implements Output. The current duty is rescaled onto the new period.
func (s *Sysfs) SetFrequency(hz uint32) error {
	if hz == 0 {
		return ErrInvalidFrequency
	}
	period := uint64(time.Second) / uint64(hz)
	if period == s.periodNs {
		return nil
	}

	// duty_cycle must never exceed period, shrink it first
	if s.periodNs != 0 && period < s.periodNs {
		if err := writeValue(filepath.Join(s.dir, "duty_cycle"), "0"); err != nil {
			return fmt.Errorf("failed to reset duty cycle: %w", err)
		}
	}
	if err := writeValue(filepath.Join(s.dir, "period"), strconv.FormatUint(period, 10)); err != nil {
		return fmt.Errorf("failed to set period: %w", err)
	}
	s.periodNs = period

	return s.writeDuty()
}

// SetDuty implements Output.
func (s *Sysfs) SetDuty(duty uint16) error {
	s.duty = clampDuty(duty)
	if s.periodNs == 0 {
		// applied on the first SetFrequency
		return nil
	}
	return s.writeDuty()
}

func (s *Sysfs) writeDuty() error {
	ns := s.periodNs * uint64(s.duty) / MaxDuty
	if err := writeValue(filepath.Join(s.dir, "duty_cycle"), strconv.FormatUint(ns, 10)); err != nil {
		return fmt.Errorf("failed to set duty cycle: %w", err)
	}
	if !s.enabled {
		if err := writeValue(filepath.Join(s.dir, "enable"), "1"); err != nil {
			return fmt.Errorf("failed to enable output: %w", err)
		}
		s.enabled = true
	}
	return nil
}

func writeValue(path, value string) error {
	return os.WriteFile(path, []byte(value), 0o644)
}
