package main

import (
	"fmt"
	"strconv"

	"github.com/cjeanneret/ICLJog/internal/hw/stepper"
)

func parseRegister(name, s string) (uint16, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if err := checkRegister(name, v); err != nil {
		return 0, err
	}
	return uint16(v), nil
}

func checkRegister(name string, v int) error {
	if v < 0 || v > 0xFFFF {
		return fmt.Errorf("%s must be between 0 and 65535, got %d", name, v)
	}
	return nil
}

// parseProfile builds a PR0 profile. Zero velocity or ramps are filled
// by the controller defaults.
func parseProfile(position string, velocity, acceleration, deceleration int) (stepper.Profile, error) {
	pos, err := strconv.ParseInt(position, 10, 32)
	if err != nil {
		return stepper.Profile{}, fmt.Errorf("position: %w", err)
	}
	for name, v := range map[string]int{
		"velocity": velocity, "acceleration": acceleration, "deceleration": deceleration,
	} {
		if err := checkRegister(name, v); err != nil {
			return stepper.Profile{}, err
		}
	}
	return stepper.Profile{
		Position:     int32(pos),
		Velocity:     uint16(velocity),
		Acceleration: uint16(acceleration),
		Deceleration: uint16(deceleration),
	}, nil
}
