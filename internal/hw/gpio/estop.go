package gpio

import "fmt"

// EStop reads a latching emergency-stop input.
type EStop struct {
	drv       Driver
	pin       int
	activeLow bool
}

// NewEStop configures pin as an input. activeLow means the button pulls
// the line LOW when pressed.
func NewEStop(drv Driver, pin int, activeLow bool) (*EStop, error) {
	if pin <= 0 {
		return nil, fmt.Errorf("e-stop pin must be > 0, got %d", pin)
	}
	mode := InputPullDown
	if activeLow {
		mode = InputPullUp
	}
	if err := drv.SetupPin(pin, mode); err != nil {
		return nil, fmt.Errorf("setup e-stop pin %d: %w", pin, err)
	}
	return &EStop{drv: drv, pin: pin, activeLow: activeLow}, nil
}

// IdleLevel is the level the pin reads when the button is released.
func (e *EStop) IdleLevel() Level {
	if e.activeLow {
		return High
	}
	return Low
}

// Pressed reports whether the e-stop is engaged. A nil EStop is never
// pressed.
func (e *EStop) Pressed() (bool, error) {
	if e == nil {
		return false, nil
	}
	level, err := e.drv.ReadPin(e.pin)
	if err != nil {
		return false, err
	}
	return level != e.IdleLevel(), nil
}
