package stepper

import (
	"errors"
	"fmt"

	"github.com/cjeanneret/ICLJog/internal/hw/modbus"
)

// Direction selects the jog command.
type Direction int

const (
	Clockwise Direction = iota
	CounterClockwise
)

func (d Direction) String() string {
	if d == CounterClockwise {
		return "ccw"
	}
	return "cw"
}

// JogCommand returns the jog register value for d.
func (d Direction) JogCommand() uint16 {
	if d == CounterClockwise {
		return JogCCW
	}
	return JogCW
}

// ParseDirection accepts "cw"/"clockwise"/"right" and "ccw"/"counterclockwise"/"left".
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "cw", "clockwise", "right":
		return Clockwise, nil
	case "ccw", "counterclockwise", "left":
		return CounterClockwise, nil
	default:
		return Clockwise, fmt.Errorf("unknown direction %q", s)
	}
}

// Profile is one PR0 absolute move. Acceleration and deceleration are
// opaque device units.
type Profile struct {
	Position     int32  `json:"position"`
	Velocity     uint16 `json:"velocity"`
	Acceleration uint16 `json:"acceleration"`
	Deceleration uint16 `json:"deceleration"`
}

// SplitPosition returns the high and low 16-bit halves of p.
func SplitPosition(p int32) (high, low uint16) {
	return uint16((p >> 16) & 0xFFFF), uint16(p & 0xFFFF)
}

// JoinPosition is the inverse of SplitPosition.
func JoinPosition(high, low uint16) int32 {
	return int32(uint32(high)<<16 | uint32(low))
}

// Registers returns the six values written from RegPR0Mode in order:
// mode, position high, position low, velocity, acceleration, deceleration.
func (p Profile) Registers() []uint16 {
	high, low := SplitPosition(p.Position)
	return []uint16{PR0ModeAbsolute, high, low, p.Velocity, p.Acceleration, p.Deceleration}
}

// DecodeProfile parses the six PR0 registers.
func DecodeProfile(regs []uint16) (Profile, error) {
	if len(regs) != ProfileLength {
		return Profile{}, fmt.Errorf("profile needs %d registers, got %d", ProfileLength, len(regs))
	}
	if regs[0] != PR0ModeAbsolute {
		return Profile{}, fmt.Errorf("unsupported PR0 mode 0x%04X", regs[0])
	}
	return Profile{
		Position:     JoinPosition(regs[1], regs[2]),
		Velocity:     regs[3],
		Acceleration: regs[4],
		Deceleration: regs[5],
	}, nil
}

// Steps named in DeviceCommandError.
const (
	StepSelect      = "select"
	StepEnable      = "enable"
	StepTargetSpeed = "target-speed"
	StepJogAccel    = "jog-acceleration"
	StepProfile     = "profile"
	StepTrigger     = "trigger"
	StepJog         = "jog"
	StepReadStatus  = "read-status"
)

// DeviceCommandError reports which transaction of a command failed.
type DeviceCommandError struct {
	Step    string
	SlaveID uint8
	Address uint16
	Err     error
}

func (e *DeviceCommandError) Error() string {
	return fmt.Sprintf("slave %d: %s (0x%04X) failed: %v", e.SlaveID, e.Step, e.Address, e.Err)
}

func (e *DeviceCommandError) Unwrap() error { return e.Err }

// Code returns the exception code reported by the device, 0 if the failure
// was not an exception response.
func (e *DeviceCommandError) Code() uint8 {
	var te *modbus.TransportError
	if errors.As(e.Err, &te) {
		return te.Code
	}
	return 0
}

// Drive issues register transactions to whichever drive is selected on
// the bus. It holds no addressing state of its own.
type Drive struct {
	bus *modbus.Bus
}

// NewDrive returns a drive bound to bus.
func NewDrive(bus *modbus.Bus) *Drive {
	return &Drive{bus: bus}
}

// Bus returns the underlying bus.
func (d *Drive) Bus() *modbus.Bus { return d.bus }

func (d *Drive) fail(step string, address uint16, err error) error {
	return &DeviceCommandError{Step: step, SlaveID: d.bus.Selected(), Address: address, Err: err}
}

func (d *Drive) write(step string, address, value uint16) error {
	if err := d.bus.WriteRegister(address, value); err != nil {
		return d.fail(step, address, err)
	}
	return nil
}

// Select addresses slaveID.
func (d *Drive) Select(slaveID uint8) error {
	if err := d.bus.Select(slaveID); err != nil {
		return &DeviceCommandError{Step: StepSelect, SlaveID: slaveID, Err: err}
	}
	return nil
}

// Enable writes the enable register.
func (d *Drive) Enable(on bool) error {
	v := EnableOff
	if on {
		v = EnableOn
	}
	return d.write(StepEnable, RegEnable, v)
}

// SetTargetSpeed writes the target/jog speed register.
func (d *Drive) SetTargetSpeed(rpm uint16) error {
	return d.write(StepTargetSpeed, RegTargetSpeed, rpm)
}

// SetJogAcceleration writes the jog acceleration/deceleration register.
func (d *Drive) SetJogAcceleration(v uint16) error {
	return d.write(StepJogAccel, RegJogAccel, v)
}

// WriteProfile writes all six PR0 registers in a single transaction.
func (d *Drive) WriteProfile(p Profile) error {
	if err := d.bus.WriteRegisters(RegPR0Mode, p.Registers()); err != nil {
		return d.fail(StepProfile, RegPR0Mode, err)
	}
	return nil
}

// Trigger starts the PR0 motion.
func (d *Drive) Trigger() error {
	return d.write(StepTrigger, RegTrigger, TriggerPR0)
}

// Jog issues one jog command.
func (d *Drive) Jog(dir Direction) error {
	return d.write(StepJog, RegJogCommand, dir.JogCommand())
}

// ReadStatus reads and decodes the motion status register.
func (d *Drive) ReadStatus() (Status, error) {
	vals, err := d.bus.ReadRegisters(RegMotionStatus, 1)
	if err != nil {
		return Status{}, d.fail(StepReadStatus, RegMotionStatus, err)
	}
	if len(vals) != 1 {
		return Status{}, d.fail(StepReadStatus, RegMotionStatus,
			fmt.Errorf("short read: %d registers", len(vals)))
	}
	return DecodeStatus(vals[0]), nil
}
