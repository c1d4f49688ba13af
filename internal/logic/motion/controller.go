package motion

import (
	"errors"
	"fmt"
	"sort"

	"go.uber.org/multierr"

	"github.com/cjeanneret/ICLJog/internal/debug"
	"github.com/cjeanneret/ICLJog/internal/hw/stepper"
)

var (
	// ErrNoDevice is returned when no device has been selected yet.
	ErrNoDevice = errors.New("no device selected")
	// ErrNotEnabled is returned when a motion command targets a device
	// that has not been enabled by Initialize (or seen enabled in a status read).
	ErrNotEnabled = errors.New("device not enabled")
)

// State is the per-device protocol state.
type State int

const (
	Unselected State = iota
	Selected
	Enabled
)

func (s State) String() string {
	switch s {
	case Selected:
		return "selected"
	case Enabled:
		return "enabled"
	default:
		return "unselected"
	}
}

// Defaults are applied to omitted profile fields and by Initialize.
type Defaults struct {
	Velocity     uint16
	Acceleration uint16
	Deceleration uint16
	InitialSpeed uint16 // target speed written by Initialize
}

// DefaultDefaults are the documented device-native defaults.
var DefaultDefaults = Defaults{
	Velocity:     200,
	Acceleration: 50,
	Deceleration: 50,
	InitialSpeed: 100,
}

// Device is the controller's handle on one addressed drive.
type Device struct {
	SlaveID uint8
	State   State
	// Position is the last commanded absolute position. It is open-loop:
	// poll ReadStatus for command_done/path_done to confirm arrival.
	Position int32
}

// Controller translates motion intents into register transactions for
// the currently selected drive.
//
// The controller tracks selection only for itself. When several
// controllers share one bus, the caller must Select before every sequence
// aimed at a different device; otherwise transactions land on whichever
// device the bus last selected.
type Controller struct {
	drive    *stepper.Drive
	defaults Defaults
	devices  map[uint8]*Device
	current  *Device
}

// NewController creates a controller. Zero-valued defaults fall back to
// DefaultDefaults field by field.
func NewController(drive *stepper.Drive, defaults Defaults) *Controller {
	if defaults.Velocity == 0 {
		defaults.Velocity = DefaultDefaults.Velocity
	}
	if defaults.Acceleration == 0 {
		defaults.Acceleration = DefaultDefaults.Acceleration
	}
	if defaults.Deceleration == 0 {
		defaults.Deceleration = DefaultDefaults.Deceleration
	}
	if defaults.InitialSpeed == 0 {
		defaults.InitialSpeed = DefaultDefaults.InitialSpeed
	}
	return &Controller{
		drive:    drive,
		defaults: defaults,
		devices:  make(map[uint8]*Device),
	}
}

// Defaults returns the applied defaults.
func (c *Controller) Defaults() Defaults { return c.defaults }

// Select makes slaveID the target of subsequent commands.
func (c *Controller) Select(slaveID uint8) error {
	if err := c.drive.Select(slaveID); err != nil {
		return err
	}
	dev, ok := c.devices[slaveID]
	if !ok {
		dev = &Device{SlaveID: slaveID, State: Selected}
		c.devices[slaveID] = dev
	}
	c.current = dev
	debug.Live("Selected slave %d (%s)", slaveID, dev.State)
	return nil
}

// Initialize selects slaveID, enables the motor and writes the initial
// target speed. A failure after the enable step leaves the drive enabled.
func (c *Controller) Initialize(slaveID uint8) error {
	if err := c.Select(slaveID); err != nil {
		return err
	}
	if err := c.drive.Enable(true); err != nil {
		return err
	}
	c.current.State = Enabled
	if err := c.drive.SetTargetSpeed(c.defaults.InitialSpeed); err != nil {
		return err
	}
	debug.Info("Slave %d initialized (speed %d)", slaveID, c.defaults.InitialSpeed)
	return nil
}

// Disable writes enable=0 to the selected drive. The handle drops back to
// Selected even if the write fails, so motion needs a new Initialize.
func (c *Controller) Disable() error {
	if err := c.requireSelected(); err != nil {
		return err
	}
	c.current.State = Selected
	if err := c.drive.Enable(false); err != nil {
		return err
	}
	debug.Info("Slave %d disabled", c.current.SlaveID)
	return nil
}

// DisableAll disables every drive whose handle is Enabled, then restores
// the previous selection. All failures are reported.
func (c *Controller) DisableAll() error {
	var ids []int
	for id, dev := range c.devices {
		if dev.State == Enabled {
			ids = append(ids, int(id))
		}
	}
	sort.Ints(ids)

	prev := c.current
	var err error
	for _, id := range ids {
		if serr := c.Select(uint8(id)); serr != nil {
			c.devices[uint8(id)].State = Selected
			err = multierr.Append(err, serr)
			continue
		}
		err = multierr.Append(err, c.Disable())
	}
	if prev != nil && c.current != prev {
		err = multierr.Append(err, c.Select(prev.SlaveID))
	}
	return err
}

func (c *Controller) requireSelected() error {
	if c.current == nil {
		return ErrNoDevice
	}
	return nil
}

func (c *Controller) requireEnabled() error {
	if err := c.requireSelected(); err != nil {
		return err
	}
	if c.current.State != Enabled {
		return fmt.Errorf("slave %d: %w", c.current.SlaveID, ErrNotEnabled)
	}
	return nil
}

// MoveAbsolute writes the whole PR0 profile in one transaction, then
// triggers it. Zero velocity, acceleration or deceleration use the
// defaults. The cached position is updated only when both succeed.
func (c *Controller) MoveAbsolute(p stepper.Profile) error {
	if err := c.requireEnabled(); err != nil {
		return err
	}
	if p.Velocity == 0 {
		p.Velocity = c.defaults.Velocity
	}
	if p.Acceleration == 0 {
		p.Acceleration = c.defaults.Acceleration
	}
	if p.Deceleration == 0 {
		p.Deceleration = c.defaults.Deceleration
	}

	debug.Move(c.current.SlaveID, p.Position, p.Velocity)
	debug.PrintStruct("PR0 profile", p)
	if err := c.drive.WriteProfile(p); err != nil {
		return err
	}
	if err := c.drive.Trigger(); err != nil {
		return err
	}
	c.current.Position = p.Position
	return nil
}

// MoveTo moves to position with default velocity and ramps.
func (c *Controller) MoveTo(position int32) error {
	return c.MoveAbsolute(stepper.Profile{Position: position})
}

// Jog issues one jog command. Continuous motion needs repeated calls.
func (c *Controller) Jog(dir stepper.Direction) error {
	if err := c.requireEnabled(); err != nil {
		return err
	}
	return c.drive.Jog(dir)
}

// SetJogVelocity writes the target speed used by jog; it applies from the
// next jog command.
func (c *Controller) SetJogVelocity(rpm uint16) error {
	if err := c.requireSelected(); err != nil {
		return err
	}
	debug.Live("Slave %d: jog velocity %d", c.current.SlaveID, rpm)
	return c.drive.SetTargetSpeed(rpm)
}

// SetJogAcceleration writes the jog acceleration/deceleration register.
func (c *Controller) SetJogAcceleration(v uint16) error {
	if err := c.requireSelected(); err != nil {
		return err
	}
	return c.drive.SetJogAcceleration(v)
}

// ReadStatus reads the status of the selected drive. On failure the
// returned Status is zero and err is non-nil. The enabled bit also updates
// the device state.
func (c *Controller) ReadStatus() (stepper.Status, error) {
	if err := c.requireSelected(); err != nil {
		return stepper.Status{}, err
	}
	st, err := c.drive.ReadStatus()
	if err != nil {
		return stepper.Status{}, err
	}
	switch {
	case st.Enabled && c.current.State != Enabled:
		c.current.State = Enabled
	case !st.Enabled && c.current.State == Enabled:
		c.current.State = Selected
	}
	debug.Live("Slave %d status %s", c.current.SlaveID, st)
	return st, nil
}

// SlaveID returns the selected slave id, 0 if none.
func (c *Controller) SlaveID() uint8 {
	if c.current == nil {
		return 0
	}
	return c.current.SlaveID
}

// State returns the state of the selected device.
func (c *Controller) State() State {
	if c.current == nil {
		return Unselected
	}
	return c.current.State
}

// Position returns the last commanded position of the selected device.
func (c *Controller) Position() int32 {
	if c.current == nil {
		return 0
	}
	return c.current.Position
}

// Device returns a snapshot of the handle for slaveID.
func (c *Controller) Device(slaveID uint8) (Device, bool) {
	dev, ok := c.devices[slaveID]
	if !ok {
		return Device{SlaveID: slaveID}, false
	}
	return *dev, true
}
