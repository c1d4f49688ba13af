package main

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/cjeanneret/ICLJog/internal/config"
	"github.com/cjeanneret/ICLJog/internal/debug"
	"github.com/cjeanneret/ICLJog/internal/hw/gpio"
	"github.com/cjeanneret/ICLJog/internal/hw/modbus"
	"github.com/cjeanneret/ICLJog/internal/hw/stepper"
	"github.com/cjeanneret/ICLJog/internal/logic/motion"
	"github.com/cjeanneret/ICLJog/internal/logic/teleop"
)

// rig is the hardware stack built from config.
type rig struct {
	cfg   *config.Config
	bus   *modbus.Bus
	ctrl  *motion.Controller
	gpio  gpio.Driver
	estop *gpio.EStop
}

func openTransport(cfg *config.Config) (modbus.Transport, error) {
	if cfg.Bus.Mock {
		return stepper.NewSimulator(cfg.SlaveIDs()...), nil
	}
	return modbus.OpenRTU(modbus.RTUConfig{
		Port:     cfg.Serial.Port,
		Baud:     uint(cfg.Serial.Baud),
		DataBits: uint(cfg.Serial.DataBits),
		Parity:   cfg.Serial.Parity,
		StopBits: uint(cfg.Serial.StopBits),
		Timeout:  cfg.SerialTimeout(),
	})
}

func motionDefaults(cfg *config.Config) motion.Defaults {
	return motion.Defaults{
		Velocity:     uint16(cfg.Motion.Velocity),
		Acceleration: uint16(cfg.Motion.Acceleration),
		Deceleration: uint16(cfg.Motion.Deceleration),
		InitialSpeed: uint16(cfg.Motion.InitialSpeed),
	}
}

// newRig opens the bus and, if configured, the e-stop input.
func newRig(cfg *config.Config) (*rig, error) {
	debug.Step(1, "Opening Modbus transport")
	debug.Value("Mock bus", cfg.Bus.Mock)
	t, err := openTransport(cfg)
	if err != nil {
		return nil, err
	}
	bus := modbus.NewBus(t, modbus.NewPacer(nil, cfg.SettleDelay()))
	debug.Value("Settle delay", cfg.SettleDelay())

	r := &rig{
		cfg:  cfg,
		bus:  bus,
		ctrl: motion.NewController(stepper.NewDrive(bus), motionDefaults(cfg)),
	}
	debug.PrintStruct("Motion defaults", r.ctrl.Defaults())

	if cfg.EStop.Pin > 0 {
		debug.Step(2, "Initializing e-stop input")
		debug.Value("Mock GPIO", cfg.EStop.MockGPIO)
		drv, err := gpio.NewDriver(cfg.EStop.MockGPIO)
		if err != nil {
			return nil, multierr.Append(fmt.Errorf("init GPIO: %w", err), bus.Close())
		}
		r.gpio = drv
		r.estop, err = gpio.NewEStop(drv, cfg.EStop.Pin, cfg.EStop.ActiveLow)
		if err != nil {
			return nil, multierr.Append(err, r.Close())
		}
		if m, ok := drv.(*gpio.MockDriver); ok {
			m.Set(cfg.EStop.Pin, r.estop.IdleLevel())
		}
	}
	return r, nil
}

// Close releases the bus and the GPIO driver.
func (r *rig) Close() error {
	err := r.bus.Close()
	if r.gpio != nil {
		err = multierr.Append(err, r.gpio.Close())
	}
	return err
}

func (r *rig) loop() *teleop.Loop {
	return teleop.NewLoop(r.ctrl, teleop.Options{
		Tick:            r.cfg.Tick(),
		EStop:           r.estop,
		JogVelocity:     r.cfg.Motion.JogVelocity,
		JogAcceleration: r.cfg.Motion.JogAcceleration,
	})
}

func (r *rig) keymap() teleop.Keymap {
	return teleop.NewKeymap(r.cfg.Teleop.VelocityKeys, r.cfg.Teleop.PresetKeys, r.cfg.Motion.JogVelocityStep)
}

// firstSlave is the startup selection.
func (r *rig) firstSlave() int {
	return int(r.cfg.SlaveIDs()[0])
}

// slaveFlag resolves a --slave value, 0 meaning the first motor.
func (r *rig) slaveFlag(id int) (uint8, error) {
	if id == 0 {
		id = r.firstSlave()
	}
	if !modbus.ValidSlaveID(id) {
		return 0, fmt.Errorf("%w: %d", modbus.ErrInvalidSlaveID, id)
	}
	return uint8(id), nil
}
