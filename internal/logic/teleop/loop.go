package teleop

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/cjeanneret/ICLJog/internal/debug"
	"github.com/cjeanneret/ICLJog/internal/hw/gpio"
	"github.com/cjeanneret/ICLJog/internal/hw/modbus"
	"github.com/cjeanneret/ICLJog/internal/hw/stepper"
	"github.com/cjeanneret/ICLJog/internal/logic/motion"
)

var (
	// ErrStopped is returned by Submit once the loop has exited.
	ErrStopped = errors.New("control loop stopped")
	// ErrEStop is returned for motion and initialize intents while the
	// e-stop is engaged.
	ErrEStop = errors.New("emergency stop engaged")
	// ErrUnknownIntent is returned for intents the loop cannot apply.
	ErrUnknownIntent = errors.New("unknown intent")
)

// JogState is the front-end's jog bookkeeping. Jogging on the drive is a
// series of pulses; Active means one pulse is sent per tick.
type JogState struct {
	Active       bool
	Direction    stepper.Direction
	Velocity     int
	Acceleration int // 0 = leave the drive's value
}

// Options configures a Loop.
type Options struct {
	Tick            time.Duration // default 50ms
	Clock           clock.Clock
	EStop           *gpio.EStop // nil = no e-stop input
	JogVelocity     int
	JogAcceleration int
}

type request struct {
	intent Intent
	reply  chan result
}

type result struct {
	out Outcome
	err error
}

// Loop owns the motion controller. Run is the only goroutine that
// touches the bus; other goroutines go through Submit.
type Loop struct {
	ctrl  *motion.Controller
	estop *gpio.EStop
	clock clock.Clock
	tick  time.Duration

	jog      JogState
	estopped bool

	requests chan request
	done     chan struct{}
}

// NewLoop creates a loop around ctrl.
func NewLoop(ctrl *motion.Controller, opts Options) *Loop {
	if opts.Tick <= 0 {
		opts.Tick = 50 * time.Millisecond
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Loop{
		ctrl:     ctrl,
		estop:    opts.EStop,
		clock:    opts.Clock,
		tick:     opts.Tick,
		jog:      JogState{Velocity: opts.JogVelocity, Acceleration: opts.JogAcceleration},
		requests: make(chan request),
		done:     make(chan struct{}),
	}
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Run serves intents and issues one jog pulse per tick while jogging. It
// returns nil after a Quit intent and ctx.Err() on cancellation.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)

	ticker := l.clock.Ticker(l.tick)
	defer ticker.Stop()

	debug.Live("Control loop started (tick %s)", l.tick)
	for {
		select {
		case <-ctx.Done():
			l.halt("context done")
			return ctx.Err()
		case req := <-l.requests:
			out, err := l.apply(req.intent)
			req.reply <- result{out: out, err: err}
			if req.intent.Kind == KindQuit {
				debug.Live("Control loop quit")
				return nil
			}
		case <-ticker.C:
			l.onTick()
		}
	}
}

// Submit hands an intent to the loop and waits for its outcome.
func (l *Loop) Submit(ctx context.Context, in Intent) (Outcome, error) {
	req := request{intent: in, reply: make(chan result, 1)}
	select {
	case l.requests <- req:
	case <-l.done:
		return Outcome{}, ErrStopped
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
	// the loop always replies once it has taken the request
	res := <-req.reply
	return res.out, res.err
}

func (l *Loop) onTick() {
	if l.estop != nil {
		pressed, err := l.estop.Pressed()
		if err != nil {
			debug.Error(fmt.Errorf("read e-stop: %w", err))
		} else if pressed != l.estopped {
			l.estopped = pressed
			if pressed {
				debug.Info("EMERGENCY STOP engaged")
				l.halt("e-stop")
				if err := l.ctrl.DisableAll(); err != nil {
					debug.Error(fmt.Errorf("e-stop disable: %w", err))
				}
			} else {
				debug.Info("Emergency stop released")
			}
		}
	}

	if !l.jog.Active || l.estopped {
		return
	}
	if err := l.ctrl.Jog(l.jog.Direction); err != nil {
		debug.Error(fmt.Errorf("jog pulse: %w", err))
		l.halt("jog failed")
	}
}

func (l *Loop) halt(reason string) {
	if l.jog.Active {
		debug.Live("Jogging stopped (%s)", reason)
	}
	l.jog.Active = false
}

func (l *Loop) snapshot(msg string) Outcome {
	return Outcome{
		Message:     msg,
		SlaveID:     l.ctrl.SlaveID(),
		State:       l.ctrl.State().String(),
		Position:    l.ctrl.Position(),
		Jogging:     l.jog.Active,
		Direction:   l.jog.Direction.String(),
		JogVelocity: l.jog.Velocity,
		EStop:       l.estopped,
	}
}

// applyJogSettings writes the jog velocity and, if set, the jog
// acceleration to the selected drive.
func (l *Loop) applyJogSettings() error {
	if err := l.ctrl.SetJogVelocity(uint16(l.jog.Velocity)); err != nil {
		return err
	}
	if l.jog.Acceleration > 0 {
		return l.ctrl.SetJogAcceleration(uint16(l.jog.Acceleration))
	}
	return nil
}

func (l *Loop) initialize(slaveID uint8) error {
	if err := l.ctrl.Initialize(slaveID); err != nil {
		return err
	}
	return l.applyJogSettings()
}

func toSlaveID(id int) (uint8, error) {
	if !modbus.ValidSlaveID(id) {
		return 0, fmt.Errorf("%w: %d", modbus.ErrInvalidSlaveID, id)
	}
	return uint8(id), nil
}

func clampRegister(v int) int {
	if v < 0 {
		return 0
	}
	if v > 0xFFFF {
		return 0xFFFF
	}
	return v
}

func (l *Loop) apply(in Intent) (Outcome, error) {
	debug.Verbose("Intent %s", in)
	if l.estopped && (in.Moves() || in.Kind == KindInitialize) {
		return l.snapshot(""), ErrEStop
	}

	switch in.Kind {
	case KindSelect:
		id, err := toSlaveID(in.SlaveID)
		if err != nil {
			return l.snapshot(""), err
		}
		if id != l.ctrl.SlaveID() {
			l.halt("device change")
		}
		if err := l.ctrl.Select(id); err != nil {
			return l.snapshot(""), err
		}
		if l.ctrl.State() != motion.Enabled && !l.estopped {
			err = l.initialize(id)
		} else {
			err = l.applyJogSettings()
		}
		return l.snapshot(fmt.Sprintf("Selected motor slave ID: %d", id)), err

	case KindInitialize:
		id, err := toSlaveID(in.SlaveID)
		if err != nil {
			return l.snapshot(""), err
		}
		if id != l.ctrl.SlaveID() {
			l.halt("device change")
		}
		err = l.initialize(id)
		return l.snapshot(fmt.Sprintf("Initialized motor slave ID: %d", id)), err

	case KindToggleJog:
		if l.jog.Active {
			l.halt("toggled")
			l.jog.Direction = in.Direction
			return l.snapshot("Jogging stopped"), nil
		}
		if l.ctrl.State() != motion.Enabled {
			if l.ctrl.SlaveID() == 0 {
				return l.snapshot(""), motion.ErrNoDevice
			}
			return l.snapshot(""), fmt.Errorf("slave %d: %w", l.ctrl.SlaveID(), motion.ErrNotEnabled)
		}
		l.jog.Active = true
		l.jog.Direction = in.Direction
		return l.snapshot(fmt.Sprintf("Jogging %s", in.Direction)), nil

	case KindJog:
		err := l.ctrl.Jog(in.Direction)
		return l.snapshot(fmt.Sprintf("Jog pulse %s", in.Direction)), err

	case KindSetJogVelocity, KindStepJogVelocity:
		v := in.Value
		if in.Kind == KindStepJogVelocity {
			v = l.jog.Velocity + in.Value
		}
		l.jog.Velocity = clampRegister(v)
		err := l.ctrl.SetJogVelocity(uint16(l.jog.Velocity))
		return l.snapshot(fmt.Sprintf("Set target velocity to %d", l.jog.Velocity)), err

	case KindSetJogAcceleration:
		l.jog.Acceleration = clampRegister(in.Value)
		err := l.ctrl.SetJogAcceleration(uint16(l.jog.Acceleration))
		return l.snapshot(fmt.Sprintf("Set jog acceleration to %d", l.jog.Acceleration)), err

	case KindMoveTo:
		l.halt("absolute move")
		err := l.ctrl.MoveAbsolute(stepper.Profile{Position: in.Position, Velocity: uint16(l.jog.Velocity)})
		return l.snapshot(fmt.Sprintf("Move to %d", in.Position)), err

	case KindMove:
		l.halt("absolute move")
		err := l.ctrl.MoveAbsolute(in.Profile)
		return l.snapshot(fmt.Sprintf("Move to %d", in.Profile.Position)), err

	case KindReadStatus:
		st, err := l.ctrl.ReadStatus()
		out := l.snapshot("")
		if err != nil {
			return out, err
		}
		out.Status = &st
		out.Message = fmt.Sprintf("Motion status: %s", st)
		return out, nil

	case KindStop:
		l.halt("stop")
		return l.snapshot("Jogging stopped"), nil

	case KindSnapshot:
		return l.snapshot(""), nil

	case KindQuit:
		l.halt("quit")
		return l.snapshot("Quit"), nil
	}
	return l.snapshot(""), fmt.Errorf("%w: %s", ErrUnknownIntent, in)
}

// Mover adapts the loop to sequence.Mover so waypoint runs go through
// the loop goroutine.
type Mover struct {
	ctx  context.Context
	loop *Loop
}

// Mover returns an adapter bound to ctx.
func (l *Loop) Mover(ctx context.Context) *Mover {
	return &Mover{ctx: ctx, loop: l}
}

func (m *Mover) MoveAbsolute(p stepper.Profile) error {
	_, err := m.loop.Submit(m.ctx, Move(p))
	return err
}

// ReadStatus fails with ErrEStop while the e-stop is engaged so a running
// sequence stops waiting.
func (m *Mover) ReadStatus() (stepper.Status, error) {
	out, err := m.loop.Submit(m.ctx, ReadStatus())
	if err != nil || out.Status == nil {
		return stepper.Status{}, err
	}
	if out.EStop {
		return *out.Status, ErrEStop
	}
	return *out.Status, nil
}
