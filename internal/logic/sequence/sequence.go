package sequence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/cjeanneret/ICLJog/internal/config"
	"github.com/cjeanneret/ICLJog/internal/debug"
	"github.com/cjeanneret/ICLJog/internal/hw/stepper"
)

var (
	// ErrFault is returned when the drive reports a fault while a
	// waypoint is running.
	ErrFault = errors.New("drive fault")
	// ErrTimeout is returned when a move does not finish in time.
	ErrTimeout = errors.New("move did not complete in time")
)

// StatusReader polls the selected drive.
type StatusReader interface {
	ReadStatus() (stepper.Status, error)
}

// Mover runs absolute moves on the selected drive. *motion.Controller
// satisfies it, as does the teleop loop adapter.
type Mover interface {
	StatusReader
	MoveAbsolute(p stepper.Profile) error
}

// Waypoint is one absolute move followed by an optional dwell.
type Waypoint struct {
	Profile stepper.Profile
	Dwell   time.Duration
}

// Options tunes Run and WaitDone. Zero values pick defaults.
type Options struct {
	Clock        clock.Clock
	PollInterval time.Duration // default 50ms
	Timeout      time.Duration // per waypoint; 0 = wait forever
	// IdlePolls is how many consecutive idle reads count as done when
	// in_motion was never seen. Default 2.
	IdlePolls int
	// OnWaypoint is called before each move (1-based index).
	OnWaypoint func(index, total int, wp Waypoint)
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 50 * time.Millisecond
	}
	if o.IdlePolls <= 0 {
		o.IdlePolls = 2
	}
	return o
}

// FromConfig converts configured waypoints. Zero profile fields are left
// zero so the controller applies its defaults.
func FromConfig(wps []config.Waypoint) []Waypoint {
	out := make([]Waypoint, 0, len(wps))
	for _, wp := range wps {
		out = append(out, Waypoint{
			Profile: stepper.Profile{
				Position:     wp.Position,
				Velocity:     uint16(wp.Velocity),
				Acceleration: uint16(wp.Acceleration),
				Deceleration: uint16(wp.Deceleration),
			},
			Dwell: time.Duration(wp.DwellMs) * time.Millisecond,
		})
	}
	return out
}

// sleep waits d on clk or until ctx is done.
func sleep(ctx context.Context, clk clock.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := clk.Timer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// WaitDone polls status until the drive is idle with command_done or
// path_done set. A fault bit aborts with ErrFault. Read errors abort too:
// a failed read is never taken as "not done yet".
//
// Right after a trigger the drive may still show the done bits of the
// previous move. Idle counts once in_motion has been seen, or after
// IdlePolls idle reads in a row.
func WaitDone(ctx context.Context, r StatusReader, opts Options) (stepper.Status, error) {
	opts = opts.withDefaults()
	var deadline time.Time
	if opts.Timeout > 0 {
		deadline = opts.Clock.Now().Add(opts.Timeout)
	}

	var moved bool
	idle := 0
	for polls := 1; ; polls++ {
		st, err := r.ReadStatus()
		if err != nil {
			return stepper.Status{}, err
		}
		debug.Trace("poll %d: status %s", polls, st)
		if st.Fault {
			return st, fmt.Errorf("%w: status %s", ErrFault, st)
		}
		if st.InMotion {
			moved = true
		}
		if st.Idle() {
			idle++
			if moved || idle >= opts.IdlePolls {
				return st, nil
			}
		} else {
			idle = 0
		}
		if !deadline.IsZero() && !opts.Clock.Now().Before(deadline) {
			return st, fmt.Errorf("%w after %s", ErrTimeout, opts.Timeout)
		}
		if err := sleep(ctx, opts.Clock, opts.PollInterval); err != nil {
			return st, err
		}
	}
}

// Run moves through waypoints in order. Each move must complete before
// the dwell and the next move start. The first error stops the run.
func Run(ctx context.Context, m Mover, waypoints []Waypoint, opts Options) error {
	opts = opts.withDefaults()
	debug.Section("Sequence")
	debug.Value("waypoints", len(waypoints))

	for i, wp := range waypoints {
		if err := ctx.Err(); err != nil {
			return err
		}
		debug.Step(i+1, debug.Fmt("move to %d", wp.Profile.Position))
		if opts.OnWaypoint != nil {
			opts.OnWaypoint(i+1, len(waypoints), wp)
		}

		if err := m.MoveAbsolute(wp.Profile); err != nil {
			return fmt.Errorf("waypoint %d: %w", i+1, err)
		}
		if _, err := WaitDone(ctx, m, opts); err != nil {
			return fmt.Errorf("waypoint %d: %w", i+1, err)
		}
		if err := sleep(ctx, opts.Clock, wp.Dwell); err != nil {
			return err
		}
	}

	debug.Summary(debug.Fmt("Sequence complete (%d waypoints)", len(waypoints)))
	return nil
}
