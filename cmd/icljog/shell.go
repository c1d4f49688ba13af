package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/cjeanneret/ICLJog/internal/debug"
	"github.com/cjeanneret/ICLJog/internal/hw/stepper"
	"github.com/cjeanneret/ICLJog/internal/logic/sequence"
	"github.com/cjeanneret/ICLJog/internal/logic/teleop"
)

const shellHelp = `Commands:
  select <id>              select a drive (initializes it if needed)
  init <id>                enable a drive and apply jog settings
  move <pos> [vel [acc [dec]]]  absolute move
  jog cw|ccw               toggle continuous jogging
  pulse cw|ccw             send one jog command
  stop                     stop jogging
  velocity <v>             set jog velocity
  step <+/-d>              change jog velocity by d
  acc <v>                  set jog acceleration
  status                   read motion status
  pos                      show selected drive, state and position
  seq <name>               run a configured sequence
  help                     show this help
  quit                     exit
`

func shellCommand() *cli.Command {
	return &cli.Command{
		Name:  "shell",
		Usage: "interactive command shell",
		Action: func(c *cli.Context) error {
			return withRig(c, func(r *rig) error {
				rl, err := readline.NewEx(&readline.Config{
					Prompt:          "icljog> ",
					InterruptPrompt: "^C",
					EOFPrompt:       "quit",
				})
				if err != nil {
					return fmt.Errorf("failed to create readline: %w", err)
				}
				defer rl.Close()
				debug.SetOutput(rl.Stdout())
				defer debug.SetOutput(os.Stdout)

				return runShell(c.Context, r, rl)
			})
		},
	}
}

func runShell(ctx context.Context, r *rig, rl *readline.Instance) error {
	loop := r.loop()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return loop.Run(gctx)
	})

	sh := &shell{loop: loop, rig: r, out: rl.Stdout()}
	fmt.Fprint(sh.out, shellHelp)
	sh.exec(gctx, fmt.Sprintf("init %d", r.firstSlave()))

	go func() {
		select {
		case <-gctx.Done():
			rl.Close()
		case <-loop.Done():
		}
	}()

	g.Go(func() error {
		defer loop.Submit(gctx, teleop.Quit())
		for {
			line, err := rl.Readline()
			if err == readline.ErrInterrupt {
				continue
			}
			if err != nil {
				return nil
			}
			if sh.exec(gctx, line) {
				return nil
			}
		}
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// shell parses text commands into intents.
type shell struct {
	loop *teleop.Loop
	rig  *rig
	out  io.Writer
}

func (s *shell) submit(ctx context.Context, in teleop.Intent) {
	o, err := s.loop.Submit(ctx, in)
	if err != nil {
		fmt.Fprintf(s.out, "error: %v\n", err)
		return
	}
	if o.Message != "" {
		fmt.Fprintln(s.out, o.Message)
	}
}

// exec runs one command line and reports whether the shell should exit.
func (s *shell) exec(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	in, err := s.parse(ctx, cmd, args)
	switch {
	case errors.Is(err, errQuit):
		return true
	case errors.Is(err, errHandled):
		return false
	case err != nil:
		fmt.Fprintf(s.out, "error: %v\n", err)
		return false
	}
	s.submit(ctx, in)
	return false
}

var (
	errQuit    = errors.New("quit")
	errHandled = errors.New("handled")
)

func needArgs(cmd string, args []string, n int) error {
	if len(args) < n {
		return fmt.Errorf("%s: missing argument (try 'help')", cmd)
	}
	return nil
}

// parse maps a command to an intent. Local commands return errHandled.
func (s *shell) parse(ctx context.Context, cmd string, args []string) (teleop.Intent, error) {
	switch cmd {
	case "help", "?":
		fmt.Fprint(s.out, shellHelp)
		return teleop.Intent{}, errHandled

	case "quit", "exit", "q":
		return teleop.Intent{}, errQuit

	case "select", "sel", "init":
		if err := needArgs(cmd, args, 1); err != nil {
			return teleop.Intent{}, err
		}
		id, err := strconv.Atoi(args[0])
		if err != nil {
			return teleop.Intent{}, fmt.Errorf("%s: %w", cmd, err)
		}
		if cmd == "init" {
			return teleop.Initialize(id), nil
		}
		return teleop.Select(id), nil

	case "move", "m":
		if err := needArgs(cmd, args, 1); err != nil {
			return teleop.Intent{}, err
		}
		var ramps [3]int
		for i := 1; i < len(args) && i <= 3; i++ {
			v, err := strconv.Atoi(args[i])
			if err != nil {
				return teleop.Intent{}, fmt.Errorf("move: %w", err)
			}
			ramps[i-1] = v
		}
		p, err := parseProfile(args[0], ramps[0], ramps[1], ramps[2])
		if err != nil {
			return teleop.Intent{}, err
		}
		return teleop.Move(p), nil

	case "jog", "pulse":
		if err := needArgs(cmd, args, 1); err != nil {
			return teleop.Intent{}, err
		}
		dir, err := stepper.ParseDirection(strings.ToLower(args[0]))
		if err != nil {
			return teleop.Intent{}, err
		}
		if cmd == "pulse" {
			return teleop.Jog(dir), nil
		}
		return teleop.ToggleJog(dir), nil

	case "stop", "s":
		return teleop.Stop(), nil

	case "velocity", "vel", "v":
		if err := needArgs(cmd, args, 1); err != nil {
			return teleop.Intent{}, err
		}
		v, err := parseRegister("velocity", args[0])
		if err != nil {
			return teleop.Intent{}, err
		}
		return teleop.SetJogVelocity(int(v)), nil

	case "step":
		if err := needArgs(cmd, args, 1); err != nil {
			return teleop.Intent{}, err
		}
		d, err := strconv.Atoi(args[0])
		if err != nil {
			return teleop.Intent{}, fmt.Errorf("step: %w", err)
		}
		return teleop.StepJogVelocity(d), nil

	case "acc", "acceleration":
		if err := needArgs(cmd, args, 1); err != nil {
			return teleop.Intent{}, err
		}
		v, err := parseRegister("acceleration", args[0])
		if err != nil {
			return teleop.Intent{}, err
		}
		return teleop.SetJogAcceleration(int(v)), nil

	case "status", "st", "w":
		return teleop.ReadStatus(), nil

	case "pos", "state":
		o, err := s.loop.Submit(ctx, teleop.Snapshot())
		if err != nil {
			return teleop.Intent{}, err
		}
		fmt.Fprintf(s.out, "slave %d (%s) %s position %d jog %d%s\n",
			o.SlaveID, s.rig.cfg.MotorName(o.SlaveID), o.State, o.Position, o.JogVelocity, jogSuffix(o))
		return teleop.Intent{}, errHandled

	case "seq", "sequence":
		if err := needArgs(cmd, args, 1); err != nil {
			return teleop.Intent{}, err
		}
		wps, ok := s.rig.cfg.Sequences[args[0]]
		if !ok {
			return teleop.Intent{}, fmt.Errorf("unknown sequence %q (have %v)", args[0], s.rig.cfg.SequenceNames())
		}
		err := sequence.Run(ctx, s.loop.Mover(ctx), sequence.FromConfig(wps), sequence.Options{
			Timeout: s.rig.cfg.SequenceTimeout(),
			OnWaypoint: func(i, total int, wp sequence.Waypoint) {
				fmt.Fprintf(s.out, "[%d/%d] -> %d\n", i, total, wp.Profile.Position)
			},
		})
		if err != nil {
			return teleop.Intent{}, err
		}
		fmt.Fprintln(s.out, "sequence complete")
		return teleop.Intent{}, errHandled
	}
	return teleop.Intent{}, fmt.Errorf("unknown command %q (try 'help')", cmd)
}

func jogSuffix(o teleop.Outcome) string {
	var b strings.Builder
	if o.Jogging {
		fmt.Fprintf(&b, " jogging %s", o.Direction)
	}
	if o.EStop {
		b.WriteString(" E-STOP")
	}
	return b.String()
}
