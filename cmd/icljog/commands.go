package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/urfave/cli/v2"
	"go.bug.st/serial"
	"go.uber.org/multierr"

	"github.com/cjeanneret/ICLJog/internal/debug"
	"github.com/cjeanneret/ICLJog/internal/hw/stepper"
	"github.com/cjeanneret/ICLJog/internal/logic/sequence"
)

var slaveFlag = &cli.IntFlag{
	Name:    "slave",
	Aliases: []string{"s"},
	Usage:   "slave id (default: first configured motor)",
}

// withRig loads config, builds the rig, runs fn and closes the rig.
func withRig(c *cli.Context, fn func(r *rig) error) (err error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	r, err := newRig(cfg)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, r.Close())
	}()
	return fn(r)
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "read the motion status word of one drive",
		Flags: []cli.Flag{
			slaveFlag,
			&cli.BoolFlag{Name: "json", Usage: "print JSON"},
		},
		Action: func(c *cli.Context) error {
			return withRig(c, func(r *rig) error {
				id, err := r.slaveFlag(c.Int("slave"))
				if err != nil {
					return err
				}
				if err := r.ctrl.Select(id); err != nil {
					return err
				}
				st, err := r.ctrl.ReadStatus()
				if err != nil {
					return err
				}
				return printStatus(c.App.Writer, id, st, c.Bool("json"))
			})
		},
	}
}

func printStatus(w io.Writer, id uint8, st stepper.Status, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(w).Encode(struct {
			SlaveID uint8  `json:"slave_id"`
			Word    uint16 `json:"word"`
			stepper.Status
		}{id, st.Word(), st})
	}
	_, err := fmt.Fprintf(w, "slave %d: 0x%04X %s\n", id, st.Word(), st)
	return err
}

func moveCommand() *cli.Command {
	return &cli.Command{
		Name:      "move",
		Usage:     "initialize a drive and run one absolute move",
		ArgsUsage: "POSITION",
		Flags: []cli.Flag{
			slaveFlag,
			&cli.IntFlag{Name: "velocity", Usage: "PR0 velocity (0 = config default)"},
			&cli.IntFlag{Name: "acceleration", Usage: "PR0 acceleration (0 = config default)"},
			&cli.IntFlag{Name: "deceleration", Usage: "PR0 deceleration (0 = config default)"},
			&cli.BoolFlag{Name: "wait", Usage: "poll status until the move is done"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("move needs exactly one POSITION argument")
			}
			p, err := parseProfile(c.Args().First(), c.Int("velocity"), c.Int("acceleration"), c.Int("deceleration"))
			if err != nil {
				return err
			}
			return withRig(c, func(r *rig) error {
				id, err := r.slaveFlag(c.Int("slave"))
				if err != nil {
					return err
				}
				if err := r.ctrl.Initialize(id); err != nil {
					return err
				}
				if err := r.ctrl.MoveAbsolute(p); err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "slave %d: moving to %d\n", id, p.Position)
				if !c.Bool("wait") {
					return nil
				}
				st, err := sequence.WaitDone(c.Context, r.ctrl, sequence.Options{Timeout: r.cfg.SequenceTimeout()})
				if err != nil {
					return err
				}
				return printStatus(c.App.Writer, id, st, false)
			})
		},
	}
}

func sequenceCommand() *cli.Command {
	return &cli.Command{
		Name:      "sequence",
		Usage:     "run a configured waypoint sequence",
		ArgsUsage: "NAME",
		Flags: []cli.Flag{
			slaveFlag,
			&cli.DurationFlag{Name: "timeout", Usage: "per-waypoint timeout (0 = none, default motion.sequence_timeout_ms)"},
		},
		Action: func(c *cli.Context) error {
			return withRig(c, func(r *rig) error {
				name := c.Args().First()
				wps, ok := r.cfg.Sequences[name]
				if !ok {
					return fmt.Errorf("unknown sequence %q (have %v)", name, r.cfg.SequenceNames())
				}
				id, err := r.slaveFlag(c.Int("slave"))
				if err != nil {
					return err
				}
				if err := r.ctrl.Initialize(id); err != nil {
					return err
				}
				timeout := r.cfg.SequenceTimeout()
				if c.IsSet("timeout") {
					timeout = c.Duration("timeout")
				}
				return sequence.Run(c.Context, r.ctrl, sequence.FromConfig(wps), sequence.Options{
					Timeout: timeout,
					OnWaypoint: func(i, total int, wp sequence.Waypoint) {
						fmt.Fprintf(c.App.Writer, "[%d/%d] -> %d\n", i, total, wp.Profile.Position)
					},
				})
			})
		},
	}
}

func portsCommand() *cli.Command {
	return &cli.Command{
		Name:  "ports",
		Usage: "list serial ports",
		Action: func(c *cli.Context) error {
			ports, err := serial.GetPortsList()
			if err != nil {
				return fmt.Errorf("list ports: %w", err)
			}
			if len(ports) == 0 {
				fmt.Fprintln(c.App.Writer, "no serial ports found")
				return nil
			}
			debug.Verbose("found %d port(s)", len(ports))
			for _, p := range ports {
				fmt.Fprintln(c.App.Writer, p)
			}
			return nil
		},
	}
}
