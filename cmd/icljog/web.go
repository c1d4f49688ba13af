package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/cjeanneret/ICLJog/internal/config"
	"github.com/cjeanneret/ICLJog/internal/debug"
	"github.com/cjeanneret/ICLJog/internal/logic/sequence"
	"github.com/cjeanneret/ICLJog/internal/logic/teleop"
	"github.com/cjeanneret/ICLJog/internal/web"
)

func webCommand() *cli.Command {
	return &cli.Command{
		Name:  "web",
		Usage: "serve the HTTP control panel",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "listen address (overrides web.addr)"},
		},
		Action: func(c *cli.Context) error {
			return withRig(c, func(r *rig) error {
				if addr := c.String("addr"); addr != "" {
					r.cfg.Web.Addr = addr
				}
				return runWeb(c.Context, r)
			})
		},
	}
}

func panelConfig(cfg *config.Config) web.PanelConfig {
	p := web.PanelConfig{
		Sequences:       cfg.SequenceNames(),
		JogVelocity:     cfg.Motion.JogVelocity,
		JogVelocityStep: cfg.Motion.JogVelocityStep,
		Presets:         cfg.Teleop.PresetKeys,
	}
	for _, m := range cfg.Motors {
		p.Motors = append(p.Motors, web.MotorInfo{Name: m.Name, SlaveID: m.SlaveID})
	}
	return p
}

func runWeb(ctx context.Context, r *rig) error {
	broadcaster := web.NewStatusBroadcaster()
	debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))
	defer debug.SetOutput(os.Stdout)

	loop := r.loop()
	runSequence := func(ctx context.Context, name string) error {
		wps, ok := r.cfg.Sequences[name]
		if !ok {
			return fmt.Errorf("unknown sequence %q", name)
		}
		return sequence.Run(ctx, loop.Mover(ctx), sequence.FromConfig(wps), sequence.Options{
			Timeout: r.cfg.SequenceTimeout(),
			OnWaypoint: func(i, total int, wp sequence.Waypoint) {
				broadcaster.BroadcastMsg(fmt.Sprintf("Waypoint %d/%d: %d", i, total, wp.Profile.Position))
			},
		})
	}

	srv, err := web.NewServer(r.cfg.Web.Addr, broadcaster, loop, runSequence, panelConfig(r.cfg))
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return loop.Run(gctx)
	})
	if _, err := loop.Submit(gctx, teleop.Initialize(r.firstSlave())); err != nil {
		debug.Error(fmt.Errorf("startup initialize: %w", err))
	}
	g.Go(func() error {
		return srv.Run(gctx)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
