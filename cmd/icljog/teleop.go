package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/cjeanneret/ICLJog/internal/debug"
	"github.com/cjeanneret/ICLJog/internal/logic/teleop"
)

const teleopHelp = `Real-time key control. Press 'q' or Esc to quit.
  0-9          select motor slave id
  Right/Left   start jogging CW/CCW, or stop a running jog
  Up/Down      jog velocity +/- step
  a s d ... ;  set jog velocity
  z x c v b n m  move to preset position
  w            read motion status
  space        stop jogging
`

// crlf adds carriage returns for a terminal in raw mode.
type crlf struct{ w io.Writer }

func (c crlf) Write(p []byte) (int, error) {
	s := strings.ReplaceAll(string(p), "\r\n", "\n")
	if _, err := io.WriteString(c.w, strings.ReplaceAll(s, "\n", "\r\n")); err != nil {
		return 0, err
	}
	return len(p), nil
}

func teleopCommand() *cli.Command {
	return &cli.Command{
		Name:  "teleop",
		Usage: "keyboard teleoperation (arrows jog, digits select, presets move)",
		Action: func(c *cli.Context) error {
			return withRig(c, func(r *rig) error {
				return runTeleop(c.Context, r, os.Stdin, c.App.Writer)
			})
		},
	}
}

func runTeleop(ctx context.Context, r *rig, in *os.File, out io.Writer) error {
	fd := int(in.Fd())
	if term.IsTerminal(fd) {
		state, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("raw terminal: %w", err)
		}
		defer term.Restore(fd, state)
		out = crlf{out}
		debug.SetOutput(out)
		defer debug.SetOutput(os.Stdout)
	}
	fmt.Fprint(out, teleopHelp)

	loop := r.loop()
	keys := r.keymap()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return loop.Run(gctx)
	})

	// Startup: first motor initialized and jog velocity applied.
	if o, err := loop.Submit(gctx, teleop.Initialize(r.firstSlave())); err != nil {
		fmt.Fprintf(out, "initialize: %v\n", err)
	} else {
		fmt.Fprintln(out, o.Message)
	}

	// The reader blocks in Read and is not waited for.
	chunks := make(chan []byte)
	go readChunks(in, chunks)

	g.Go(func() error {
		return dispatchKeys(gctx, loop, keys, chunks, out)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func readChunks(in io.Reader, chunks chan<- []byte) {
	defer close(chunks)
	buf := make([]byte, 8)
	for {
		n, err := in.Read(buf)
		if n > 0 {
			chunks <- append([]byte(nil), buf[:n]...)
		}
		if err != nil {
			return
		}
	}
}

// escTimeout is how long a trailing Esc waits for the rest of an arrow
// sequence before it counts as a quit.
var escTimeout = 100 * time.Millisecond

// dispatchKeys submits decoded intents until Quit, EOF or ctx is done.
func dispatchKeys(ctx context.Context, loop *teleop.Loop, keys teleop.Keymap, chunks <-chan []byte, out io.Writer) error {
	dec := teleop.NewKeyDecoder(keys)
	var escWait <-chan time.Time
	for {
		var intents []teleop.Intent
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-escWait:
			escWait = nil
			intents = dec.Flush()
		case chunk, ok := <-chunks:
			if !ok {
				_, err := loop.Submit(ctx, teleop.Quit())
				return err
			}
			intents = dec.Feed(chunk)
			escWait = nil
			if dec.Pending() {
				escWait = time.After(escTimeout)
			}
		}
		for _, in := range intents {
			o, err := loop.Submit(ctx, in)
			if err != nil {
				fmt.Fprintf(out, "%s: %v\n", in, err)
				continue
			}
			if o.Message != "" {
				fmt.Fprintln(out, o.Message)
			}
			if in.Kind == teleop.KindQuit {
				return nil
			}
		}
	}
}
