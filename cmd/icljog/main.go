package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/cjeanneret/ICLJog/internal/config"
	"github.com/cjeanneret/ICLJog/internal/debug"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "icljog:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "icljog",
		Usage: "drive ICL stepper controllers over Modbus-RTU",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   filepath.Join("configs", "default.yaml"),
				Usage:   "path to config file",
			},
			&cli.IntFlag{
				Name:  "debug",
				Value: -1,
				Usage: "override debug_level (0-4)",
			},
			&cli.BoolFlag{
				Name:  "mock",
				Usage: "use simulated drives instead of the serial port",
			},
			&cli.StringFlag{
				Name:  "port",
				Usage: "override serial.port",
			},
		},
		Commands: []*cli.Command{
			teleopCommand(),
			shellCommand(),
			webCommand(),
			statusCommand(),
			moveCommand(),
			sequenceCommand(),
			portsCommand(),
		},
		After: func(*cli.Context) error {
			debug.Sync()
			return nil
		},
	}
}

// loadConfig reads --config and applies the global overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	if err := config.ValidateConfigPath(path); err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := applyFlags(cfg, c.Int("debug"), c.Bool("mock"), c.String("port")); err != nil {
		return nil, err
	}

	debug.Init(cfg.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", path)
	debug.Value("Debug level", cfg.DebugLevel)
	return cfg, nil
}

// applyFlags mutates cfg with command-line overrides. A negative level
// keeps the configured one.
func applyFlags(cfg *config.Config, level int, mock bool, port string) error {
	if level >= 0 {
		if level > 4 {
			return fmt.Errorf("--debug must be between 0 and 4, got %d", level)
		}
		cfg.DebugLevel = level
	}
	if mock {
		cfg.Bus.Mock = true
	}
	if port != "" {
		cfg.Serial.Port = port
	}
	return nil
}
