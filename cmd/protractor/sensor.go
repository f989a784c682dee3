package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/mklimuk/protractor"
	"github.com/mklimuk/protractor/cmd/protractor/console"
	"github.com/mklimuk/protractor/proximity"
)

var readCmd = cli.Command{
	Name:    "read",
	Aliases: []string{"rd"},
	Usage:   "read the most visible objects and most open pathways",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:    "count",
			Aliases: []string{"n"},
			Value:   proximity.MaxObjects,
			Usage:   "number of objects and pathways to request (0-4)",
		},
		&cli.BoolFlag{
			Name:    "watch",
			Aliases: []string{"w"},
			Usage:   "read continuously until interrupted",
		},
		&cli.DurationFlag{
			Name:  "interval",
			Value: 200 * time.Millisecond,
			Usage: "time between reads in watch mode",
		},
	},
	Action: withSensor(func(ctx context.Context, c *cli.Context, s *session) error {
		enc := yaml.NewEncoder(console.Output())
		defer func() { _ = enc.Close() }()
		if c.Bool("watch") {
			console.PInfof(console.PictoRadar, "reading %s every %s, ctrl-c to stop", console.Cyan(s.cfg.Transport), c.Duration("interval"))
		}
		for {
			scan, err := s.sensor.ReadScan(ctx, c.Int("count"))
			switch {
			case errors.Is(err, context.Canceled):
				return nil
			case errors.Is(err, protractor.ErrNoData) && c.Bool("watch"):
				console.Warnf("no answer from the sensor")
			case errors.Is(err, protractor.ErrNoData):
				return console.Exit(console.ExitNoSensor, "no answer from the sensor on %s", s.cfg.Transport)
			case err != nil:
				return console.Exit(console.ExitError, "read error: %s", console.Red(err))
			default:
				if err := enc.Encode(scan); err != nil {
					return console.Exit(console.ExitError, "encoding error: %s", console.Red(err))
				}
			}
			if !c.Bool("watch") {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.Duration("interval")):
			}
		}
	}),
}

var infoCmd = cli.Command{
	Name:  "info",
	Usage: "show product type, serial number and supply voltage",
	Action: withSensor(func(ctx context.Context, c *cli.Context, s *session) error {
		info, err := s.sensor.Info(ctx)
		if err != nil {
			return console.Exit(console.ExitNoSensor, "sensor communication error: %s", console.Red(err))
		}
		return encode(info)
	}),
}

var pingCmd = cli.Command{
	Name:  "ping",
	Usage: "check that a protractor answers",
	Action: withSensor(func(ctx context.Context, c *cli.Context, s *session) error {
		err := s.sensor.Ping(ctx)
		if err != nil {
			console.PInfof(console.PictoStop, "no protractor on %s: %s", console.Yellow(s.cfg.Transport), err)
			return console.Exit(console.ExitNoSensor, "sensor not connected")
		}
		console.PInfof(console.PictoOK, "protractor answered on %s", console.Green(s.cfg.Transport))
		return nil
	}),
}

var rawCmd = cli.Command{
	Name:  "raw",
	Usage: "dump raw diagnostic data",
	Subcommands: cli.Commands{
		{
			Name:  "reflections",
			Usage: "light reflected on each of the 8 emitters",
			Action: withSensor(func(ctx context.Context, c *cli.Context, s *session) error {
				data, err := s.sensor.Reflections(ctx)
				if err != nil {
					return console.Exit(console.ExitNoSensor, "sensor communication error: %s", console.Red(err))
				}
				console.Printf("%s", hex.Dump(data[:]))
				return nil
			}),
		},
		{
			Name:  "params",
			Usage: "communication parameters stored by the sensor",
			Action: withSensor(func(ctx context.Context, c *cli.Context, s *session) error {
				data, err := s.sensor.CommParams(ctx)
				if err != nil {
					return console.Exit(console.ExitNoSensor, "sensor communication error: %s", console.Red(err))
				}
				console.Printf("%s", hex.Dump(data[:]))
				return nil
			}),
		},
	},
}

var yesFlag = &cli.BoolFlag{
	Name:    "yes",
	Aliases: []string{"y"},
	Usage:   "do not ask for confirmation",
}

var setCmd = cli.Command{
	Name:  "set",
	Usage: "configure the sensor",
	Subcommands: cli.Commands{
		{
			Name:      "scan",
			Usage:     "time between scans in ms, 0 scans only on request",
			ArgsUsage: "<ms>",
			Action: withSensor(func(ctx context.Context, c *cli.Context, s *session) error {
				ms, err := intArg(c)
				if err != nil {
					return err
				}
				return applied(s.sensor.SetScanInterval(ctx, ms), "scan interval set to %d ms", ms)
			}),
		},
		{
			Name:      "address",
			Usage:     "store a new i2c address, effective after a reset",
			ArgsUsage: "<address>",
			Flags:     []cli.Flag{yesFlag},
			Action: withSensor(func(ctx context.Context, c *cli.Context, s *session) error {
				addr, err := intArg(c)
				if err != nil {
					return err
				}
				if err := inRange(addr, proximity.MinAddress, proximity.MaxAddress, "address"); err != nil {
					return err
				}
				ok, err := console.Confirm(fmt.Sprintf("store i2c address %#x in the sensor?", addr), c.Bool("yes"))
				if err != nil || !ok {
					return console.Exit(console.ExitCancelled, "cancelled")
				}
				return applied(s.sensor.SetAddress(ctx, addr), "address %#x stored, reset the sensor to apply", addr)
			}),
		},
		{
			Name:      "baud",
			Usage:     "store a new serial baud rate, effective after a reset",
			ArgsUsage: "<rate>",
			Flags:     []cli.Flag{yesFlag},
			Action: withSensor(func(ctx context.Context, c *cli.Context, s *session) error {
				rate, err := intArg(c)
				if err != nil {
					return err
				}
				if err := inRange(rate, proximity.MinBaudRate, proximity.MaxBaudRate, "baud rate"); err != nil {
					return err
				}
				ok, err := console.Confirm(fmt.Sprintf("store baud rate %d in the sensor?", rate), c.Bool("yes"))
				if err != nil || !ok {
					return console.Exit(console.ExitCancelled, "cancelled")
				}
				return applied(s.sensor.SetBaudRate(ctx, rate), "baud rate %d stored, reset the sensor to apply", rate)
			}),
		},
		{
			Name:      "led",
			Usage:     "make the feedback LEDs follow the best object, the best pathway or turn them off",
			ArgsUsage: "object|path|off",
			Action: withSensor(func(ctx context.Context, c *cli.Context, s *session) error {
				mode, err := parseLEDMode(c.Args().First())
				if err != nil {
					return console.Exit(console.ExitBadInput, "%s", err)
				}
				return applied(s.sensor.SetLEDMode(ctx, mode), "leds set to %s", mode)
			}),
		},
	},
}

func intArg(c *cli.Context) (int, error) {
	if c.NArg() != 1 {
		return 0, console.Exit(console.ExitBadInput, "expected exactly one argument: %s", c.Command.ArgsUsage)
	}
	v, err := parseInt(c.Args().First())
	if err != nil {
		return 0, console.Exit(console.ExitBadInput, "invalid argument %q", c.Args().First())
	}
	return v, nil
}

func inRange(v, lo, hi int, what string) error {
	if v < lo || v > hi {
		return console.Exit(console.ExitBadInput, "%s %d out of range [%d, %d]", what, v, lo, hi)
	}
	return nil
}

func applied(err error, msg string, args ...interface{}) error {
	if errors.Is(err, protractor.ErrOutOfRange) {
		return console.Exit(console.ExitBadInput, "%s", err)
	}
	if err != nil {
		return console.Exit(console.ExitError, "sensor communication error: %s", console.Red(err))
	}
	console.PInfof(console.PictoPin, msg, args...)
	return nil
}

func parseLEDMode(s string) (proximity.LEDMode, error) {
	switch strings.ToLower(s) {
	case "object":
		return proximity.LEDModeObject, nil
	case "path":
		return proximity.LEDModePath, nil
	case "off":
		return proximity.LEDModeOff, nil
	default:
		return 0, fmt.Errorf("unknown led mode %q, expected object, path or off", s)
	}
}

var configCmd = cli.Command{
	Name:  "config",
	Usage: "print the effective configuration",
	Action: func(c *cli.Context) error {
		cfg, err := resolveConfig(c)
		if err != nil {
			return console.Exit(console.ExitBadInput, "configuration error: %s", console.Red(err))
		}
		return encode(cfg)
	},
}

func encode(v interface{}) error {
	enc := yaml.NewEncoder(console.Output())
	err := enc.Encode(v)
	if err != nil {
		return console.Exit(console.ExitError, "encoding error: %s", console.Red(err))
	}
	return enc.Close()
}
