package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"gobot.io/x/gobot/v2/platforms/friendlyelec/nanopi"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/protractor"
	"github.com/mklimuk/protractor/adapter"
	"github.com/mklimuk/protractor/cmd/protractor/console"
	"github.com/mklimuk/protractor/i2c"
	"github.com/mklimuk/protractor/pkg/config"
	"github.com/mklimuk/protractor/proximity"
	"github.com/mklimuk/protractor/snsctx"
	"github.com/mklimuk/protractor/transport"
	"github.com/mklimuk/protractor/uart"
)

// session is a sensor client bound to an opened transport.
type session struct {
	cfg     config.Config
	sensor  *proximity.Protractor
	closers []func() error
}

// Close releases the transport in reverse opening order.
func (s *session) Close() error {
	var err error
	for i := len(s.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, s.closers[i]())
	}
	return err
}

// openSessionFunc is replaced in tests.
var openSessionFunc = openSession

func openSession(ctx context.Context, cfg config.Config) (*session, error) {
	s := &session{cfg: cfg}
	trans, err := s.openTransport(ctx)
	if err != nil {
		return nil, multierr.Append(err, s.Close())
	}
	s.sensor = proximity.NewProtractor(trans,
		proximity.WithTimeouts(cfg.Timeouts.Comm, cfg.Timeouts.Scan),
		proximity.WithLogger(slog.Default()),
	)
	return s, nil
}

func (s *session) openTransport(ctx context.Context) (protractor.Transport, error) {
	cfg := s.cfg
	address := byte(cfg.Address)
	switch cfg.Transport {
	case config.TransportUART:
		port, err := uart.Open(cfg.Device, cfg.Serial)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, port.Close)
		return transport.NewStream(port), nil
	case config.TransportI2C:
		bus, err := i2c.NewGenericBus(cfg.Device)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, bus.Close)
		if err := bus.SetSpeed(physic.Frequency(cfg.Speed) * physic.Hertz); err != nil {
			return nil, err
		}
		return transport.NewBus(bus, address), nil
	case config.TransportMCP2221:
		a := adapter.NewMCP2221()
		if err := a.Init(ctx, cfg.Speed); err != nil {
			return nil, fmt.Errorf("adapter initialization error: %w", err)
		}
		b := transport.NewBus(a, address)
		s.closers = append(s.closers, func() error { return b.Close(ctx) })
		return b, nil
	case config.TransportGobot:
		npi := nanopi.NewNeoAdaptor()
		if err := npi.I2cBusAdaptor.Connect(); err != nil {
			return nil, fmt.Errorf("adaptor connect error: %w", err)
		}
		s.closers = append(s.closers, npi.I2cBusAdaptor.Finalize)
		b := transport.NewBus(i2c.NewGobotBus(npi, cfg.Bus), address)
		s.closers = append(s.closers, func() error { return b.Close(ctx) })
		return b, nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

// resolveConfig loads the configuration file and applies the global flags on top.
func resolveConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil && !errors.Is(err, config.ErrInvalid) {
		return cfg, err
	}
	if c.IsSet("transport") {
		cfg.Transport = c.String("transport")
	}
	if c.IsSet("device") {
		cfg.Device = c.String("device")
	}
	if c.IsSet("address") {
		addr, err := parseInt(c.String("address"))
		if err != nil {
			return cfg, fmt.Errorf("invalid address: %w", err)
		}
		cfg.Address = addr
	}
	if c.IsSet("baud") {
		cfg.Serial.BaudRate = c.Int("baud")
	}
	if c.IsSet("bus") {
		cfg.Bus = c.Int("bus")
	}
	if c.IsSet("speed") {
		cfg.Speed = c.Int("speed")
	}
	return cfg, cfg.Validate()
}

// withSensor opens a session for the duration of the action.
func withSensor(action func(ctx context.Context, c *cli.Context, s *session) error) cli.ActionFunc {
	return func(c *cli.Context) (err error) {
		cfg, err := resolveConfig(c)
		if err != nil {
			return console.Exit(console.ExitBadInput, "configuration error: %s", console.Red(err))
		}
		ctx := snsctx.SetVerbose(c.Context, c.Bool("verbose"))
		s, err := openSessionFunc(ctx, cfg)
		if err != nil {
			return console.Exit(console.ExitNoSensor, "could not open %s transport: %s", cfg.Transport, console.Red(err))
		}
		defer func() {
			if cerr := s.Close(); cerr != nil {
				slog.Warn("could not close transport", "error", cerr)
			}
		}()
		return action(ctx, c, s)
	}
}

func parseInt(s string) (int, error) {
	v, err := strconv.ParseInt(s, 0, 0)
	if err != nil {
		return 0, err
	}
	return int(v), nil
}
