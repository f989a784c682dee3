package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	chlog "github.com/charmbracelet/log"
	"github.com/muesli/termenv"
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/protractor/cmd/protractor/console"
	"github.com/mklimuk/protractor/pkg/config"
)

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err := newApp().RunContext(ctx, args)
	if err != nil {
		var exerr cli.ExitCoder
		if errors.As(err, &exerr) {
			console.Errorf("%s", err)
			return exerr.ExitCode()
		}
		console.Errorf("unexpected error: %s", err)
		return console.ExitError
	}
	return 0
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "protractor"
	app.EnableBashCompletion = true
	app.Version = config.Version
	app.Usage = "Protractor angle/proximity sensor cli"
	app.Flags = []cli.Flag{
		&cli.BoolFlag{
			Name:  "verbose",
			Usage: "enable verbose logging and frame dumps",
		},
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "YAML configuration file",
			EnvVars: []string{"PROTRACTOR_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "transport",
			Aliases: []string{"t"},
			Usage:   "uart, i2c, mcp2221 or gobot",
		},
		&cli.StringFlag{
			Name:    "device",
			Aliases: []string{"d"},
			Usage:   "serial port or i2c bus name",
		},
		&cli.StringFlag{
			Name:  "address",
			Usage: "i2c address of the sensor (e.g. 69 or 0x45)",
		},
		&cli.IntFlag{
			Name:  "baud",
			Usage: "serial baud rate",
		},
		&cli.IntFlag{
			Name:  "bus",
			Usage: "gobot i2c bus number",
		},
		&cli.IntFlag{
			Name:  "speed",
			Usage: "i2c clock in Hz",
		},
	}
	app.Before = func(c *cli.Context) error {
		charm := chlog.NewWithOptions(os.Stderr, chlog.Options{
			ReportCaller:    true,
			ReportTimestamp: true,
			TimeFormat:      time.DateTime,
		})
		charm.SetColorProfile(termenv.TrueColor)
		charm.SetLevel(chlog.InfoLevel)
		if c.Bool("verbose") {
			charm.SetLevel(chlog.DebugLevel)
		}
		slog.SetDefault(slog.New(charm))
		return nil
	}
	// exit codes are returned by run
	app.ExitErrHandler = func(*cli.Context, error) {}
	app.Commands = cli.Commands{
		&readCmd,
		&infoCmd,
		&pingCmd,
		&rawCmd,
		&setCmd,
		&configCmd,
		&uartCmd,
		&usbCmd,
		&mcp2221Cmd,
	}
	return app
}
