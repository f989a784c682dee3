package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/karalabe/hid"
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/protractor/adapter"
	"github.com/mklimuk/protractor/cmd/protractor/console"
	"github.com/mklimuk/protractor/snsctx"
	"github.com/mklimuk/protractor/uart"
)

var uartCmd = cli.Command{
	Name:  "uart",
	Usage: "serial port tools",
	Subcommands: cli.Commands{
		{
			Name:  "ls",
			Usage: "list serial ports",
			Action: func(c *cli.Context) error {
				ports, err := uart.List()
				if err != nil {
					return console.Exit(console.ExitError, "%s", console.Red(err))
				}
				w := tabwriter.NewWriter(console.Output(), 16, 0, 1, ' ', 0)
				_, _ = fmt.Fprintf(w, "NAME\tUSB\tVID\tPID\tSERIAL\tPRODUCT\n")
				for _, p := range ports {
					_, _ = fmt.Fprintf(w, "%s\t%t\t%s\t%s\t%s\t%s\n", p.Name, p.USB, p.VID, p.PID, p.SerialNumber, p.Product)
				}
				return w.Flush()
			},
		},
	},
}

var usbCmd = cli.Command{
	Name:  "usb",
	Usage: "USB HID tools",
	Subcommands: cli.Commands{
		&usbLsCmd,
		&usbDetectCmd,
	},
}

var usbLsCmd = cli.Command{
	Name:  "ls",
	Usage: "list HID devices",
	Action: func(c *cli.Context) error {
		devices := hid.Enumerate(0, 0)
		w := tabwriter.NewWriter(console.Output(), 24, 0, 1, ' ', 0)
		_, _ = fmt.Fprintf(w, "PATH\tSERIAL\tVENDOR\tPRODUCT ID\tMANUFACTURER\tPRODUCT\n")
		for _, dev := range devices {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%#x\t%#x\t%s\t%s\n",
				dev.Path, dev.Serial, dev.VendorID, dev.ProductID, dev.Manufacturer, dev.Product)
		}
		return w.Flush()
	},
}

// known USB to I2C bridges the sensor can be reached through
var bridges = map[string][2]uint16{
	"MCP2221": {adapter.VendorID, adapter.ProductID},
}

var usbDetectCmd = cli.Command{
	Name:  "detect",
	Usage: "find supported USB to I2C bridges",
	Action: func(c *cli.Context) error {
		devices := hid.Enumerate(0, 0)
		w := tabwriter.NewWriter(console.Output(), 24, 0, 1, ' ', 0)
		_, _ = fmt.Fprintf(w, "ID\tVENDOR\tPRODUCT\tDEVICE\n")
		ids := map[string]int{}
		for _, dev := range devices {
			for name, codes := range bridges {
				if codes[0] == dev.VendorID && codes[1] == dev.ProductID {
					_, _ = fmt.Fprintf(w, "%d\t%#x\t%#x\t%s\n", ids[name], dev.VendorID, dev.ProductID, name)
					ids[name]++
				}
			}
		}
		return w.Flush()
	},
}

var idFlag = &cli.IntFlag{
	Name:  "id",
	Value: -1,
	Usage: "adapter index when several are attached (see usb detect)",
}

var mcp2221Cmd = cli.Command{
	Name:  "mcp2221",
	Usage: "MCP2221 USB to I2C bridge tools",
	Subcommands: cli.Commands{
		{
			Name:  "status",
			Usage: "show the I2C engine status",
			Flags: []cli.Flag{idFlag},
			Action: func(c *cli.Context) error {
				return mcp2221Do(c, (*adapter.MCP2221).Status)
			},
		},
		{
			Name:  "release",
			Usage: "cancel the current transfer and free the bus",
			Flags: []cli.Flag{idFlag},
			Action: func(c *cli.Context) error {
				return mcp2221Do(c, (*adapter.MCP2221).ReleaseBus)
			},
		},
	},
}

func mcp2221Do(c *cli.Context, fn func(*adapter.MCP2221, context.Context) (*adapter.MCP2221Status, error)) error {
	var opts []adapter.Opt
	if id := c.Int("id"); id >= 0 {
		opts = append(opts, adapter.WithDeviceID(id))
	}
	a := adapter.NewMCP2221(opts...)
	ctx := snsctx.SetVerbose(c.Context, c.Bool("verbose"))
	status, err := fn(a, ctx)
	if err != nil {
		return console.Exit(console.ExitNoSensor, "adapter communication error: %s", console.Red(err))
	}
	return encode(status)
}
