package transport

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/mklimuk/protractor"
	"github.com/mklimuk/protractor/snsctx"
)

var _ protractor.Transport = &Bus{}

// Bus is the addressed-bus (I2C) variant of the sensor transport. A request
// performs one addressed read whose bytes are then served by ReadByte, the
// same way a two-wire receive buffer behaves.
type Bus struct {
	bus     protractor.I2CBus
	address byte
	pending bytes.Buffer
	logger  *slog.Logger
}

// NewBus binds the transport to the sensor at the given 7-bit address.
// If address is 0, the factory default 0x45 is used.
func NewBus(bus protractor.I2CBus, address byte) *Bus {
	if address == 0 {
		address = protractor.DefaultAddress
	}
	return &Bus{
		bus:     bus,
		address: address,
		logger:  slog.Default(),
	}
}

func (b *Bus) Address() byte {
	return b.address
}

// Request reads n bytes from the bound address into the receive queue.
// Bytes left over from a previous request are discarded.
func (b *Bus) Request(ctx context.Context, n int) error {
	b.pending.Reset()
	if n <= 0 {
		return nil
	}
	buf := make([]byte, n)
	err := b.bus.ReadFromAddr(ctx, b.address, buf)
	if err != nil {
		return fmt.Errorf("bus: could not read %d bytes from %#x: %w", n, b.address, err)
	}
	snsctx.DumpFrame(ctx, b.logger, "bus: received", buf)
	b.pending.Write(buf)
	return nil
}

func (b *Bus) Write(ctx context.Context, frame []byte) error {
	snsctx.DumpFrame(ctx, b.logger, "bus: writing frame", frame)
	err := b.bus.WriteToAddr(ctx, b.address, frame)
	if err != nil {
		return fmt.Errorf("bus: could not write to %#x: %w", b.address, err)
	}
	return nil
}

func (b *Bus) Available(ctx context.Context) (bool, error) {
	return b.pending.Len() > 0, nil
}

func (b *Bus) ReadByte() (byte, error) {
	return b.pending.ReadByte()
}

// Close releases the underlying bus.
func (b *Bus) Close(ctx context.Context) error {
	return b.bus.Release(ctx)
}
