package i2c

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"github.com/mklimuk/protractor"
)

var _ protractor.I2CBus = &GenericBus{}

// DefaultSpeed is the standard mode clock the sensor is rated for.
const DefaultSpeed = 100 * physic.KiloHertz

var hostInit sync.Once

// GenericBus is a Linux I2C bus (/dev/i2c-N) driven through periph.
type GenericBus struct {
	bus i2c.BusCloser
}

// NewGenericBus opens the I2C bus by name ("" picks the first one available),
// e.g. "1" or "/dev/i2c-1".
func NewGenericBus(dev string) (*GenericBus, error) {
	var err error
	hostInit.Do(func() {
		state, ierr := host.Init()
		if ierr != nil {
			err = ierr
			return
		}
		for _, driver := range state.Loaded {
			slog.Debug("i2c: host driver loaded", "driver", driver.String())
		}
	})
	if err != nil {
		return nil, fmt.Errorf("could not init host: %w", err)
	}
	bus, err := i2creg.Open(dev)
	if err != nil {
		return nil, fmt.Errorf("could not open i2c bus %q: %w", dev, err)
	}
	return NewBusFrom(bus), nil
}

// NewBusFrom wraps an already opened periph bus.
func NewBusFrom(bus i2c.BusCloser) *GenericBus {
	return &GenericBus{bus: bus}
}

// SetSpeed changes the bus clock.
func (b *GenericBus) SetSpeed(f physic.Frequency) error {
	err := b.bus.SetSpeed(f)
	if err != nil {
		return fmt.Errorf("could not set i2c bus speed to %s: %w", f, err)
	}
	return nil
}

func (b *GenericBus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	err := b.bus.Tx(uint16(address), nil, buffer)
	if err != nil {
		return fmt.Errorf("could not read from i2c bus %#x: %w", address, err)
	}
	return nil
}

func (b *GenericBus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	err := b.bus.Tx(uint16(address), buffer, nil)
	if err != nil {
		return fmt.Errorf("could not write to i2c bus %#x: %w", address, err)
	}
	return nil
}

// Release is a no-op, the kernel driver arbitrates the bus.
func (b *GenericBus) Release(ctx context.Context) error {
	return nil
}

func (b *GenericBus) Close() error {
	return b.bus.Close()
}

func (b *GenericBus) String() string {
	return b.bus.String()
}
