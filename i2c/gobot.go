package i2c

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	gobot "gobot.io/x/gobot/v2/drivers/i2c"

	"github.com/mklimuk/protractor"
)

var _ protractor.I2CBus = &GobotBus{}

// Connector is the part of a gobot adaptor (e.g. nanopi.NeoAdaptor) that
// hands out I2C device connections.
type Connector interface {
	GetI2cConnection(address int, busNr int) (gobot.Connection, error)
}

// GobotBus exposes a bus of a gobot platform adaptor as a protractor.I2CBus.
// Device connections are opened on first use and kept until Release.
type GobotBus struct {
	mu        sync.Mutex
	connector Connector
	busNr     int
	conns     map[byte]gobot.Connection
}

func NewGobotBus(connector Connector, busNr int) *GobotBus {
	return &GobotBus{
		connector: connector,
		busNr:     busNr,
		conns:     make(map[byte]gobot.Connection),
	}
}

func (b *GobotBus) connection(address byte) (gobot.Connection, error) {
	if conn, ok := b.conns[address]; ok {
		return conn, nil
	}
	conn, err := b.connector.GetI2cConnection(int(address), b.busNr)
	if err != nil {
		return nil, fmt.Errorf("could not connect to %#x on bus %d: %w", address, b.busNr, err)
	}
	b.conns[address] = conn
	return conn, nil
}

func (b *GobotBus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	conn, err := b.connection(address)
	if err != nil {
		return err
	}
	n, err := conn.Read(buffer)
	if err != nil {
		return fmt.Errorf("could not read from i2c bus %#x: %w", address, err)
	}
	if n != len(buffer) {
		return fmt.Errorf("short read from i2c bus %#x: %d of %d bytes", address, n, len(buffer))
	}
	return nil
}

func (b *GobotBus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	conn, err := b.connection(address)
	if err != nil {
		return err
	}
	_, err = conn.Write(buffer)
	if err != nil {
		return fmt.Errorf("could not write to i2c bus %#x: %w", address, err)
	}
	return nil
}

// Release closes every device connection opened so far.
func (b *GobotBus) Release(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var err error
	for addr, conn := range b.conns {
		if cerr := conn.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("could not close connection to %#x: %w", addr, cerr))
		}
		delete(b.conns, addr)
	}
	return err
}
