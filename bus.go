package protractor

import (
	"context"
	"errors"
	"fmt"
	"io"
)

var ErrBusBusy = fmt.Errorf("I2C engine is busy (command not completed)")

// ErrNoData is returned when a read collected no byte before the inter-byte timeout.
var ErrNoData = errors.New("no data received from sensor")

// ErrOutOfRange is returned when a command parameter is rejected before transmission.
var ErrOutOfRange = errors.New("parameter out of range")

var ErrNotConnected = errors.New("sensor did not answer with the expected product signature")

// Transport is the capability set the sensor client consumes. Exactly one
// implementation is bound to a client: a byte stream (UART) or an
// addressed bus (I2C).
type Transport interface {
	io.ByteReader
	// Available reports whether at least one received byte can be read.
	// It must not block longer than a short poll.
	Available(ctx context.Context) (bool, error)
	// Write sends a complete command frame.
	Write(ctx context.Context, frame []byte) error
	// Request asks the sensor for n bytes of data.
	Request(ctx context.Context, n int) error
}

type AddressableReader interface {
	ReadFromAddr(ctx context.Context, address byte, buffer []byte) error
}

type AddressableWriter interface {
	WriteToAddr(ctx context.Context, address byte, buffer []byte) error
	Release(ctx context.Context) error
}

type I2CBus interface {
	AddressableReader
	AddressableWriter
}

// SerialPort is the minimal byte stream needed by the stream transport.
type SerialPort interface {
	io.ReadWriter
}
