package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/mklimuk/protractor"
	"github.com/mklimuk/protractor/snsctx"
)

var _ protractor.Transport = &Stream{}

// drainer is implemented by serial ports able to block until the output
// buffer has been transmitted (go.bug.st/serial.Port).
type drainer interface {
	Drain() error
}

// Stream is the byte-stream (UART) variant of the sensor transport.
//
// The underlying port should be opened with a short read timeout (see the
// uart package) so that Available never blocks longer than one poll.
type Stream struct {
	port    protractor.SerialPort
	chunk   []byte
	pending bytes.Buffer
	logger  *slog.Logger
}

func NewStream(port protractor.SerialPort) *Stream {
	return &Stream{
		port:   port,
		chunk:  make([]byte, 32),
		logger: slog.Default(),
	}
}

// Request asks the sensor to send n bytes by writing the request-data frame.
func (s *Stream) Request(ctx context.Context, n int) error {
	return s.Write(ctx, []byte{protractor.OpRequestData, byte(n), protractor.Terminator})
}

// Write sends the frame and waits for it to leave the output buffer when
// the port supports it.
func (s *Stream) Write(ctx context.Context, frame []byte) error {
	snsctx.DumpFrame(ctx, s.logger, "stream: writing frame", frame)
	n, err := s.port.Write(frame)
	if err != nil {
		return fmt.Errorf("stream: could not write frame: %w", err)
	}
	if n != len(frame) {
		return fmt.Errorf("stream: short write: %d of %d bytes", n, len(frame))
	}
	if d, ok := s.port.(drainer); ok {
		if err := d.Drain(); err != nil {
			return fmt.Errorf("stream: could not flush port: %w", err)
		}
	}
	return nil
}

// Available polls the port once and reports whether a byte is pending.
func (s *Stream) Available(ctx context.Context) (bool, error) {
	if s.pending.Len() > 0 {
		return true, nil
	}
	n, err := s.port.Read(s.chunk)
	if n > 0 {
		s.pending.Write(s.chunk[:n])
	}
	// a read timeout on a serial port surfaces as 0, nil; mocks report io.EOF
	if err != nil && !errors.Is(err, io.EOF) {
		return s.pending.Len() > 0, fmt.Errorf("stream: could not read port: %w", err)
	}
	return s.pending.Len() > 0, nil
}

// ReadByte pops the next pending byte. It returns io.EOF when Available
// has not reported any byte.
func (s *Stream) ReadByte() (byte, error) {
	return s.pending.ReadByte()
}
