package main

import (
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/mklimuk/protractor/cmd/protractor/console"
	"github.com/mklimuk/protractor/pkg/config"
	"github.com/mklimuk/protractor/proximity"
)

// scriptedTransport answers every data request with the same frame.
type scriptedTransport struct {
	answer  []byte
	pending []byte
	frames  [][]byte
}

func (s *scriptedTransport) Request(ctx context.Context, n int) error {
	s.pending = append([]byte(nil), s.answer[:min(n, len(s.answer))]...)
	return nil
}

func (s *scriptedTransport) Write(ctx context.Context, frame []byte) error {
	s.frames = append(s.frames, append([]byte(nil), frame...))
	return nil
}

func (s *scriptedTransport) Available(ctx context.Context) (bool, error) {
	return len(s.pending) > 0, nil
}

func (s *scriptedTransport) ReadByte() (byte, error) {
	b := s.pending[0]
	s.pending = s.pending[1:]
	return b, nil
}

func runWith(t *testing.T, trans *scriptedTransport, args ...string) (int, string, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	console.SetOutput(&out, &errOut)
	prev := openSessionFunc
	closed := false
	openSessionFunc = func(ctx context.Context, cfg config.Config) (*session, error) {
		return &session{
			cfg:     cfg,
			sensor:  proximity.NewProtractor(trans),
			closers: []func() error{func() error { closed = true; return nil }},
		}, nil
	}
	t.Cleanup(func() {
		openSessionFunc = prev
		console.SetOutput(os.Stdout, os.Stderr)
	})
	code := run(append([]string{"protractor"}, args...))
	if trans != nil && code != 3 {
		assert.True(t, closed, "the session must be closed")
	}
	return code, out.String(), errOut.String()
}

func TestRead(t *testing.T) {
	trans := &scriptedTransport{answer: []byte{0x11, 128, 200, 255, 100}}
	code, out, _ := runWith(t, trans, "read", "--count", "1")
	require.Equal(t, 0, code)

	var scan proximity.Scan
	require.NoError(t, yaml.Unmarshal([]byte(out), &scan))
	assert.Equal(t, proximity.Scan{
		Objects: []proximity.Target{{Angle: 90, Visibility: 200}},
		Paths:   []proximity.Target{{Angle: 180, Visibility: 100}},
	}, scan)
}

func TestRead_NoAnswer(t *testing.T) {
	code, _, errOut := runWith(t, &scriptedTransport{}, "read")
	assert.Equal(t, console.ExitNoSensor, code)
	assert.Contains(t, errOut, "no answer")
}

func TestPing(t *testing.T) {
	trans := &scriptedTransport{answer: []byte{'P', 'R', 0, 0, 0}}
	code, out, _ := runWith(t, trans, "ping")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "protractor answered on")
	assert.Contains(t, out, "uart")
	assert.Equal(t, [][]byte{{0x00, '\n'}}, trans.frames)

	trans = &scriptedTransport{answer: []byte{'X', 'Y', 0, 0, 0}}
	code, _, _ = runWith(t, trans, "ping")
	assert.Equal(t, console.ExitNoSensor, code)
}

func TestInfo(t *testing.T) {
	// every query gets the same answer, good enough to check the output shape
	trans := &scriptedTransport{answer: []byte{'P', 'R', 0, 0, 0}}
	code, out, _ := runWith(t, trans, "info")
	require.Equal(t, 0, code)
	var info proximity.DeviceInfo
	require.NoError(t, yaml.Unmarshal([]byte(out), &info))
	assert.Equal(t, "PR", info.ProductType)
	assert.Equal(t, uint32(0x5250), info.SerialNumber)
	assert.Equal(t, 0x5250, info.VoltageMV)
}

func TestSetAddress(t *testing.T) {
	trans := &scriptedTransport{}
	code, out, _ := runWith(t, trans, "set", "address", "--yes", "0x46")
	assert.Equal(t, 0, code)
	assert.Equal(t, [][]byte{{0x24, 0x46, '\n'}}, trans.frames)
	assert.Contains(t, out, "address 0x46 stored")

	trans = &scriptedTransport{}
	code, _, _ = runWith(t, trans, "set", "address", "--yes", "200")
	assert.Equal(t, console.ExitBadInput, code)
	assert.Empty(t, trans.frames)
}

func TestSetOutOfRangeNotConfirmed(t *testing.T) {
	// no --yes and no terminal: a prompt would end up cancelled instead
	trans := &scriptedTransport{}
	code, _, errOut := runWith(t, trans, "set", "address", "200")
	assert.Equal(t, console.ExitBadInput, code)
	assert.Contains(t, errOut, "address 200 out of range")

	code, _, errOut = runWith(t, trans, "set", "baud", "1")
	assert.Equal(t, console.ExitBadInput, code)
	assert.Contains(t, errOut, "baud rate 1 out of range")
	assert.Empty(t, trans.frames)
}

func TestSetScanAndLED(t *testing.T) {
	trans := &scriptedTransport{}
	code, _, _ := runWith(t, trans, "set", "scan", "5")
	assert.Equal(t, 0, code)
	code, _, _ = runWith(t, trans, "set", "led", "path")
	assert.Equal(t, 0, code)
	code, _, _ = runWith(t, trans, "set", "led", "blink")
	assert.Equal(t, console.ExitBadInput, code)
	code, _, _ = runWith(t, trans, "set", "scan")
	assert.Equal(t, console.ExitBadInput, code)
	assert.Equal(t, [][]byte{
		{0x20, 0x0F, 0x00, '\n'},
		{0x30, 0x02, '\n'},
	}, trans.frames)
}

func TestSetBaud(t *testing.T) {
	trans := &scriptedTransport{}
	code, _, _ := runWith(t, trans, "set", "baud", "-y", "115200")
	assert.Equal(t, 0, code)
	assert.Equal(t, [][]byte{{0x26, 0x00, 0xC2, 0x01, 0x00, '\n'}}, trans.frames)
}

func TestConfigFlags(t *testing.T) {
	code, out, _ := runWith(t, nil, "--transport", "i2c", "--device", "1", "--address", "0x46", "--speed", "400000", "config")
	require.Equal(t, 0, code)
	var cfg config.Config
	require.NoError(t, yaml.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, config.TransportI2C, cfg.Transport)
	assert.Equal(t, "1", cfg.Device)
	assert.Equal(t, 0x46, cfg.Address)
	assert.Equal(t, 400000, cfg.Speed)
}

func TestVerboseFlag(t *testing.T) {
	code, out, _ := runWith(t, nil, "--verbose", "config")
	require.Equal(t, 0, code)
	var cfg config.Config
	require.NoError(t, yaml.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, config.Default().Transport, cfg.Transport)
}

func TestConfigInvalid(t *testing.T) {
	code, _, errOut := runWith(t, nil, "--transport", "spi", "config")
	assert.Equal(t, console.ExitBadInput, code)
	assert.Contains(t, errOut, "unknown transport")

	code, _, _ = runWith(t, &scriptedTransport{}, "--address", "nope", "read")
	assert.Equal(t, console.ExitBadInput, code)
}

func TestParseLEDMode(t *testing.T) {
	mode, err := parseLEDMode("OFF")
	require.NoError(t, err)
	assert.Equal(t, proximity.LEDModeOff, mode)
	_, err = parseLEDMode("")
	assert.Error(t, err)
}

func TestSessionClose(t *testing.T) {
	var order []int
	s := &session{closers: []func() error{
		func() error { order = append(order, 1); return nil },
		func() error { order = append(order, 2); return assert.AnError },
	}}
	assert.ErrorIs(t, s.Close(), assert.AnError)
	assert.Equal(t, []int{2, 1}, order)
}
