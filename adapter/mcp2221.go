package adapter

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/karalabe/hid"

	"github.com/mklimuk/protractor"
	"github.com/mklimuk/protractor/snsctx"
	"github.com/mklimuk/protractor/timeutil"
)

const VendorID = 0x04D8
const ProductID = 0x00DD

const reportSize = 64

// the adapter derives the I2C clock from its 12MHz system clock
const systemClock = 12_000_000

// HID commands
const (
	cmdStatus      = 0x10
	cmdI2CWrite    = 0x90
	cmdI2CRead     = 0x91
	cmdI2CReadData = 0x40
)

const (
	statusCancelTransfer = 0x10
	statusSetSpeed       = 0x20
	speedNotSet          = 0x21
	readDataError        = 0x41
	engineBusy           = 0x01
	maxTransfer          = 60
)

var ErrCommandFailed = errors.New("command failed")
var ErrDeviceNotFound = errors.New("MCP2221 device not found")

// Opener opens the HID interface of the adapter. id selects among several
// attached adapters.
type Opener func(id ...int) (io.ReadWriteCloser, error)

// MCP2221 drives the I2C master of a Microchip MCP2221(A) USB bridge.
// Every exchange is one 64 byte output report followed by one 64 byte
// input report.
type MCP2221 struct {
	mx           sync.Mutex
	request      []byte
	response     []byte
	responseWait time.Duration
	open         Opener
	clock        timeutil.Clock
	logger       *slog.Logger
	id           []int
}

var _ protractor.I2CBus = &MCP2221{}

type MCP2221Status struct {
	I2CDataBufferCounter   int    `yaml:"i2c_data_buffer_counter"`
	I2CSpeedDivider        int    `yaml:"i2c_speed_divider"`
	I2CTimeout             int    `yaml:"i2c_timeout"`
	CurrentAddress         string `yaml:"current_address"`
	LastWriteRequestedSize uint16 `yaml:"last_write_requested_size"`
	LastWriteSentSize      uint16 `yaml:"last_write_sent_size"`
	ReadPending            int    `yaml:"read_pending"`
}

type Opt func(*MCP2221)

// WithOpener replaces the HID enumeration, mostly for tests.
func WithOpener(open Opener) Opt {
	return func(d *MCP2221) {
		d.open = open
	}
}

func WithResponseWait(wait time.Duration) Opt {
	return func(d *MCP2221) {
		d.responseWait = wait
	}
}

func WithClock(clock timeutil.Clock) Opt {
	return func(d *MCP2221) {
		d.clock = clock
	}
}

// WithDeviceID selects the adapter by its enumeration index when several are attached.
func WithDeviceID(id int) Opt {
	return func(d *MCP2221) {
		d.id = []int{id}
	}
}

func WithLogger(logger *slog.Logger) Opt {
	return func(d *MCP2221) {
		d.logger = logger
	}
}

func NewMCP2221(opts ...Opt) *MCP2221 {
	d := &MCP2221{
		request:      make([]byte, reportSize),
		response:     make([]byte, reportSize),
		responseWait: 50 * time.Millisecond,
		open:         openHID,
		clock:        timeutil.RealClock{},
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Init cancels any transfer left pending on the adapter and sets the I2C
// bus clock in Hz.
func (d *MCP2221) Init(ctx context.Context, speed int) error {
	if speed <= 0 {
		return fmt.Errorf("invalid bus speed %d", speed)
	}
	divider := systemClock/speed - 3
	if divider < 1 || divider > 255 {
		return fmt.Errorf("bus speed %d Hz out of range", speed)
	}
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdStatus
	d.request[2] = statusCancelTransfer
	d.request[3] = statusSetSpeed
	d.request[4] = byte(divider)
	err := d.send(ctx)
	if err != nil {
		return fmt.Errorf("init request failed: %w", err)
	}
	if d.response[3] == speedNotSet {
		return fmt.Errorf("adapter rejected bus speed %d Hz: %w", speed, ErrCommandFailed)
	}
	d.logger.DebugContext(ctx, "mcp2221: initialized", "speed", speed, "divider", divider)
	return nil
}

func (d *MCP2221) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	if len(buffer) > maxTransfer {
		return fmt.Errorf("write to %#x: %d bytes exceed a single report", address, len(buffer))
	}
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdI2CWrite
	binary.LittleEndian.PutUint16(d.request[1:3], uint16(len(buffer)))
	d.request[3] = address << 1
	copy(d.request[4:], buffer)
	err := d.send(ctx)
	if err != nil {
		return fmt.Errorf("write to %#x failed: %w", address, err)
	}
	if d.response[1] == engineBusy {
		d.logger.DebugContext(ctx, "mcp2221: adapter busy", "address", address)
		return protractor.ErrBusBusy
	}
	return nil
}

func (d *MCP2221) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	if len(buffer) > maxTransfer {
		return fmt.Errorf("read from %#x: %d bytes exceed a single report", address, len(buffer))
	}
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdI2CRead
	binary.LittleEndian.PutUint16(d.request[1:3], uint16(len(buffer)))
	d.request[3] = address<<1 + 1
	err := d.send(ctx)
	if err != nil {
		return fmt.Errorf("bus read from %#x failed: %w", address, err)
	}
	if d.response[1] == engineBusy {
		return protractor.ErrBusBusy
	}
	d.resetBuffers()
	d.request[0] = cmdI2CReadData
	err = d.send(ctx)
	if err != nil {
		return fmt.Errorf("error getting read data from adapter: %w", err)
	}
	if d.response[1] == readDataError {
		return fmt.Errorf("error reading the I2C slave data from the I2C engine: %w", ErrCommandFailed)
	}
	if d.response[3] == 127 || int(d.response[3]) != len(buffer) {
		return fmt.Errorf("invalid data size byte; expected %d, got %d", len(buffer), d.response[3])
	}
	copy(buffer, d.response[4:])
	return nil
}

func (d *MCP2221) Status(ctx context.Context) (*MCP2221Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdStatus
	err := d.send(ctx)
	if err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	return bufferToStatus(d.response), nil
}

func bufferToStatus(buffer []byte) *MCP2221Status {
	/*
		9-10:  requested I2C transfer length (LE)
		11-12: already transferred number of bytes (LE)
		13:    internal I2C data buffer counter
		14:    current I2C speed divider
		15:    current I2C timeout
		16-17: I2C address being used
		25:    read pending
	*/
	return &MCP2221Status{
		I2CDataBufferCounter:   int(buffer[13]),
		I2CSpeedDivider:        int(buffer[14]),
		I2CTimeout:             int(buffer[15]),
		ReadPending:            int(buffer[25]),
		CurrentAddress:         hex.EncodeToString(buffer[16:18]),
		LastWriteRequestedSize: binary.LittleEndian.Uint16(buffer[9:11]),
		LastWriteSentSize:      binary.LittleEndian.Uint16(buffer[11:13]),
	}
}

// Release cancels the current transfer, freeing a bus left stuck by an
// interrupted exchange.
func (d *MCP2221) Release(ctx context.Context) error {
	_, err := d.ReleaseBus(ctx)
	return err
}

func (d *MCP2221) ReleaseBus(ctx context.Context) (*MCP2221Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdStatus
	d.request[2] = statusCancelTransfer
	err := d.send(ctx)
	if err != nil {
		return nil, fmt.Errorf("release request failed: %w", err)
	}
	return bufferToStatus(d.response), nil
}

func (d *MCP2221) send(ctx context.Context) (err error) {
	dev, err := d.open(d.id...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := dev.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("could not close device: %w", cerr)
		}
	}()
	snsctx.DumpFrame(ctx, d.logger, "mcp2221: sending report", d.request)
	n, err := dev.Write(d.request)
	if err != nil {
		return fmt.Errorf("could not write request: %w", err)
	}
	if n != reportSize {
		return fmt.Errorf("short write: %d", n)
	}
	d.clock.Sleep(d.responseWait)
	n, err = dev.Read(d.response)
	if err != nil {
		return fmt.Errorf("could not read response: %w", err)
	}
	if n != reportSize {
		return fmt.Errorf("short read: %d", n)
	}
	snsctx.DumpFrame(ctx, d.logger, "mcp2221: received report", d.response)
	if d.response[0] != d.request[0] {
		return fmt.Errorf("response to %#x echoes command %#x: %w", d.request[0], d.response[0], ErrCommandFailed)
	}
	return nil
}

func openHID(id ...int) (io.ReadWriteCloser, error) {
	devs := hid.Enumerate(VendorID, ProductID)
	if len(devs) == 0 {
		return nil, ErrDeviceNotFound
	}
	if len(id) == 0 {
		if len(devs) > 1 {
			return nil, fmt.Errorf("ambiguous device identification: %d adapters attached", len(devs))
		}
		return open(devs[0])
	}
	if id[0] < 0 || id[0] >= len(devs) {
		return nil, fmt.Errorf("no device with id %d: %w", id[0], ErrDeviceNotFound)
	}
	return open(devs[id[0]])
}

func open(info hid.DeviceInfo) (io.ReadWriteCloser, error) {
	dev, err := info.Open()
	if err != nil {
		return nil, fmt.Errorf("error opening device: %w", err)
	}
	return dev, nil
}

func (d *MCP2221) resetBuffers() {
	clear(d.request)
	clear(d.response)
}
