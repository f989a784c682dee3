package proximity

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"

	"github.com/mklimuk/protractor"
	"github.com/mklimuk/protractor/timeutil"
	"github.com/mklimuk/protractor/transport"
)

// MaxObjects is the number of objects and pathways the sensor can report.
const MaxObjects = 4

const bufferSize = 1 + 4*MaxObjects

// ProductSignature is the product type answered by the sensor.
const ProductSignature = "PR"

// Scan interval bounds in milliseconds. The sensor needs MinScanInterval to
// complete one sweep.
const (
	MinScanInterval = 15
	MaxScanInterval = 32767
)

const (
	MinAddress  = 2
	MaxAddress  = 127
	MinBaudRate = 1200
	MaxBaudRate = 250000
)

// LEDMode selects what the feedback LEDs of the sensor follow.
type LEDMode byte

const (
	LEDModeObject LEDMode = 1
	LEDModePath   LEDMode = 2
	LEDModeOff    LEDMode = 3
)

func (m LEDMode) String() string {
	switch m {
	case LEDModeObject:
		return "object"
	case LEDModePath:
		return "path"
	case LEDModeOff:
		return "off"
	default:
		return fmt.Sprintf("LEDMode(%d)", byte(m))
	}
}

type Opts struct {
	Clock timeutil.Clock
	// CommWait is the inter-byte timeout while the sensor scans continuously.
	CommWait time.Duration
	// ScanWait is added to CommWait when the sensor only scans on request.
	ScanWait time.Duration
	// SettingDelay follows scan interval, address and baud rate commands.
	SettingDelay time.Duration
	// LEDDelay follows LED mode commands.
	LEDDelay time.Duration
	// QueryDelay separates a diagnostic request from the data read.
	QueryDelay time.Duration
	Logger     *slog.Logger
}

type Opt func(*Opts)

func WithClock(clock timeutil.Clock) Opt {
	return func(o *Opts) {
		o.Clock = clock
	}
}

func WithTimeouts(commWait, scanWait time.Duration) Opt {
	return func(o *Opts) {
		o.CommWait = commWait
		o.ScanWait = scanWait
	}
}

func WithSettleDelays(setting, led, query time.Duration) Opt {
	return func(o *Opts) {
		o.SettingDelay = setting
		o.LEDDelay = led
		o.QueryDelay = query
	}
}

func WithLogger(logger *slog.Logger) Opt {
	return func(o *Opts) {
		o.Logger = logger
	}
}

// Protractor represents the RoboGao Protractor angle/proximity sensor.
// Typical usage:
//
//	p := NewProtractor(transport.NewBus(bus, protractor.DefaultAddress))
//	if _, err := p.ReadAll(ctx); err != nil { ... }
//	angle := p.BestObjectAngle()
//
// Accessors decode the buffer filled by the most recent Read. A Protractor
// is not safe for concurrent use.
type Protractor struct {
	config    Opts
	transport protractor.Transport
	clock     timeutil.Clock
	logger    *slog.Logger

	buf      [bufferSize]byte
	numData  int
	waitTime time.Duration
}

// NewProtractor binds a client to the given transport. A nil transport
// leaves the client unbound: every transport call is a no-op.
func NewProtractor(trans protractor.Transport, opts ...Opt) *Protractor {
	config := Opts{
		Clock:        timeutil.RealClock{},
		CommWait:     20 * time.Millisecond,
		ScanWait:     20 * time.Millisecond,
		SettingDelay: 500 * time.Microsecond,
		LEDDelay:     200 * time.Microsecond,
		QueryDelay:   2 * time.Millisecond,
		Logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(&config)
	}
	if trans == nil {
		trans = transport.Unbound{}
	}
	return &Protractor{
		config:    config,
		transport: trans,
		clock:     config.Clock,
		logger:    config.Logger,
		waitTime:  config.CommWait,
	}
}

// Timeout returns the inter-byte timeout currently applied to reads.
func (p *Protractor) Timeout() time.Duration {
	return p.waitTime
}

// Requested returns the number of objects and pathways asked for by the last read.
func (p *Protractor) Requested() int {
	return p.numData
}

// ReadAll requests every object and pathway the sensor can report.
func (p *Protractor) ReadAll(ctx context.Context) (int, error) {
	return p.Read(ctx, MaxObjects)
}

// Read requests the count most visible objects and most open pathways and
// collects the answer into the receive buffer. count is clamped to
// [0, MaxObjects]; 1+4*count bytes are expected.
//
// Collection stops once every byte arrived or when nothing arrived for the
// current timeout since the last byte. It returns the number of bytes
// received and ErrNoData when none did. A partial answer is not an error;
// positions that were not received read as zero.
func (p *Protractor) Read(ctx context.Context, count int) (int, error) {
	if count > MaxObjects {
		count = MaxObjects
	}
	if count < 0 {
		count = 0
	}
	p.numData = count
	numBytes := 1 + 4*count
	clear(p.buf[:numBytes])

	err := p.transport.Request(ctx, numBytes)
	if err != nil {
		return 0, fmt.Errorf("protractor: could not request %d bytes: %w", numBytes, err)
	}

	received := 0
	last := p.clock.Now()
	for received < numBytes && p.clock.Since(last) < p.waitTime {
		if err := ctx.Err(); err != nil {
			return received, err
		}
		ok, err := p.transport.Available(ctx)
		if err != nil {
			return received, fmt.Errorf("protractor: could not poll transport: %w", err)
		}
		if !ok {
			continue
		}
		b, err := p.transport.ReadByte()
		if err != nil {
			return received, fmt.Errorf("protractor: could not read byte %d: %w", received, err)
		}
		p.buf[received] = b
		received++
		last = p.clock.Now()
	}
	if received == 0 {
		p.logger.DebugContext(ctx, "protractor: no data before timeout", "expected", numBytes, "timeout", p.waitTime)
		return 0, protractor.ErrNoData
	}
	if received < numBytes {
		p.logger.DebugContext(ctx, "protractor: partial read", "expected", numBytes, "received", received)
	}
	return received, nil
}

// ObjectCount returns the number of objects detected (high nibble of byte 0).
func (p *Protractor) ObjectCount() int {
	return int(p.buf[0] >> 4)
}

// PathCount returns the number of pathways detected (low nibble of byte 0).
func (p *Protractor) PathCount() int {
	return int(p.buf[0] & 0x0F)
}

// ObjectAngle returns the angle in degrees to object i, objects ranked by
// visibility, most visible first. It returns -1 if there is no such object.
func (p *Protractor) ObjectAngle(i int) int {
	if !p.validIndex(i, p.ObjectCount()) {
		return -1
	}
	return toDegrees(p.buf[1+4*i])
}

// ObjectVisibility returns the raw visibility of object i or -1.
func (p *Protractor) ObjectVisibility(i int) int {
	if !p.validIndex(i, p.ObjectCount()) {
		return -1
	}
	return int(p.buf[2+4*i])
}

// PathAngle returns the angle in degrees to pathway i, pathways ranked by
// openness, most open first. It returns -1 if there is no such pathway.
func (p *Protractor) PathAngle(i int) int {
	if !p.validIndex(i, p.PathCount()) {
		return -1
	}
	return toDegrees(p.buf[3+4*i])
}

// PathVisibility returns the raw visibility of pathway i or -1.
func (p *Protractor) PathVisibility(i int) int {
	if !p.validIndex(i, p.PathCount()) {
		return -1
	}
	return int(p.buf[4+4*i])
}

func (p *Protractor) BestObjectAngle() int      { return p.ObjectAngle(0) }
func (p *Protractor) BestObjectVisibility() int { return p.ObjectVisibility(0) }
func (p *Protractor) BestPathAngle() int        { return p.PathAngle(0) }
func (p *Protractor) BestPathVisibility() int   { return p.PathVisibility(0) }

// the count nibble may claim more entries than the buffer holds
func (p *Protractor) validIndex(i, count int) bool {
	return i >= 0 && i < count && i < MaxObjects
}

// toDegrees maps a raw angle code linearly from [0,255] to [0,180].
func toDegrees(raw byte) int {
	return int(raw) * 180 / 255
}

// Scan returns a snapshot of the objects and pathways decoded from the
// receive buffer, limited to the number of data points of the last read.
func (p *Protractor) Scan() Scan {
	s := Scan{
		Objects: make([]Target, 0, min(p.ObjectCount(), p.numData)),
		Paths:   make([]Target, 0, min(p.PathCount(), p.numData)),
	}
	for i := 0; i < cap(s.Objects); i++ {
		s.Objects = append(s.Objects, Target{Angle: p.ObjectAngle(i), Visibility: p.ObjectVisibility(i)})
	}
	for i := 0; i < cap(s.Paths); i++ {
		s.Paths = append(s.Paths, Target{Angle: p.PathAngle(i), Visibility: p.PathVisibility(i)})
	}
	return s
}

// ReadScan reads count objects and pathways and returns the decoded snapshot.
func (p *Protractor) ReadScan(ctx context.Context, count int) (Scan, error) {
	_, err := p.Read(ctx, count)
	if err != nil {
		return Scan{}, err
	}
	return p.Scan(), nil
}

func (p *Protractor) command(ctx context.Context, settle time.Duration, frame ...byte) error {
	err := p.transport.Write(ctx, frame)
	if err != nil {
		return fmt.Errorf("protractor: could not send command %#x: %w", frame[0], err)
	}
	p.clock.Sleep(settle)
	return nil
}

// SetScanInterval sets the time between scans in milliseconds. 0 makes the
// sensor scan only when data is requested; values between 1 and
// MinScanInterval-1 are raised to MinScanInterval. Values outside
// [0, MaxScanInterval] are rejected and nothing is sent.
func (p *Protractor) SetScanInterval(ctx context.Context, milliseconds int) error {
	if milliseconds < 0 || milliseconds > MaxScanInterval {
		return fmt.Errorf("protractor: scan interval %d ms: %w", milliseconds, protractor.ErrOutOfRange)
	}
	if milliseconds >= 1 && milliseconds < MinScanInterval {
		milliseconds = MinScanInterval
	}
	var payload [2]byte
	binary.LittleEndian.PutUint16(payload[:], uint16(milliseconds))
	err := p.command(ctx, p.config.SettingDelay, protractor.OpScanTime, payload[0], payload[1], protractor.Terminator)
	if err != nil {
		return err
	}
	// without continuous scanning every data request waits for a full scan
	if milliseconds == 0 {
		p.waitTime = p.config.CommWait + p.config.ScanWait
	} else {
		p.waitTime = p.config.CommWait
	}
	return nil
}

// SetAddress changes the I2C address of the sensor. The address is stored
// by the sensor and takes effect after a reset.
func (p *Protractor) SetAddress(ctx context.Context, address int) error {
	if address < MinAddress || address > MaxAddress {
		return fmt.Errorf("protractor: i2c address %d: %w", address, protractor.ErrOutOfRange)
	}
	return p.command(ctx, p.config.SettingDelay, protractor.OpI2CAddress, byte(address), protractor.Terminator)
}

// SetBaudRate changes the serial baud rate of the sensor. The rate is
// stored by the sensor and takes effect after a reset.
func (p *Protractor) SetBaudRate(ctx context.Context, baudRate int) error {
	if baudRate < MinBaudRate || baudRate > MaxBaudRate {
		return fmt.Errorf("protractor: baud rate %d: %w", baudRate, protractor.ErrOutOfRange)
	}
	frame := make([]byte, 6)
	frame[0] = protractor.OpBaudRate
	binary.LittleEndian.PutUint32(frame[1:5], uint32(baudRate))
	frame[5] = protractor.Terminator
	return p.command(ctx, p.config.SettingDelay, frame...)
}

func (p *Protractor) SetLEDMode(ctx context.Context, mode LEDMode) error {
	if mode < LEDModeObject || mode > LEDModeOff {
		return fmt.Errorf("protractor: led mode %d: %w", mode, protractor.ErrOutOfRange)
	}
	return p.command(ctx, p.config.LEDDelay, protractor.OpLEDUsage, byte(mode), protractor.Terminator)
}

// LEDShowObject makes the feedback LEDs follow the most visible object.
func (p *Protractor) LEDShowObject(ctx context.Context) error {
	return p.SetLEDMode(ctx, LEDModeObject)
}

// LEDShowPath makes the feedback LEDs follow the most open pathway.
func (p *Protractor) LEDShowPath(ctx context.Context) error {
	return p.SetLEDMode(ctx, LEDModePath)
}

func (p *Protractor) LEDOff(ctx context.Context) error {
	return p.SetLEDMode(ctx, LEDModeOff)
}
