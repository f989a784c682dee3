package proximity

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/protractor"
	"github.com/mklimuk/protractor/timeutil"
	"github.com/mklimuk/protractor/transport"
)

var epoch = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

// feed is one byte delivered by the sensor after gap of silence.
type feed struct {
	gap time.Duration
	b   byte
}

// steady delivers data with the same gap before every byte.
func steady(gap time.Duration, data ...byte) []feed {
	res := make([]feed, len(data))
	for i, b := range data {
		res[i] = feed{gap: gap, b: b}
	}
	return res
}

// simTransport simulates a sensor on top of a mock clock: every poll moves
// time forward by tick, and a byte becomes available once its gap elapsed
// since the previous byte (or since the request).
type simTransport struct {
	clock     *timeutil.MockClock
	tick      time.Duration
	responses [][]feed
	feeds     []feed
	since     time.Time
	requests  []int
	frames    [][]byte
	polls     int

	requestErr error
	pollErr    error
}

func newSim(clock *timeutil.MockClock, responses ...[]feed) *simTransport {
	return &simTransport{clock: clock, tick: time.Millisecond, responses: responses}
}

func (s *simTransport) Request(ctx context.Context, n int) error {
	s.requests = append(s.requests, n)
	if s.requestErr != nil {
		return s.requestErr
	}
	s.feeds = nil
	if len(s.responses) > 0 {
		s.feeds = s.responses[0]
		s.responses = s.responses[1:]
	}
	s.since = s.clock.Now()
	return nil
}

func (s *simTransport) Write(ctx context.Context, frame []byte) error {
	s.frames = append(s.frames, bytes.Clone(frame))
	return nil
}

func (s *simTransport) Available(ctx context.Context) (bool, error) {
	s.polls++
	if s.pollErr != nil {
		return false, s.pollErr
	}
	s.clock.Advance(s.tick)
	return len(s.feeds) > 0 && s.clock.Since(s.since) >= s.feeds[0].gap, nil
}

func (s *simTransport) ReadByte() (byte, error) {
	if len(s.feeds) == 0 {
		return 0, errors.New("nothing to read")
	}
	b := s.feeds[0].b
	s.feeds = s.feeds[1:]
	s.since = s.clock.Now()
	return b, nil
}

func newTestProtractor(responses ...[]feed) (*Protractor, *simTransport, *timeutil.MockClock) {
	clock := timeutil.NewMockClock(epoch)
	sim := newSim(clock, responses...)
	return NewProtractor(sim, WithClock(clock)), sim, clock
}

func fullFrame() []byte {
	return []byte{
		0x44,
		10, 20, 30, 40,
		50, 60, 70, 80,
		90, 100, 110, 120,
		130, 140, 150, 160,
	}
}

func TestProtractor_ReadRequestsBytes(t *testing.T) {
	tests := []struct {
		count    int
		expected int
	}{
		{0, 1},
		{1, 5},
		{2, 9},
		{3, 13},
		{4, 17},
		{7, 17},
		{-3, 1},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("count %d", tt.count), func(t *testing.T) {
			p, sim, _ := newTestProtractor(steady(time.Millisecond, fullFrame()...))
			n, err := p.Read(context.Background(), tt.count)
			require.NoError(t, err)
			assert.Equal(t, []int{tt.expected}, sim.requests)
			assert.Equal(t, tt.expected, n)
			assert.Equal(t, fullFrame()[:tt.expected], p.buf[:tt.expected])
		})
	}
}

func TestProtractor_ReadAll(t *testing.T) {
	p, sim, _ := newTestProtractor(steady(0, fullFrame()...))
	n, err := p.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 17, n)
	assert.Equal(t, []int{17}, sim.requests)
	assert.Equal(t, MaxObjects, p.Requested())
}

func TestProtractor_ReadNoData(t *testing.T) {
	p, _, clock := newTestProtractor(steady(0, fullFrame()...), nil)
	ctx := context.Background()
	_, err := p.ReadAll(ctx)
	require.NoError(t, err)

	start := clock.Now()
	n, err := p.ReadAll(ctx)
	assert.ErrorIs(t, err, protractor.ErrNoData)
	assert.Zero(t, n)
	assert.Equal(t, [bufferSize]byte{}, p.buf, "stale data must be cleared")
	assert.Zero(t, p.ObjectCount())
	assert.Zero(t, p.PathCount())

	elapsed := clock.Since(start)
	assert.GreaterOrEqual(t, elapsed, p.Timeout())
	assert.LessOrEqual(t, elapsed, p.Timeout()+time.Millisecond)
}

func TestProtractor_ReadTrickleDoesNotTimeOut(t *testing.T) {
	// every gap stays below the 20ms timeout, the whole read takes 17*19ms
	p, _, clock := newTestProtractor(steady(19*time.Millisecond, fullFrame()...))
	start := clock.Now()
	n, err := p.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 17, n)
	assert.Greater(t, clock.Since(start), 10*p.Timeout())
	assert.Equal(t, fullFrame(), p.buf[:])
}

func TestProtractor_ReadStopsAfterGap(t *testing.T) {
	data := steady(2*time.Millisecond, fullFrame()...)
	data[5].gap = 50 * time.Millisecond
	p, sim, _ := newTestProtractor(data)

	n, err := p.ReadAll(context.Background())
	require.NoError(t, err, "partial data is accepted")
	assert.Equal(t, 5, n)
	assert.Equal(t, fullFrame()[:5], p.buf[:5])
	assert.Equal(t, make([]byte, 12), p.buf[5:])
	assert.Len(t, sim.feeds, 12, "bytes after the gap must not be consumed")
}

func TestProtractor_ReadGapAroundTimeout(t *testing.T) {
	tests := []struct {
		gap      time.Duration
		expected int
	}{
		{19 * time.Millisecond, 5},
		{20 * time.Millisecond, 5},
		{21 * time.Millisecond, 2},
	}
	for _, tt := range tests {
		t.Run(tt.gap.String(), func(t *testing.T) {
			data := steady(time.Millisecond, 0x10, 0x80, 0x40, 0x00, 0x00)
			data[2].gap = tt.gap
			p, _, _ := newTestProtractor(data)
			n, err := p.Read(context.Background(), 1)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, n)
		})
	}
}

func TestProtractor_ReadErrors(t *testing.T) {
	boom := errors.New("boom")
	ctx := context.Background()

	p, sim, _ := newTestProtractor()
	sim.requestErr = boom
	_, err := p.ReadAll(ctx)
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, sim.polls)

	p, sim, _ = newTestProtractor()
	sim.pollErr = boom
	_, err = p.ReadAll(ctx)
	assert.ErrorIs(t, err, boom)
}

func TestProtractor_ReadCanceled(t *testing.T) {
	p, sim, _ := newTestProtractor(steady(0, fullFrame()...))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n, err := p.ReadAll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, n)
	assert.Zero(t, sim.polls)
}

func TestProtractor_Unbound(t *testing.T) {
	p := NewProtractor(nil, WithTimeouts(time.Millisecond, time.Millisecond))
	_, err := p.ReadAll(context.Background())
	assert.ErrorIs(t, err, protractor.ErrNoData)
	assert.NoError(t, p.LEDOff(context.Background()))
	assert.Equal(t, -1, p.BestObjectAngle())
}

func TestProtractor_AngleMapping(t *testing.T) {
	p, _, _ := newTestProtractor()
	prev := -1
	for raw := 0; raw <= 255; raw++ {
		p.buf[0] = 0x11
		p.buf[1] = byte(raw)
		p.buf[3] = byte(raw)
		angle := p.ObjectAngle(0)
		assert.Equal(t, angle, p.PathAngle(0))
		assert.GreaterOrEqual(t, angle, prev, "mapping must be monotonic")
		assert.Equal(t, raw*180/255, angle)
		prev = angle
	}
	p.buf[1] = 0
	assert.Equal(t, 0, p.ObjectAngle(0))
	p.buf[1] = 255
	assert.Equal(t, 180, p.ObjectAngle(0))
	p.buf[1] = 128
	assert.Equal(t, 90, p.ObjectAngle(0))
}

func TestProtractor_Decode(t *testing.T) {
	frame := []byte{0x23, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100, 110, 120, 0, 0, 0, 0}
	p, _, _ := newTestProtractor(steady(0, frame...))
	_, err := p.ReadAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, p.ObjectCount())
	assert.Equal(t, 3, p.PathCount())
	assert.Equal(t, toDegrees(10), p.ObjectAngle(0))
	assert.Equal(t, toDegrees(10), p.BestObjectAngle())
	assert.Equal(t, 20, p.BestObjectVisibility())
	assert.Equal(t, toDegrees(50), p.ObjectAngle(1))
	assert.Equal(t, 60, p.ObjectVisibility(1))
	assert.Equal(t, toDegrees(30), p.BestPathAngle())
	assert.Equal(t, 40, p.BestPathVisibility())
	assert.Equal(t, toDegrees(110), p.PathAngle(2))
	assert.Equal(t, 120, p.PathVisibility(2))

	expected := Scan{
		Objects: []Target{{Angle: 7, Visibility: 20}, {Angle: 35, Visibility: 60}},
		Paths:   []Target{{Angle: 21, Visibility: 40}, {Angle: 49, Visibility: 80}, {Angle: 77, Visibility: 120}},
	}
	if diff := cmp.Diff(expected, p.Scan()); diff != "" {
		t.Errorf("unexpected scan (-want +got):\n%s", diff)
	}
}

func TestProtractor_Decode_ObjectVisibilityScenario(t *testing.T) {
	p, _, _ := newTestProtractor()
	copy(p.buf[:], []byte{0x23, 10, 20, 30, 40})
	assert.Equal(t, 2, p.ObjectCount())
	assert.Equal(t, toDegrees(10), p.ObjectAngle(0))
	assert.Equal(t, 20, p.ObjectVisibility(0))
}

func TestProtractor_IndexOutOfRange(t *testing.T) {
	tests := []struct {
		name  string
		count byte
		index int
	}{
		{"negative", 0x22, -1},
		{"equal to count", 0x22, 2},
		{"above count", 0x11, 3},
		{"empty", 0x00, 0},
		{"count nibble beyond buffer", 0xFF, 4},
		{"count nibble far beyond buffer", 0xFF, 14},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _, _ := newTestProtractor()
			copy(p.buf[:], fullFrame())
			p.buf[0] = tt.count
			assert.Equal(t, -1, p.ObjectAngle(tt.index))
			assert.Equal(t, -1, p.ObjectVisibility(tt.index))
			assert.Equal(t, -1, p.PathAngle(tt.index))
			assert.Equal(t, -1, p.PathVisibility(tt.index))
		})
	}
}

func TestProtractor_ScanLimitedToRequested(t *testing.T) {
	// the sensor reports 3 objects even though only one was requested
	p, _, _ := newTestProtractor(steady(0, 0x32, 128, 200, 255, 100))
	s, err := p.ReadScan(context.Background(), 1)
	require.NoError(t, err)
	if diff := cmp.Diff(Scan{
		Objects: []Target{{Angle: 90, Visibility: 200}},
		Paths:   []Target{{Angle: 180, Visibility: 100}},
	}, s); diff != "" {
		t.Errorf("unexpected scan (-want +got):\n%s", diff)
	}
	best, ok := s.BestObject()
	assert.True(t, ok)
	assert.Equal(t, 90, best.Angle)
}

func TestProtractor_StreamTransport(t *testing.T) {
	port := &bufferPort{}
	port.rx.Write(fullFrame())
	p := NewProtractor(transport.NewStream(port))
	n, err := p.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 17, n)
	assert.Equal(t, []byte{0x15, 17, '\n'}, port.tx.Bytes())
	assert.Equal(t, 4, p.ObjectCount())
	assert.Equal(t, 4, p.PathCount())
	assert.Equal(t, 160, p.PathVisibility(3))
}

func TestProtractor_BusTransport(t *testing.T) {
	bus := new(MockI2CBus)
	bus.On("ReadFromAddr", mock.Anything, byte(0x45), mock.MatchedBy(func(b []byte) bool { return len(b) == 9 })).
		Return([]byte{0x12, 0, 255, 255, 1, 0, 0, 128, 7}, nil).Once()
	p := NewProtractor(transport.NewBus(bus, protractor.DefaultAddress))
	n, err := p.Read(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 9, n)
	assert.Equal(t, 1, p.ObjectCount())
	assert.Equal(t, 0, p.BestObjectAngle())
	assert.Equal(t, 180, p.PathAngle(0))
	assert.Equal(t, 90, p.PathAngle(1))
	assert.Equal(t, 7, p.PathVisibility(1))
	bus.AssertExpectations(t)
}

// bufferPort is a serial port whose input is already buffered.
type bufferPort struct {
	rx bytes.Buffer
	tx bytes.Buffer
}

func (p *bufferPort) Read(b []byte) (int, error) {
	if p.rx.Len() == 0 {
		return 0, nil
	}
	return p.rx.Read(b)
}

func (p *bufferPort) Write(b []byte) (int, error) {
	return p.tx.Write(b)
}

// MockI2CBus is a mock implementation of protractor.I2CBus using testify/mock
type MockI2CBus struct {
	mock.Mock
}

func (m *MockI2CBus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	args := m.Called(ctx, address, buffer)
	return args.Error(0)
}

func (m *MockI2CBus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	args := m.Called(ctx, address, buffer)
	if data, ok := args.Get(0).([]byte); ok && len(data) <= len(buffer) {
		copy(buffer, data)
	}
	return args.Error(1)
}

func (m *MockI2CBus) Release(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
