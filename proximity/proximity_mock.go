package proximity

import (
	"context"
)

// ScanBehaviorFunc defines the function signature for scan behavior.
// It receives the requested count and returns a scan or an error.
type ScanBehaviorFunc func(ctx context.Context, count int) (Scan, error)

// MockProximitySensor is a mock implementation of a proximity sensor that
// uses a behavior function to produce scans without requiring hardware.
type MockProximitySensor struct {
	behavior ScanBehaviorFunc
}

// NewMockProximitySensor creates a new mock proximity sensor with the given behavior function.
//
// Example usage:
//
//	sensor := NewMockProximitySensor(func(ctx context.Context, count int) (Scan, error) {
//		return Scan{Objects: []Target{{Angle: 90, Visibility: 200}}}, nil
//	})
func NewMockProximitySensor(behavior ScanBehaviorFunc) *MockProximitySensor {
	return &MockProximitySensor{behavior: behavior}
}

// ReadScan returns the scan produced by the behavior function, trimmed to
// count objects and pathways like the real sensor does.
func (m *MockProximitySensor) ReadScan(ctx context.Context, count int) (Scan, error) {
	s, err := m.behavior(ctx, count)
	if err != nil {
		return Scan{}, err
	}
	count = max(0, min(count, MaxObjects))
	if len(s.Objects) > count {
		s.Objects = s.Objects[:count]
	}
	if len(s.Paths) > count {
		s.Paths = s.Paths[:count]
	}
	return s, nil
}
