package proximity

import "context"

// Target is a detected object or pathway. Angle is in degrees (0-180),
// Visibility is the raw reflected light metric (0-255), not a distance.
type Target struct {
	Angle      int `yaml:"angle"`
	Visibility int `yaml:"visibility"`
}

// Scan holds the objects (most visible first) and pathways (most open
// first) reported by one read.
type Scan struct {
	Objects []Target `yaml:"objects"`
	Paths   []Target `yaml:"paths"`
}

// BestObject returns the most visible object, if any.
func (s Scan) BestObject() (Target, bool) {
	if len(s.Objects) == 0 {
		return Target{}, false
	}
	return s.Objects[0], true
}

// BestPath returns the most open pathway, if any.
func (s Scan) BestPath() (Target, bool) {
	if len(s.Paths) == 0 {
		return Target{}, false
	}
	return s.Paths[0], true
}

// Scanner is implemented by anything producing scans, the sensor client or a mock.
type Scanner interface {
	ReadScan(ctx context.Context, count int) (Scan, error)
}

var _ Scanner = &Protractor{}
