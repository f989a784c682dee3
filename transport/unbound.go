package transport

import (
	"context"

	"github.com/mklimuk/protractor"
)

var _ protractor.Transport = Unbound{}

// Unbound is the transport of a client that was never bound. Every call is
// a no-op returning zero values.
type Unbound struct{}

func (Unbound) Available(context.Context) (bool, error) { return false, nil }
func (Unbound) ReadByte() (byte, error)                  { return 0, nil }
func (Unbound) Write(context.Context, []byte) error      { return nil }
func (Unbound) Request(context.Context, int) error       { return nil }
