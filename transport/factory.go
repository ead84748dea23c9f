package transport

import (
	"fmt"
	"io"
	"net"
)

// Mode selects how accepted connections are read and written
type Mode string

const (
	// ModeStd uses the runtime network poller
	ModeStd Mode = "std"
	// ModeUring submits socket I/O to an io_uring instance (Linux only)
	ModeUring Mode = "uring"
)

// queueDepth is the io_uring submission queue size shared by all connections
const queueDepth = 32

// ParseMode validates a mode name
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeStd, ModeUring:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown I/O mode %q (want %q or %q)", s, ModeStd, ModeUring)
	}
}

// Factory turns accepted connections into Transports
type Factory struct {
	mode Mode
	ring io.Closer
	wrap func(net.Conn) (Transport, error)
}

// NewFactory creates a factory for the given mode. In ModeUring a single ring
// is created up front and shared by every connection.
func NewFactory(mode Mode) (*Factory, error) {
	f := &Factory{mode: mode}

	switch mode {
	case ModeStd:
		f.wrap = func(conn net.Conn) (Transport, error) {
			return NewConnTransport(conn), nil
		}
	case ModeUring:
		ring, wrap, err := newUringWrapper()
		if err != nil {
			return nil, err
		}
		f.ring = ring
		f.wrap = wrap
	default:
		return nil, fmt.Errorf("unknown I/O mode %q", mode)
	}

	return f, nil
}

// Mode reports the factory's I/O mode
func (f *Factory) Mode() Mode {
	return f.mode
}

// Wrap hands conn over to a Transport. On error conn has been closed.
func (f *Factory) Wrap(conn net.Conn) (Transport, error) {
	return f.wrap(conn)
}

// Close releases the shared ring, if any
func (f *Factory) Close() error {
	if f.ring == nil {
		return nil
	}
	err := f.ring.Close()
	f.ring = nil
	return err
}
