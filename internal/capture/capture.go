// Package capture provides the frame source and frame transmission backends
// used by the sniffer and its modules.
package capture

import (
	"errors"
	"fmt"
	"time"

	"linktap/internal/models"
)

// ErrClosed is returned by a Listener that has been closed.
var ErrClosed = errors.New("capture: listener closed")

// ErrUnknownBackend is returned by New for an unsupported backend name.
var ErrUnknownBackend = errors.New("capture: unknown backend")

// Listener reads frames from one interface.
type Listener interface {
	// Capture blocks for at most timeout, calling onFrame for every frame in
	// capture order, and returns all frames it captured.
	Capture(timeout time.Duration, onFrame func(*models.Frame)) ([]*models.Frame, error)
	// Close releases the underlying capture resource.
	Close() error
}

// Transmitter sends frames out of an interface. Delivery is best effort.
type Transmitter interface {
	Transmit(iface string, frames ...*models.Frame) error
}

// Backend opens listeners and transmits frames.
type Backend interface {
	Transmitter
	Listen(iface string) (Listener, error)
}

// Options configures the live backends.
type Options struct {
	// Snaplen is the maximum number of bytes captured per frame.
	Snaplen int
	// Promiscuous opens the interface in promiscuous mode.
	Promiscuous bool
	// Filter is an optional BPF expression (pcap backend only).
	Filter string
	// ReadTimeout bounds a single read so the capture loop can observe its
	// deadline. Defaults to 50ms.
	ReadTimeout time.Duration
}

func applyDefaults(opts Options) Options {
	if opts.Snaplen <= 0 {
		opts.Snaplen = 65536
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 50 * time.Millisecond
	}
	return opts
}

// New returns the backend with the given name ("pcap" or "afpacket").
func New(name string, opts Options) (Backend, error) {
	switch name {
	case "", "pcap":
		return NewPcapBackend(opts), nil
	case "afpacket":
		return NewPacketBackend(opts), nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownBackend, name)
	}
}
