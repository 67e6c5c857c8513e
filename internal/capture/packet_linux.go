//go:build linux

package capture

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/mdlayher/packet"
	"golang.org/x/sys/unix"

	"linktap/internal/models"
)

// PacketBackend captures and injects frames over an AF_PACKET raw socket.
// It needs no libpcap, only CAP_NET_RAW.
type PacketBackend struct {
	opts Options

	mu sync.Mutex
	tx map[string]*packet.Conn
}

// NewPacketBackend creates an AF_PACKET backend.
func NewPacketBackend(opts Options) *PacketBackend {
	return &PacketBackend{
		opts: applyDefaults(opts),
		tx:   make(map[string]*packet.Conn),
	}
}

func (b *PacketBackend) open(iface string, promisc bool) (*packet.Conn, error) {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, fmt.Errorf("failed to get interface %s: %w", iface, err)
	}
	conn, err := packet.Listen(ifi, packet.Raw, unix.ETH_P_ALL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open packet socket on %s: %w", iface, err)
	}
	if promisc {
		if err := conn.SetPromiscuous(true); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to enable promiscuous mode on %s: %w", iface, err)
		}
	}
	return conn, nil
}

// Listen opens a raw socket bound to iface.
func (b *PacketBackend) Listen(iface string) (Listener, error) {
	conn, err := b.open(iface, b.opts.Promiscuous)
	if err != nil {
		return nil, err
	}
	return &packetListener{
		conn: conn,
		buf:  make([]byte, b.opts.Snaplen),
		poll: b.opts.ReadTimeout,
	}, nil
}

// Transmit writes frames on iface, addressed to each frame's destination MAC.
func (b *PacketBackend) Transmit(iface string, frames ...*models.Frame) error {
	conn, err := b.txConn(iface)
	if err != nil {
		return err
	}

	var errs []error
	for _, f := range frames {
		dst := f.EthDst()
		if dst == nil {
			errs = append(errs, errors.New("frame has no ethernet header"))
			continue
		}
		if _, err := conn.WriteTo(f.Data(), &packet.Addr{HardwareAddr: dst}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *PacketBackend) txConn(iface string) (*packet.Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.tx[iface]; ok {
		return c, nil
	}
	c, err := b.open(iface, false)
	if err != nil {
		return nil, err
	}
	b.tx[iface] = c
	return c, nil
}

// Close releases all transmit sockets.
func (b *PacketBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var errs []error
	for iface, c := range b.tx {
		errs = append(errs, c.Close())
		delete(b.tx, iface)
	}
	return errors.Join(errs...)
}

type packetListener struct {
	mu   sync.Mutex
	conn *packet.Conn
	buf  []byte
	poll time.Duration
}

func (l *packetListener) Capture(timeout time.Duration, onFrame func(*models.Frame)) ([]*models.Frame, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		return nil, ErrClosed
	}

	var frames []*models.Frame
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if err := l.conn.SetReadDeadline(minTime(deadline, time.Now().Add(l.poll))); err != nil {
			return frames, fmt.Errorf("failed to set read deadline: %w", err)
		}
		n, _, err := l.conn.ReadFrom(l.buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			return frames, fmt.Errorf("failed to read frame: %w", err)
		}

		f := models.NewFrame(l.buf[:n], time.Now())
		frames = append(frames, f)
		if onFrame != nil {
			onFrame(f)
		}
	}
	return frames, nil
}

func (l *packetListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		return nil
	}
	err := l.conn.Close()
	l.conn = nil
	return err
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
