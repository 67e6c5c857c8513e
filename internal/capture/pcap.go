package capture

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/gopacket/pcap"

	"linktap/internal/models"
)

// PcapBackend captures and injects frames through libpcap.
type PcapBackend struct {
	opts Options

	mu sync.Mutex
	tx map[string]*pcap.Handle
}

// NewPcapBackend creates a libpcap backend.
func NewPcapBackend(opts Options) *PcapBackend {
	return &PcapBackend{
		opts: applyDefaults(opts),
		tx:   make(map[string]*pcap.Handle),
	}
}

// Listen opens a live capture handle on iface.
func (b *PcapBackend) Listen(iface string) (Listener, error) {
	handle, err := pcap.OpenLive(iface, int32(b.opts.Snaplen), b.opts.Promiscuous, b.opts.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to open pcap handle on %s: %w", iface, err)
	}
	if b.opts.Filter != "" {
		if err := handle.SetBPFFilter(b.opts.Filter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("could not set BPF filter %q: %w", b.opts.Filter, err)
		}
	}
	return &pcapListener{handle: handle}, nil
}

// Transmit writes frames on iface, opening an injection handle on first use.
func (b *PcapBackend) Transmit(iface string, frames ...*models.Frame) error {
	handle, err := b.txHandle(iface)
	if err != nil {
		return err
	}

	var errs []error
	for _, f := range frames {
		if err := handle.WritePacketData(f.Data()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *PcapBackend) txHandle(iface string) (*pcap.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if h, ok := b.tx[iface]; ok {
		return h, nil
	}
	h, err := pcap.OpenLive(iface, int32(b.opts.Snaplen), false, pcap.BlockForever)
	if err != nil {
		return nil, fmt.Errorf("failed to open injection handle on %s: %w", iface, err)
	}
	b.tx[iface] = h
	return h, nil
}

// Close releases all injection handles.
func (b *PcapBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for iface, h := range b.tx {
		h.Close()
		delete(b.tx, iface)
	}
	return nil
}

type pcapListener struct {
	mu     sync.Mutex
	handle *pcap.Handle
}

func (l *pcapListener) Capture(timeout time.Duration, onFrame func(*models.Frame)) ([]*models.Frame, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.handle == nil {
		return nil, ErrClosed
	}

	var frames []*models.Frame
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		data, ci, err := l.handle.ReadPacketData()
		switch {
		case err == nil:
		case errors.Is(err, pcap.NextErrorTimeoutExpired):
			continue
		case errors.Is(err, io.EOF):
			return frames, ErrClosed
		default:
			return frames, fmt.Errorf("failed to read frame: %w", err)
		}

		f := models.NewFrame(data, ci.Timestamp)
		frames = append(frames, f)
		if onFrame != nil {
			onFrame(f)
		}
	}
	return frames, nil
}

func (l *pcapListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.handle != nil {
		l.handle.Close()
		l.handle = nil
	}
	return nil
}
