//go:build !linux

package capture

import (
	"fmt"
	"runtime"

	"linktap/internal/models"
)

// PacketBackend is only available on Linux.
type PacketBackend struct{}

// NewPacketBackend returns a backend whose operations always fail.
func NewPacketBackend(Options) *PacketBackend { return &PacketBackend{} }

func (b *PacketBackend) Listen(string) (Listener, error) {
	return nil, fmt.Errorf("afpacket backend not implemented for %s", runtime.GOOS)
}

func (b *PacketBackend) Transmit(string, ...*models.Frame) error {
	return fmt.Errorf("afpacket backend not implemented for %s", runtime.GOOS)
}

func (b *PacketBackend) Close() error { return nil }
