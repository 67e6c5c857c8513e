package sniffer

import "linktap/internal/models"

// Module reacts to every frame the sniffer captures.
//
// Start runs once on the capture goroutine before the module sees any frame.
// Process is called for each frame of every later batch, in capture order.
// Stop runs exactly once when the capture loop exits, even if Start was never
// called. Start and Stop may register further modules. Frames passed to
// Process are shared with other modules and must be cloned before mutation.
type Module interface {
	Start(s *Sniffer) error
	Process(f *models.Frame)
	Stop()
}

// BaseModule provides no-op lifecycle hooks for embedding.
type BaseModule struct{}

func (BaseModule) Start(*Sniffer) error  { return nil }
func (BaseModule) Process(*models.Frame) {}
func (BaseModule) Stop()                 {}

// Func adapts a per-frame function to a Module.
type Func func(f *models.Frame)

func (fn Func) Start(*Sniffer) error    { return nil }
func (fn Func) Process(f *models.Frame) { fn(f) }
func (fn Func) Stop()                   {}
