// Package sniffer drives the capture loop and fans captured frames out to a
// dynamic set of modules.
package sniffer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"linktap/internal/capture"
	"linktap/internal/logging"
	"linktap/internal/models"
	"linktap/internal/netaddr"
)

// DefaultQuantum is the default duration of one capture batch.
const DefaultQuantum = 250 * time.Millisecond

// Config holds the sniffer settings.
type Config struct {
	// Interface to capture on.
	Interface string
	// Quantum bounds one capture batch. It is also the latency for observing
	// Stop and for starting newly registered modules.
	Quantum time.Duration
	// Store keeps every captured frame in memory, see Frames.
	Store bool
	// Processor, if set, is called once for every frame after module dispatch.
	Processor func(*models.Frame)
}

// Sniffer captures frames in bounded batches and dispatches them to modules.
type Sniffer struct {
	cfg      Config
	backend  capture.Backend
	resolver netaddr.Resolver
	log      *logrus.Entry

	// mu guards the registry. active is replaced, never mutated in place, so
	// dispatch can iterate a snapshot without holding the lock.
	mu      sync.Mutex
	active  []Module
	failed  []Module
	pending []Module

	framesMu sync.Mutex
	frames   []*models.Frame

	stopOnce sync.Once
	done     chan struct{}
}

// New creates an idle sniffer.
func New(backend capture.Backend, resolver netaddr.Resolver, cfg Config) *Sniffer {
	if cfg.Quantum <= 0 {
		cfg.Quantum = DefaultQuantum
	}
	return &Sniffer{
		cfg:      cfg,
		backend:  backend,
		resolver: resolver,
		log:      logging.WithComponent("sniffer").WithField("iface", cfg.Interface),
		done:     make(chan struct{}),
	}
}

// Interface returns the capture interface name.
func (s *Sniffer) Interface() string { return s.cfg.Interface }

// Resolver returns the resolver for the sniffer's own addressing.
func (s *Sniffer) Resolver() netaddr.Resolver { return s.resolver }

// Transmitter returns the backend used to send frames.
func (s *Sniffer) Transmitter() capture.Transmitter { return s.backend }

// Register queues modules to be started at the beginning of the next batch.
// It is safe to call from any goroutine, including from a module's Process.
func (s *Sniffer) Register(mods ...Module) {
	s.mu.Lock()
	s.pending = append(s.pending, mods...)
	s.mu.Unlock()
}

// Modules returns the started modules followed by the pending ones.
func (s *Sniffer) Modules() (active, pending []Module) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Module(nil), s.active...), append([]Module(nil), s.pending...)
}

// Frames returns the frames kept when Store is enabled.
func (s *Sniffer) Frames() []*models.Frame {
	s.framesMu.Lock()
	defer s.framesMu.Unlock()
	return append([]*models.Frame(nil), s.frames...)
}

// Stop asks the capture loop to exit once the current batch completes. It is
// idempotent and may be called before Run, in which case Run returns after
// cleanup without capturing.
func (s *Sniffer) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

func (s *Sniffer) stopping(ctx context.Context) bool {
	select {
	case <-s.done:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// Run captures until Stop is called, ctx is cancelled, or capture fails. On
// every exit path each registered module is stopped exactly once and the
// capture resource is released. Capture errors are returned after cleanup.
func (s *Sniffer) Run(ctx context.Context) (err error) {
	listener, err := s.backend.Listen(s.cfg.Interface)
	if err != nil {
		s.stopModules()
		return fmt.Errorf("failed to start capture on %s: %w", s.cfg.Interface, err)
	}
	defer func() {
		s.stopModules()
		if cerr := listener.Close(); cerr != nil {
			s.log.WithError(cerr).Warn("failed to close capture handle")
		}
	}()

	s.log.WithField("quantum", s.cfg.Quantum).Info("capture started")
	for !s.stopping(ctx) {
		s.startPending()

		frames, err := listener.Capture(s.cfg.Quantum, s.dispatch)
		if s.cfg.Store && len(frames) > 0 {
			s.framesMu.Lock()
			s.frames = append(s.frames, frames...)
			s.framesMu.Unlock()
		}
		if err != nil {
			s.log.WithError(err).Error("capture failed")
			return fmt.Errorf("capture on %s: %w", s.cfg.Interface, err)
		}
	}
	s.log.Info("capture stopped")
	return nil
}

// startPending starts every pending module in registration order and makes it
// active. Hooks run with the registry unlocked, so a Start may register more
// modules; those are started in the same drain. Modules registered while a
// batch is being dispatched stay pending until the next call, so they never
// see a frame from that batch.
func (s *Sniffer) startPending() {
	for {
		s.mu.Lock()
		batch := s.pending
		s.pending = nil
		s.mu.Unlock()
		if len(batch) == 0 {
			return
		}

		for _, m := range batch {
			if err := m.Start(s); err != nil {
				s.log.WithError(err).Warnf("module %T failed to start", m)
				s.mu.Lock()
				s.failed = append(s.failed, m)
				s.mu.Unlock()
				continue
			}
			s.log.Debugf("module %T started", m)
			s.mu.Lock()
			active := make([]Module, len(s.active), len(s.active)+1)
			copy(active, s.active)
			s.active = append(active, m)
			s.mu.Unlock()
		}
	}
}

func (s *Sniffer) dispatch(f *models.Frame) {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()

	for _, m := range active {
		m.Process(f)
	}
	if s.cfg.Processor != nil {
		s.cfg.Processor(f)
	}
}

// stopModules stops every registered module once, including modules
// registered by another module's Stop, then puts them all back on the pending
// list so a later Run starts them again.
func (s *Sniffer) stopModules() {
	s.mu.Lock()
	batch := make([]Module, 0, len(s.active)+len(s.failed)+len(s.pending))
	batch = append(batch, s.active...)
	batch = append(batch, s.failed...)
	batch = append(batch, s.pending...)
	s.active, s.failed, s.pending = nil, nil, nil
	s.mu.Unlock()

	stopped := append([]Module(nil), batch...)
	for {
		for _, m := range batch {
			m.Stop()
		}

		s.mu.Lock()
		if len(s.pending) == 0 {
			s.pending = stopped
			s.mu.Unlock()
			return
		}
		batch = s.pending
		s.pending = nil
		stopped = append(stopped, batch...)
		s.mu.Unlock()
	}
}
