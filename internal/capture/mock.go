package capture

import (
	"sync"
	"time"

	"linktap/internal/models"
)

// Transmission is one recorded Transmit call.
type Transmission struct {
	Iface  string
	Frames []*models.Frame
}

type mockBatch struct {
	frames []*models.Frame
	err    error
}

// Mock is a scripted in-memory Backend. Each Capture call consumes one batch;
// once the script is exhausted Capture waits out its timeout and returns
// nothing, and Done is closed.
type Mock struct {
	mu        sync.Mutex
	batches   []mockBatch
	next      int
	listenErr error
	txErr     error
	sent      []Transmission
	listens   int
	closes    int
	done      chan struct{}
	doneOnce  sync.Once
}

// NewMock returns an empty mock backend.
func NewMock() *Mock {
	return &Mock{done: make(chan struct{})}
}

// AddBatch appends a batch of frames to the capture script.
func (m *Mock) AddBatch(frames ...*models.Frame) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, mockBatch{frames: frames})
	return m
}

// FailBatch appends a batch that delivers frames and then fails with err.
func (m *Mock) FailBatch(err error, frames ...*models.Frame) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, mockBatch{frames: frames, err: err})
	return m
}

// SetListenError makes Listen fail.
func (m *Mock) SetListenError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listenErr = err
}

// SetTransmitError makes Transmit record and then fail.
func (m *Mock) SetTransmitError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txErr = err
}

// Done is closed once every scripted batch has been delivered.
func (m *Mock) Done() <-chan struct{} { return m.done }

// Listen returns a listener reading from the script.
func (m *Mock) Listen(string) (Listener, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listenErr != nil {
		return nil, m.listenErr
	}
	m.listens++
	return &mockListener{mock: m}, nil
}

// Transmit records the frames.
func (m *Mock) Transmit(iface string, frames ...*models.Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, Transmission{Iface: iface, Frames: frames})
	return m.txErr
}

// Sent returns every recorded Transmit call.
func (m *Mock) Sent() []Transmission {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transmission, len(m.sent))
	copy(out, m.sent)
	return out
}

// SentFrames returns all transmitted frames in order.
func (m *Mock) SentFrames() []*models.Frame {
	var out []*models.Frame
	for _, t := range m.Sent() {
		out = append(out, t.Frames...)
	}
	return out
}

// Listens returns how many listeners were opened.
func (m *Mock) Listens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listens
}

// Closes returns how many times a listener was closed.
func (m *Mock) Closes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

func (m *Mock) nextBatch() (mockBatch, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.next >= len(m.batches) {
		m.doneOnce.Do(func() { close(m.done) })
		return mockBatch{}, false
	}
	b := m.batches[m.next]
	m.next++
	return b, true
}

type mockListener struct {
	mock   *Mock
	closed bool
}

func (l *mockListener) Capture(timeout time.Duration, onFrame func(*models.Frame)) ([]*models.Frame, error) {
	if l.closed {
		return nil, ErrClosed
	}
	b, ok := l.mock.nextBatch()
	if !ok {
		time.Sleep(timeout)
		return nil, nil
	}
	for _, f := range b.frames {
		if onFrame != nil {
			onFrame(f)
		}
	}
	return b.frames, b.err
}

func (l *mockListener) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	l.mock.mu.Lock()
	l.mock.closes++
	l.mock.mu.Unlock()
	return nil
}
