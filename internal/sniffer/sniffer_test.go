package sniffer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linktap/internal/capture"
	"linktap/internal/models"
	"linktap/internal/netaddr"
)

type recordingModule struct {
	mu       sync.Mutex
	starts   int
	stops    int
	seen     []*models.Frame
	startErr error
	early    bool // Process called before Start
}

func (m *recordingModule) Start(*Sniffer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starts++
	return m.startErr
}

func (m *recordingModule) Process(f *models.Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.starts == 0 {
		m.early = true
	}
	m.seen = append(m.seen, f)
}

func (m *recordingModule) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
}

func (m *recordingModule) counts() (starts, stops int, seen []*models.Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts, m.stops, append([]*models.Frame(nil), m.seen...)
}

// spawningModule registers child from Start and onStop from Stop.
type spawningModule struct {
	recordingModule
	child  Module
	onStop Module

	sniffer       *Sniffer
	activeAtStart []Module
}

func (m *spawningModule) Start(s *Sniffer) error {
	active, _ := s.Modules()
	m.mu.Lock()
	m.sniffer = s
	m.activeAtStart = active
	m.mu.Unlock()

	s.Register(m.child)
	return m.recordingModule.Start(s)
}

func (m *spawningModule) Stop() {
	m.mu.Lock()
	s := m.sniffer
	m.mu.Unlock()
	if s != nil && m.onStop != nil {
		s.Register(m.onStop)
	}
	m.recordingModule.Stop()
}

func frames(t *testing.T, n int, offset int) []*models.Frame {
	t.Helper()
	mac := net.HardwareAddr{0x02, 0, 0, 0, 0, 1}
	out := make([]*models.Frame, n)
	for i := range out {
		f, err := models.NewARPFrame(models.ARPFrame{
			Operation: layers.ARPRequest,
			EthSrc:    mac,
			EthDst:    models.BroadcastMAC,
			SenderHW:  mac,
			SenderIP:  net.ParseIP(fmt.Sprintf("10.0.0.%d", offset+i+1)),
			TargetIP:  net.ParseIP("10.0.0.254"),
		})
		require.NoError(t, err)
		out[i] = f
	}
	return out
}

func newSniffer(mock *capture.Mock, processor func(*models.Frame)) *Sniffer {
	return New(mock, netaddr.StaticResolver{}, Config{
		Interface: "eth0",
		Quantum:   time.Millisecond,
		Processor: processor,
	})
}

// runUntilDrained runs s until the mock script is exhausted.
func runUntilDrained(t *testing.T, s *Sniffer, mock *capture.Mock) error {
	t.Helper()
	go func() {
		<-mock.Done()
		s.Stop()
	}()

	errc := make(chan error, 1)
	go func() { errc <- s.Run(context.Background()) }()
	select {
	case err := <-errc:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("sniffer did not stop")
		return nil
	}
}

func TestDispatchOrder(t *testing.T) {
	batch1, batch2 := frames(t, 2, 0), frames(t, 3, 10)
	mock := capture.NewMock().AddBatch(batch1...).AddBatch(batch2...)

	var processed []*models.Frame
	s := newSniffer(mock, func(f *models.Frame) { processed = append(processed, f) })

	var order []string
	first, second := &recordingModule{}, &recordingModule{}
	s.Register(first, second, Func(func(f *models.Frame) { order = append(order, "func") }))

	require.NoError(t, runUntilDrained(t, s, mock))

	all := append(append([]*models.Frame{}, batch1...), batch2...)
	_, _, seen1 := first.counts()
	_, _, seen2 := second.counts()
	assert.Equal(t, all, seen1)
	assert.Equal(t, all, seen2)
	assert.Equal(t, all, processed)
	assert.Len(t, order, len(all))
}

func TestModuleRegisteredMidBatchSkipsThatBatch(t *testing.T) {
	batch1, batch2, batch3 := frames(t, 3, 0), frames(t, 2, 10), frames(t, 2, 20)
	mock := capture.NewMock().AddBatch(batch1...).AddBatch(batch2...).AddBatch(batch3...)

	late := &recordingModule{}
	var s *Sniffer
	var once sync.Once
	s = newSniffer(mock, func(f *models.Frame) {
		once.Do(func() { s.Register(late) })
	})
	early := &recordingModule{}
	s.Register(early)

	require.NoError(t, runUntilDrained(t, s, mock))

	starts, stops, seen := late.counts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, stops)
	assert.False(t, late.early)
	assert.Equal(t, append(append([]*models.Frame{}, batch2...), batch3...), seen)

	_, _, earlySeen := early.counts()
	assert.Len(t, earlySeen, 7)
}

func TestStartAndStopMayRegisterModules(t *testing.T) {
	batch := frames(t, 2, 0)
	mock := capture.NewMock().AddBatch(batch...)

	first := &recordingModule{}
	child, late := &recordingModule{}, &recordingModule{}
	parent := &spawningModule{child: child, onStop: late}
	s := newSniffer(mock, nil)
	s.Register(first, parent)

	require.NoError(t, runUntilDrained(t, s, mock))

	assert.Equal(t, []Module{first}, parent.activeAtStart)

	starts, stops, seen := child.counts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, stops)
	assert.False(t, child.early)
	assert.Equal(t, batch, seen, "child starts before the first batch")

	starts, stops, _ = parent.counts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, stops)

	starts, stops, seen = late.counts()
	assert.Equal(t, 0, starts)
	assert.Equal(t, 1, stops)
	assert.Empty(t, seen)

	active, pending := s.Modules()
	assert.Empty(t, active)
	assert.ElementsMatch(t, []Module{first, parent, child, late}, pending)
}

func TestConcurrentRegistration(t *testing.T) {
	mock := capture.NewMock()
	for i := 0; i < 50; i++ {
		mock.AddBatch(frames(t, 1, i)...)
	}
	s := newSniffer(mock, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	mods := make([]*recordingModule, 40)
	var wg sync.WaitGroup
	for i := range mods {
		mods[i] = &recordingModule{}
		wg.Add(1)
		go func(m *recordingModule) {
			defer wg.Done()
			s.Register(m)
			s.Modules()
		}(mods[i])
	}
	wg.Wait()
	<-mock.Done()
	cancel()

	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("sniffer did not stop")
	}

	for _, m := range mods {
		starts, stops, _ := m.counts()
		assert.LessOrEqual(t, starts, 1)
		assert.Equal(t, 1, stops)
		m.mu.Lock()
		assert.False(t, m.early)
		m.mu.Unlock()
	}
}

func TestCleanupOnCaptureError(t *testing.T) {
	boom := errors.New("device went away")
	mock := capture.NewMock().AddBatch(frames(t, 1, 0)...).FailBatch(boom, frames(t, 1, 10)...)

	started := &recordingModule{}
	neverStarted := &recordingModule{}
	var s *Sniffer
	n := 0
	s = newSniffer(mock, func(f *models.Frame) {
		// The second frame belongs to the failing batch.
		if n++; n == 2 {
			s.Register(neverStarted)
		}
	})
	s.Register(started)

	err := s.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	starts, stops, seen := started.counts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, stops)
	assert.Len(t, seen, 2)

	starts, stops, seen = neverStarted.counts()
	assert.Equal(t, 0, starts)
	assert.Equal(t, 1, stops)
	assert.Empty(t, seen)

	assert.Equal(t, 1, mock.Closes())
}

func TestListenFailureStillStopsModules(t *testing.T) {
	mock := capture.NewMock()
	mock.SetListenError(errors.New("permission denied"))

	m := &recordingModule{}
	s := newSniffer(mock, nil)
	s.Register(m)

	require.Error(t, s.Run(context.Background()))
	starts, stops, _ := m.counts()
	assert.Equal(t, 0, starts)
	assert.Equal(t, 1, stops)
	assert.Equal(t, 0, mock.Closes())
}

func TestStopBeforeRun(t *testing.T) {
	mock := capture.NewMock().AddBatch(frames(t, 1, 0)...)
	m := &recordingModule{}
	s := newSniffer(mock, nil)
	s.Register(m)

	s.Stop()
	s.Stop()
	require.NoError(t, s.Run(context.Background()))

	starts, stops, seen := m.counts()
	assert.Equal(t, 0, starts)
	assert.Equal(t, 1, stops)
	assert.Empty(t, seen)
	assert.Equal(t, 1, mock.Closes())
}

func TestContextCancellation(t *testing.T) {
	mock := capture.NewMock()
	s := newSniffer(mock, nil)
	m := &recordingModule{}
	s.Register(m)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()
	<-mock.Done()
	cancel()

	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("sniffer ignored cancellation")
	}
	_, stops, _ := m.counts()
	assert.Equal(t, 1, stops)
}

func TestFailedStartIsNeverDispatched(t *testing.T) {
	mock := capture.NewMock().AddBatch(frames(t, 2, 0)...)
	bad := &recordingModule{startErr: errors.New("no hardware address")}
	good := &recordingModule{}
	s := newSniffer(mock, nil)
	s.Register(bad, good)

	require.NoError(t, runUntilDrained(t, s, mock))

	starts, stops, seen := bad.counts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, stops)
	assert.Empty(t, seen)

	_, _, seen = good.counts()
	assert.Len(t, seen, 2)
}

func TestRestartAfterErrorStartsModulesAgain(t *testing.T) {
	mock := capture.NewMock().FailBatch(errors.New("transient")).AddBatch(frames(t, 1, 0)...)
	m := &recordingModule{}
	s := newSniffer(mock, nil)
	s.Register(m)

	require.Error(t, s.Run(context.Background()))
	require.NoError(t, runUntilDrained(t, s, mock))

	starts, stops, seen := m.counts()
	assert.Equal(t, 2, starts)
	assert.Equal(t, 2, stops)
	assert.Len(t, seen, 1)
	assert.Equal(t, 2, mock.Listens())
}

func TestStoreKeepsFrames(t *testing.T) {
	batch := frames(t, 3, 0)
	mock := capture.NewMock().AddBatch(batch...)
	s := New(mock, netaddr.StaticResolver{}, Config{Interface: "eth0", Quantum: time.Millisecond, Store: true})

	require.NoError(t, runUntilDrained(t, s, mock))
	assert.Equal(t, batch, s.Frames())

	active, pending := s.Modules()
	assert.Empty(t, active)
	assert.Empty(t, pending)
}
