package capture

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linktap/internal/models"
)

func arpFrame(t *testing.T, ip string) *models.Frame {
	t.Helper()
	mac := net.HardwareAddr{0x02, 0, 0, 0, 0, 1}
	f, err := models.NewARPFrame(models.ARPFrame{
		Operation: layers.ARPRequest,
		EthSrc:    mac,
		EthDst:    models.BroadcastMAC,
		SenderHW:  mac,
		SenderIP:  net.ParseIP(ip),
		TargetIP:  net.ParseIP("10.0.0.254"),
	})
	require.NoError(t, err)
	return f
}

func TestMockDeliversBatchesInOrder(t *testing.T) {
	a, b, c := arpFrame(t, "10.0.0.1"), arpFrame(t, "10.0.0.2"), arpFrame(t, "10.0.0.3")
	boom := errors.New("boom")
	m := NewMock().AddBatch(a, b).FailBatch(boom, c)

	l, err := m.Listen("eth0")
	require.NoError(t, err)

	var seen []*models.Frame
	frames, err := l.Capture(time.Millisecond, func(f *models.Frame) { seen = append(seen, f) })
	require.NoError(t, err)
	assert.Equal(t, []*models.Frame{a, b}, frames)
	assert.Equal(t, frames, seen)

	frames, err = l.Capture(time.Millisecond, nil)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []*models.Frame{c}, frames)

	select {
	case <-m.Done():
		t.Fatal("done before script exhausted")
	default:
	}

	frames, err = l.Capture(time.Millisecond, nil)
	require.NoError(t, err)
	assert.Empty(t, frames)
	<-m.Done()

	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
	assert.Equal(t, 1, m.Closes())

	_, err = l.Capture(time.Millisecond, nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMockRecordsTransmissions(t *testing.T) {
	m := NewMock()
	f := arpFrame(t, "10.0.0.1")

	require.NoError(t, m.Transmit("eth0", f, f))
	m.SetTransmitError(errors.New("link down"))
	assert.Error(t, m.Transmit("eth1", f))

	sent := m.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "eth0", sent[0].Iface)
	assert.Len(t, sent[0].Frames, 2)
	assert.Len(t, m.SentFrames(), 3)
}

func TestMockListenError(t *testing.T) {
	m := NewMock()
	m.SetListenError(errors.New("no such device"))
	_, err := m.Listen("eth9")
	assert.Error(t, err)
	assert.Zero(t, m.Listens())
}

func TestNewBackend(t *testing.T) {
	b, err := New("pcap", Options{})
	require.NoError(t, err)
	assert.IsType(t, &PcapBackend{}, b)

	b, err = New("afpacket", Options{})
	require.NoError(t, err)
	assert.IsType(t, &PacketBackend{}, b)

	_, err = New("carrier-pigeon", Options{})
	assert.ErrorIs(t, err, ErrUnknownBackend)
}
