package recorder

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linktap/internal/capture"
	"linktap/internal/models"
	"linktap/internal/netaddr"
	"linktap/internal/sniffer"
)

func testFrame(t *testing.T, sender string) *models.Frame {
	t.Helper()
	hw := net.HardwareAddr{0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0xaa}
	f, err := models.NewARPFrame(models.ARPFrame{
		Operation: layers.ARPRequest,
		EthSrc:    hw,
		EthDst:    models.BroadcastMAC,
		SenderHW:  hw,
		SenderIP:  net.ParseIP(sender),
		TargetIP:  net.ParseIP("10.0.0.1"),
	})
	require.NoError(t, err)
	f.Timestamp = time.Unix(1700000000, 0)
	return f
}

func readAll(t *testing.T, path string) [][]byte {
	t.Helper()
	fh, err := os.Open(path)
	require.NoError(t, err)
	defer fh.Close()

	r, err := pcapgo.NewReader(fh)
	require.NoError(t, err)
	assert.Equal(t, layers.LinkTypeEthernet, r.LinkType())

	var out [][]byte
	for {
		data, _, err := r.ReadPacketData()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, data)
	}
}

func TestRecorderWritesFrames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.pcap")
	rec := New(path)

	f1, f2 := testFrame(t, "10.0.0.5"), testFrame(t, "10.0.0.9")
	rec.Process(f1) // not started

	require.NoError(t, rec.Start(nil))
	rec.Process(f1)
	rec.Process(f2)
	assert.Equal(t, uint64(2), rec.Written())
	rec.Stop()
	rec.Stop()
	rec.Process(f1) // stopped

	got := readAll(t, path)
	require.Len(t, got, 2)
	assert.True(t, bytes.Equal(f1.Data(), got[0]))
	assert.True(t, bytes.Equal(f2.Data(), got[1]))
}

func TestRecorderTruncatesToSnaplen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.pcap")
	rec := New(path)
	rec.Snaplen = 20

	require.NoError(t, rec.Start(nil))
	rec.Process(testFrame(t, "10.0.0.5"))
	rec.Stop()

	got := readAll(t, path)
	require.Len(t, got, 1)
	assert.Len(t, got[0], 20)
}

func TestRecorderStartFails(t *testing.T) {
	rec := New(filepath.Join(t.TempDir(), "missing", "out.pcap"))
	assert.Error(t, rec.Start(nil))
	rec.Stop()
}

func TestRecorderAsModule(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sniffed.pcap")
	mock := capture.NewMock().
		AddBatch(testFrame(t, "10.0.0.5"), testFrame(t, "10.0.0.6")).
		AddBatch(testFrame(t, "10.0.0.7"))

	s := sniffer.New(mock, netaddr.StaticResolver{}, sniffer.Config{Interface: "eth0", Quantum: 5 * time.Millisecond})
	s.Register(New(path))

	go func() {
		<-mock.Done()
		s.Stop()
	}()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, s.Run(ctx))

	assert.Len(t, readAll(t, path), 3)
}
