// Package recorder writes captured frames to pcap files.
package recorder

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/sirupsen/logrus"

	"linktap/internal/logging"
	"linktap/internal/models"
	"linktap/internal/sniffer"
)

// DefaultSnaplen is the snapshot length written to the file header.
const DefaultSnaplen = 65536

// Recorder is a sniffer module appending every frame to a pcap file. The file
// is created on Start and flushed and closed on Stop; a restarted sniffer
// truncates it.
type Recorder struct {
	Path    string
	Snaplen uint32

	mu      sync.Mutex
	file    io.WriteCloser
	buf     *bufio.Writer
	writer  *pcapgo.Writer
	written uint64
	log     *logrus.Entry
}

// New creates a recorder writing to path.
func New(path string) *Recorder {
	return &Recorder{Path: path, Snaplen: DefaultSnaplen}
}

// Start creates the file and writes the pcap header.
func (r *Recorder) Start(*sniffer.Sniffer) error {
	f, err := os.Create(r.Path)
	if err != nil {
		return fmt.Errorf("failed to create capture file: %w", err)
	}
	return r.startWriter(f)
}

func (r *Recorder) startWriter(w io.WriteCloser) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snaplen := r.Snaplen
	if snaplen == 0 {
		snaplen = DefaultSnaplen
	}
	buf := bufio.NewWriter(w)
	pw := pcapgo.NewWriter(buf)
	if err := pw.WriteFileHeader(snaplen, layers.LinkTypeEthernet); err != nil {
		w.Close()
		return fmt.Errorf("failed to write capture file header: %w", err)
	}

	r.file, r.buf, r.writer = w, buf, pw
	r.written = 0
	r.log = logging.WithComponent("recorder").WithField("path", r.Path)
	r.log.Info("recording frames")
	return nil
}

// Process appends one frame. Write errors are logged and the frame dropped.
func (r *Recorder) Process(f *models.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writer == nil {
		return
	}
	data := f.Data()
	ci := f.CaptureInfo()
	if r.Snaplen > 0 && uint32(len(data)) > r.Snaplen {
		data = data[:r.Snaplen]
		ci.CaptureLength = len(data)
	}
	if err := r.writer.WritePacket(ci, data); err != nil {
		r.log.WithError(err).Warn("failed to record frame")
		return
	}
	r.written++
}

// Written returns the number of frames recorded since Start.
func (r *Recorder) Written() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written
}

// Stop flushes and closes the file.
func (r *Recorder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writer == nil {
		return
	}
	if err := r.buf.Flush(); err != nil {
		r.log.WithError(err).Warn("failed to flush capture file")
	}
	if err := r.file.Close(); err != nil {
		r.log.WithError(err).Warn("failed to close capture file")
	}
	r.log.WithField("frames", r.written).Info("recording stopped")
	r.file, r.buf, r.writer = nil, nil, nil
}
