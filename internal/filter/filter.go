// Package filter provides Forwarder filters. A filter sees each intercepted
// frame after its destination has been rewritten and returns the frame to
// send, a replacement, or nil to suppress it.
package filter

import (
	"net"

	"github.com/sirupsen/logrus"

	"linktap/internal/models"
	"linktap/internal/netaddr"
	"linktap/internal/spoofer"
)

// Chain runs filters in order, feeding each the previous result. A nil result
// ends the chain. Nil filters are skipped; an empty chain returns nil.
func Chain(filters ...spoofer.Filter) spoofer.Filter {
	var fs []spoofer.Filter
	for _, f := range filters {
		if f != nil {
			fs = append(fs, f)
		}
	}
	switch len(fs) {
	case 0:
		return nil
	case 1:
		return fs[0]
	}
	return func(f *models.Frame) *models.Frame {
		for _, filter := range fs {
			if f = filter(f); f == nil {
				return nil
			}
		}
		return f
	}
}

// Drop suppresses frames matching pred.
func Drop(pred func(*models.Frame) bool) spoofer.Filter {
	return func(f *models.Frame) *models.Frame {
		if pred(f) {
			return nil
		}
		return f
	}
}

// DropAddrs suppresses IPv4 frames whose source or destination is in set.
// local resolves symbolic subnet members and may be nil.
func DropAddrs(set netaddr.AddrSet, local *net.IPNet) spoofer.Filter {
	return Drop(func(f *models.Frame) bool {
		src, dst := f.SrcIP(), f.DstIP()
		return (src != nil && set.Contains(src, local)) || (dst != nil && set.Contains(dst, local))
	})
}

// Log writes a debug line for every frame passing through.
func Log(entry *logrus.Entry) spoofer.Filter {
	return func(f *models.Frame) *models.Frame {
		if !entry.Logger.IsLevelEnabled(logrus.DebugLevel) {
			return f
		}
		p := models.Summarize(f)
		entry.WithFields(logrus.Fields{
			"src":      p.SrcIP,
			"dst":      p.DstIP,
			"proto":    p.Protocol,
			"len":      p.Length,
			"eth_dst":  p.EthDst,
			"hostname": p.Hostname,
		}).Debug("forwarding frame")
		return f
	}
}
