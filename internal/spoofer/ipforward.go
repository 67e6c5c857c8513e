package spoofer

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// ipForwardPath is the procfs switch for kernel IPv4 forwarding.
var ipForwardPath = "/proc/sys/net/ipv4/ip_forward"

// IPForwardingEnabled reports whether the kernel forwards IPv4 packets.
func IPForwardingEnabled() (bool, error) {
	if runtime.GOOS != "linux" {
		return false, fmt.Errorf("ip forwarding not implemented for %s", runtime.GOOS)
	}
	data, err := os.ReadFile(ipForwardPath)
	if err != nil {
		return false, fmt.Errorf("failed to read ip forwarding state: %w", err)
	}
	return strings.TrimSpace(string(data)) == "1", nil
}

// SetIPForwarding enables or disables kernel IPv4 forwarding.
// Currently supports Linux via sysctl.
func SetIPForwarding(enabled bool) error {
	if runtime.GOOS != "linux" {
		return fmt.Errorf("ip forwarding not implemented for %s", runtime.GOOS)
	}

	value := "0"
	if enabled {
		value = "1"
	}
	cmd := exec.Command("sysctl", "-w", "net.ipv4.ip_forward="+value)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to set ip forwarding to %s: %w (%s)", value, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// DisableKernelForwarding turns kernel forwarding off so intercepted frames
// are relayed only by the Forwarder, and returns a func restoring the
// previous state.
func DisableKernelForwarding() (restore func() error, err error) {
	enabled, err := IPForwardingEnabled()
	if err != nil {
		return nil, err
	}
	if !enabled {
		return func() error { return nil }, nil
	}
	if err := SetIPForwarding(false); err != nil {
		return nil, err
	}
	return func() error { return SetIPForwarding(true) }, nil
}
