// Package config loads linktap's configuration from YAML files and the
// environment.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"linktap/internal/analysis"
	"linktap/internal/capture"
	"linktap/internal/logging"
	"linktap/internal/netaddr"
	"linktap/internal/sniffer"
	"linktap/internal/spoofer"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid configuration")

// Config represents the complete configuration.
type Config struct {
	// Interface is the network interface to capture on.
	Interface string `yaml:"interface"`

	Capture  CaptureConfig   `yaml:"capture"`
	Cache    CacheConfig     `yaml:"cache"`
	Poison   PoisonConfig    `yaml:"poison"`
	Forward  ForwardConfig   `yaml:"forward"`
	Analysis analysis.Config `yaml:"analysis"`
	API      APIConfig       `yaml:"api"`
	UI       UIConfig        `yaml:"ui"`
	Logging  LoggingConfig   `yaml:"logging"`
}

// CaptureConfig configures the frame source and the sniffer loop.
type CaptureConfig struct {
	// Backend is "pcap" or "afpacket".
	Backend     string        `yaml:"backend"`
	Snaplen     int           `yaml:"snaplen"`
	Promiscuous bool          `yaml:"promiscuous"`
	Filter      string        `yaml:"filter"`
	Quantum     time.Duration `yaml:"quantum"`
	// Store keeps every captured frame in memory.
	Store bool `yaml:"store"`
	// File, when set, records every frame to this pcap file.
	File string `yaml:"file"`
}

// CacheConfig configures ARP learning.
type CacheConfig struct {
	// Ignore lists hardware addresses never to learn.
	Ignore []string `yaml:"ignore"`
}

// PoisonConfig configures ARP poisoning.
type PoisonConfig struct {
	Enabled     bool            `yaml:"enabled"`
	Targets     netaddr.AddrSet `yaml:"targets"`
	Impersonate netaddr.AddrSet `yaml:"impersonate"`
	Interval    time.Duration   `yaml:"interval"`
	MaxHosts    int             `yaml:"max_hosts"`
}

// ForwardConfig configures relaying of intercepted frames.
type ForwardConfig struct {
	Enabled bool `yaml:"enabled"`
	// DisableKernelForwarding turns net.ipv4.ip_forward off while running so
	// frames are not relayed twice.
	DisableKernelForwarding bool `yaml:"disable_kernel_forwarding"`
	// DNSOverrides maps hostnames to the IPv4 address answered for them.
	DNSOverrides map[string]string `yaml:"dns_overrides"`
	// Drop suppresses frames from or to these addresses.
	Drop netaddr.AddrSet `yaml:"drop"`
	// LogFrames logs every forwarded frame at debug level.
	LogFrames bool `yaml:"log_frames"`
}

// APIConfig configures the HTTP API.
type APIConfig struct {
	// Listen is the API address; empty disables the API.
	Listen string `yaml:"listen"`
}

// UIConfig configures the dashboard and the session report.
type UIConfig struct {
	TUI bool `yaml:"tui"`
	// Report is the session report format ("html" or "json"); empty disables it.
	Report    string `yaml:"report"`
	ReportDir string `yaml:"report_dir"`
}

// LoggingConfig contains configuration for logging.
type LoggingConfig struct {
	// Level is the logging level (debug, info, warn, error).
	Level string `yaml:"level"`

	// File is the log file path.
	File string `yaml:"file"`

	// MaxSize is the maximum size of the log file in megabytes.
	MaxSize int `yaml:"max_size"`

	// MaxBackups is the maximum number of old log files to retain.
	MaxBackups int `yaml:"max_backups"`

	// MaxAge is the maximum number of days to retain old log files.
	MaxAge int `yaml:"max_age"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Capture: CaptureConfig{
			Backend:     "pcap",
			Snaplen:     65536,
			Promiscuous: true,
			Quantum:     sniffer.DefaultQuantum,
		},
		Poison: PoisonConfig{
			Interval: spoofer.DefaultInterval,
			MaxHosts: netaddr.DefaultMaxHosts,
		},
		Forward: ForwardConfig{
			DisableKernelForwarding: true,
		},
		Analysis: analysis.DefaultConfig(),
		Logging: LoggingConfig{
			Level:      "info",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     7,
		},
	}
}

// LoadFromFile merges a YAML (or JSON) file into config.
func LoadFromFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", path)
	}
	return nil
}

func envBool(val string) bool {
	return val == "true" || val == "1"
}

// LoadFromEnv applies LINKTAP_* environment overrides to config.
func LoadFromEnv(config *Config) error {
	if val := os.Getenv("LINKTAP_INTERFACE"); val != "" {
		config.Interface = val
	}
	if val := os.Getenv("LINKTAP_BACKEND"); val != "" {
		config.Capture.Backend = val
	}
	if val := os.Getenv("LINKTAP_FILTER"); val != "" {
		config.Capture.Filter = val
	}
	if val := os.Getenv("LINKTAP_QUANTUM"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("LINKTAP_QUANTUM: %w", err)
		}
		config.Capture.Quantum = d
	}
	if val := os.Getenv("LINKTAP_SNAPLEN"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("LINKTAP_SNAPLEN: %w", err)
		}
		config.Capture.Snaplen = n
	}
	if val := os.Getenv("LINKTAP_RECORD"); val != "" {
		config.Capture.File = val
	}

	if val := os.Getenv("LINKTAP_POISON"); val != "" {
		config.Poison.Enabled = envBool(val)
	}
	if val := os.Getenv("LINKTAP_TARGETS"); val != "" {
		set, err := netaddr.ParseAddrSet(val)
		if err != nil {
			return fmt.Errorf("LINKTAP_TARGETS: %w", err)
		}
		config.Poison.Targets = set
	}
	if val := os.Getenv("LINKTAP_IMPERSONATE"); val != "" {
		set, err := netaddr.ParseAddrSet(val)
		if err != nil {
			return fmt.Errorf("LINKTAP_IMPERSONATE: %w", err)
		}
		config.Poison.Impersonate = set
	}
	if val := os.Getenv("LINKTAP_POISON_INTERVAL"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("LINKTAP_POISON_INTERVAL: %w", err)
		}
		config.Poison.Interval = d
	}

	if val := os.Getenv("LINKTAP_FORWARD"); val != "" {
		config.Forward.Enabled = envBool(val)
	}

	if val := os.Getenv("LINKTAP_API_LISTEN"); val != "" {
		config.API.Listen = val
	}

	if val := os.Getenv("LINKTAP_LOG_LEVEL"); val != "" {
		config.Logging.Level = val
	}
	if val := os.Getenv("LINKTAP_LOG_FILE"); val != "" {
		config.Logging.File = val
	}
	return nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Interface == "" {
		return fmt.Errorf("%w: interface is required", ErrInvalid)
	}
	if _, err := capture.New(c.Capture.Backend, capture.Options{}); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.Capture.Snaplen <= 0 {
		return fmt.Errorf("%w: snaplen must be positive", ErrInvalid)
	}
	if c.Capture.Quantum <= 0 {
		return fmt.Errorf("%w: capture quantum must be positive", ErrInvalid)
	}
	if c.Poison.Enabled && c.Poison.Interval <= 0 {
		return fmt.Errorf("%w: poison interval must be positive", ErrInvalid)
	}
	if _, err := c.IgnoreMACs(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if _, err := c.DNSOverrides(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	switch c.UI.Report {
	case "", "html", "json":
	default:
		return fmt.Errorf("%w: unsupported report format %q", ErrInvalid, c.UI.Report)
	}
	return nil
}

// IgnoreMACs parses the cache ignore list.
func (c *Config) IgnoreMACs() ([]net.HardwareAddr, error) {
	var out []net.HardwareAddr
	for _, s := range c.Cache.Ignore {
		hw, err := net.ParseMAC(s)
		if err != nil {
			return nil, fmt.Errorf("cache ignore: %w", err)
		}
		out = append(out, hw)
	}
	return out, nil
}

// DNSOverrides parses the forwarder's DNS answer overrides.
func (c *Config) DNSOverrides() (map[string]net.IP, error) {
	out := make(map[string]net.IP, len(c.Forward.DNSOverrides))
	for name, addr := range c.Forward.DNSOverrides {
		ip := net.ParseIP(addr).To4()
		if ip == nil {
			return nil, fmt.Errorf("dns override %s: %q is not an IPv4 address", name, addr)
		}
		out[name] = ip
	}
	return out, nil
}
