package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	flag "github.com/spf13/pflag"

	"linktap/internal/analysis"
	"linktap/internal/api"
	"linktap/internal/arpcache"
	"linktap/internal/capture"
	"linktap/internal/config"
	"linktap/internal/filter"
	"linktap/internal/logging"
	"linktap/internal/metrics"
	"linktap/internal/netaddr"
	"linktap/internal/recorder"
	"linktap/internal/reporting"
	"linktap/internal/sniffer"
	"linktap/internal/spoofer"
	"linktap/internal/tui"
)

var errHelp = errors.New("help requested")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := parseFlags(os.Args[1:])
	if errors.Is(err, errHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if err := run(ctx, cfg); err != nil {
		logging.Errorf("%v", err)
		os.Exit(1)
	}
}

// parseFlags builds the configuration from defaults, the optional config
// file, LINKTAP_* variables and finally the command line.
func parseFlags(args []string) (*config.Config, error) {
	fs := flag.NewFlagSet("linktap", flag.ContinueOnError)

	configPath := fs.StringP("config", "c", "", "YAML config file")
	iface := fs.StringP("interface", "i", "", "Network interface to capture from (e.g., eth0, wlan0)")
	backend := fs.String("backend", "", "Capture backend: pcap or afpacket")
	bpf := fs.StringP("filter", "f", "", "BPF capture filter (pcap backend)")
	quantum := fs.Duration("quantum", 0, "Duration of one capture batch")
	record := fs.StringP("write", "w", "", "Record captured frames to a pcap file")

	poison := fs.Bool("poison", false, "Poison ARP caches of the targets")
	targets := fs.StringSliceP("target", "t", nil, "Hosts to poison: IPs, CIDRs or \"subnet\"")
	impersonate := fs.StringSliceP("impersonate", "m", nil, "Addresses to claim: IPs, CIDRs or \"subnet\"")
	interval := fs.Duration("interval", 0, "Delay between poisoning rounds")

	forward := fs.Bool("forward", false, "Relay intercepted frames to their real destination")
	dnsOverrides := fs.StringSlice("dns", nil, "Rewrite DNS answers, as name=ipv4")
	drop := fs.StringSlice("drop", nil, "Suppress intercepted frames from or to these addresses")

	apiListen := fs.String("api", "", "Serve metrics and state on this address")
	useTUI := fs.Bool("tui", false, "Show the live dashboard")
	report := fs.String("report", "", "Write a session report on exit: html or json")

	logLevel := fs.String("log-level", "", "Log level: debug, info, warn, error")
	logFile := fs.String("log-file", "", "Also write logs to this file (rotated)")

	var showHelp bool
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: linktap -i <interface> [options]\n\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if showHelp {
		fs.Usage()
		return nil, errHelp
	}

	cfg := config.DefaultConfig()
	if *configPath != "" {
		if err := config.LoadFromFile(*configPath, cfg); err != nil {
			return nil, err
		}
	}
	if err := config.LoadFromEnv(cfg); err != nil {
		return nil, err
	}

	if fs.Changed("interface") {
		cfg.Interface = *iface
	}
	if fs.Changed("backend") {
		cfg.Capture.Backend = *backend
	}
	if fs.Changed("filter") {
		cfg.Capture.Filter = *bpf
	}
	if fs.Changed("quantum") {
		cfg.Capture.Quantum = *quantum
	}
	if fs.Changed("write") {
		cfg.Capture.File = *record
	}
	if fs.Changed("poison") {
		cfg.Poison.Enabled = *poison
	}
	if fs.Changed("target") {
		set, err := netaddr.ParseAddrSet(*targets...)
		if err != nil {
			return nil, fmt.Errorf("--target: %w", err)
		}
		cfg.Poison.Targets = set
		cfg.Poison.Enabled = true
	}
	if fs.Changed("impersonate") {
		set, err := netaddr.ParseAddrSet(*impersonate...)
		if err != nil {
			return nil, fmt.Errorf("--impersonate: %w", err)
		}
		cfg.Poison.Impersonate = set
		cfg.Poison.Enabled = true
	}
	if fs.Changed("interval") {
		cfg.Poison.Interval = *interval
	}
	if fs.Changed("forward") {
		cfg.Forward.Enabled = *forward
	}
	if fs.Changed("dns") {
		if cfg.Forward.DNSOverrides == nil {
			cfg.Forward.DNSOverrides = make(map[string]string)
		}
		for _, kv := range *dnsOverrides {
			name, addr, ok := strings.Cut(kv, "=")
			if !ok {
				return nil, fmt.Errorf("--dns: expected name=ipv4, got %q", kv)
			}
			cfg.Forward.DNSOverrides[name] = addr
		}
	}
	if fs.Changed("drop") {
		set, err := netaddr.ParseAddrSet(*drop...)
		if err != nil {
			return nil, fmt.Errorf("--drop: %w", err)
		}
		cfg.Forward.Drop = set
	}
	if fs.Changed("api") {
		cfg.API.Listen = *apiListen
	}
	if fs.Changed("tui") {
		cfg.UI.TUI = *useTUI
	}
	if fs.Changed("report") {
		cfg.UI.Report = *report
	}
	if fs.Changed("log-level") {
		cfg.Logging.Level = *logLevel
	}
	if fs.Changed("log-file") {
		cfg.Logging.File = *logFile
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogging(cfg *config.Config) error {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	logging.SetLevel(level)

	// The dashboard owns the terminal.
	alsoStderr := !cfg.UI.TUI
	if cfg.Logging.File != "" {
		return logging.EnableFileLogging(cfg.Logging.File, cfg.Logging.MaxSize, cfg.Logging.MaxBackups, cfg.Logging.MaxAge, alsoStderr)
	}
	if !alsoStderr {
		logging.SetOutput(io.Discard)
	}
	return nil
}

// forwardFilter assembles the Forwarder's filter chain from the config.
func forwardFilter(cfg *config.Config, local *net.IPNet) (spoofer.Filter, error) {
	var filters []spoofer.Filter
	if !cfg.Forward.Drop.IsZero() {
		filters = append(filters, filter.DropAddrs(cfg.Forward.Drop, local))
	}
	overrides, err := cfg.DNSOverrides()
	if err != nil {
		return nil, err
	}
	if len(overrides) > 0 {
		filters = append(filters, filter.DNSRewrite(overrides))
	}
	if cfg.Forward.LogFrames {
		filters = append(filters, filter.Log(logging.WithComponent("forwarder")))
	}
	return filter.Chain(filters...), nil
}

func run(ctx context.Context, cfg *config.Config) error {
	if err := setupLogging(cfg); err != nil {
		return err
	}
	log := logging.WithComponent("main").WithField("iface", cfg.Interface)

	backend, err := capture.New(cfg.Capture.Backend, capture.Options{
		Snaplen:     cfg.Capture.Snaplen,
		Promiscuous: cfg.Capture.Promiscuous,
		Filter:      cfg.Capture.Filter,
	})
	if err != nil {
		return err
	}
	if c, ok := backend.(io.Closer); ok {
		defer c.Close()
	}

	resolver := netaddr.NetlinkResolver{}
	cache := arpcache.New()
	stats := analysis.NewTrafficStatsWithConfig(cfg.Analysis)

	s := sniffer.New(backend, resolver, sniffer.Config{
		Interface: cfg.Interface,
		Quantum:   cfg.Capture.Quantum,
		Store:     cfg.Capture.Store,
	})
	m := metrics.New(
		func() float64 { return float64(cache.Len()) },
		func() float64 {
			active, _ := s.Modules()
			return float64(len(active))
		},
	)

	ignore, err := cfg.IgnoreMACs()
	if err != nil {
		return err
	}
	builder := spoofer.NewCacheBuilder(cache, ignore...)
	builder.Metrics = m

	s.Register(&metrics.Module{Metrics: m}, builder, analysis.NewModule(stats))

	if cfg.Capture.File != "" {
		rec := recorder.New(cfg.Capture.File)
		rec.Snaplen = uint32(cfg.Capture.Snaplen)
		s.Register(rec)
	}

	var status []string
	if cfg.Poison.Enabled {
		s.Register(spoofer.NewPoisonerModule(spoofer.PoisonerConfig{
			Targets:     cfg.Poison.Targets,
			Impersonate: cfg.Poison.Impersonate,
			Interval:    cfg.Poison.Interval,
			MaxHosts:    cfg.Poison.MaxHosts,
		}, cache, m))
		status = append(status, fmt.Sprintf("poisoning %s as %s", orSubnet(cfg.Poison.Targets), orSubnet(cfg.Poison.Impersonate)))
	}

	if cfg.Forward.Enabled {
		local, err := resolver.IPNet(cfg.Interface)
		if err != nil {
			log.WithError(err).Warn("own address unknown, symbolic drop sets match nothing")
		}
		fl, err := forwardFilter(cfg, local)
		if err != nil {
			return err
		}
		fw := spoofer.NewForwarder(cache, fl)
		fw.Metrics = m
		s.Register(fw)
		status = append(status, "forwarding")

		if cfg.Forward.DisableKernelForwarding {
			restore, err := spoofer.DisableKernelForwarding()
			if err != nil {
				log.WithError(err).Warn("could not disable kernel forwarding, frames may be relayed twice")
			} else {
				defer func() {
					if err := restore(); err != nil {
						log.WithError(err).Warn("failed to restore kernel forwarding")
					}
				}()
			}
		}
	}

	if cfg.API.Listen != "" {
		srv := api.NewServer(cache, stats, m, s)
		go func() {
			if err := srv.ListenAndServe(cfg.API.Listen); err != nil {
				log.WithError(err).Error("api server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	var runErr error
	if cfg.UI.TUI {
		p := tea.NewProgram(tui.NewModel(stats, cache, cfg.Interface, strings.Join(status, ", ")),
			tea.WithAltScreen(), tea.WithContext(ctx))
		if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			log.WithError(err).Error("dashboard failed")
		}
		s.Stop()
		runErr = <-errc
	} else {
		runErr = <-errc
	}
	if runErr != nil {
		m.CaptureFailed()
	}

	if cfg.UI.Report != "" {
		path, err := reporting.GenerateSessionReport(stats, cache, cfg.UI.Report, cfg.UI.ReportDir)
		if err != nil {
			log.WithError(err).Error("failed to write session report")
		} else {
			log.WithField("path", path).Info("session report written")
		}
	}
	return runErr
}

func orSubnet(s netaddr.AddrSet) string {
	if s.IsZero() {
		return netaddr.SubnetKeyword
	}
	return s.String()
}
