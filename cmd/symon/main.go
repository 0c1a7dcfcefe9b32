// Command symon is the probe daemon: it samples host telemetry on a fixed
// interval and reports it to a multiplexer over UDP or TCP. Flags and exit
// codes follow the usual BSD daemon convention (EX_USAGE, etc).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hostmon/symon/pkg/config"
	"github.com/hostmon/symon/pkg/sampler"
	"github.com/hostmon/symon/pkg/sampler/process"
	"github.com/hostmon/symon/pkg/wire"
	"github.com/spf13/cobra"
)

const (
	exitOK      = 0
	exitUsage   = 64
	exitRuntime = 75
	exitInternal = 70
)

type probeOpts struct {
	debug   bool
	cfgFile string
	testCfg bool
	version bool
	user    string
	list    bool

	interval   time.Duration
	packetSize int
}

func main() {
	var o probeOpts

	root := &cobra.Command{
		Use:   "symon",
		Short: "Host telemetry probe daemon",
		Long: `symon samples host counters (CPU, interfaces, disks, process
accounting, …) on a fixed interval and reports them to a symux
multiplexer over UDP or TCP, using a compact binary packet format.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProbe(cmd.Context(), o)
		},
	}

	root.Flags().BoolVarP(&o.debug, "debug", "d", false, "stay in the foreground and log verbosely")
	root.Flags().StringVarP(&o.cfgFile, "config", "f", "/etc/symon.conf", "configuration file path")
	root.Flags().BoolVarP(&o.testCfg, "test", "t", false, "parse the configuration and exit")
	root.Flags().BoolVarP(&o.version, "version", "v", false, "print version and exit")
	root.Flags().StringVarP(&o.user, "user", "u", "", "user to run as; the name is validated, privileges are not dropped")
	root.Flags().BoolVarP(&o.list, "list", "l", false, "list the accepted record types and exit")
	root.Flags().DurationVar(&o.interval, "interval", 5*time.Second, "sampling interval")
	root.Flags().IntVar(&o.packetSize, "packet-size", 1400, "maximum outbound packet size in octets")

	if err := root.Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(exitCodeFor(err))
	}
}

func exitCodeFor(err error) int {
	var ce *cliError
	if errors.As(err, &ce) {
		return ce.code
	}
	return exitInternal
}

type cliError struct {
	code int
	err  error
}

func (e *cliError) Error() string { return e.err.Error() }
func (e *cliError) Unwrap() error { return e.err }

func usageErr(err error) error   { return &cliError{code: exitUsage, err: err} }
func runtimeErr(err error) error { return &cliError{code: exitRuntime, err: err} }

func runProbe(ctx context.Context, o probeOpts) error {
	if o.version {
		fmt.Println("symon version 2 (protocol version 2, backward compatible with 1)")
		return nil
	}
	if o.list {
		for _, t := range wire.AllRecordTypes() {
			fmt.Println(t.String())
		}
		return nil
	}

	cfgPath := o.cfgFile
	if !filepath.IsAbs(cfgPath) {
		abs, err := filepath.Abs(cfgPath)
		if err != nil {
			return usageErr(err)
		}
		cfgPath = abs
	}

	f, err := os.Open(cfgPath)
	if err != nil {
		return usageErr(fmt.Errorf("open config %s: %w", cfgPath, err))
	}
	defer f.Close()

	cfg, err := config.ParseProbeConfig(f, cfgPath)
	if err != nil {
		return usageErr(err)
	}

	if o.user != "" {
		if _, err := lookupUser(o.user); err != nil {
			return usageErr(fmt.Errorf("user %q: %w", o.user, err))
		}
	}

	procSampler, streamArgs, err := buildProcessSampler(cfg, o)
	if err != nil {
		return usageErr(err)
	}

	if o.testCfg {
		slog.Info("configuration OK", "modules", len(cfg.Modules), "process streams", len(streamArgs),
			"transport", cfg.Transport, "destination", cfg.Destination)
		return nil
	}

	level := slog.LevelInfo
	if o.debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	sender, closeSender, err := dialSender(cfg)
	if err != nil {
		return runtimeErr(err)
	}
	defer closeSender()

	sched := &sampler.Scheduler{
		Interval:   o.interval,
		PacketSize: o.packetSize,
		Version:    wire.MaxSupportedVersion,
		Modules:    []sampler.Module{procSampler},
		Sender:     sender,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	defer stop()

	if err := sched.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return runtimeErr(errors.New("received termination signal, quitting"))
		}
		return runtimeErr(err)
	}
	return nil
}

func buildProcessSampler(cfg *config.ProbeConfig, o probeOpts) (*process.Sampler, []sampler.StreamConfig, error) {
	var streams []sampler.StreamConfig
	for _, m := range cfg.Modules {
		t, ok := wire.ParseRecordType(m.Type)
		if !ok {
			return nil, nil, fmt.Errorf("unknown module type %q", m.Type)
		}
		if t != wire.TypeProcess {
			slog.Warn("module type has no in-scope sampler logic, skipping", "type", m.Type, "arg", m.Arg)
			continue
		}
		streams = append(streams, sampler.StreamConfig{Type: t, Arg: m.Arg})
	}

	s := process.NewSampler(process.NewLinuxInventory(), slog.Default())
	if err := s.PrivInit(); err != nil {
		return nil, nil, err
	}
	if err := s.Init(streams); err != nil {
		return nil, nil, err
	}
	return s, streams, nil
}

func dialSender(cfg *config.ProbeConfig) (sampler.Sender, func(), error) {
	switch cfg.Transport {
	case "tcp":
		s, err := sampler.NewTCPSender(cfg.Destination)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	default:
		s, err := sampler.NewUDPSender(cfg.Destination)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	}
}
