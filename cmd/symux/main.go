// Command symux is the multiplexer daemon: it ingests probe packets over
// UDP and TCP, archives authorized records, and fans a text summary out to
// subscribers. Exit codes follow the usual BSD daemon convention.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/hostmon/symon/pkg/config"
	"github.com/hostmon/symon/pkg/mux"
	"github.com/hostmon/symon/pkg/wire"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

const (
	exitOK       = 0
	exitUsage    = 64
	exitRuntime  = 75
	exitInternal = 70
)

type muxOpts struct {
	debug   bool
	cfgFile string
	testCfg bool
	version bool
	list    bool
}

func main() {
	var o muxOpts

	root := &cobra.Command{
		Use:   "symux",
		Short: "Host telemetry multiplexer daemon",
		Long: `symux receives packets from one or more symon probes over UDP
or TCP, archives the authorized measurements, and streams a plain-text
summary to connected subscribers.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMux(cmd.Context(), o)
		},
	}

	root.Flags().BoolVarP(&o.debug, "debug", "d", false, "stay in the foreground and log verbosely")
	root.Flags().StringVarP(&o.cfgFile, "config", "f", "/etc/symux.conf", "configuration file path")
	root.Flags().BoolVarP(&o.testCfg, "test", "t", false, "parse the configuration and exit")
	root.Flags().BoolVarP(&o.version, "version", "v", false, "print version and exit")
	root.Flags().BoolVarP(&o.list, "list", "l", false, "list configured archive files and exit")

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

func runMux(ctx context.Context, o muxOpts) error {
	if o.version {
		fmt.Println("symux version 2 (protocol version 2, accepts version 1)")
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
	cfg, err := config.ParseMuxConfig(f, cfgPath)
	f.Close()
	if err != nil {
		return usageErr(err)
	}

	if o.list {
		for _, src := range cfg.Sources {
			for _, st := range src.Streams {
				if st.Archive != "" {
					fmt.Println(st.Archive)
				}
			}
		}
		return nil
	}

	registry, err := buildRegistry(cfg)
	if err != nil {
		return usageErr(err)
	}

	if o.testCfg {
		slog.Info("configuration OK", "sources", len(cfg.Sources))
		return nil
	}

	level := slog.LevelInfo
	if o.debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	pidPath := cfg.PIDFile
	if pidPath == "" {
		pidPath = "/var/run/symux.pid"
	}
	if err := writePIDFile(pidPath); err != nil {
		return runtimeErr(err)
	}
	defer os.Remove(pidPath)

	var metrics mux.Metrics
	if cfg.MetricsAddr != "" {
		promMetrics := mux.NewPromMetrics()
		reg := prometheus.NewRegistry()
		reg.MustRegister(promMetrics)
		metrics = promMetrics

		mh := http.NewServeMux()
		mh.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mh}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		go func() {
			<-ctx.Done()
			srv.Close()
		}()
	}

	fanout := mux.NewFanout()
	archive := mux.NewRateLimitedWriter(mux.NewFileWriter(), logger)
	handler := mux.NewHandler(registry, archive, fanout, metrics, logger)
	server := mux.NewServer(handler, fanout, logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	defer stop()

	udpAddr, err := net.ResolveUDPAddr("udp", cfg.ListenAddr)
	if err != nil {
		return usageErr(fmt.Errorf("listen address %s: %w", cfg.ListenAddr, err))
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return runtimeErr(err)
	}
	telemetryLn, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return runtimeErr(err)
	}

	errCh := make(chan error, 3)
	go func() { errCh <- server.ServeUDP(ctx, udpConn) }()
	go func() { errCh <- server.ServeTCPTelemetry(ctx, telemetryLn) }()

	if cfg.SubscriberAddr != "" {
		subLn, err := net.Listen("tcp", cfg.SubscriberAddr)
		if err != nil {
			return runtimeErr(err)
		}
		go func() { errCh <- server.ServeSubscribers(ctx, subLn) }()
	}

	select {
	case <-ctx.Done():
		server.Wait()
		return runtimeErr(errors.New("received termination signal, quitting"))
	case err := <-errCh:
		if err != nil {
			return runtimeErr(err)
		}
		return nil
	}
}

func buildRegistry(cfg *config.MuxConfig) (*mux.Registry, error) {
	reg := mux.NewRegistry()
	for _, sc := range cfg.Sources {
		addr, err := netip.ParseAddr(sc.Addr)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", sc.Addr, err)
		}
		src := &mux.Source{Addr: netip.AddrPortFrom(addr, 0)}
		for _, st := range sc.Streams {
			t, ok := wire.ParseRecordType(st.Type)
			if !ok {
				return nil, fmt.Errorf("source %s: unknown stream type %q", sc.Addr, st.Type)
			}
			src.Streams = append(src.Streams, mux.Stream{Type: t, Arg: st.Arg, Archive: st.Archive})
		}
		if err := reg.Add(src); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func writePIDFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

