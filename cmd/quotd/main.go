package main

import (
	"context"
	"flag"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/keithlinneman/quotd/internal/cfg"
	"github.com/keithlinneman/quotd/internal/log"
	"github.com/keithlinneman/quotd/internal/metrics"
	"github.com/keithlinneman/quotd/internal/opshttp"
	"github.com/keithlinneman/quotd/internal/otelx"
	"github.com/keithlinneman/quotd/internal/probe"
	"github.com/keithlinneman/quotd/internal/prof"
	"github.com/keithlinneman/quotd/internal/qotd"
	"github.com/keithlinneman/quotd/internal/quotes"
	"github.com/keithlinneman/quotd/internal/ratelimit"
	"github.com/keithlinneman/quotd/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := version.Get()

	var conf cfg.App
	var showVersion bool

	// Parse config from flags and env
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("%s %s (commit=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Version, vi.Commit, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		os.Exit(0)
	}

	// Fill in config from environment variables with prefix QUOTDD_.
	// A malformed value (e.g. QUOTDD_PORT=banana) is fatal before any
	// socket is bound.
	err := cfg.FillFromEnv(flag.CommandLine, cfg.EnvPrefix, func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Setup logging
	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v\n", conf.LogLevel, err)
		os.Exit(1)
	}
	lg, err := log.New(log.Options{
		App:        version.AppName,
		Version:    vi.Version,
		Commit:     vi.Commit,
		Level:      lvl,
		JsonFormat: conf.LogJSON,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing",
		"version", vi.Version,
		"commit", vi.Commit,
		"go_version", vi.GoVersion,
		"port", conf.Port,
		"admin_port", conf.AdminPort,
		"rate_threshold", conf.RateThreshold,
		"rate_decay", conf.RateDecay,
		"decay_interval", conf.DecayInterval,
		"fail_fast", conf.FailFast,
		"write_timeout", conf.WriteTimeout,
		"quotes_file", conf.QuotesFile,
		"enable_pprof", conf.EnablePprof,
		"enable_tracing", conf.EnableTracing,
		"enable_pyroscope", conf.EnablePyroscope,
	)

	// Setup pyroscope profiling
	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       version.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":     version.AppName,
			"version": vi.Version,
			"commit":  vi.Commit,
		},
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer stopProf()

	// Setup otel for tracing
	// Insecure is true because we are only writing to a collector on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:  conf.EnableTracing,
		Endpoint: conf.OTLPEndpoint,
		Insecure: true,
		Sample:   conf.TraceSample,
		Service:  version.AppName,
		Version:  vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	m := metrics.New()
	m.SetBuildInfoFromVersion(vi)

	// Quote corpus: embedded defaults unless the operator points at a file.
	// Either way the corpus must be non-empty or we refuse to start.
	corpus := quotes.Default()
	if conf.QuotesFile != "" {
		corpus, err = quotes.Load(conf.QuotesFile)
		if err != nil {
			L.Error(ctx, err, "loading quote corpus")
			os.Exit(1)
		}
	}
	L.Info(ctx, "quote corpus ready", "quotes", corpus.Len())

	limiter := ratelimit.New(
		ratelimit.WithThreshold(uint64(conf.RateThreshold)),
		ratelimit.WithDecay(uint64(conf.RateDecay)),
		// increment prometheus counter on each denied connection
		ratelimit.WithOnDenied(func(addr netip.Addr) {
			m.IncDenied()
		}),
		// only log the first time a source is denied each tracked lifetime
		ratelimit.WithOnFirstDenied(func(addr netip.Addr) {
			L.Warn(ctx, "rate limit triggered", "peer", addr.String())
		}),
	)

	srv, err := qotd.New(qotd.Options{
		Port:          conf.Port,
		DecayInterval: conf.DecayInterval,
		WriteTimeout:  conf.WriteTimeout,
		FailFast:      conf.FailFast,
		Logger:        L,
		Limiter:       limiter,
		Corpus:        corpus,
		OnAdmitted: func(quoteBytes int) {
			m.IncAdmitted()
			m.ObserveQuoteBytes(quoteBytes)
		},
		OnDecay:        m.RecordDecay,
		OnHandlerError: m.IncHandlerError,
	})
	if err != nil {
		L.Error(ctx, err, "invalid server options")
		os.Exit(1)
	}

	if err := srv.Listen(ctx); err != nil {
		L.Error(ctx, err, "failed to bind qotd listener")
		os.Exit(1)
	}

	// readiness fails once the shutdown gate closes
	var gate probe.ShutdownGate
	readiness := probe.Multi(gate.Probe())

	// admin listener for metrics, health checks and pprof
	opsStop, err := opshttp.Start(ctx, L, opshttp.Options{
		Port:        conf.AdminPort,
		Metrics:     m.Handler(),
		EnablePprof: conf.EnablePprof,
		Health:      probe.Static(true, ""),
		Readiness:   readiness,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsStop(context.Background()) }()

	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx) }()

	var serveErr error
	select {
	case <-ctx.Done():
		L.Info(context.Background(), "shutdown signal received")
		gate.Set("draining")
		_ = srv.Close()
		serveErr = <-served
	case serveErr = <-served:
		// serve loop exited on its own (fatal accept error, or a handler
		// error under fail-fast)
		gate.Set("serve loop exited")
		_ = srv.Close()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := opsStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "ops http server shutdown")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}
	stopProf()

	if serveErr != nil {
		L.Error(context.Background(), serveErr, "serve loop failed")
		os.Exit(1)
	}
	L.Info(context.Background(), "shutdown complete")
}
