// Command trafficgen is the generator's CLI entry point: it loads
// configuration, wires up logging/metrics/health/tracing, builds and
// warms up the connection pools, then drives the pacing loop to
// completion.
package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Lingtaonju/trafficgen/internal/config"
	"github.com/Lingtaonju/trafficgen/internal/errs"
	"github.com/Lingtaonju/trafficgen/internal/health"
	"github.com/Lingtaonju/trafficgen/internal/logging"
	"github.com/Lingtaonju/trafficgen/internal/metrics"
	"github.com/Lingtaonju/trafficgen/internal/run"
	"github.com/Lingtaonju/trafficgen/internal/tracing"
	"github.com/Lingtaonju/trafficgen/internal/version"

	"github.com/spf13/pflag"
)

func main() {
	fs := pflag.CommandLine
	config.RegisterFlags(fs)
	showVersion := fs.Bool("version", false, "print version information and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	cfg, err := config.LoadRun(fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(exitCode(err))
	}

	logLevel := cfg.LogLevel
	if cfg.Verbose {
		logLevel = "debug"
	}
	logging.InitLogger(cfg.LogFormat, logLevel)
	defer func() {
		if syncErr := logging.SyncLogger(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "failed to sync logger: %v\n", syncErr)
		}
	}()

	mc := metrics.New()
	if cfg.MetricsPort != "" {
		mc.StartServer(cfg.MetricsPort)
	}

	var checker *health.Checker
	if cfg.HealthPort != "" {
		checker = health.NewChecker()
		if err := checker.Start(cfg.HealthPort); err != nil {
			logging.Logger.Warnf("failed to start health server: %v", err)
		}
	}

	var tracer *tracing.FlowTracer
	if cfg.TracingEnabled {
		tracing.InitTracer("trafficgen", cfg.JaegerEndpoint)
		tracer = tracing.NewFlowTracer()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logging.Logger.Info("received termination signal, shutting down")
		if tracer != nil {
			tracer.Flush()
		}
		os.Exit(0)
	}()

	r, err := run.NewRun(cfg, logging.Logger, mc, tracer)
	if err != nil {
		logging.Logger.Errorf("failed to initialize run: %v", err)
		os.Exit(exitCode(err))
	}
	if checker != nil {
		checker.SetReady(true)
	}

	logging.Logger.Infof("dispatching workload at %.2f Mbps against target %s (seed %d)", cfg.LoadMbps, cfg.TargetFilePath, cfg.Seed)

	if err := r.Execute(); err != nil {
		logging.Logger.Errorf("run failed: %v", err)
		os.Exit(exitCode(err))
	}

	logging.Logger.Info("run complete")
}

// exitCode maps the error kinds from internal/errs onto non-zero exit
// statuses; nil maps to 0 and any other error to a generic failure code.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var cfgErr *errs.ConfigError
	var connErr *errs.ConnectError
	var ioErr *errs.IoError
	switch {
	case errors.As(err, &cfgErr):
		return 2
	case errors.As(err, &connErr):
		return 3
	case errors.As(err, &ioErr):
		return 4
	default:
		return 1
	}
}
