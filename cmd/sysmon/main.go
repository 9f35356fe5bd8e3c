// Sysmon publishes host resource metrics to an MQTT broker with Home
// Assistant discovery.
//
// Every REPORT_INTERVAL seconds it samples memory, disk, CPU, and network
// throughput, and publishes the latest sample as one JSON object to
// {program}/{client_id}/state. Discovery documents for each metric are
// published retained on every broker connect. Configuration comes from
// the environment, optionally seeded from a .env file.
//
// Usage:
//
//	sysmon [serve]           Start sampling and publishing (default)
//	sysmon check             Take one sample and print it
//	sysmon config            Print the effective configuration as YAML
//	sysmon init [dir]        Write a starter .env (default: .)
//	sysmon version           Print version and build information
//	sysmon -o json version   Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/nugget/system-monitor/internal/api"
	"github.com/nugget/system-monitor/internal/buildinfo"
	"github.com/nugget/system-monitor/internal/config"
	"github.com/nugget/system-monitor/internal/connwatch"
	"github.com/nugget/system-monitor/internal/events"
	"github.com/nugget/system-monitor/internal/mqtt"
	"github.com/nugget/system-monitor/internal/report"
	"github.com/nugget/system-monitor/internal/reporter"
	"github.com/nugget/system-monitor/internal/sysinfo"
)

const (
	// startupConnectTimeout bounds the initial wait for the broker. A
	// timeout is logged and the service keeps retrying in the background.
	startupConnectTimeout = 10 * time.Second

	shutdownTimeout = 5 * time.Second
)

// newProvider builds the host metrics source.
var newProvider = func() sysinfo.Provider { return sysinfo.NewGopsutilProvider() }

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run] so the
// whole lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Structured logs go to stdout; fatal
// errors are returned for main to print to stderr. Arguments are parsed
// by hand so run can be called concurrently from tests.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var envFile string
	var outputFmt string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-env" && i+1 < len(args):
			envFile = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-env="):
			envFile = strings.TrimPrefix(args[i], "-env=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		case !strings.HasPrefix(args[i], "-"):
			cmdArgs = append(cmdArgs, args[i])
		default:
			return fmt.Errorf("unknown argument: %s", args[i])
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "", "serve":
		return runServe(ctx, stdout, stderr, envFile)
	case "check":
		return runCheck(ctx, stdout, envFile, outputFmt)
	case "config":
		return runConfig(stdout, envFile)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "version":
		return runVersion(stdout, outputFmt)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "sysmon - host metrics over MQTT with Home Assistant discovery")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: sysmon [flags] [command]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Sample and publish until interrupted (default)")
	fmt.Fprintln(w, "  check        Take one sample and print it")
	fmt.Fprintln(w, "  config       Print the effective configuration")
	fmt.Fprintln(w, "  init [dir]   Write a starter .env (default: .)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -env <path>       Load variables from this file (default: ./.env if present)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Environment:")
	fmt.Fprint(w, config.Usage())
	fmt.Fprintln(w)
	return nil
}

// loadConfig reads configuration and builds the logger it asks for.
func loadConfig(stdout io.Writer, envFile string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, nil, err
	}
	// Level was validated by config.Validate.
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	return cfg, newLogger(stdout, level, cfg.LogFormat), nil
}

func samplerUnits(cfg *config.Config) sysinfo.Units {
	return sysinfo.Units{
		Memory:    cfg.Units.Memory,
		Storage:   cfg.Units.Storage,
		Network:   cfg.Units.Network,
		Precision: cfg.Units.Precision,
	}
}

// runServe wires the sampler, the broker connection, the reporting loop,
// and the optional status API, and runs them until SIGINT or SIGTERM.
//
// The shutdown sequence is:
//  1. The signal cancels the context and every loop returns
//  2. The status API drains in-flight requests
//  3. The broker connection publishes offline and disconnects
func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, envFile string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting system monitor",
		"version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, logger, err := loadConfig(stdout, envFile)
	if err != nil {
		return err
	}
	logger.Info("config loaded",
		"client_id", cfg.ClientID,
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Host, cfg.MQTT.Port),
		"tls", cfg.MQTT.TLS,
		"interval", cfg.Interval(),
	)

	sampler := sysinfo.NewSampler(newProvider(), samplerUnits(cfg), logger)
	if !sampler.CheckSupport() {
		return fmt.Errorf("%w: cannot read host metrics on %s", sysinfo.ErrUnsupportedPlatform, runtime.GOOS)
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bus := events.New()
	sampler.SetEventBus(bus)

	store := report.NewStore()
	rep := reporter.New(cfg, store, logger)
	rep.SetEventBus(bus)

	conn := mqtt.Connect(ctx, cfg.MQTT,
		mqtt.WithLogger(logger),
		mqtt.WithProgramName(cfg.ProgramName),
		mqtt.WithWill(rep.Will()),
		mqtt.WithEvents(bus),
		mqtt.WithOnConnected(func(_ context.Context, c *mqtt.Conn) {
			rep.Announce(c)
		}),
	)

	health := connwatch.NewManager(logger)
	health.Register("mqtt", conn)
	health.Register("sampler", sampler)

	{
		awaitCtx, awaitCancel := context.WithTimeout(ctx, startupConnectTimeout)
		if err := conn.AwaitConnection(awaitCtx); err != nil && ctx.Err() == nil {
			logger.Warn("mqtt initial connection timed out, will retry in background",
				"timeout", startupConnectTimeout, "error", err)
		}
		awaitCancel()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sampler.Run(gctx, cfg.Interval(), store) })
	g.Go(func() error { return rep.Run(gctx, conn) })

	var server *api.Server
	if cfg.HTTPAddr != "" {
		server = api.NewServer(cfg.HTTPAddr, store, health, cfg.Interval(), logger)
		server.SetEventBus(bus)
		g.Go(func() error {
			if err := server.Start(gctx); err != nil {
				return fmt.Errorf("status API: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer shutdownCancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	runErr := g.Wait()
	if ctx.Err() != nil {
		logger.Info("shutdown signal received")
	}

	closeCtx, closeCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer closeCancel()
	if err := conn.Close(closeCtx); err != nil {
		logger.Error("mqtt shutdown failed", "error", err)
	}

	if runErr != nil {
		fmt.Fprintf(stderr, "system monitor stopped with error: %v\n", runErr)
		return runErr
	}
	logger.Info("system monitor stopped")
	return nil
}

// runCheck takes one sample, waiting one interval so network rates are
// meaningful, and prints it.
func runCheck(ctx context.Context, stdout io.Writer, envFile, outputFmt string) error {
	cfg, logger, err := loadConfig(io.Discard, envFile)
	if err != nil {
		return err
	}

	sampler := sysinfo.NewSampler(newProvider(), samplerUnits(cfg), logger)
	if !sampler.CheckSupport() {
		return fmt.Errorf("%w: cannot read host metrics on %s", sysinfo.ErrUnsupportedPlatform, runtime.GOOS)
	}

	sampler.Sample(ctx)
	if !connwatch.SleepCtx(ctx, time.Second) {
		return ctx.Err()
	}
	r := sampler.Sample(ctx)

	if outputFmt == "json" {
		_, err := fmt.Fprintln(stdout, r.String())
		return err
	}
	for _, f := range r.Fields() {
		fmt.Fprintf(stdout, "  %-12s %s\n", f.Key+":", f.Value.String())
	}
	return nil
}

// runConfig prints the effective configuration as YAML with secrets
// masked.
func runConfig(stdout io.Writer, envFile string) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}
	redacted := cfg.Redacted()

	enc := yaml.NewEncoder(stdout)
	enc.SetIndent(2)
	if err := enc.Encode(redacted); err != nil {
		return err
	}
	return enc.Close()
}

// newLogger creates a structured logger that writes to w at the given
// level and format. Format must be "text" or "json"; any other value
// defaults to text.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}
