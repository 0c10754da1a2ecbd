// Command trailerd records MPC car and trailer simulation runs. It serves a
// TCP control surface for interactive use and ships one-shot subcommands for
// scripted runs and exports.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/trailerlab/trailerd/internal/api"
	"github.com/trailerlab/trailerd/internal/config"
	"github.com/trailerlab/trailerd/internal/control"
	"github.com/trailerlab/trailerd/internal/dispatcher"
	"github.com/trailerlab/trailerd/internal/influx"
	"github.com/trailerlab/trailerd/internal/logging"
	"github.com/trailerlab/trailerd/internal/monitor"
	intOtel "github.com/trailerlab/trailerd/internal/otel"
	"github.com/trailerlab/trailerd/internal/parser"
	"github.com/trailerlab/trailerd/internal/run"
	"github.com/trailerlab/trailerd/internal/sim"
	"github.com/trailerlab/trailerd/internal/storage"
	"github.com/trailerlab/trailerd/internal/worker"
)

// CurrentVersion and BuildDate can be set at build time via ldflags.
var (
	CurrentVersion string = "0.1.0"
	BuildDate      string = "unknown"
)

var (
	SlogManager *logging.SlogManager
	Logger      *slog.Logger

	OTelProvider *intOtel.Provider

	SessionStartTime time.Time = time.Now()

	logFile *os.File
)

func main() {
	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 {
		cmd = strings.ToLower(args[0])
		args = args[1:]
	}

	var err error
	switch cmd {
	case "serve":
		err = cmdServe()
	case "run":
		err = cmdRun(args)
	case "export":
		err = cmdExport(args)
	case "version":
		fmt.Printf("trailerd %s (built %s)\n", CurrentVersion, BuildDate)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `usage: trailerd [command]

commands:
  serve     start the control server and wait for commands (default)
  run       execute one run from a course file and exit
  export    export recorded runs from the database to gzipped JSON
  version   print version information
`)
}

// bootstrap loads the configuration and brings up logging and OTel. The
// returned cleanup flushes and closes everything; call it on the way out.
func bootstrap() (cleanup func(), err error) {
	SlogManager = logging.NewSlogManager()
	SlogManager.Setup(nil, "info", nil)
	Logger = SlogManager.Logger()

	if err := config.Load("."); err != nil {
		Logger.Warn("Failed to load config, using defaults", "error", err)
	} else {
		Logger.Info("Loaded config")
	}

	logsDir := viper.GetString("logsDir")
	if _, err := os.Stat(logsDir); os.IsNotExist(err) {
		_ = os.MkdirAll(logsDir, 0755)
	}

	logPath := logging.LogFilePath(logsDir, "trailerd", SessionStartTime)
	logFile, err = os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		Logger.Error("Failed to open log file", "error", err, "path", logPath)
	}

	otelCfg := config.GetOTelConfig()
	if otelCfg.Enabled {
		OTelProvider, err = intOtel.New(intOtel.Config{
			Enabled:      otelCfg.Enabled,
			ServiceName:  otelCfg.ServiceName,
			BatchTimeout: otelCfg.BatchTimeout,
			LogWriter:    logFile,
			Endpoint:     otelCfg.Endpoint,
			Insecure:     otelCfg.Insecure,
		})
		if err != nil {
			Logger.Error("Failed to initialize OTel provider", "error", err)
		} else {
			Logger.Info("OTel provider initialized", "file", logPath)
		}
	}

	var otelLogProvider *sdklog.LoggerProvider
	if OTelProvider != nil {
		otelLogProvider = OTelProvider.LoggerProvider()
	}
	SlogManager.Setup(logFile, viper.GetString("logLevel"), otelLogProvider)
	Logger = SlogManager.Logger()
	Logger.Info("trailerd starting", "version", CurrentVersion, "build", BuildDate, "log", logPath)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = SlogManager.Flush(ctx)
		if OTelProvider != nil {
			_ = OTelProvider.Shutdown(ctx)
		}
		if logFile != nil {
			_ = logFile.Close()
		}
	}, nil
}

// cmdServe wires the full service and blocks until SIGINT or SIGTERM.
func cmdServe() error {
	cleanup, err := bootstrap()
	if err != nil {
		return err
	}
	defer cleanup()

	dataDir := viper.GetString("dataDir")
	if _, err := os.Stat(dataDir); os.IsNotExist(err) {
		_ = os.MkdirAll(dataDir, 0755)
	}

	runCtx := run.NewContext()

	backend, err := storage.NewBackend(config.GetStorageConfig(), SlogManager, runCtx)
	if err != nil {
		return fmt.Errorf("storage backend: %w", err)
	}
	if err := backend.Init(); err != nil {
		return fmt.Errorf("storage init: %w", err)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			Logger.Error("storage close failed", "error", err)
		}
	}()

	runner := sim.NewRunner(config.GetSimConfig(), backend, Logger)

	// Solver and frame metrics go to InfluxDB when it is reachable; a gzip
	// line-protocol backup catches them otherwise.
	var influxManager *influx.Manager
	if viper.GetBool("influx.enabled") {
		influxLog := zerolog.New(logFile).With().Timestamp().Logger()
		m := influx.NewManager(influxLog,
			filepath.Join(dataDir, "influx_backup.gz"))
		if err := m.Connect(); err != nil {
			Logger.Warn("InfluxDB not available", "error", err)
		} else {
			influxManager = m
			runner.AddSink(influx.NewSink(influxManager, runCtx))
		}
	}

	var apiClient *api.Client
	if url := viper.GetString("api.serverUrl"); url != "" {
		apiClient = api.New(url, viper.GetString("api.apiKey"))
	}

	workerManager := worker.NewManager(worker.Dependencies{
		LogManager: SlogManager,
		RunContext: runCtx,
		Parser:     parser.New(Logger, CurrentVersion),
		APIClient:  apiClient,
	}, backend, runner)

	dispatcherLog := zerolog.New(logFile).With().Timestamp().Logger()
	d, err := dispatcher.New(logging.NewCommandLogger(dispatcherLog))
	if err != nil {
		return fmt.Errorf("dispatcher: %w", err)
	}
	workerManager.RegisterHandlers(d)

	controlServer := control.NewServer(viper.GetString("control.listen"), d, Logger)
	if err := controlServer.Start(); err != nil {
		return err
	}
	defer controlServer.Close()

	monitorService := monitor.NewService(monitor.Dependencies{
		LogManager:    SlogManager,
		RunContext:    runCtx,
		WorkerManager: workerManager,
		StatusDir:     dataDir,
		IsRunning:     runner.IsRunning,
		Influx:        influxManager,
	})
	if err := monitorService.Start(); err != nil {
		Logger.Error("status monitor failed to start", "error", err)
	}
	defer monitorService.Stop()

	Logger.Info("trailerd ready", "control", controlServer.Addr(), "storage", config.GetStorageConfig().Type)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	Logger.Info("shutting down", "signal", sig.String())

	runner.Stop()
	return nil
}
