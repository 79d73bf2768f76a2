package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/marmos91/scalebridge/internal/logger"
	"github.com/marmos91/scalebridge/internal/telemetry"
	"github.com/marmos91/scalebridge/pkg/config"
	"github.com/marmos91/scalebridge/pkg/metrics"
	"github.com/marmos91/scalebridge/pkg/parser"
	"github.com/marmos91/scalebridge/pkg/stability"
	"github.com/marmos91/scalebridge/pkg/storage"
	"github.com/marmos91/scalebridge/pkg/storage/perf"
	"github.com/marmos91/scalebridge/pkg/template"
	templatestore "github.com/marmos91/scalebridge/pkg/template/store"
	"github.com/marmos91/scalebridge/pkg/transport"
	"github.com/spf13/cobra"

	// Import prometheus metrics to register init() functions
	_ "github.com/marmos91/scalebridge/pkg/metrics/prometheus"
)

var (
	foreground bool
	pidFile    string
	logFile    string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the ScaleBridge agent",
	Long: `Start the ScaleBridge ingestion agent with the specified configuration.

The agent connects to the serial-to-Ethernet converter, parses the weight
stream with the active protocol template and routes readings to the
configured storage backends.

By default, the agent runs in the background (daemon mode). Use --foreground
to run in the foreground for debugging or when managed by a process supervisor.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/scalebridge/config.yaml.

Examples:
  # Start in background (default)
  scalebridge start

  # Start in foreground
  scalebridge start --foreground

  # Start with custom config file
  scalebridge start --config /etc/scalebridge/config.yaml

  # Start with environment variable overrides
  SCALEBRIDGE_LOGGING_LEVEL=DEBUG scalebridge start --foreground`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run in foreground (default: background/daemon mode)")
	startCmd.Flags().StringVar(&pidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/scalebridge/scalebridge.pid)")
	startCmd.Flags().StringVar(&logFile, "log-file", "", "Path to log file for daemon mode (default: $XDG_STATE_HOME/scalebridge/scalebridge.log)")
}

func runStart(cmd *cobra.Command, args []string) error {
	// Handle daemon mode (background)
	if !foreground {
		return startDaemon()
	}

	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	// Initialize the structured logger
	if err := InitLogger(cfg); err != nil {
		return err
	}

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize OpenTelemetry (if enabled)
	telemetryCfg := telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "scalebridge",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	}
	telemetryShutdown, err := telemetry.Init(ctx, telemetryCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}()

	// Initialize Pyroscope profiling (if enabled)
	profilingCfg := telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "scalebridge",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	}
	profilingShutdown, err := telemetry.InitProfiling(profilingCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", "error", err)
		}
	}()

	fmt.Println("ScaleBridge - Industrial scale ingestion agent")
	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	} else {
		logger.Info("Telemetry disabled")
	}
	if telemetry.IsProfilingEnabled() {
		logger.Info("Profiling enabled", "endpoint", cfg.Telemetry.Profiling.Endpoint, "profile_types", cfg.Telemetry.Profiling.ProfileTypes)
	} else {
		logger.Info("Profiling disabled")
	}

	// Initialize metrics (if enabled)
	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		metricsSrv = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler: metrics.Handler(),
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server error", logger.Err(err))
			}
		}()
		logger.Info("Metrics enabled", "port", cfg.Metrics.Port)
	} else {
		logger.Info("Metrics collection disabled")
	}

	// Open the template store and resolve the active protocol template
	store, err := config.CreateTemplateStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	tmpl, err := activeTemplate(ctx, store)
	if err != nil {
		return err
	}
	logger.Info("Protocol template selected",
		logger.Template(tmpl.TemplateName),
		logger.Confidence(tmpl.ConfidenceThreshold),
	)

	// Build the ingest components
	tc := config.CreateTransport(cfg)
	monitor := config.CreateMonitor(cfg)

	router, err := config.CreateRouter(ctx, cfg)
	if err != nil {
		return err
	}
	defer disconnectBackends(router)
	logger.Info("Storage router configured", "backends", router.Backends())

	// Wire write observation: prometheus collectors plus the sliding-window
	// performance tracker
	tracker := perf.NewTracker()
	router.SetObserver(metrics.MultiObserver(
		metrics.NewStorageObserver(),
		storage.ObserverFunc(tracker.Observe),
	))
	go tracker.Run(ctx)

	// Surface stability reports through logs and metrics
	stabMetrics := metrics.NewStabilityMetrics()
	var lastState stability.State
	monitor.Subscribe(func(r stability.Report) {
		metrics.RecordReport(stabMetrics, r.State.String(), r.Score)
		if r.State != lastState {
			lastState = r.State
			logger.Info("Signal state changed",
				logger.DeviceID(cfg.Device.ID),
				logger.StabilityState(r.State),
				logger.StabilityScore(r.Score),
				"actions", r.RecommendedActions,
			)
		}
	})

	// Log converter connection transitions
	tc.SubscribeState(func(s transport.State) {
		logger.Info("Converter connection state",
			logger.RemoteAddr(tc.Addr()),
			logger.ConnState(s.String()),
		)
	})

	pl := newPipeline(cfg, tc, monitor, parser.New(tmpl), router)

	// Write PID file if specified
	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0644); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = os.Remove(pidFile) }()
	}

	// Start the ingest pipeline in background
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- pl.Run(ctx)
	}()

	// Wait for interrupt signal or pipeline error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Agent is running. Press Ctrl+C to stop.")

	var runErr error
	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()

		// Wait for the pipeline to drain gracefully
		if err := <-serverDone; err != nil {
			logger.Error("Pipeline shutdown error", "error", err)
			runErr = err
		} else {
			logger.Info("Agent stopped gracefully")
		}

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("Pipeline error", "error", err)
			runErr = err
		} else {
			logger.Info("Agent stopped")
		}
	}

	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = metricsSrv.Shutdown(shutdownCtx)
		shutdownCancel()
	}

	return runErr
}

// activeTemplate returns the highest-priority active template from the store.
func activeTemplate(ctx context.Context, store templatestore.Store) (*template.Template, error) {
	all, err := store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	for _, t := range all {
		if t.IsActive {
			return t, nil
		}
	}
	return nil, fmt.Errorf("no active protocol template found; run 'scalebridge discover' first")
}

// disconnectBackends disconnects every registered storage backend.
func disconnectBackends(router *storage.Router) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, name := range router.Backends() {
		repo, err := router.Repository(name)
		if err != nil {
			continue
		}
		if err := repo.Disconnect(ctx); err != nil {
			logger.Warn("backend disconnect error", logger.Backend(name), logger.Err(err))
		}
	}
}

// startDaemon starts the agent as a background daemon process.
func startDaemon() error {
	stateDir := GetDefaultStateDir()

	// Create state directory if it doesn't exist
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	// Set default PID file if not specified
	pidPath := pidFile
	if pidPath == "" {
		pidPath = filepath.Join(stateDir, "scalebridge.pid")
	}

	// Check if already running
	if _, err := os.Stat(pidPath); err == nil {
		pidData, err := os.ReadFile(pidPath)
		if err == nil {
			var pid int
			if _, err := fmt.Sscanf(string(pidData), "%d", &pid); err == nil {
				// Check if process is still running
				if process, err := os.FindProcess(pid); err == nil {
					if err := process.Signal(syscall.Signal(0)); err == nil {
						return fmt.Errorf("ScaleBridge is already running (PID %d)", pid)
					}
				}
			}
		}
		// Stale PID file, remove it
		_ = os.Remove(pidPath)
	}

	// Set default log file if not specified
	logPath := logFile
	if logPath == "" {
		logPath = filepath.Join(stateDir, "scalebridge.log")
	}

	// Get the executable path
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	// Build arguments for the daemon process
	daemonArgs := []string{"start", "--foreground", "--pid-file", pidPath}
	if GetConfigFile() != "" {
		daemonArgs = append(daemonArgs, "--config", GetConfigFile())
	}

	// Create the daemon process
	daemon := exec.Command(executable, daemonArgs...)

	// Open log file for stdout/stderr
	logFileHandle, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	daemon.Stdout = logFileHandle
	daemon.Stderr = logFileHandle

	// Detach from parent process
	daemon.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}

	// Start the daemon
	if err := daemon.Start(); err != nil {
		_ = logFileHandle.Close()
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	_ = logFileHandle.Close()

	fmt.Printf("ScaleBridge started in background (PID %d)\n", daemon.Process.Pid)
	fmt.Printf("  PID file: %s\n", pidPath)
	fmt.Printf("  Log file: %s\n", logPath)

	return nil
}
