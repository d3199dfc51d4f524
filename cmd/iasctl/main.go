package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"ias-scheduler/internal/bandwidth"
	"ias-scheduler/internal/config"
	"ias-scheduler/internal/htpairing"
	"ias-scheduler/internal/ias"
	"ias-scheduler/internal/logging"
	"ias-scheduler/internal/metrics"
	"ias-scheduler/internal/lowersched"
	"ias-scheduler/internal/telemetry"
	"ias-scheduler/internal/topology"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const Version = "1.0.0"

func loadEnvironment() {
	logger := logging.GetLogger()

	envFile := ".env"
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			logger.WithField("file", envFile).WithError(err).Warn("Error loading .env file")
		} else {
			logger.WithField("file", envFile).Debug("Loaded environment variables")
		}
		return
	}

	if execPath, err := os.Executable(); err == nil {
		appDir := filepath.Dir(execPath)
		envFile = filepath.Join(appDir, ".env")
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				logger.WithField("file", envFile).WithError(err).Warn("Error loading .env file")
			} else {
				logger.WithField("file", envFile).Debug("Loaded environment variables")
			}
		}
	}
}

func main() {
	logger := logging.GetLogger()

	loadEnvironment()

	var configFile string
	var logLevel string
	var metricsAddr string

	rootCmd := &cobra.Command{
		Use:   "iasctl",
		Short: "Interference-aware CPU scheduler control plane",
		Long:  "A hyperthread-aware CPU core allocation policy for a kernel-bypass dataplane runtime",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if logLevel != "" {
				if err := logging.SetLogLevel(logLevel); err != nil {
					return fmt.Errorf("invalid log level: %w", err)
				}
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Set log level (trace, debug, info, warn, error)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler against a simulated lower scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScheduler(configFile, metricsAddr)
		},
	}
	runCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to scheduler configuration file")
	runCmd.MarkFlagRequired("config")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "Address to serve Prometheus metrics on")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a scheduler configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateConfigFile(configFile)
		},
	}
	validateCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to scheduler configuration file")
	validateCmd.MarkFlagRequired("config")

	debugDumpCmd := &cobra.Command{
		Use:   "debug-dump",
		Short: "Attach the configured process fleet, run one poll tick, and print the debug line",
		RunE: func(cmd *cobra.Command, args []string) error {
			return debugDump(configFile)
		},
	}
	debugDumpCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to scheduler configuration file")
	debugDumpCmd.MarkFlagRequired("config")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(debugDumpCmd)

	if err := rootCmd.Execute(); err != nil {
		logger.WithError(err).Fatal("Command execution failed")
	}
}

func validateConfigFile(configFile string) error {
	logger := logging.GetLogger()
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger.WithFields(logrus.Fields{
		"nproc":     cfg.Scheduler.NPROC,
		"processes": len(cfg.Processes),
	}).Info("Configuration is valid")
	return nil
}

// buildScheduler wires a full IAS stack (topology, subcontrollers,
// scheduler, attached process fleet) from cfg, returning every collaborator
// the caller needs to drive the poll loop or export metrics.
func buildScheduler(cfg *config.Config) (*ias.Scheduler, *bandwidth.Monitor, *htpairing.Estimator, *lowersched.SimLowerScheduler, error) {
	var topo *topology.Topology
	var err error
	if cfg.Topology.Discover {
		topo, err = topology.Discover()
	} else {
		var allowed []int
		if cfg.Topology.Allowed != "" {
			allowed, err = topology.ParseCPUList(cfg.Topology.Allowed)
		}
		if err == nil {
			topo = topology.NewPairedTopology(cfg.Topology.NCPU, allowed)
		}
	}
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("topology: %w", err)
	}

	lower := lowersched.NewSimLowerScheduler(logging.GetSchedulerLogger())

	bw := bandwidth.NewMonitor(bandwidth.Config{
		ThresholdBytesPerSec: cfg.Scheduler.Bandwidth.ThresholdBytesPerSec,
		MinThreadsLimit:      cfg.Scheduler.Bandwidth.MinThreadsLimit,
	})
	ht := htpairing.NewEstimator()
	loc := ias.NewDefaultLocalityScorer(0)
	sub := ias.NewSubcontrollers(loc, ht, bw)

	schedCfg := ias.Config{
		NPROC:        cfg.Scheduler.NPROC,
		HTWeight:     cfg.Scheduler.HTWeight,
		DebugPrintUs: cfg.Scheduler.DebugPrintUs(),
		BWPollUs:     cfg.Scheduler.BWPollUs(),
		HTPollUs:     cfg.Scheduler.HTPollUs(),
	}

	sched, err := ias.New(schedCfg, topo, lower, sub)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("scheduler init: %w", err)
	}

	for _, p := range cfg.GetProcessesSorted() {
		lower.SetThreadsAvail(p.PID, p.MaxCores)
		proc, err := sched.Attach(p.PID, ias.ProcConfig{GuaranteedCores: p.GuaranteedCores, MaxCores: p.MaxCores})
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("attach process %s (pid %d): %w", p.KeyName, p.PID, err)
		}
		if cfg.Scheduler.Bandwidth.Enabled {
			if err := bw.Register(p.PID, proc.Idx); err != nil {
				logging.GetBandwidthLogger().WithField("pid", p.PID).WithError(err).Warn("Failed to register process with bandwidth subcontroller")
			}
		}
		if err := ht.Register(p.PID, proc.Idx); err != nil {
			logging.GetHTPairingLogger().WithField("pid", p.PID).WithError(err).Warn("Failed to register process with HT-pairing subcontroller")
		}
	}

	return sched, bw, ht, lower, nil
}

func debugDump(configFile string) error {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	sched, _, _, _, err := buildScheduler(cfg)
	if err != nil {
		return err
	}
	sched.Poll(0, sched.UnclaimedAllowedCores())
	sched.PrintDebugInfo()
	return nil
}

func runScheduler(configFile, metricsAddr string) error {
	logger := logging.GetLogger()

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	sched, bw, ht, _, err := buildScheduler(cfg)
	if err != nil {
		return err
	}
	defer bw.Close()
	defer ht.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(metrics.NewCollector(sched, bw))
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		logger.WithField("addr", metricsAddr).Info("Serving Prometheus metrics")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Metrics server exited")
		}
	}()

	var exporter *telemetry.Exporter
	if cfg.Telemetry.Enabled {
		exporter, err = telemetry.NewExporter(telemetry.Config{
			Host:   cfg.Telemetry.Host,
			Token:  cfg.Telemetry.Token,
			Org:    cfg.Telemetry.Org,
			Bucket: cfg.Telemetry.Bucket,
		}, sched, bw)
		if err != nil {
			logger.WithError(err).Warn("Failed to start telemetry exporter, continuing without it")
			exporter = nil
		} else {
			defer exporter.Close()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	telemetryInterval := cfg.Telemetry.Interval()
	if telemetryInterval <= 0 {
		telemetryInterval = time.Second
	}
	lastTelemetry := time.Time{}

	logger.Info("IAS scheduler poll loop started")
	start := time.Now()
	firstTick := true
	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			server.Shutdown(shutdownCtx)
			return nil
		case now := <-ticker.C:
			nowUs := uint64(now.Sub(start).Microseconds())
			newlyIdle := sched.UnclaimedAllowedCores()
			if !firstTick {
				newlyIdle.Zero()
			}
			firstTick = false
			sched.Poll(nowUs, newlyIdle)

			if exporter != nil && now.Sub(lastTelemetry) >= telemetryInterval {
				lastTelemetry = now
				exportCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				if err := exporter.Export(exportCtx, nowUs); err != nil {
					logger.WithError(err).Warn("Telemetry export failed")
				}
				cancel()
			}
		}
	}
}
