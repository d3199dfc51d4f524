package config

import "time"

// Config is the root of the YAML configuration file: the scheduler's
// tuning constants, the host topology, the managed process fleet, and the
// optional telemetry sink — the IAS-domain analogue of the teacher's
// BenchmarkConfig.
type Config struct {
	Scheduler SchedulerSettings        `yaml:"scheduler"`
	Topology  TopologyConfig           `yaml:"topology"`
	Processes map[string]ProcessConfig `yaml:",inline"`
	Telemetry TelemetryConfig          `yaml:"telemetry"`
	LogLevel  string                   `yaml:"log_level"`
}

// SchedulerSettings is the policy's compile-time-constant tuning surface,
// loaded instead of hardcoded the way ias.c hardcodes IAS_HT_WEIGHT.
type SchedulerSettings struct {
	NPROC        int             `yaml:"nproc"`
	HTWeight     float64         `yaml:"ht_weight"`
	DebugPrintMs int             `yaml:"debug_print_ms"`
	BWPollMs     int             `yaml:"bw_poll_ms"`
	HTPollMs     int             `yaml:"ht_poll_ms"`
	Bandwidth    BandwidthConfig `yaml:"bandwidth"`
}

func (s SchedulerSettings) DebugPrintUs() uint64 { return uint64(s.DebugPrintMs) * 1000 }
func (s SchedulerSettings) BWPollUs() uint64     { return uint64(s.BWPollMs) * 1000 }
func (s SchedulerSettings) HTPollUs() uint64     { return uint64(s.HTPollMs) * 1000 }

// BandwidthConfig configures internal/bandwidth.Monitor.
type BandwidthConfig struct {
	Enabled              bool    `yaml:"enabled"`
	ThresholdBytesPerSec float64 `yaml:"threshold_bytes_per_sec"`
	MinThreadsLimit      int     `yaml:"min_threads_limit"`
}

// TopologyConfig describes the host's core layout, or leaves it to be
// discovered via internal/topology.Discover when Discover is true.
type TopologyConfig struct {
	Discover bool   `yaml:"discover"`
	NCPU     int    `yaml:"ncpu"`
	Allowed  string `yaml:"allowed"` // CPU-list spec, e.g. "0-7" or "0,2,4,6"
}

// ProcessConfig describes one process IAS manages, keyed by its YAML map
// name, mirroring how the teacher keys ContainerConfig by container name.
type ProcessConfig struct {
	KeyName         string `yaml:"-"`
	PID             int    `yaml:"pid"`
	GuaranteedCores int    `yaml:"guaranteed_cores"`
	MaxCores        int    `yaml:"max_cores"`
}

// TelemetryConfig configures the optional internal/telemetry.Exporter.
type TelemetryConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Host       string `yaml:"host"`
	Token      string `yaml:"token"`
	Org        string `yaml:"org"`
	Bucket     string `yaml:"bucket"`
	IntervalMs int    `yaml:"interval_ms"`
}

func (t TelemetryConfig) Interval() time.Duration {
	return time.Duration(t.IntervalMs) * time.Millisecond
}

// GetProcessesSorted returns the configured process fleet ordered by
// ascending PID, mirroring the teacher's GetContainersSorted (which sorts
// by Index with the same nested-loop swap sort).
func (c *Config) GetProcessesSorted() []ProcessConfig {
	var procs []ProcessConfig
	for _, p := range c.Processes {
		procs = append(procs, p)
	}

	for i := 0; i < len(procs)-1; i++ {
		for j := i + 1; j < len(procs); j++ {
			if procs[i].PID > procs[j].PID {
				procs[i], procs[j] = procs[j], procs[i]
			}
		}
	}

	return procs
}
