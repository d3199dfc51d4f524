package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"ias-scheduler/internal/logging"
	"ias-scheduler/internal/topology"

	"gopkg.in/yaml.v3"
)

// LoadConfig reads filepath, expands ${VAR} environment references, and
// parses the result into a Config, matching the teacher's LoadConfig entry
// point in internal/config/parser.go.
func LoadConfig(filepath string) (*Config, error) {
	cfg, _, err := LoadConfigWithContent(filepath)
	return cfg, err
}

// LoadConfigWithContent additionally returns the original (pre-expansion)
// file content, as the teacher's LoadConfigWithContent does for archiving
// the config alongside benchmark results.
func LoadConfigWithContent(filepath string) (*Config, string, error) {
	logger := logging.GetLogger()

	data, err := os.ReadFile(filepath)
	if err != nil {
		logger.WithField("filepath", filepath).WithError(err).Error("Failed to read config file")
		return nil, "", err
	}

	originalContent := string(data)
	expanded := expandEnvVars(originalContent)

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		logger.WithField("filepath", filepath).WithError(err).Error("Failed to parse config file")
		return nil, "", err
	}

	for keyName, proc := range cfg.Processes {
		proc.KeyName = keyName
		cfg.Processes[keyName] = proc
	}

	if cfg.Topology.Allowed != "" {
		if _, err := topology.ParseCPUList(cfg.Topology.Allowed); err != nil {
			logger.WithField("allowed", cfg.Topology.Allowed).WithError(err).Error("Failed to parse topology.allowed")
			return nil, "", fmt.Errorf("topology.allowed: invalid CPU specification %q: %w", cfg.Topology.Allowed, err)
		}
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, "", fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, originalContent, nil
}

func expandEnvVars(content string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(content, func(match string) string {
		envVar := strings.Trim(match, "${}")
		if value := os.Getenv(envVar); value != "" {
			return value
		}
		return match
	})
}

func validateConfig(cfg *Config) error {
	if cfg.Scheduler.NPROC <= 0 {
		return fmt.Errorf("scheduler.nproc must be greater than 0")
	}
	if cfg.Scheduler.HTWeight < 0 {
		return fmt.Errorf("scheduler.ht_weight must be non-negative")
	}
	if cfg.Scheduler.DebugPrintMs <= 0 || cfg.Scheduler.BWPollMs <= 0 || cfg.Scheduler.HTPollMs <= 0 {
		return fmt.Errorf("scheduler.debug_print_ms, bw_poll_ms, and ht_poll_ms must all be greater than 0")
	}

	if !cfg.Topology.Discover && cfg.Topology.NCPU <= 0 {
		return fmt.Errorf("topology.ncpu must be greater than 0 when topology.discover is false")
	}

	if len(cfg.Processes) == 0 {
		return fmt.Errorf("at least one process must be defined")
	}

	pids := make(map[int]bool)
	for name, proc := range cfg.Processes {
		if proc.PID <= 0 {
			return fmt.Errorf("process %s: pid must be greater than 0", name)
		}
		if pids[proc.PID] {
			return fmt.Errorf("process %s: pid %d is already used", name, proc.PID)
		}
		pids[proc.PID] = true

		if proc.GuaranteedCores%2 != 0 {
			return fmt.Errorf("process %s: guaranteed_cores must be even, got %d", name, proc.GuaranteedCores)
		}
		if proc.MaxCores < proc.GuaranteedCores {
			return fmt.Errorf("process %s: max_cores (%d) must be >= guaranteed_cores (%d)", name, proc.MaxCores, proc.GuaranteedCores)
		}
	}

	if cfg.Telemetry.Enabled {
		if cfg.Telemetry.Host == "" || cfg.Telemetry.Org == "" || cfg.Telemetry.Bucket == "" {
			return fmt.Errorf("telemetry: host, org, and bucket are required when telemetry.enabled is true")
		}
	}

	return nil
}
