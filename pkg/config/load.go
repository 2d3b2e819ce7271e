package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// envPrefix is prepended to every environment override.
const envPrefix = "SOE_"

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any errors.
// Environment variables are not consulted; use LoadConfigWithEnvOverrides
// for that.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Parse decodes YAML and applies defaults. It does not validate.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(&cfg)
	return &cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention SOE_SECTION_FIELD (e.g., SOE_STORAGE_DRIVER) and always take
// precedence over the file.
//
// An empty path skips the file and starts from defaults.
//
// The loading sequence is:
// 1. Load YAML from file
// 2. Apply default values
// 3. Apply environment variable overrides
// 4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	var cfg *Config
	if path == "" {
		cfg = Default()
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
		}
		if cfg, err = Parse(data); err != nil {
			return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Values that fail to parse are ignored.
func applyEnvOverrides(cfg *Config) {
	// Rules overrides
	setString("RULES_PACKS_DIR", &cfg.Rules.PacksDir)
	setString("RULES_PROFILES_DIR", &cfg.Rules.ProfilesDir)
	setString("RULES_INDUSTRY_PROFILES_DIR", &cfg.Rules.IndustryProfilesDir)
	setString("RULES_BASELINE_RULES_FILE", &cfg.Rules.BaselineRulesFile)
	setBool("RULES_WATCH", &cfg.Rules.Watch)
	setDuration("RULES_DEBOUNCE", &cfg.Rules.Debounce)
	setString("RULES_GIT_REPOSITORY", &cfg.Rules.Git.Repository)
	setString("RULES_GIT_BRANCH", &cfg.Rules.Git.Branch)
	setString("RULES_GIT_LOCAL_PATH", &cfg.Rules.Git.LocalPath)
	setDuration("RULES_GIT_POLL_INTERVAL", &cfg.Rules.Git.PollInterval)
	setString("RULES_GIT_AUTH_TYPE", &cfg.Rules.Git.Auth.Type)
	setString("RULES_GIT_AUTH_TOKEN", &cfg.Rules.Git.Auth.Token)
	setString("RULES_GIT_AUTH_SSH_KEY_PATH", &cfg.Rules.Git.Auth.SSHKeyPath)

	// Engine overrides
	setString("ENGINE_SOE_VERSION", &cfg.Engine.SOEVersion)
	setBool("ENGINE_ALLOW_DRAFT_PROFILES", &cfg.Engine.AllowDraftProfiles)
	setString("ENGINE_BASELINE_TIER", &cfg.Engine.BaselineTier)

	// Storage overrides
	setString("STORAGE_DRIVER", &cfg.Storage.Driver)
	setString("STORAGE_PATH", &cfg.Storage.Path)
	setDuration("STORAGE_BUSY_TIMEOUT", &cfg.Storage.BusyTimeout)
	setBoolPtr("STORAGE_WAL_MODE", &cfg.Storage.WALMode)

	// Audit overrides
	setString("AUDIT_SWEEP_SCHEDULE", &cfg.Audit.SweepSchedule)

	// Telemetry overrides
	setString("TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	setString("TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	setBool("TELEMETRY_LOGGING_ADD_SOURCE", &cfg.Telemetry.Logging.AddSource)
	setBoolPtr("TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	setString("TELEMETRY_METRICS_NAMESPACE", &cfg.Telemetry.Metrics.Namespace)
	setString("TELEMETRY_METRICS_SUBSYSTEM", &cfg.Telemetry.Metrics.Subsystem)
	setString("TELEMETRY_METRICS_PATH", &cfg.Telemetry.Metrics.Path)
	setDuration("TELEMETRY_METRICS_SCRAPE_TIMEOUT", &cfg.Telemetry.Metrics.ScrapeTimeout)
}

func setString(name string, dst *string) {
	if val := os.Getenv(envPrefix + name); val != "" {
		*dst = val
	}
}

func setBool(name string, dst *bool) {
	if val := os.Getenv(envPrefix + name); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func setBoolPtr(name string, dst **bool) {
	if val := os.Getenv(envPrefix + name); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = &b
		}
	}
}

func setDuration(name string, dst *time.Duration) {
	if val := os.Getenv(envPrefix + name); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}
