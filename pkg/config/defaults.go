package config

import "time"

// Default values for configuration fields.
const (
	// Rules defaults
	DefaultPacksDir            = "rules/packs"
	DefaultProfilesDir         = "rules/profiles"
	DefaultIndustryProfilesDir = "rules/industries"
	DefaultDebounce            = 500 * time.Millisecond

	// Git source defaults
	DefaultGitBranch         = "main"
	DefaultGitLocalPath      = "data/rules-git"
	DefaultGitPacksPath      = "packs"
	DefaultGitIndustriesPath = "industries"
	DefaultGitTimeout        = 30 * time.Second
	DefaultGitAuthType       = "none"

	// Engine defaults
	DefaultSOEVersion   = "1.0.0"
	DefaultBaselineTier = "TIER_1"

	// Storage defaults
	DefaultStorageDriver      = "sqlite3"
	DefaultStoragePath        = "data/soe.db"
	DefaultStorageBusyTimeout = 5 * time.Second

	// Telemetry defaults
	DefaultLoggingLevel     = "info"
	DefaultLoggingFormat    = "json"
	DefaultMetricsNamespace = "soe"
	DefaultMetricsPath      = "/metrics"
)

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	applyRulesDefaults(&cfg.Rules)
	applyEngineDefaults(&cfg.Engine)
	applyStorageDefaults(&cfg.Storage)
	applyTelemetryDefaults(&cfg.Telemetry)
}

func applyRulesDefaults(cfg *RulesConfig) {
	if cfg.PacksDir == "" {
		cfg.PacksDir = DefaultPacksDir
	}
	if cfg.ProfilesDir == "" {
		cfg.ProfilesDir = DefaultProfilesDir
	}
	if cfg.IndustryProfilesDir == "" {
		cfg.IndustryProfilesDir = DefaultIndustryProfilesDir
	}
	if cfg.Debounce == 0 {
		cfg.Debounce = DefaultDebounce
	}
	applyGitDefaults(&cfg.Git)
}

func applyEngineDefaults(cfg *EngineConfig) {
	if cfg.SOEVersion == "" {
		cfg.SOEVersion = DefaultSOEVersion
	}
	if cfg.BaselineTier == "" {
		cfg.BaselineTier = DefaultBaselineTier
	}
}

func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.Driver == "" {
		cfg.Driver = DefaultStorageDriver
	}
	if cfg.Driver != "memory" && cfg.Path == "" {
		cfg.Path = DefaultStoragePath
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = DefaultStorageBusyTimeout
	}
	if cfg.WALMode == nil {
		wal := true
		cfg.WALMode = &wal
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Metrics.Enabled == nil {
		enabled := true
		cfg.Metrics.Enabled = &enabled
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

func applyGitDefaults(cfg *GitConfig) {
	if cfg.Branch == "" {
		cfg.Branch = DefaultGitBranch
	}
	if cfg.LocalPath == "" {
		cfg.LocalPath = DefaultGitLocalPath
	}
	if cfg.PacksPath == "" {
		cfg.PacksPath = DefaultGitPacksPath
	}
	if cfg.IndustriesPath == "" {
		cfg.IndustriesPath = DefaultGitIndustriesPath
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultGitTimeout
	}
	if cfg.Auth.Type == "" {
		cfg.Auth.Type = DefaultGitAuthType
	}
}
