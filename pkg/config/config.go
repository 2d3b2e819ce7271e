package config

import "time"

// Config is the root configuration for the soe tools.
// It is loaded from YAML and may be overridden by environment variables.
type Config struct {
	// Rules configures where rule packs, profiles and baseline rules live.
	Rules RulesConfig `yaml:"rules"`

	// Engine configures policy evaluation and plan derivation.
	Engine EngineConfig `yaml:"engine"`

	// Storage configures the repository backend.
	Storage StorageConfig `yaml:"storage"`

	// Audit configures the periodic integrity sweep.
	Audit AuditConfig `yaml:"audit"`

	// Telemetry configures logging and metrics.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// RulesConfig configures the rule sources on disk.
type RulesConfig struct {
	// PacksDir is the directory holding rule pack YAML files.
	// Default: "rules/packs"
	PacksDir string `yaml:"packs_dir"`

	// ProfilesDir is the directory holding compliance profile YAML files.
	// Default: "rules/profiles"
	ProfilesDir string `yaml:"profiles_dir"`

	// IndustryProfilesDir is the directory holding industry profile YAML files.
	// Default: "rules/industries"
	IndustryProfilesDir string `yaml:"industry_profiles_dir"`

	// BaselineRulesFile is the baseline ruleset used during plan derivation.
	// Empty disables baseline rules.
	BaselineRulesFile string `yaml:"baseline_rules_file"`

	// Watch reloads packs when files in PacksDir change.
	// Default: false
	Watch bool `yaml:"watch"`

	// Debounce is the quiet period before a reload fires.
	// Default: 500ms
	Debounce time.Duration `yaml:"debounce"`

	// Git, when a repository is set, sources packs and industry profiles
	// from a local checkout of that repository instead of PacksDir and
	// IndustryProfilesDir.
	Git GitConfig `yaml:"git"`
}

// GitConfig configures the git-backed rule pack source.
type GitConfig struct {
	// Repository is the clone URL. Empty disables the git source.
	Repository string `yaml:"repository"`

	// Branch is the branch to track.
	// Default: "main"
	Branch string `yaml:"branch"`

	// LocalPath is where the repository is checked out.
	// Default: "data/rules-git"
	LocalPath string `yaml:"local_path"`

	// PacksPath is the pack directory relative to the repository root.
	// Default: "packs"
	PacksPath string `yaml:"packs_path"`

	// IndustriesPath is the industry profile directory relative to the
	// repository root.
	// Default: "industries"
	IndustriesPath string `yaml:"industries_path"`

	// Depth limits clone history. 0 clones the full history.
	Depth int `yaml:"depth"`

	// Timeout bounds a single clone or pull.
	// Default: 30s
	Timeout time.Duration `yaml:"timeout"`

	// PollInterval is how often the scheduler pulls. 0 disables polling.
	PollInterval time.Duration `yaml:"poll_interval"`

	// Auth configures repository credentials.
	Auth GitAuthConfig `yaml:"auth"`
}

// Enabled reports whether a repository is configured.
func (c *GitConfig) Enabled() bool {
	return c.Repository != ""
}

// GitAuthConfig holds repository credentials.
type GitAuthConfig struct {
	// Type is "token", "ssh" or "none".
	// Default: "none"
	Type string `yaml:"type"`

	// Token is a personal access token used over HTTPS.
	Token string `yaml:"token"`

	// SSHKeyPath is the private key used over SSH.
	SSHKeyPath string `yaml:"ssh_key_path"`

	// SSHKeyPassphrase unlocks an encrypted SSHKeyPath.
	SSHKeyPassphrase string `yaml:"ssh_key_passphrase"`
}

// EngineConfig configures evaluation.
type EngineConfig struct {
	// SOEVersion is recorded on every policy run.
	// Default: "1.0.0"
	SOEVersion string `yaml:"soe_version"`

	// AllowDraftProfiles lets draft profiles take part in a run.
	// Default: false
	AllowDraftProfiles bool `yaml:"allow_draft_profiles"`

	// BaselineTier is the highest baseline rule tier applied during
	// derivation: TIER_1, TIER_2 or TIER_3.
	// Default: "TIER_1"
	BaselineTier string `yaml:"baseline_tier"`
}

// StorageConfig configures the repository backend.
type StorageConfig struct {
	// Driver is "sqlite3" (cgo), "sqlite" (pure Go) or "memory".
	// Default: "sqlite3"
	Driver string `yaml:"driver"`

	// Path is the database file. Required for the sqlite drivers.
	// Default: "data/soe.db"
	Path string `yaml:"path"`

	// BusyTimeout is how long a writer waits on a locked database.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// WALMode enables write-ahead logging.
	// Default: true
	WALMode *bool `yaml:"wal_mode"`
}

// WAL reports whether write-ahead logging is enabled.
func (s StorageConfig) WAL() bool {
	return s.WALMode == nil || *s.WALMode
}

// AuditConfig configures the integrity sweep.
type AuditConfig struct {
	// SweepSchedule is a standard five-field cron expression. Empty
	// disables the sweep.
	// Example: "0 2 * * *"
	SweepSchedule string `yaml:"sweep_schedule"`
}

// TelemetryConfig configures observability.
type TelemetryConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	// Default: "info"
	Level string `yaml:"level"`

	// Format is one of json, text, console.
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line in log records.
	AddSource bool `yaml:"add_source"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	// Enabled turns collection on.
	// Default: true
	Enabled *bool `yaml:"enabled"`

	// Namespace prefixes every metric name.
	// Default: "soe"
	Namespace string `yaml:"namespace"`

	// Subsystem is an optional second prefix.
	Subsystem string `yaml:"subsystem"`

	// Path is where the telemetry server exposes metrics.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// ScrapeTimeout bounds a single scrape. Zero leaves it to the server.
	ScrapeTimeout time.Duration `yaml:"scrape_timeout"`

	// MaxConcurrentScrapes caps in-flight scrapes; further ones get 503.
	// Zero means unlimited.
	MaxConcurrentScrapes int `yaml:"max_concurrent_scrapes"`
}

// IsEnabled reports whether metrics collection is on.
func (m MetricsConfig) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}
