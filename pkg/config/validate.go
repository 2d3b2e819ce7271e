package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "storage.driver").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

var (
	semverPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)
	validTiers    = map[string]bool{"TIER_1": true, "TIER_2": true, "TIER_3": true}
	validDrivers  = map[string]bool{"sqlite3": true, "sqlite": true, "memory": true}
	validLevels   = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validFormats  = map[string]bool{"json": true, "text": true, "console": true}
	validAuth     = map[string]bool{"token": true, "ssh": true, "none": true}
	metricNameRe  = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
)

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateRules(&cfg.Rules)...)
	errs = append(errs, validateEngine(&cfg.Engine)...)
	errs = append(errs, validateStorage(&cfg.Storage)...)
	errs = append(errs, validateAudit(&cfg.Audit)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validateRules(cfg *RulesConfig) []FieldError {
	var errs []FieldError

	if cfg.PacksDir == "" {
		errs = append(errs, FieldError{
			Field:   "rules.packs_dir",
			Message: "packs directory is required",
		})
	}
	if cfg.Debounce < 0 {
		errs = append(errs, FieldError{
			Field:   "rules.debounce",
			Message: "debounce cannot be negative",
		})
	}
	if cfg.Git.Enabled() {
		errs = append(errs, validateGit(&cfg.Git)...)
	}
	return errs
}

func validateGit(cfg *GitConfig) []FieldError {
	var errs []FieldError

	if cfg.Branch == "" {
		errs = append(errs, FieldError{
			Field:   "rules.git.branch",
			Message: "branch is required when a repository is set",
		})
	}
	if cfg.Depth < 0 {
		errs = append(errs, FieldError{
			Field:   "rules.git.depth",
			Message: "depth cannot be negative",
		})
	}
	if cfg.Timeout <= 0 {
		errs = append(errs, FieldError{
			Field:   "rules.git.timeout",
			Message: "timeout must be positive",
		})
	}
	if cfg.PollInterval < 0 {
		errs = append(errs, FieldError{
			Field:   "rules.git.poll_interval",
			Message: "poll interval cannot be negative",
		})
	}

	switch {
	case !validAuth[cfg.Auth.Type]:
		errs = append(errs, FieldError{
			Field:   "rules.git.auth.type",
			Message: fmt.Sprintf("invalid auth type %q: must be 'token', 'ssh', or 'none'", cfg.Auth.Type),
		})
	case cfg.Auth.Type == "token" && cfg.Auth.Token == "":
		errs = append(errs, FieldError{
			Field:   "rules.git.auth.token",
			Message: "token is required for token auth",
		})
	case cfg.Auth.Type == "ssh" && cfg.Auth.SSHKeyPath == "":
		errs = append(errs, FieldError{
			Field:   "rules.git.auth.ssh_key_path",
			Message: "ssh key path is required for ssh auth",
		})
	}
	return errs
}

func validateEngine(cfg *EngineConfig) []FieldError {
	var errs []FieldError

	if !semverPattern.MatchString(cfg.SOEVersion) {
		errs = append(errs, FieldError{
			Field:   "engine.soe_version",
			Message: fmt.Sprintf("invalid version %q: must be MAJOR.MINOR.PATCH", cfg.SOEVersion),
		})
	}
	if !validTiers[cfg.BaselineTier] {
		errs = append(errs, FieldError{
			Field:   "engine.baseline_tier",
			Message: fmt.Sprintf("invalid tier %q: must be 'TIER_1', 'TIER_2', or 'TIER_3'", cfg.BaselineTier),
		})
	}
	return errs
}

func validateStorage(cfg *StorageConfig) []FieldError {
	var errs []FieldError

	if !validDrivers[cfg.Driver] {
		errs = append(errs, FieldError{
			Field:   "storage.driver",
			Message: fmt.Sprintf("invalid driver %q: must be 'sqlite3', 'sqlite', or 'memory'", cfg.Driver),
		})
		return errs
	}
	if cfg.Driver != "memory" && cfg.Path == "" {
		errs = append(errs, FieldError{
			Field:   "storage.path",
			Message: fmt.Sprintf("path is required for driver %q", cfg.Driver),
		})
	}
	if cfg.BusyTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "storage.busy_timeout",
			Message: "busy timeout cannot be negative",
		})
	}
	return errs
}

func validateAudit(cfg *AuditConfig) []FieldError {
	if cfg.SweepSchedule == "" {
		return nil
	}
	if _, err := cron.ParseStandard(cfg.SweepSchedule); err != nil {
		return []FieldError{{
			Field:   "audit.sweep_schedule",
			Message: fmt.Sprintf("invalid cron expression %q: %v", cfg.SweepSchedule, err),
		}}
	}
	return nil
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	if cfg.Logging.Level == "" {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: "logging level is required",
		})
	} else if !validLevels[cfg.Logging.Level] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid logging level %q: must be 'debug', 'info', 'warn', or 'error'", cfg.Logging.Level),
		})
	}

	if cfg.Logging.Format == "" {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: "logging format is required",
		})
	} else if !validFormats[cfg.Logging.Format] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid logging format %q: must be 'json', 'text', or 'console'", cfg.Logging.Format),
		})
	}

	if cfg.Metrics.IsEnabled() && !metricNameRe.MatchString(cfg.Metrics.Namespace) {
		errs = append(errs, FieldError{
			Field:   "telemetry.metrics.namespace",
			Message: fmt.Sprintf("invalid metric namespace %q", cfg.Metrics.Namespace),
		})
	}
	if cfg.Metrics.Subsystem != "" && !metricNameRe.MatchString(cfg.Metrics.Subsystem) {
		errs = append(errs, FieldError{
			Field:   "telemetry.metrics.subsystem",
			Message: fmt.Sprintf("invalid metric subsystem %q", cfg.Metrics.Subsystem),
		})
	}
	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{
			Field:   "telemetry.metrics.path",
			Message: fmt.Sprintf("metrics path %q must start with /", cfg.Metrics.Path),
		})
	}
	if cfg.Metrics.ScrapeTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "telemetry.metrics.scrape_timeout",
			Message: "scrape timeout cannot be negative",
		})
	}
	if cfg.Metrics.MaxConcurrentScrapes < 0 {
		errs = append(errs, FieldError{
			Field:   "telemetry.metrics.max_concurrent_scrapes",
			Message: "max concurrent scrapes cannot be negative",
		})
	}
	return errs
}
