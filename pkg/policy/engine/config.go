package engine

import "fmt"

// DefaultSOEVersion is stamped on runs when no version is configured.
const DefaultSOEVersion = "1.0.0"

// Config contains configuration for the policy engine.
type Config struct {
	// SOEVersion is recorded on every run.
	// Default: "1.0.0".
	SOEVersion string

	// AllowDraftProfiles lets draft profiles take part in a run. Only for
	// non-production evaluation.
	// Default: false.
	AllowDraftProfiles bool
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() *Config {
	return &Config{
		SOEVersion: DefaultSOEVersion,
	}
}

// Validate validates the engine configuration.
func (c *Config) Validate() error {
	if c.SOEVersion == "" {
		return fmt.Errorf("%w: soe version cannot be empty", ErrInvalidConfig)
	}
	return nil
}

// WithAllowDraftProfiles enables or disables draft profiles.
func (c *Config) WithAllowDraftProfiles(allow bool) *Config {
	c.AllowDraftProfiles = allow
	return c
}

// WithSOEVersion sets the recorded engine version.
func (c *Config) WithSOEVersion(version string) *Config {
	c.SOEVersion = version
	return c
}
