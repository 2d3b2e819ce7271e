package config

import (
	"errors"
	"fmt"
	"sync"
)

// ErrStorageChanged is returned by ReloadConfig when the new file points the
// process at a different database. The store is opened once per process and
// cannot follow such a change.
var ErrStorageChanged = errors.New("storage configuration cannot change on reload")

var (
	// globalConfig is the configuration of the running soe process.
	globalConfig *Config

	// configMutex protects globalConfig.
	configMutex sync.RWMutex

	// initOnce makes Initialize load at most once.
	initOnce sync.Once
)

// Initialize loads the soe configuration from path, applies SOE_* environment
// overrides and validates the result, then installs it as the process
// configuration. The root command calls it before any subcommand runs; an
// empty path starts from Default().
//
// Only the first call loads anything. Later calls return nil without reading
// path, even if the first call failed; use ReloadConfig to pick up changes.
func Initialize(path string) error {
	var initErr error
	initOnce.Do(func() {
		cfg, err := LoadConfigWithEnvOverrides(path)
		if err != nil {
			initErr = err
			return
		}
		SetConfig(cfg)
	})
	return initErr
}

// GetConfig returns the process configuration, or nil if Initialize has not
// succeeded. Callers must treat the returned value as read-only; it is shared
// by every goroutine of the process.
//
// Library packages take their settings as arguments and never call this;
// only cmd/soe reads the process configuration.
func GetConfig() *Config {
	configMutex.RLock()
	defer configMutex.RUnlock()
	return globalConfig
}

// SetConfig installs cfg as the process configuration without validating it.
// Tests use it to run commands against a hand-built configuration.
func SetConfig(cfg *Config) {
	configMutex.Lock()
	defer configMutex.Unlock()
	globalConfig = cfg
}

// ReloadConfig re-reads path and replaces the process configuration if the
// new file loads and validates. Rule directories, the git source, engine
// defaults, the audit schedule and telemetry settings may all change.
//
// The storage section may not: a reload that changes the driver or the
// database path fails with ErrStorageChanged. On any error the current
// configuration stays in place.
func ReloadConfig(path string) error {
	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		return fmt.Errorf("failed to reload configuration: %w", err)
	}

	configMutex.Lock()
	defer configMutex.Unlock()
	if cur := globalConfig; cur != nil {
		if cur.Storage.Driver != cfg.Storage.Driver || cur.Storage.Path != cfg.Storage.Path {
			return fmt.Errorf("%w: %s %s -> %s %s", ErrStorageChanged,
				cur.Storage.Driver, cur.Storage.Path, cfg.Storage.Driver, cfg.Storage.Path)
		}
	}
	globalConfig = cfg
	return nil
}

// MustGetConfig returns the process configuration and panics if Initialize
// has not succeeded. Command handlers use it once the root command's
// PersistentPreRunE has run, where a missing configuration is a programming
// error rather than a user error.
func MustGetConfig() *Config {
	cfg := GetConfig()
	if cfg == nil {
		panic("configuration not initialized: call Initialize first")
	}
	return cfg
}
