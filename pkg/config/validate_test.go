package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestValidate_Default(t *testing.T) {
	if err := Validate(Default()); err != nil {
		t.Errorf("Validate(Default()) = %v, want nil", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name       string
		modify     func(*Config)
		wantFields []string
	}{
		{
			name:   "memory driver without path",
			modify: func(c *Config) { c.Storage.Driver = "memory"; c.Storage.Path = "" },
		},
		{
			name:       "sqlite without path",
			modify:     func(c *Config) { c.Storage.Driver = "sqlite"; c.Storage.Path = "" },
			wantFields: []string{"storage.path"},
		},
		{
			name:       "unknown driver",
			modify:     func(c *Config) { c.Storage.Driver = "postgres" },
			wantFields: []string{"storage.driver"},
		},
		{
			name:       "negative busy timeout",
			modify:     func(c *Config) { c.Storage.BusyTimeout = -1 },
			wantFields: []string{"storage.busy_timeout"},
		},
		{
			name:       "bad soe version",
			modify:     func(c *Config) { c.Engine.SOEVersion = "v1" },
			wantFields: []string{"engine.soe_version"},
		},
		{
			name:       "bad tier",
			modify:     func(c *Config) { c.Engine.BaselineTier = "tier_1" },
			wantFields: []string{"engine.baseline_tier"},
		},
		{
			name:       "missing packs dir",
			modify:     func(c *Config) { c.Rules.PacksDir = "" },
			wantFields: []string{"rules.packs_dir"},
		},
		{
			name:   "git source with defaults",
			modify: func(c *Config) { c.Rules.Git.Repository = "https://example.com/rules.git" },
		},
		{
			name: "git token auth without token",
			modify: func(c *Config) {
				c.Rules.Git.Repository = "https://example.com/rules.git"
				c.Rules.Git.Auth.Type = "token"
			},
			wantFields: []string{"rules.git.auth.token"},
		},
		{
			name: "git unknown auth and negative depth",
			modify: func(c *Config) {
				c.Rules.Git.Repository = "git@example.com:rules.git"
				c.Rules.Git.Auth.Type = "oauth"
				c.Rules.Git.Depth = -1
			},
			wantFields: []string{"rules.git.depth", "rules.git.auth.type"},
		},
		{
			name: "git settings ignored without repository",
			modify: func(c *Config) {
				c.Rules.Git.Auth.Type = "oauth"
				c.Rules.Git.Timeout = 0
			},
		},
		{
			name:       "bad cron",
			modify:     func(c *Config) { c.Audit.SweepSchedule = "61 * * * *" },
			wantFields: []string{"audit.sweep_schedule"},
		},
		{
			name:       "bad namespace",
			modify:     func(c *Config) { c.Telemetry.Metrics.Namespace = "soe-metrics" },
			wantFields: []string{"telemetry.metrics.namespace"},
		},
		{
			name:       "relative metrics path",
			modify:     func(c *Config) { c.Telemetry.Metrics.Path = "metrics" },
			wantFields: []string{"telemetry.metrics.path"},
		},
		{
			name: "negative scrape limits",
			modify: func(c *Config) {
				c.Telemetry.Metrics.ScrapeTimeout = -time.Second
				c.Telemetry.Metrics.MaxConcurrentScrapes = -1
			},
			wantFields: []string{"telemetry.metrics.scrape_timeout", "telemetry.metrics.max_concurrent_scrapes"},
		},
		{
			name: "namespace ignored when metrics disabled",
			modify: func(c *Config) {
				off := false
				c.Telemetry.Metrics.Enabled = &off
				c.Telemetry.Metrics.Namespace = "soe-metrics"
			},
		},
		{
			name: "several errors collected",
			modify: func(c *Config) {
				c.Telemetry.Logging.Level = "trace"
				c.Telemetry.Logging.Format = "xml"
				c.Engine.BaselineTier = ""
			},
			wantFields: []string{"engine.baseline_tier", "telemetry.logging.level", "telemetry.logging.format"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			err := Validate(cfg)
			if len(tt.wantFields) == 0 {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}

			var verr ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate() = %v, want ValidationError", err)
			}
			if len(verr.Errors) != len(tt.wantFields) {
				t.Fatalf("got %d errors %v, want %d", len(verr.Errors), verr.Errors, len(tt.wantFields))
			}
			for i, f := range tt.wantFields {
				if verr.Errors[i].Field != f {
					t.Errorf("Errors[%d].Field = %q, want %q", i, verr.Errors[i].Field, f)
				}
			}
		})
	}
}

func TestValidationError_Error(t *testing.T) {
	one := ValidationError{Errors: []FieldError{{Field: "storage.driver", Message: "bad"}}}
	if got := one.Error(); got != "configuration validation failed: storage.driver: bad" {
		t.Errorf("Error() = %q", got)
	}

	two := ValidationError{Errors: []FieldError{
		{Field: "a", Message: "x"},
		{Field: "b", Message: "y"},
	}}
	got := two.Error()
	if !strings.HasPrefix(got, "configuration validation failed with 2 errors:") {
		t.Errorf("Error() = %q", got)
	}
	if !strings.Contains(got, "  - a: x\n") || !strings.Contains(got, "  - b: y\n") {
		t.Errorf("Error() = %q, want both fields listed", got)
	}
}
