// Package config loads and validates the soe configuration.
//
// Configuration is read from YAML and may be overridden by environment
// variables named SOE_SECTION_FIELD:
//
//   - SOE_STORAGE_DRIVER overrides storage.driver
//   - SOE_ENGINE_BASELINE_TIER overrides engine.baseline_tier
//   - SOE_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//   - SOE_RULES_GIT_AUTH_TOKEN overrides rules.git.auth.token
//
// Values are applied in order: defaults, file, environment. Validation runs
// last and reports every invalid field at once as a ValidationError.
//
// # Example
//
//	rules:
//	  packs_dir: rules/packs
//	  profiles_dir: rules/profiles
//	  industry_profiles_dir: rules/industries
//	  baseline_rules_file: rules/baseline.yaml
//	  watch: true
//	  git:
//	    repository: https://github.com/example/rules.git
//	    branch: main
//	    poll_interval: 5m
//	    auth:
//	      type: token # token from SOE_RULES_GIT_AUTH_TOKEN
//	engine:
//	  soe_version: "1.0.0"
//	  baseline_tier: TIER_2
//	storage:
//	  driver: sqlite3
//	  path: data/soe.db
//	audit:
//	  sweep_schedule: "0 2 * * *"
//	telemetry:
//	  logging:
//	    level: info
//	    format: json
//
// # Singleton
//
// Commands call Initialize once at startup and read the result with
// GetConfig. Library code takes explicit values instead.
package config
