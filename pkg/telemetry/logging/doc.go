// Package logging configures structured logging for the soe tools.
//
// # Overview
//
// The logging package builds a log/slog logger from configuration:
//   - JSON, text and console formats
//   - Configurable log levels (debug, info, warn, error)
//   - Context-aware records carrying run, plan, profile and user ids
//
// # Usage
//
//	logger, err := logging.Setup(logging.Config{Level: "info", Format: "json"})
//
//	ctx = logging.WithPlanID(ctx, "plan-7")
//	ctx = logging.WithUserID(ctx, "qa-lead")
//	logger.InfoContext(ctx, "plan approved")  // includes plan_id and user_id
//
// Components take their logger from slog.Default() and tag it with a
// "component" attribute, so Setup is normally called once at startup.
package logging
