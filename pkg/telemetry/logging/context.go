package logging

import (
	"context"
	"log/slog"
)

// Context keys for common log fields.
type contextKey string

const (
	// RunIDKey is the context key for policy run ids.
	RunIDKey contextKey = "soe_run_id"

	// PlanIDKey is the context key for plan ids.
	PlanIDKey contextKey = "plan_id"

	// ProfileIDKey is the context key for compliance profile ids.
	ProfileIDKey contextKey = "profile_id"

	// UserIDKey is the context key for the acting user.
	UserIDKey contextKey = "user_id"
)

// WithRunID adds a policy run id to the context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// GetRunID retrieves the policy run id from the context.
func GetRunID(ctx context.Context) string {
	return stringValue(ctx, RunIDKey)
}

// WithPlanID adds a plan id to the context.
func WithPlanID(ctx context.Context, planID string) context.Context {
	return context.WithValue(ctx, PlanIDKey, planID)
}

// GetPlanID retrieves the plan id from the context.
func GetPlanID(ctx context.Context) string {
	return stringValue(ctx, PlanIDKey)
}

// WithProfileID adds a profile id to the context.
func WithProfileID(ctx context.Context, profileID string) context.Context {
	return context.WithValue(ctx, ProfileIDKey, profileID)
}

// GetProfileID retrieves the profile id from the context.
func GetProfileID(ctx context.Context) string {
	return stringValue(ctx, ProfileIDKey)
}

// WithUserID adds the acting user to the context.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetUserID retrieves the acting user from the context.
func GetUserID(ctx context.Context) string {
	return stringValue(ctx, UserIDKey)
}

func stringValue(ctx context.Context, key contextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// extractContextFields returns the context fields as key/value pairs.
func extractContextFields(ctx context.Context) []any {
	var fields []any
	for _, key := range []contextKey{RunIDKey, PlanIDKey, ProfileIDKey, UserIDKey} {
		if v := stringValue(ctx, key); v != "" {
			fields = append(fields, string(key), v)
		}
	}
	return fields
}

// FromContext returns logger with the context fields attached, for code that
// logs without passing ctx to every call. A nil logger means slog.Default().
func FromContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	fields := extractContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(fields...)
}
