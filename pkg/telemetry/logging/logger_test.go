package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{name: "valid JSON config", config: Config{Level: "info", Format: "json"}},
		{name: "valid text config", config: Config{Level: "debug", Format: "text"}},
		{name: "valid console config", config: Config{Level: "warn", Format: "console"}},
		{name: "defaults", config: Config{}},
		{name: "invalid log level", config: Config{Level: "invalid", Format: "json"}, wantErr: true},
		{name: "invalid format", config: Config{Level: "info", Format: "invalid"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && logger == nil {
				t.Error("New() returned nil logger")
			}
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "warn", Format: "text", Writer: &buf})
	if err != nil {
		t.Fatal(err)
	}

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info record written at warn level")
	}
	if !strings.Contains(out, "shown") {
		t.Error("warn record missing")
	}
}

func TestContextFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "info", Format: "json", Writer: &buf})
	if err != nil {
		t.Fatal(err)
	}

	ctx := WithRunID(context.Background(), "run-1")
	ctx = WithPlanID(ctx, "plan-7")
	ctx = WithUserID(ctx, "qa-lead")
	logger.With("component", "plan.governor").InfoContext(ctx, "plan approved", "version", 2)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	want := map[string]any{
		"msg":        "plan approved",
		"component":  "plan.governor",
		"soe_run_id": "run-1",
		"plan_id":    "plan-7",
		"user_id":    "qa-lead",
	}
	for k, v := range want {
		if rec[k] != v {
			t.Errorf("record[%q] = %v, want %v", k, rec[k], v)
		}
	}
	if _, ok := rec["profile_id"]; ok {
		t.Error("unset profile_id was logged")
	}
}

func TestContextAccessors(t *testing.T) {
	ctx := context.Background()
	if GetRunID(ctx) != "" || GetPlanID(ctx) != "" || GetProfileID(ctx) != "" || GetUserID(ctx) != "" {
		t.Fatal("empty context returned values")
	}

	ctx = WithProfileID(ctx, "space_domain")
	if got := GetProfileID(ctx); got != "space_domain" {
		t.Errorf("GetProfileID() = %q", got)
	}
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	base, err := New(Config{Format: "text", Writer: &buf})
	if err != nil {
		t.Fatal(err)
	}

	if got := FromContext(context.Background(), base); got != base {
		t.Error("FromContext() without fields should return the same logger")
	}

	FromContext(WithPlanID(context.Background(), "plan-9"), base).Info("edited")
	if !strings.Contains(buf.String(), "plan_id=plan-9") {
		t.Errorf("output = %q, want plan_id", buf.String())
	}
}
