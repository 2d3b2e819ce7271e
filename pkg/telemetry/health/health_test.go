package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type fakeLister struct{ err error }

func (f fakeLister) ListPlanIDs(ctx context.Context) ([]string, error) {
	return nil, f.err
}

type fakeRunner bool

func (f fakeRunner) IsRunning() bool { return bool(f) }

func TestCheckReadiness(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]CheckFunc
		wantStatus string
	}{
		{"no checks", nil, StatusReady},
		{
			name: "all healthy",
			checks: map[string]CheckFunc{
				"storage":         StorageCheck(fakeLister{}),
				"audit_scheduler": RunningCheck("audit scheduler", fakeRunner(true)),
			},
			wantStatus: StatusReady,
		},
		{
			name: "storage down",
			checks: map[string]CheckFunc{
				"storage":         StorageCheck(fakeLister{err: errors.New("disk I/O error")}),
				"audit_scheduler": RunningCheck("audit scheduler", fakeRunner(true)),
			},
			wantStatus: StatusDegraded,
		},
		{
			name: "scheduler stopped",
			checks: map[string]CheckFunc{
				"audit_scheduler": RunningCheck("audit scheduler", fakeRunner(false)),
			},
			wantStatus: StatusDegraded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(time.Second)
			for name, check := range tt.checks {
				c.RegisterCheck(name, check)
			}

			status := c.CheckReadiness(context.Background())
			if status.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q (%+v)", status.Status, tt.wantStatus, status.Checks)
			}
			if len(status.Checks) != len(tt.checks) {
				t.Errorf("len(Checks) = %d, want %d", len(status.Checks), len(tt.checks))
			}
		})
	}
}

func TestCheckReadiness_UnhealthyMessage(t *testing.T) {
	c := New(time.Second)
	c.RegisterCheck("storage", StorageCheck(fakeLister{err: errors.New("locked")}))

	result := c.CheckReadiness(context.Background()).Checks["storage"]
	if result.Status != StatusUnhealthy {
		t.Fatalf("Status = %q, want %q", result.Status, StatusUnhealthy)
	}
	if !strings.Contains(result.Message, "locked") {
		t.Errorf("Message = %q, want cause included", result.Message)
	}
}

func TestCheckReadiness_Timeout(t *testing.T) {
	c := New(20 * time.Millisecond)
	c.RegisterCheck("slow", func(ctx context.Context) error {
		time.Sleep(200 * time.Millisecond)
		return nil
	})

	result := c.CheckReadiness(context.Background()).Checks["slow"]
	if result.Status != StatusUnhealthy || result.Message != ErrCheckTimeout.Error() {
		t.Errorf("result = %+v, want timeout", result)
	}
}

func TestListChecks(t *testing.T) {
	c := New(0)
	c.RegisterCheck("storage", StorageCheck(fakeLister{}))
	c.RegisterCheck("audit_scheduler", RunningCheck("x", fakeRunner(true)))
	c.RegisterCheck("storage", StorageCheck(fakeLister{}))

	got := c.ListChecks()
	if len(got) != 2 || got[0] != "audit_scheduler" || got[1] != "storage" {
		t.Errorf("ListChecks() = %v", got)
	}
}

func TestHandlers(t *testing.T) {
	c := New(time.Second)
	c.RegisterCheck("storage", StorageCheck(fakeLister{err: errors.New("gone")}))

	mux := http.NewServeMux()
	Mount(mux, c, "1.2.3")

	tests := []struct {
		method   string
		path     string
		wantCode int
		wantBody string
	}{
		{http.MethodGet, "/healthz", http.StatusOK, `"status":"ok"`},
		{http.MethodGet, "/readyz", http.StatusServiceUnavailable, `"status":"degraded"`},
		{http.MethodGet, "/version", http.StatusOK, `"version":"1.2.3"`},
		{http.MethodPost, "/healthz", http.StatusMethodNotAllowed, ""},
		{http.MethodHead, "/healthz", http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))

			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.wantBody != "" && !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body = %s, want containing %s", rec.Body.String(), tt.wantBody)
			}
			if tt.method == http.MethodHead && rec.Body.Len() != 0 {
				t.Errorf("HEAD returned a body: %q", rec.Body.String())
			}
		})
	}
}

func TestReadinessHandler_Ready(t *testing.T) {
	c := New(time.Second)
	c.RegisterCheck("storage", StorageCheck(fakeLister{}))

	rec := httptest.NewRecorder()
	c.ReadinessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", rec.Code)
	}
	var status HealthStatus
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Checks["storage"].Status != StatusOK {
		t.Errorf("storage = %+v", status.Checks["storage"])
	}
}
