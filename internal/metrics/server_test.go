package metrics

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestServer_Endpoints(t *testing.T) {
	c, reg := newTestCollector(baseConfig())
	c.TaskSpawned()

	s := NewServer("127.0.0.1:0", reg, nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	tests := []struct {
		path     string
		contains string
	}{
		{"/metrics", "timeshare_task_spawns_total 1"},
		{"/health", "ok"},
		{"/healthz", "ok"},
		{"/ready", "ok"},
		{"/readyz", "ok"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(ts.URL + tt.path)
			if err != nil {
				t.Fatalf("GET %s: %v", tt.path, err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				t.Errorf("status = %d, want 200", resp.StatusCode)
			}
			body, _ := io.ReadAll(resp.Body)
			if !strings.Contains(string(body), tt.contains) {
				t.Errorf("body missing %q:\n%s", tt.contains, body)
			}
		})
	}
}

func TestServer_StartShutdown(t *testing.T) {
	_, reg := newTestCollector(baseConfig())
	s := NewServer("127.0.0.1:0", reg, nil)

	if err := s.Start(); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if strings.HasSuffix(s.Addr(), ":0") {
		t.Errorf("Addr() = %q, want resolved port", s.Addr())
	}

	resp, err := http.Get("http://" + s.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown error: %v", err)
	}
}

func TestServer_StartBindError(t *testing.T) {
	_, reg := newTestCollector(baseConfig())
	s := NewServer("256.0.0.1:bad", reg, nil)
	if err := s.Start(); err == nil {
		t.Error("Start should fail on an invalid address")
	}
}

func TestDump_RoundTrip(t *testing.T) {
	c, reg := newTestCollector(baseConfig())
	c.TaskExited("child-a", 3, time.Millisecond)
	c.TaskExited("child-b", 2, time.Millisecond)
	c.TaskExited("parent", 1, time.Millisecond)
	c.RecordRun(true, 5*time.Millisecond, nil)

	var buf bytes.Buffer
	if err := Dump(reg, &buf); err != nil {
		t.Fatalf("Dump error: %v", err)
	}

	families, err := ReadDump(&buf)
	if err != nil {
		t.Fatalf("ReadDump error: %v", err)
	}

	codes := LabelValues(families["timeshare_task_exit_codes_total"], "code")
	if strings.Join(codes, ",") != "1,2,3" {
		t.Errorf("exit code labels = %v, want [1 2 3]", codes)
	}
	if got := Value(families["timeshare_runs_total"], map[string]string{"result": "passed"}); got != 1 {
		t.Errorf("runs{passed} = %v, want 1", got)
	}
	if got := Value(families["timeshare_task_exits_total"], nil); got != 3 {
		t.Errorf("task_exits_total = %v, want 3", got)
	}
	if got := Value(families["timeshare_task_lifetime_seconds"], nil); got != 3 {
		t.Errorf("lifetime sample count = %v, want 3", got)
	}
}

func TestReadDump_Invalid(t *testing.T) {
	if _, err := ReadDump(strings.NewReader("not a metric line {{\n")); err == nil {
		t.Error("ReadDump should reject malformed input")
	}
}

func TestValue_Nil(t *testing.T) {
	if Value(nil, nil) != 0 {
		t.Error("Value(nil) should be 0")
	}
	if LabelValues(nil, "x") != nil {
		t.Error("LabelValues(nil) should be nil")
	}
}
