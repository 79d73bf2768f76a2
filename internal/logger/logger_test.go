package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestSetLevel(t *testing.T) {
	tests := []struct {
		name     string
		level    string
		debugHit bool
		infoHit  bool
	}{
		{"debug passes everything", "DEBUG", true, true},
		{"info suppresses debug", "INFO", false, true},
		{"error suppresses info", "ERROR", false, false},
		{"lowercase accepted", "info", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			InitWithWriter(&buf, tt.level, "text", false)

			Debug("debug message")
			Info("info message")

			out := buf.String()
			if got := strings.Contains(out, "debug message"); got != tt.debugHit {
				t.Errorf("debug emitted = %v, want %v", got, tt.debugHit)
			}
			if got := strings.Contains(out, "info message"); got != tt.infoHit {
				t.Errorf("info emitted = %v, want %v", got, tt.infoHit)
			}
		})
	}

	// Restore defaults for other tests
	InitWithWriter(&bytes.Buffer{}, "INFO", "text", false)
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "json", false)

	Info("routed reading", KeyBackend, "timeseries", KeyBatchSize, 10)

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}
	if record["msg"] != "routed reading" {
		t.Errorf("msg = %v, want %q", record["msg"], "routed reading")
	}
	if record[KeyBackend] != "timeseries" {
		t.Errorf("backend = %v, want %q", record[KeyBackend], "timeseries")
	}

	InitWithWriter(&bytes.Buffer{}, "INFO", "text", false)
}

func TestContextFields(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "json", false)

	lc := NewLogContext("scale-01").WithSession("sess-42").WithRemote("10.0.0.5:4001")
	ctx := WithContext(context.Background(), lc)

	InfoCtx(ctx, "baseline capture started")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if record[KeyDeviceID] != "scale-01" {
		t.Errorf("device_id = %v, want scale-01", record[KeyDeviceID])
	}
	if record[KeySessionID] != "sess-42" {
		t.Errorf("session_id = %v, want sess-42", record[KeySessionID])
	}
	if record[KeyRemoteAddr] != "10.0.0.5:4001" {
		t.Errorf("remote_addr = %v, want 10.0.0.5:4001", record[KeyRemoteAddr])
	}

	InitWithWriter(&bytes.Buffer{}, "INFO", "text", false)
}

func TestLogContextClone(t *testing.T) {
	lc := NewLogContext("scale-01")
	clone := lc.WithBackend("relational")

	if lc.Backend != "" {
		t.Errorf("original mutated: backend = %q", lc.Backend)
	}
	if clone.Backend != "relational" {
		t.Errorf("clone backend = %q, want relational", clone.Backend)
	}
	if clone.DeviceID != "scale-01" {
		t.Errorf("clone lost device_id: %q", clone.DeviceID)
	}
}

func TestFromContextNil(t *testing.T) {
	if lc := FromContext(context.Background()); lc != nil {
		t.Errorf("expected nil LogContext, got %+v", lc)
	}
	var nilCtx context.Context
	if lc := FromContext(nilCtx); lc != nil {
		t.Errorf("expected nil LogContext for nil ctx, got %+v", lc)
	}
}
