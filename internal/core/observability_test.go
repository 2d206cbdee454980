package core

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

type metricsCall struct {
	op      string
	success bool
}

type captureMetricsRecorder struct {
	calls []metricsCall
}

func (c *captureMetricsRecorder) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	c.calls = append(c.calls, metricsCall{op: op, success: success})
}

func (c *captureMetricsRecorder) has(op string, success bool) bool {
	for _, call := range c.calls {
		if call.op == op && call.success == success {
			return true
		}
	}
	return false
}

func TestServiceObservability(t *testing.T) {
	ctx := context.Background()
	metrics := &captureMetricsRecorder{}
	var buf bytes.Buffer
	tracer := NewJSONTracer(&buf)
	svc := newTestService(t, WithMetricsRecorder(metrics), WithTracer(tracer))

	if _, _, err := svc.CreateHost(ctx, "web", "10.0.0.1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := svc.CreateHost(ctx, "web", "10.0.0.2"); err == nil {
		t.Fatalf("expected duplicate failure")
	}
	if _, err := svc.DeleteHost(ctx, 99); err == nil {
		t.Fatalf("expected not found")
	}

	if !metrics.has("create_host", true) || !metrics.has("create_host", false) || !metrics.has("delete_host", false) {
		t.Fatalf("unexpected metric calls %+v", metrics.calls)
	}

	entries := tracer.Entries()
	if len(entries) != 3 {
		t.Fatalf("expected 3 spans, got %d", len(entries))
	}
	if entries[0].Status != "success" || entries[1].Status != "error" || !strings.Contains(entries[1].Error, "UNIQUE") {
		t.Fatalf("unexpected spans %+v", entries)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 json lines, got %d", len(lines))
	}
	var decoded JSONTraceEntry
	if err := json.Unmarshal([]byte(lines[2]), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Operation != "delete_host" || decoded.Status != "error" {
		t.Fatalf("unexpected entry %+v", decoded)
	}
}

func TestNilOptionsKeepDefaults(t *testing.T) {
	svc := NewInMemoryService(nil, WithLogger(nil), WithMetricsRecorder(nil), WithTracer(nil))
	if _, ok := svc.metrics.(noopMetrics); !ok {
		t.Fatalf("expected noop metrics, got %T", svc.metrics)
	}
	if _, ok := svc.tracer.(noopTracer); !ok {
		t.Fatalf("expected noop tracer, got %T", svc.tracer)
	}
	if NewJSONTracer(nil).enc != nil {
		t.Fatalf("nil writer should only retain spans")
	}
}
