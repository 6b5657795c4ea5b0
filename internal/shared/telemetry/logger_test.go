package telemetry

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestInfoWritesSortedFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	prev := L()
	SetLogger(zap.New(core))
	t.Cleanup(func() { SetLogger(prev) })

	Info("job.status", map[string]any{
		"status_transition": "PENDING->PROCESSING",
		"job_id":            "job-1",
	})

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Message != "job.status" {
		t.Fatalf("unexpected message %q", entry.Message)
	}
	if len(entry.Context) != 2 || entry.Context[0].Key != "job_id" {
		t.Fatalf("expected sorted fields, got %+v", entry.Context)
	}
}

func TestErrorFlattensErrors(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	prev := L()
	SetLogger(zap.New(core))
	t.Cleanup(func() { SetLogger(prev) })

	Error("engine.call", map[string]any{"error": errors.New("boom")})

	ctx := logs.All()[0].ContextMap()
	if ctx["error"] != "boom" {
		t.Fatalf("expected error text, got %#v", ctx["error"])
	}
}

func TestSetLoggerNilFallsBackToNop(t *testing.T) {
	prev := L()
	t.Cleanup(func() { SetLogger(prev) })
	SetLogger(nil)
	if L() == nil {
		t.Fatalf("expected nop logger")
	}
	Info("noop", nil)
}
