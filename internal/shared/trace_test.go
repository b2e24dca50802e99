package shared

import (
	"context"
	"testing"
)

func TestTraceID_DefaultPlaceholder(t *testing.T) {
	ctx := context.Background()
	if got := TraceID(ctx); got != "-" {
		t.Fatalf("expected \"-\", got %q", got)
	}
}

func TestTraceID_RoundTrip(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "abc-123")
	if got := TraceID(ctx); got != "abc-123" {
		t.Fatalf("expected abc-123, got %q", got)
	}

	// Overwrite on a child context.
	ctx = WithTraceID(ctx, "def-456")
	if got := TraceID(ctx); got != "def-456" {
		t.Fatalf("expected def-456, got %q", got)
	}
}

func TestTraceID_EmptyValueFallsBackToPlaceholder(t *testing.T) {
	ctx := WithTraceID(context.Background(), "")
	if got := TraceID(ctx); got != "-" {
		t.Fatalf("expected \"-\" for empty trace id, got %q", got)
	}
}

func TestNewTraceID_Unique(t *testing.T) {
	a := NewTraceID()
	b := NewTraceID()
	if a == "" || b == "" {
		t.Fatal("expected non-empty trace ids")
	}
	if a == b {
		t.Fatal("expected distinct trace ids across calls")
	}
}
