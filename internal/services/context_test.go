package services_test

import (
	"context"
	"testing"

	"finisher/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithJobID(ctx, "job_20260101_120000_abcd1234")
	ctx = services.WithPass(ctx, "pass1")
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.JobIDFromContext(ctx); !ok || id != "job_20260101_120000_abcd1234" {
		t.Fatalf("unexpected job id: %v %v", id, ok)
	}
	if pass, ok := services.PassFromContext(ctx); !ok || pass != "pass1" {
		t.Fatalf("unexpected pass: %v %v", pass, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithPass(ctx, "")
	ctx = services.WithJobID(ctx, "")
	if _, ok := services.PassFromContext(ctx); ok {
		t.Fatal("expected no pass for blank value")
	}
	if _, ok := services.JobIDFromContext(ctx); ok {
		t.Fatal("expected no job id for blank value")
	}
}
