package tenancy

import (
	"context"
	"testing"
)

func TestWithTenantIDAndTenantIDFromContext(t *testing.T) {
	ctx := WithTenantID(context.Background(), "tenant-123")

	got, ok := TenantIDFromContext(ctx)
	if !ok {
		t.Fatalf("expected tenant id to be present")
	}
	if got != "tenant-123" {
		t.Fatalf("expected tenant-123, got %s", got)
	}
}

func TestTenantIDFromContext_EmptyOrMissing(t *testing.T) {
	ctx := context.Background()
	if _, ok := TenantIDFromContext(ctx); ok {
		t.Fatalf("expected missing tenant id to return false")
	}

	ctx = context.WithValue(ctx, tenantKey, 42)
	if _, ok := TenantIDFromContext(ctx); ok {
		t.Fatalf("expected non-string tenant id to return false")
	}

	ctx = WithTenantID(context.Background(), "")
	if _, ok := TenantIDFromContext(ctx); ok {
		t.Fatalf("expected empty tenant id to return false")
	}
}

func TestStaffIDIndependentOfTenant(t *testing.T) {
	ctx := WithTenantID(context.Background(), "tenant-1")
	if _, ok := StaffIDFromContext(ctx); ok {
		t.Fatal("expected no staff id for tenant-wide context")
	}
	ctx = WithStaffID(ctx, "staff-9")
	staff, ok := StaffIDFromContext(ctx)
	if !ok || staff != "staff-9" {
		t.Fatalf("expected staff-9, got %q", staff)
	}
	if tenant, _ := TenantIDFromContext(ctx); tenant != "tenant-1" {
		t.Fatalf("tenant lost, got %q", tenant)
	}
}
