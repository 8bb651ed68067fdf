package tenancy

import "context"

type ctxKey string

const (
	tenantKey ctxKey = "agenda.tenant_id"
	staffKey  ctxKey = "agenda.staff_id"
)

// WithTenantID stores the tenant (company) id in context.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey, tenantID)
}

// TenantIDFromContext extracts the tenant id if present.
func TenantIDFromContext(ctx context.Context) (string, bool) {
	return stringValue(ctx, tenantKey)
}

// WithStaffID stores the acting staff member id in context.
func WithStaffID(ctx context.Context, staffID string) context.Context {
	return context.WithValue(ctx, staffKey, staffID)
}

// StaffIDFromContext extracts the staff id if present. Tenant-wide
// operators carry no staff id.
func StaffIDFromContext(ctx context.Context) (string, bool) {
	return stringValue(ctx, staffKey)
}

func stringValue(ctx context.Context, key ctxKey) (string, bool) {
	val := ctx.Value(key)
	if val == nil {
		return "", false
	}
	s, ok := val.(string)
	return s, ok && s != ""
}
